//go:build e2e

package e2e

import (
	"strings"
	"testing"

	"github.com/joshyorko/dudley-ci/internal/testutil"
)

func TestValidate(t *testing.T) {
	testutil.SkipIfShort(t)
	requireBinary(t)
	testutil.SkipIfPodmanUnavailable(t)
	env := NewTestEnvironment(t)

	if _, err := env.Run("validate"); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejectsBrokenManifest(t *testing.T) {
	testutil.SkipIfShort(t)
	requireBinary(t)
	testutil.SkipIfPodmanUnavailable(t)
	env := NewTestEnvironment(t)
	testutil.WriteFile(t, env.sourceDir, "packages.json", "{ not json")

	_, err := env.Run("validate")
	if err == nil {
		t.Fatal("validate passed with a malformed package manifest")
	}
	if !strings.Contains(err.Error(), "package-manifest") && !strings.Contains(err.Error(), "packages.json") {
		t.Errorf("error does not name the manifest check: %v", err)
	}
	// The overlay mount must keep the tree untouched
	if got := testutil.ReadFile(t, env.sourceDir+"/packages.json"); got != "{ not json" {
		t.Errorf("source tree was modified: %q", got)
	}
}

func TestBuildAndTest(t *testing.T) {
	testutil.SkipIfShort(t)
	requireBinary(t)
	testutil.SkipIfPodmanUnavailable(t)
	env := NewTestEnvironment(t)
	env.RemoveImageOnCleanup(env.ImageRef())

	out, err := env.Run("build", "--image-name", env.imageName, "--git-commit", "e2e1234")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if strings.TrimSpace(out) != env.ImageRef() {
		t.Errorf("build printed %q, want %q", out, env.ImageRef())
	}

	out, err = env.Run("test", env.ImageRef())
	if err != nil {
		t.Fatalf("test: %v", err)
	}
	if !strings.Contains(out, "All tests passed") || !strings.Contains(out, `"commit":"e2e1234"`) {
		t.Errorf("unexpected test report:\n%s", out)
	}
}

func TestLintContainerfile(t *testing.T) {
	testutil.SkipIfShort(t)
	requireBinary(t)
	testutil.SkipIfPodmanUnavailable(t)
	env := NewTestEnvironment(t)

	if _, err := env.Run("lint-containerfile"); err != nil {
		t.Fatalf("lint-containerfile: %v", err)
	}
}

func TestBuildQCOW2(t *testing.T) {
	testutil.SkipIfShort(t)
	requireBinary(t)
	testutil.SkipIfBootcImageBuilderUnavailable(t)
	env := NewTestEnvironment(t)
	env.RemoveImageOnCleanup(env.ImageRef())

	if _, err := env.Run("build", "--image-name", env.imageName); err != nil {
		t.Fatalf("build: %v", err)
	}

	out, err := env.Run("build-qcow2", "--image", env.ImageRef())
	if err != nil {
		t.Fatalf("build-qcow2: %v", err)
	}
	artifact := strings.TrimSpace(out)
	if !strings.HasSuffix(artifact, "image.qcow2") || !testutil.FileExists(t, artifact) {
		t.Errorf("disk image not written: %q", artifact)
	}
}
