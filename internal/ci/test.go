package ci

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/joshyorko/dudley-ci/internal/config"
	"github.com/joshyorko/dudley-ci/internal/engine"
	"github.com/joshyorko/dudley-ci/internal/podman"
)

// TestStage checks that a built image carries the build metadata
type TestStage struct {
	cfg    *config.Config
	runner podman.Runner
	out    io.Writer
}

// NewTestStage creates a new test stage executor
func NewTestStage(cfg *config.Config, runner podman.Runner, out io.Writer) *TestStage {
	return &TestStage{
		cfg:    cfg,
		runner: runner,
		out:    progressWriter(out),
	}
}

// TestContainer describes the assertions run inside the built image.
// The last exec prints the build info.
// This is a pure function that can be easily unit tested
func TestContainer(cfg *config.Config, imageRef string) *engine.Container {
	checks := cfg.ImageChecks
	return engine.From(imageRef).
		WithExec("build manifest", "test", "-f", checks.BuildManifest).
		WithExec("build info tool", "test", "-f", checks.BuildInfo).
		WithExec("user hooks", "bash", "-c", "ls -lh "+checks.HooksDir).
		WithExec("build info", checks.BuildInfo, "--json")
}

// Execute runs the image assertions and returns the test report
func (t *TestStage) Execute(ctx context.Context, image *engine.Image) (string, error) {
	if image == nil || image.Ref == "" {
		return "", fmt.Errorf("no image to test")
	}

	fmt.Fprintf(t.out, "🧪 Testing image %s...\n", image.Ref)
	outputs, err := TestContainer(t.cfg, image.Ref).Outputs(ctx, t.runner)
	if err != nil {
		return "", fmt.Errorf("image test failed: %w", err)
	}

	if info := strings.TrimSpace(outputs[len(outputs)-1]); !json.Valid([]byte(info)) {
		logrus.Warnf("%s --json did not print valid JSON", t.cfg.ImageChecks.BuildInfo)
	}

	return "✅ All tests passed!\n\nBuild info:\n" + strings.Join(outputs, ""), nil
}
