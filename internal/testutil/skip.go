package testutil

import (
	"os/exec"
	"runtime"
	"strings"
	"testing"
)

// SkipIfPodmanUnavailable skips the test if Podman is not available or not functional.
// On macOS, the podman binary may exist but Podman Machine may not be running.
func SkipIfPodmanUnavailable(t *testing.T) {
	t.Helper()
	podmanPath, err := exec.LookPath("podman")
	if err != nil {
		t.Skip("Podman not available, skipping test")
	}
	// Verify Podman is actually functional (not just installed)
	cmd := exec.Command(podmanPath, "version")
	if err := cmd.Run(); err != nil {
		t.Skipf("Podman not functional (machine may not be running): %v", err)
	}
}

// SkipIfShort skips the test if running with -short flag.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping in short mode")
	}
}

// SkipIfPodmanNotRootful skips if Podman is not running in rootful mode.
// bootc-image-builder needs rootful Podman to read the host container storage.
func SkipIfPodmanNotRootful(t *testing.T) {
	t.Helper()
	SkipIfPodmanUnavailable(t)

	cmd := exec.Command("podman", "info", "--format", "{{.Host.Security.Rootless}}")
	output, err := cmd.Output()
	if err != nil {
		t.Skipf("Failed to check Podman mode: %v", err)
	}

	if strings.TrimSpace(string(output)) == "true" {
		t.Skip("Test requires rootful Podman (rootless=false)")
	}
}

// SkipIfBootcImageBuilderUnavailable skips if bootc-image-builder cannot run.
// This requires rootful Podman on Linux.
func SkipIfBootcImageBuilderUnavailable(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("bootc-image-builder requires Linux")
	}
	SkipIfPodmanNotRootful(t)
}
