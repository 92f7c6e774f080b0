package ci

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/joshyorko/dudley-ci/internal/config"
	"github.com/joshyorko/dudley-ci/internal/engine"
	"github.com/joshyorko/dudley-ci/internal/podman"
	"github.com/joshyorko/dudley-ci/internal/source"
)

// Validation check names
const (
	CheckDependencies    = "dependencies"
	CheckShellcheck      = "shellcheck"
	CheckPackageManifest = "package-manifest"
)

// ValidateStage executes the validate stage
type ValidateStage struct {
	cfg    *config.Config
	runner podman.Runner
	out    io.Writer
}

// NewValidateStage creates a new validate stage executor.
// Progress lines are written to out.
func NewValidateStage(cfg *config.Config, runner podman.Runner, out io.Writer) *ValidateStage {
	return &ValidateStage{
		cfg:    cfg,
		runner: runner,
		out:    progressWriter(out),
	}
}

// Execute runs the validate stage against src
func (v *ValidateStage) Execute(ctx context.Context, src *source.Dir) error {
	layout := v.cfg.Layout

	// The build file is not one of the checks; a missing or lint-less
	// Containerfile only warns
	content, err := CheckContainerfile(src, layout.Containerfile)
	if err != nil {
		logrus.Warnf("Cannot read %s: %v", layout.Containerfile, err)
	} else if !ContainsBootcLint(content) {
		logrus.Warnf("%s does not contain 'bootc container lint'; consider adding 'RUN bootc container lint' to validate image structure", layout.Containerfile)
	}

	scripts, err := src.Glob(layout.ScriptsGlob)
	if err != nil {
		return fmt.Errorf("failed to list shell scripts: %w", err)
	}
	if len(scripts) == 0 {
		logrus.Infof("No shell scripts match %s, skipping shellcheck", layout.ScriptsGlob)
	}

	fmt.Fprintln(v.out, "🔍 Running validation...")
	c := ValidationContainer(v.cfg, src.Path(), scripts)
	if err := c.Sync(ctx, v.runner); err != nil {
		var execErr *engine.ExecError
		if errors.As(err, &execErr) {
			return &ValidationError{Check: execErr.Name, Output: commandOutput(execErr.Err), Err: err}
		}
		return fmt.Errorf("validation environment failed: %w", err)
	}
	fmt.Fprintln(v.out, "✅ Validation passed")
	return nil
}

// ValidationContainer describes the validation session for the tree at
// hostPath. scripts are the shell scripts handed to shellcheck; the
// shellcheck step is left out when there are none.
// This is a pure function that can be easily unit tested
func ValidationContainer(cfg *config.Config, hostPath string, scripts []string) *engine.Container {
	install := append([]string{"dnf", "install", "-y"}, config.ValidatorPackages...)

	// Overlay mount: writes inside the session never reach the host tree
	c := engine.From(Tools(cfg)[ToolValidator].Image).
		WithMountedDirectory(config.WorkspaceMountPath, hostPath, "O").
		WithWorkdir(config.WorkspaceMountPath).
		WithEnvVariable("LANG", config.ValidatorLocale).
		WithExec(CheckDependencies, install...)

	if len(scripts) > 0 {
		c = c.WithExec(CheckShellcheck, append([]string{"shellcheck"}, scripts...)...)
	}

	c = c.WithExec(CheckPackageManifest, "jq", "empty", cfg.Layout.PackageManifest)

	for _, script := range cfg.Layout.ValidationScripts {
		c = c.WithExec(script, "bash", script)
	}
	return c
}

// progressWriter returns out, or io.Discard when out is nil
func progressWriter(out io.Writer) io.Writer {
	if out == nil {
		return io.Discard
	}
	return out
}
