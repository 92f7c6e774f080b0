package ci

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joshyorko/dudley-ci/internal/podman"
)

// ValidationError reports the validation check that failed
type ValidationError struct {
	// Check names the failing check (e.g. "shellcheck", "package-manifest")
	Check string
	// Output is what the check printed before failing
	Output string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("validation check %s failed: %v", e.Check, e.Err)
	// findings are listed by the caller; anything else is shown raw
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// LintError reports a hadolint run that did not pass
type LintError struct {
	Findings []LintFinding
	// Output is the raw hadolint output
	Output   string
	ExitCode int
	Err      error
}

func (e *LintError) Error() string {
	errs := 0
	for _, f := range e.Findings {
		if f.Level == LintLevelError {
			errs++
		}
	}
	if errs > 0 {
		return fmt.Sprintf("hadolint found %d error(s) in Containerfile", errs)
	}
	msg := "hadolint failed"
	if e.Err != nil {
		msg = fmt.Sprintf("hadolint failed with exit code %d: %v", e.ExitCode, e.Err)
	}
	// findings are listed by the caller; anything else is shown raw
	if out := strings.TrimSpace(e.Output); out != "" && len(e.Findings) == 0 {
		msg += "\n" + out
	}
	return msg
}

func (e *LintError) Unwrap() error {
	return e.Err
}

// commandOutput returns the stdout and stderr a failed podman call captured
func commandOutput(err error) string {
	var perr *podman.PodmanError
	if !errors.As(err, &perr) {
		return ""
	}
	return strings.TrimSpace(strings.Join([]string{perr.Stdout, perr.Stderr}, "\n"))
}
