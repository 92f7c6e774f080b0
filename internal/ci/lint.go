package ci

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/joshyorko/dudley-ci/internal/config"
	"github.com/joshyorko/dudley-ci/internal/podman"
	"github.com/joshyorko/dudley-ci/internal/source"
)

// hadolint finding levels
const (
	LintLevelError   = "error"
	LintLevelWarning = "warning"
	LintLevelInfo    = "info"
	LintLevelStyle   = "style"
)

// LintFinding is one hadolint finding
type LintFinding struct {
	Line    int    `json:"line"`
	Code    string `json:"code"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

func (f LintFinding) String() string {
	return fmt.Sprintf("line %d %s %s: %s", f.Line, f.Code, f.Level, f.Message)
}

// "-:5 DL3008 warning: Pin versions in apt get install"
var hadolintLine = regexp.MustCompile(`^\S*:(\d+) (\S+) (error|warning|info|style): (.*)$`)

// ParseHadolintFindings extracts findings from hadolint's default output.
// Lines that are not findings are ignored.
// This is a pure function that can be easily unit tested
func ParseHadolintFindings(output string) []LintFinding {
	var findings []LintFinding
	for _, line := range strings.Split(output, "\n") {
		m := hadolintLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		findings = append(findings, LintFinding{Line: n, Code: m[2], Level: m[3], Message: m[4]})
	}
	return findings
}

// ParseHadolintOutput analyzes hadolint output and returns true if errors were found
// This is a pure function that can be easily unit tested
// hadolint output format: "-:line rule level: message"
// Levels: error, warning, info, style
// Returns true only for "error" level, not "warning", "info", or "style"
func ParseHadolintOutput(output string) bool {
	for _, f := range ParseHadolintFindings(output) {
		if f.Level == LintLevelError {
			return true
		}
	}
	return false
}

// LintStage runs hadolint over the Containerfile
type LintStage struct {
	cfg    *config.Config
	runner podman.Runner
	out    io.Writer
}

// NewLintStage creates a new lint stage executor
func NewLintStage(cfg *config.Config, runner podman.Runner, out io.Writer) *LintStage {
	return &LintStage{
		cfg:    cfg,
		runner: runner,
		out:    progressWriter(out),
	}
}

// Execute lints the Containerfile of src and returns hadolint's findings.
// hadolint decides pass or fail from the configured failure threshold; any
// non-zero exit returns a *LintError carrying the raw output.
func (l *LintStage) Execute(ctx context.Context, src *source.Dir) (string, error) {
	content, err := CheckContainerfile(src, l.cfg.Layout.Containerfile)
	if err != nil {
		return "", err
	}

	args := podman.BuildRunArgs(podman.RunOptions{
		Image:       Tools(l.cfg)[ToolHadolint].Image,
		Remove:      true,
		Interactive: true,
		Args:        HadolintArgs(l.cfg.Lint.FailureThreshold),
	})

	fmt.Fprintf(l.out, "🔍 Linting %s...\n", l.cfg.Layout.Containerfile)
	stdout, runErr := l.runner.Output(ctx, strings.NewReader(content), args...)

	// hadolint prints findings on stdout; keep stderr for unexpected failures
	output := string(bytes.TrimSpace(stdout))
	findings := ParseHadolintFindings(output)

	if runErr != nil {
		var perr *podman.PodmanError
		if !errors.As(runErr, &perr) {
			return "", fmt.Errorf("hadolint execution failed: %w", runErr)
		}
		raw := output
		if raw == "" {
			raw = commandOutput(runErr)
		}
		return output, &LintError{Findings: findings, Output: raw, ExitCode: perr.ExitCode, Err: runErr}
	}

	if ParseHadolintOutput(output) {
		logrus.Warnf("hadolint reported error-level findings below the %q failure threshold", l.cfg.Lint.FailureThreshold)
	}
	fmt.Fprintf(l.out, "✅ Containerfile lint passed (%d finding(s))\n", len(findings))
	return output, nil
}

// HadolintArgs returns the hadolint command line that reads the
// Containerfile from stdin
func HadolintArgs(threshold string) []string {
	if threshold == "" {
		threshold = config.DefaultLintFailureThreshold
	}
	return []string{"hadolint", "--failure-threshold", threshold, "-"}
}
