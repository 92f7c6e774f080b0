package testutil

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/joshyorko/dudley-ci/internal/podman"
)

// MockRunner is a mock implementation of podman.Runner for testing.
// Every invocation is recorded; OutputFunc decides the result.
// Output may be called concurrently; OutputFunc must then be safe for it.
type MockRunner struct {
	mu sync.Mutex

	// OutputFunc is called for every podman invocation. stdin is the
	// fully read input ("" when none was given).
	OutputFunc func(ctx context.Context, stdin string, args []string) ([]byte, error)

	// Call tracking
	Calls []MockCall
}

// MockCall records a single podman invocation
type MockCall struct {
	Args  []string
	Stdin string
}

// Subcommand returns the podman subcommand ("run", "exec", "push", ...)
func (c MockCall) Subcommand() string {
	if len(c.Args) == 0 {
		return ""
	}
	return c.Args[0]
}

// Exec returns the command run inside a session container for
// "exec <container> cmd..." calls, or nil for any other call.
func (c MockCall) Exec() []string {
	if c.Subcommand() != "exec" || len(c.Args) < 3 {
		return nil
	}
	return c.Args[2:]
}

// String renders the call the way it would appear on a command line
func (c MockCall) String() string {
	return strings.Join(c.Args, " ")
}

// Output implements podman.Runner
func (m *MockRunner) Output(ctx context.Context, stdin io.Reader, args ...string) ([]byte, error) {
	var in string
	if stdin != nil {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("mock: reading stdin: %w", err)
		}
		in = string(data)
	}
	call := MockCall{Args: append([]string(nil), args...), Stdin: in}
	m.mu.Lock()
	m.Calls = append(m.Calls, call)
	m.mu.Unlock()
	if m.OutputFunc != nil {
		return m.OutputFunc(ctx, in, call.Args)
	}
	return nil, nil
}

// CallsTo returns the recorded calls for one podman subcommand
func (m *MockRunner) CallsTo(subcommand string) []MockCall {
	var calls []MockCall
	for _, c := range m.Calls {
		if c.Subcommand() == subcommand {
			calls = append(calls, c)
		}
	}
	return calls
}

// Execs returns the commands run inside session containers, in order
func (m *MockRunner) Execs() [][]string {
	var execs [][]string
	for _, c := range m.Calls {
		if e := c.Exec(); e != nil {
			execs = append(execs, e)
		}
	}
	return execs
}

// PodmanFailure builds the error podman.Client returns for a failed command
func PodmanFailure(exitCode int, stderr string) error {
	return &podman.PodmanError{
		Command:  "mock",
		Stderr:   stderr,
		ExitCode: exitCode,
		Err:      fmt.Errorf("exit status %d", exitCode),
	}
}

// ArgValue returns the value following flag in args, or "" when absent
func ArgValue(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(a, flag+"="); ok {
			return v
		}
	}
	return ""
}
