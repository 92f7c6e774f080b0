package podman

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/joshyorko/dudley-ci/internal/config"
)

// PodmanError represents an error from podman command execution
type PodmanError struct {
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

func (e *PodmanError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("podman %s failed: %v: %s", e.Command, e.Err, e.Stderr)
	}
	return fmt.Sprintf("podman %s failed: %v", e.Command, e.Err)
}

func (e *PodmanError) Unwrap() error {
	return e.Err
}

// ExitCode returns the podman exit code carried by err, or -1 when err
// did not come from a podman process that exited.
func ExitCode(err error) int {
	var perr *PodmanError
	if errors.As(err, &perr) {
		return perr.ExitCode
	}
	return -1
}

// Runner executes podman with the given arguments and returns its stdout.
// stdin may be nil.
type Runner interface {
	Output(ctx context.Context, stdin io.Reader, args ...string) ([]byte, error)
}

// Client wraps podman CLI commands
type Client struct {
	binary   string
	progress io.Writer
}

// NewClient creates a new podman client for the given binary
// (see config.FindPodmanBinary).
func NewClient(binary string) *Client {
	if binary == "" {
		binary = config.BinaryPodman
	}
	return &Client{binary: binary}
}

// WithProgress returns a copy of the client that also streams podman's
// stdout and stderr to w while commands run.
func (c *Client) WithProgress(w io.Writer) *Client {
	cp := *c
	cp.progress = w
	return &cp
}

// Binary returns the podman binary the client executes
func (c *Client) Binary() string {
	return c.binary
}

// Output executes a podman command and returns stdout
func (c *Client) Output(ctx context.Context, stdin io.Reader, args ...string) ([]byte, error) {
	logrus.Debugf("Running: %s %s", c.binary, strings.Join(MaskArgs(args), " "))

	cmd := c.Command(ctx, args...)
	var stdout, stderr bytes.Buffer
	if c.progress != nil {
		cmd.Stdout = io.MultiWriter(&stdout, c.progress)
		cmd.Stderr = io.MultiWriter(&stderr, c.progress)
	} else {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}
	if stdin != nil {
		cmd.Stdin = stdin
	}

	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return stdout.Bytes(), &PodmanError{
			Command:  strings.Join(MaskArgs(args), " "),
			Stdout:   strings.TrimSpace(stdout.String()),
			Stderr:   strings.TrimSpace(stderr.String()),
			ExitCode: exitCode,
			Err:      err,
		}
	}
	return stdout.Bytes(), nil
}

// Command creates an exec.Cmd for running podman with the given arguments.
// Output wires its streams.
func (c *Client) Command(ctx context.Context, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, c.binary, args...)
}

// credentialFlags are flags whose value must never be logged
var credentialFlags = map[string]bool{
	"--username": true,
	"-u":         true,
	"--password": true,
	"-p":         true,
}

// MaskArgs returns a copy of args with credential flag values replaced by ***.
// Both "--flag value" and "--flag=value" forms are handled.
func MaskArgs(args []string) []string {
	masked := make([]string, len(args))
	copy(masked, args)
	for i := 0; i < len(masked); i++ {
		arg := masked[i]
		if credentialFlags[arg] && i+1 < len(masked) {
			masked[i+1] = "***"
			i++
			continue
		}
		if name, _, ok := strings.Cut(arg, "="); ok && credentialFlags[name] {
			masked[i] = name + "=***"
		}
	}
	return masked
}

// PodmanInfo contains podman system info
type PodmanInfo struct {
	Version  string
	Rootless bool
}

// ParseInfo parses the output of "podman info --format json"
func ParseInfo(data []byte) (*PodmanInfo, error) {
	var info struct {
		Version struct {
			Version string `json:"Version"`
		} `json:"version"`
		Host struct {
			Security struct {
				Rootless bool `json:"rootless"`
			} `json:"security"`
		} `json:"host"`
	}

	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse podman info: %w", err)
	}

	return &PodmanInfo{
		Version:  info.Version.Version,
		Rootless: info.Host.Security.Rootless,
	}, nil
}

// Info returns podman system information
func Info(ctx context.Context, r Runner) (*PodmanInfo, error) {
	output, err := r.Output(ctx, nil, "info", "--format", "json")
	if err != nil {
		return nil, err
	}
	return ParseInfo(output)
}

// CheckVersion verifies podman meets the minimum supported version
func CheckVersion(info *PodmanInfo) error {
	if info == nil {
		return fmt.Errorf("podman info is unavailable")
	}
	return config.CheckPodmanVersion(info.Version)
}

// ImageExists reports whether an image is present in local storage
func ImageExists(ctx context.Context, r Runner, ref string) (bool, error) {
	_, err := r.Output(ctx, nil, "image", "exists", ref)
	if err != nil {
		// Exit code 1 means image doesn't exist
		if ExitCode(err) == 1 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// IsLoggedIn checks if the user is logged in to a specific registry
// Returns true if logged in, false otherwise
func IsLoggedIn(ctx context.Context, r Runner, registry string) (bool, error) {
	output, err := r.Output(ctx, nil, "login", "--get-login", registry)
	if err != nil {
		var perr *PodmanError
		if errors.As(err, &perr) {
			// Not logged in - this is expected, not an error
			return false, nil
		}
		return false, err
	}

	return len(strings.TrimSpace(string(output))) > 0, nil
}

// RunOptions contains options for running a container
type RunOptions struct {
	Name         string
	Image        string
	Entrypoint   string
	Workdir      string
	Pull         string // e.g., "newer"
	SecurityOpts []string
	Volumes      []VolumeMapping
	Env          map[string]string
	Detach       bool
	Remove       bool
	Privileged   bool
	Interactive  bool // keep stdin open (-i)
	Args         []string
}

// VolumeMapping represents a volume mapping
type VolumeMapping struct {
	Host      string
	Container string
	Options   string // e.g., "ro", "O"
}

// FormatVolumeMapping formats a volume mapping for podman command line
// This is a pure function that can be easily unit tested
func FormatVolumeMapping(v VolumeMapping) string {
	mapping := fmt.Sprintf("%s:%s", v.Host, v.Container)
	if v.Options != "" {
		mapping += ":" + v.Options
	}
	return mapping
}

// BuildRunArgs constructs the argument list for podman run command.
// Environment variables are emitted sorted by key.
// This is a pure function that can be easily unit tested
func BuildRunArgs(opts RunOptions) []string {
	args := []string{"run"}

	if opts.Detach {
		args = append(args, "-d")
	}
	if opts.Remove {
		args = append(args, "--rm")
	}
	if opts.Interactive {
		args = append(args, "-i")
	}
	if opts.Name != "" {
		args = append(args, "--name", opts.Name)
	}
	if opts.Privileged {
		args = append(args, "--privileged")
	}
	if opts.Pull != "" {
		args = append(args, "--pull="+opts.Pull)
	}
	for _, s := range opts.SecurityOpts {
		args = append(args, "--security-opt", s)
	}
	if opts.Entrypoint != "" {
		args = append(args, "--entrypoint", opts.Entrypoint)
	}
	if opts.Workdir != "" {
		args = append(args, "--workdir", opts.Workdir)
	}

	for _, v := range opts.Volumes {
		args = append(args, "-v", FormatVolumeMapping(v))
	}

	keys := make([]string, 0, len(opts.Env))
	for k := range opts.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, opts.Env[k]))
	}

	args = append(args, opts.Image)
	args = append(args, opts.Args...)

	return args
}
