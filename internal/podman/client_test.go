package podman

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// stubRunner is defined locally to avoid import cycle with testutil.
type stubRunner struct {
	output []byte
	err    error
	calls  [][]string
}

func (s *stubRunner) Output(_ context.Context, _ io.Reader, args ...string) ([]byte, error) {
	s.calls = append(s.calls, args)
	return s.output, s.err
}

func TestPodmanError(t *testing.T) {
	tests := []struct {
		name    string
		err     PodmanError
		wantMsg string
	}{
		{
			name: "run command failed",
			err: PodmanError{
				Command: "run -d nginx",
				Stderr:  "Error: image not found",
				Err:     fmt.Errorf("exit status 1"),
			},
			wantMsg: "podman run -d nginx failed: exit status 1: Error: image not found",
		},
		{
			name: "no stderr",
			err: PodmanError{
				Command: "build -t test .",
				Err:     fmt.Errorf("exit status 125"),
			},
			wantMsg: "podman build -t test . failed: exit status 125",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			if got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestPodmanErrorUnwrap(t *testing.T) {
	innerErr := fmt.Errorf("inner error")
	var err error = fmt.Errorf("stage: %w", &PodmanError{
		Command:  "test",
		Stderr:   "stderr output",
		ExitCode: 2,
		Err:      innerErr,
	})

	if !errors.Is(err, innerErr) {
		t.Errorf("errors.Is should find the inner error through PodmanError")
	}
	if got := ExitCode(err); got != 2 {
		t.Errorf("ExitCode() = %d, want 2", got)
	}
	if got := ExitCode(fmt.Errorf("plain")); got != -1 {
		t.Errorf("ExitCode(plain) = %d, want -1", got)
	}
}

func TestClientOutput(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	// The client only execs its binary; sh stands in for podman here.
	c := NewClient(sh)

	out, err := c.Output(context.Background(), nil, "-c", "echo hello")
	if err != nil {
		t.Fatalf("Output() error: %v", err)
	}
	if string(out) != "hello\n" {
		t.Errorf("Output() = %q, want %q", out, "hello\n")
	}

	out, err = c.Output(context.Background(), strings.NewReader("from stdin"), "-c", "cat")
	if err != nil {
		t.Fatalf("Output() with stdin error: %v", err)
	}
	if string(out) != "from stdin" {
		t.Errorf("Output() = %q, want %q", out, "from stdin")
	}
}

func TestClientOutputFailure(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	c := NewClient(sh)

	_, err = c.Output(context.Background(), nil, "-c", "echo partial; echo boom >&2; exit 3")
	var perr *PodmanError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *PodmanError, got %T: %v", err, err)
	}
	if perr.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", perr.ExitCode)
	}
	if perr.Stderr != "boom" {
		t.Errorf("Stderr = %q, want %q", perr.Stderr, "boom")
	}
	if perr.Stdout != "partial" {
		t.Errorf("Stdout = %q, want %q", perr.Stdout, "partial")
	}
}

func TestClientWithProgress(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	var progress bytes.Buffer
	base := NewClient(sh)
	c := base.WithProgress(&progress)

	if base.progress != nil {
		t.Error("WithProgress must not modify the receiver")
	}

	out, err := c.Output(context.Background(), nil, "-c", "echo out; echo err >&2")
	if err != nil {
		t.Fatalf("Output() error: %v", err)
	}
	if string(out) != "out\n" {
		t.Errorf("Output() = %q, want only stdout", out)
	}
	if !strings.Contains(progress.String(), "out") || !strings.Contains(progress.String(), "err") {
		t.Errorf("progress = %q, want both streams", progress.String())
	}
}

func TestNewClientDefaultBinary(t *testing.T) {
	if got := NewClient("").Binary(); got != "podman" {
		t.Errorf("Binary() = %q, want podman", got)
	}
	if got := NewClient("/usr/bin/podman").Binary(); got != "/usr/bin/podman" {
		t.Errorf("Binary() = %q, want /usr/bin/podman", got)
	}
}

func TestClientCommand(t *testing.T) {
	c := NewClient("/usr/bin/podman")
	cmd := c.Command(context.Background(), "images", "--format", "json")
	want := []string{"/usr/bin/podman", "images", "--format", "json"}
	if diff := cmp.Diff(want, cmd.Args); diff != "" {
		t.Errorf("Command().Args mismatch (-want +got):\n%s", diff)
	}
}

func TestMaskArgs(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{
			name: "no credentials",
			in:   []string{"push", "localhost/img:latest", "ghcr.io/me/img:latest"},
			want: []string{"push", "localhost/img:latest", "ghcr.io/me/img:latest"},
		},
		{
			name: "username and password flags",
			in:   []string{"login", "--username", "me", "--password", "hunter2", "ghcr.io"},
			want: []string{"login", "--username", "***", "--password", "***", "ghcr.io"},
		},
		{
			name: "short flags",
			in:   []string{"login", "-u", "me", "-p", "hunter2", "quay.io"},
			want: []string{"login", "-u", "***", "-p", "***", "quay.io"},
		},
		{
			name: "equals form",
			in:   []string{"login", "--password=hunter2", "ghcr.io"},
			want: []string{"login", "--password=***", "ghcr.io"},
		},
		{
			name: "flag at end",
			in:   []string{"login", "--username"},
			want: []string{"login", "--username"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orig := append([]string(nil), tt.in...)
			got := MaskArgs(tt.in)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("MaskArgs() mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(orig, tt.in); diff != "" {
				t.Errorf("MaskArgs() modified its input:\n%s", diff)
			}
		})
	}
}

func TestParseInfo(t *testing.T) {
	data := []byte(`{"host":{"security":{"rootless":true}},"version":{"Version":"5.2.3"}}`)
	info, err := ParseInfo(data)
	if err != nil {
		t.Fatalf("ParseInfo() error: %v", err)
	}
	if info.Version != "5.2.3" {
		t.Errorf("Version = %q, want 5.2.3", info.Version)
	}
	if !info.Rootless {
		t.Error("Rootless = false, want true")
	}

	if _, err := ParseInfo([]byte("not json")); err == nil {
		t.Error("ParseInfo() should fail on invalid JSON")
	}
}

func TestInfo(t *testing.T) {
	r := &stubRunner{output: []byte(`{"host":{"security":{"rootless":false}},"version":{"Version":"4.9.4"}}`)}
	info, err := Info(context.Background(), r)
	if err != nil {
		t.Fatalf("Info() error: %v", err)
	}
	if info.Version != "4.9.4" || info.Rootless {
		t.Errorf("Info() = %+v", info)
	}
	if diff := cmp.Diff([][]string{{"info", "--format", "json"}}, r.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestCheckVersion(t *testing.T) {
	tests := []struct {
		version string
		wantErr bool
	}{
		{"5.2.3", false},
		{"4.0.0", false},
		{"3.4.4", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			err := CheckVersion(&PodmanInfo{Version: tt.version})
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckVersion(%q) error = %v, wantErr %v", tt.version, err, tt.wantErr)
			}
		})
	}
	if err := CheckVersion(nil); err == nil {
		t.Error("CheckVersion(nil) should fail")
	}
}

func TestImageExists(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    bool
		wantErr bool
	}{
		{name: "present", want: true},
		{name: "absent", err: &PodmanError{ExitCode: 1, Err: errors.New("exit status 1")}, want: false},
		{name: "podman failure", err: &PodmanError{ExitCode: 125, Err: errors.New("exit status 125")}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &stubRunner{err: tt.err}
			got, err := ImageExists(context.Background(), r, "localhost/img:latest")
			if (err != nil) != tt.wantErr {
				t.Fatalf("ImageExists() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ImageExists() = %v, want %v", got, tt.want)
			}
			if diff := cmp.Diff([]string{"image", "exists", "localhost/img:latest"}, r.calls[0]); diff != "" {
				t.Errorf("args mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestIsLoggedIn(t *testing.T) {
	tests := []struct {
		name   string
		output string
		err    error
		want   bool
	}{
		{name: "logged in", output: "joshyorko\n", want: true},
		{name: "empty output", output: "  \n", want: false},
		{name: "not logged in", err: &PodmanError{Stderr: "Error: not logged into ghcr.io", ExitCode: 125, Err: errors.New("exit status 125")}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &stubRunner{output: []byte(tt.output), err: tt.err}
			got, err := IsLoggedIn(context.Background(), r, "ghcr.io")
			if err != nil {
				t.Fatalf("IsLoggedIn() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("IsLoggedIn() = %v, want %v", got, tt.want)
			}
		})
	}

	// A runner failure that is not a podman error is surfaced
	r := &stubRunner{err: context.Canceled}
	if _, err := IsLoggedIn(context.Background(), r, "ghcr.io"); !errors.Is(err, context.Canceled) {
		t.Errorf("IsLoggedIn() error = %v, want context.Canceled", err)
	}
}

func TestFormatVolumeMapping(t *testing.T) {
	tests := []struct {
		name string
		vol  VolumeMapping
		want string
	}{
		{"simple mount", VolumeMapping{Host: "/host/path", Container: "/container/path"}, "/host/path:/container/path"},
		{"overlay", VolumeMapping{Host: "/src", Container: "/workspace", Options: "O"}, "/src:/workspace:O"},
		{"read-only", VolumeMapping{Host: "/src/disk_config", Container: "/config", Options: "ro"}, "/src/disk_config:/config:ro"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatVolumeMapping(tt.vol); got != tt.want {
				t.Errorf("FormatVolumeMapping() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildRunArgs(t *testing.T) {
	tests := []struct {
		name string
		opts RunOptions
		want []string
	}{
		{
			name: "minimal",
			opts: RunOptions{Image: "alpine"},
			want: []string{"run", "alpine"},
		},
		{
			name: "session container",
			opts: RunOptions{
				Name:       "dudley-ci-1a2b3c4d",
				Image:      "fedora:41",
				Detach:     true,
				Remove:     true,
				Entrypoint: "sleep",
				Workdir:    "/workspace",
				Volumes:    []VolumeMapping{{Host: "/src", Container: "/workspace", Options: "O"}},
				Args:       []string{"infinity"},
			},
			want: []string{
				"run", "-d", "--rm", "--name", "dudley-ci-1a2b3c4d",
				"--entrypoint", "sleep", "--workdir", "/workspace",
				"-v", "/src:/workspace:O", "fedora:41", "infinity",
			},
		},
		{
			name: "image builder",
			opts: RunOptions{
				Image:        "quay.io/centos-bootc/bootc-image-builder:latest",
				Remove:       true,
				Privileged:   true,
				Pull:         "newer",
				SecurityOpts: []string{"label=type:unconfined_t"},
				Args:         []string{"--type", "iso"},
			},
			want: []string{
				"run", "--rm", "--privileged", "--pull=newer",
				"--security-opt", "label=type:unconfined_t",
				"quay.io/centos-bootc/bootc-image-builder:latest", "--type", "iso",
			},
		},
		{
			name: "interactive with sorted env",
			opts: RunOptions{
				Image:       "hadolint",
				Interactive: true,
				Env:         map[string]string{"Z_LAST": "1", "A_FIRST": "2"},
			},
			want: []string{"run", "-i", "-e", "A_FIRST=2", "-e", "Z_LAST=1", "hadolint"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildRunArgs(tt.opts)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("BuildRunArgs() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
