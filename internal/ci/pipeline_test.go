package ci

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/joshyorko/dudley-ci/internal/config"
	"github.com/joshyorko/dudley-ci/internal/secret"
	"github.com/joshyorko/dudley-ci/internal/testutil"
)

// pipelineRunner answers every podman call the pipeline makes. failOn
// makes the first call whose command line contains it fail.
func pipelineRunner(t *testing.T, failOn string) *testutil.MockRunner {
	t.Helper()
	return &testutil.MockRunner{
		OutputFunc: func(_ context.Context, _ string, args []string) ([]byte, error) {
			line := strings.Join(args, " ")
			if failOn != "" && strings.Contains(line, failOn) {
				return nil, testutil.PodmanFailure(1, failOn+" failed")
			}
			switch args[0] {
			case "build":
				if err := os.WriteFile(testutil.ArgValue(args, "--iidfile"), []byte("sha256:feed"), 0644); err != nil {
					t.Errorf("writing iidfile: %v", err)
				}
			case "push":
				if err := os.WriteFile(testutil.ArgValue(args, "--digestfile"), []byte(testDigest), 0644); err != nil {
					t.Errorf("writing digest file: %v", err)
				}
			case "exec":
				if strings.HasSuffix(line, "--json") {
					return []byte(testutil.SampleBuildInfoJSON()), nil
				}
			}
			return nil, nil
		},
	}
}

func subcommands(m *testutil.MockRunner) []string {
	var got []string
	for _, c := range m.Calls {
		got = append(got, c.Subcommand())
	}
	return got
}

func TestPipelineValidateAndBuildOnly(t *testing.T) {
	src, _ := openTree(t)
	m := pipelineRunner(t, "")
	var out bytes.Buffer

	report, err := NewPipeline(config.DefaultConfig(), m, &out).Run(context.Background(), src, PipelineOptions{
		Repository: "joshyorko/dudleys-second-bedroom",
		GitCommit:  "abc1234",
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	want := "✅ Validation passed\n✅ Build completed: localhost/dudleys-second-bedroom:latest (commit: abc1234)"
	if report != want {
		t.Errorf("Run() report = %q, want %q", report, want)
	}
	if len(m.CallsTo("push")) != 0 || len(m.CallsTo("login")) != 0 {
		t.Error("nothing should be published")
	}
	if !strings.Contains(out.String(), "Stage: build (2/4)") {
		t.Errorf("progress output missing stage header: %q", out.String())
	}
	if !strings.Contains(out.String(), "validate finished in") {
		t.Errorf("progress output missing stage timing: %q", out.String())
	}
	if strings.Contains(report, "Stage:") {
		t.Error("progress lines leaked into the report")
	}
}

func TestPipelineFull(t *testing.T) {
	src, _ := openTree(t)
	m := pipelineRunner(t, "")

	report, err := NewPipeline(config.DefaultConfig(), m, nil).Run(context.Background(), src, PipelineOptions{
		Repository:   "joshyorko/dudleys-second-bedroom",
		Registry:     "ghcr.io",
		Tag:          "latest",
		GitCommit:    "abc1234",
		Username:     secret.New("literal", "joshyorko"),
		Password:     secret.New("literal", "token"),
		RunTests:     true,
		PublishImage: true,
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	lines := strings.Split(report, "\n")
	if lines[0] != ReportValidationPassed {
		t.Errorf("first line = %q", lines[0])
	}
	if !strings.Contains(report, "✅ All tests passed!") {
		t.Errorf("report missing test result: %q", report)
	}
	wantLast := "✅ Published to: ghcr.io/joshyorko/dudleys-second-bedroom:latest@" + testDigest
	if lines[len(lines)-1] != wantLast {
		t.Errorf("last line = %q, want %q", lines[len(lines)-1], wantLast)
	}

	// Stages run in order: validate session, build, test session, publish
	var order []string
	for _, sub := range subcommands(m) {
		switch sub {
		case "build", "login", "push":
			order = append(order, sub)
		case "run":
			order = append(order, "session")
		}
	}
	if diff := cmp.Diff([]string{"session", "build", "session", "login", "push"}, order); diff != "" {
		t.Errorf("stage order mismatch (-want +got):\n%s", diff)
	}
}

func TestPipelineRegistryAndTagFromConfig(t *testing.T) {
	src, _ := openTree(t)
	cfg := config.DefaultConfig()
	cfg.Defaults.Registry = "quay.io"
	cfg.Defaults.Tag = "stable"
	m := pipelineRunner(t, "")

	report, err := NewPipeline(cfg, m, nil).Run(context.Background(), src, PipelineOptions{
		Repository:   "joshyorko/dudleys-second-bedroom",
		GitCommit:    "abc1234",
		Username:     secret.New("literal", "joshyorko"),
		Password:     secret.New("literal", "token"),
		PublishImage: true,
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if !strings.Contains(report, "Build completed: localhost/dudleys-second-bedroom:stable") {
		t.Errorf("build should use the configured tag: %q", report)
	}
	want := "✅ Published to: quay.io/joshyorko/dudleys-second-bedroom:stable@" + testDigest
	if !strings.HasSuffix(report, want) {
		t.Errorf("report = %q, want it to end with %q", report, want)
	}
	if login := m.CallsTo("login"); len(login) != 1 || login[0].Args[len(login[0].Args)-1] != "quay.io" {
		t.Errorf("login should target the configured registry: %v", login)
	}
}

func TestPipelineSkipsPublishWithoutCredentials(t *testing.T) {
	tests := []struct {
		name     string
		username *secret.Secret
		password *secret.Secret
	}{
		{name: "no credentials"},
		{name: "username only", username: secret.New("literal", "joshyorko")},
		{name: "empty password", username: secret.New("literal", "joshyorko"), password: secret.New("env:TOKEN", "")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, _ := openTree(t)
			m := pipelineRunner(t, "")
			var out bytes.Buffer

			report, err := NewPipeline(config.DefaultConfig(), m, &out).Run(context.Background(), src, PipelineOptions{
				Repository:   "joshyorko/dudleys-second-bedroom",
				Username:     tt.username,
				Password:     tt.password,
				PublishImage: true,
			})
			if err != nil {
				t.Fatalf("skipping publish is not an error: %v", err)
			}
			if !strings.HasSuffix(report, "\n"+ReportPublishSkipped) {
				t.Errorf("report = %q, want it to end with the skip warning", report)
			}
			if len(m.CallsTo("login")) != 0 || len(m.CallsTo("push")) != 0 {
				t.Errorf("no login or push expected, got %v", subcommands(m))
			}
			if !strings.Contains(out.String(), ReportPublishSkipped) {
				t.Error("skip warning should also be shown as progress")
			}
		})
	}
}

func TestPipelineStopsAtFirstFailure(t *testing.T) {
	tests := []struct {
		name    string
		failOn  string
		notRun  []string
		wantErr func(error) bool
	}{
		{
			name:   "validation failure",
			failOn: "jq empty",
			notRun: []string{"build", "login", "push"},
			wantErr: func(err error) bool {
				var verr *ValidationError
				return errors.As(err, &verr)
			},
		},
		{
			name:    "build failure",
			failOn:  "build -f",
			notRun:  []string{"login", "push"},
			wantErr: func(err error) bool { return strings.Contains(err.Error(), "build failed") },
		},
		{
			name:    "test failure",
			failOn:  "build-manifest.json",
			notRun:  []string{"login", "push"},
			wantErr: func(err error) bool { return strings.HasPrefix(err.Error(), "test:") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, _ := openTree(t)
			m := pipelineRunner(t, tt.failOn)

			report, err := NewPipeline(config.DefaultConfig(), m, nil).Run(context.Background(), src, PipelineOptions{
				Username:     secret.New("literal", "u"),
				Password:     secret.New("literal", "p"),
				RunTests:     true,
				PublishImage: true,
			})
			if err == nil || !tt.wantErr(err) {
				t.Fatalf("Run() error = %v", err)
			}
			if report != "" {
				t.Errorf("a failed run returns no report, got %q", report)
			}
			for _, sub := range tt.notRun {
				if len(m.CallsTo(sub)) != 0 {
					t.Errorf("%s ran after the failure", sub)
				}
			}
		})
	}
}

func TestPipelineCommitDetection(t *testing.T) {
	src, _ := openTree(t)
	m := pipelineRunner(t, "")

	report, err := NewPipeline(config.DefaultConfig(), m, nil).Run(context.Background(), src, PipelineOptions{})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !strings.Contains(report, "(commit: unknown)") {
		t.Errorf("report = %q, want the default commit outside a repository", report)
	}
	if !strings.Contains(report, "localhost/dudleys-second-bedroom:latest") {
		t.Errorf("report = %q, want the default image name", report)
	}
}

func TestImageName(t *testing.T) {
	cfg := config.DefaultConfig()
	tests := map[string]string{
		"":                                 "dudleys-second-bedroom",
		"joshyorko/dudleys-second-bedroom": "dudleys-second-bedroom",
		"org/team/os-image":                "os-image",
		"single":                           "single",
		"trailing/slash/":                  "slash",
	}
	for repository, want := range tests {
		if got := ImageName(cfg, repository); got != want {
			t.Errorf("ImageName(%q) = %q, want %q", repository, got, want)
		}
	}
}
