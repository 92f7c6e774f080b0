package ci

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/joshyorko/dudley-ci/internal/source"
	"github.com/joshyorko/dudley-ci/internal/testutil"
)

func TestCheckContainerfile(t *testing.T) {
	src, err := source.Open(testutil.WriteSourceTree(t))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}

	first, err := CheckContainerfile(src, "Containerfile")
	if err != nil {
		t.Fatalf("CheckContainerfile() error: %v", err)
	}
	if first != testutil.SampleContainerfile() {
		t.Errorf("CheckContainerfile() = %q, want the file content", first)
	}

	// Reading twice gives the same bytes
	second, err := CheckContainerfile(src, "Containerfile")
	if err != nil {
		t.Fatalf("second CheckContainerfile() error: %v", err)
	}
	if first != second {
		t.Error("CheckContainerfile() is not idempotent")
	}
}

func TestCheckContainerfileExactBytes(t *testing.T) {
	content := "FROM x\r\n\n\tRUN true   \n\n\n"
	fsys := afero.NewMemMapFs()
	if err := afero.WriteFile(fsys, "/Containerfile", []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := CheckContainerfile(source.NewDir("/src", fsys), "Containerfile")
	if err != nil {
		t.Fatalf("CheckContainerfile() error: %v", err)
	}
	if got != content {
		t.Errorf("CheckContainerfile() = %q, want %q", got, content)
	}
}

func TestCheckContainerfileMissing(t *testing.T) {
	src := source.NewDir("/src", afero.NewMemMapFs())
	if _, err := CheckContainerfile(src, "Containerfile"); err == nil {
		t.Fatal("expected error for a tree without a Containerfile")
	}
}

func TestParseBaseImages(t *testing.T) {
	tests := []struct {
		name          string
		containerfile string
		wantImages    []string
	}{
		{
			name: "single FROM instruction",
			containerfile: `FROM quay.io/fedora/fedora-bootc:42
RUN dnf install -y vim
`,
			wantImages: []string{"quay.io/fedora/fedora-bootc:42"},
		},
		{
			name:          "ARG default is expanded",
			containerfile: testutil.SampleContainerfile(),
			wantImages:    []string{"ghcr.io/ublue-os/bluefin-dx:latest"},
		},
		{
			name: "plain variable reference",
			containerfile: `ARG BASE_IMAGE="fedora:latest"
FROM $BASE_IMAGE
RUN dnf update -y
`,
			wantImages: []string{"fedora:latest"},
		},
		{
			name: "ARG without default is skipped",
			containerfile: `ARG BASE_IMAGE
FROM ${BASE_IMAGE}
RUN dnf update -y
`,
			wantImages: []string{},
		},
		{
			name:          "multi-stage build",
			containerfile: testutil.SampleContainerfileMultiStage(),
			wantImages:    []string{"docker.io/library/golang:1.24", "ghcr.io/ublue-os/bluefin-dx:stable"},
		},
		{
			name: "FROM with scratch",
			containerfile: `FROM golang:1.21 AS builder
RUN go build -o app

FROM scratch
COPY --from=builder /app/app /
`,
			wantImages: []string{"golang:1.21"},
		},
		{
			name: "FROM an earlier stage",
			containerfile: `FROM registry.redhat.io/ubi9/ubi:9.3 AS Base
RUN dnf install -y make

FROM base
RUN make
`,
			wantImages: []string{"registry.redhat.io/ubi9/ubi:9.3"},
		},
		{
			name: "FROM with digest",
			containerfile: `FROM quay.io/fedora/fedora-bootc@sha256:abc123def456
RUN dnf install -y vim
`,
			wantImages: []string{"quay.io/fedora/fedora-bootc@sha256:abc123def456"},
		},
		{
			name: "case insensitive FROM",
			containerfile: `from fedora:latest
RUN echo hello
`,
			wantImages: []string{"fedora:latest"},
		},
		{
			name: "FROM with platform flag and spaces",
			containerfile: `FROM   --platform=linux/amd64   fedora:41   AS   base
RUN dnf install -y vim
`,
			wantImages: []string{"fedora:41"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			images, err := ParseBaseImages(tt.containerfile)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.wantImages, images); diff != "" {
				t.Errorf("ParseBaseImages() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// TestContainsBootcLint tests the pure function for checking bootc lint patterns
func TestContainsBootcLint(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{name: "contains bootc container lint", content: "RUN bootc container lint", want: true},
		{name: "hyphenated", content: "RUN bootc-container-lint", want: true},
		{name: "uppercase", content: "RUN BOOTC CONTAINER LINT", want: true},
		{name: "in comment", content: "# RUN bootc container lint", want: true},
		{name: "not present", content: "RUN dnf install -y httpd", want: false},
		{name: "bootc only", content: "RUN bootc status", want: false},
		{name: "empty content", content: "", want: false},
		{name: "sample containerfile", content: testutil.SampleContainerfile(), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContainsBootcLint(tt.content); got != tt.want {
				t.Errorf("ContainsBootcLint() = %v, want %v", got, tt.want)
			}
		})
	}
}
