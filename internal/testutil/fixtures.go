package testutil

import "testing"

// Test image constants
const (
	// TestBaseImage is a small bootc image usable as a build base in e2e tests
	TestBaseImage = "quay.io/fedora/fedora-bootc:42"

	// TestImageRef is the local reference the pipeline gives the sample image
	TestImageRef = "localhost/dudleys-second-bedroom:latest"
)

// SampleContainerfile returns a bootc Containerfile that ends with the lint step
func SampleContainerfile() string {
	return `ARG BASE_IMAGE=ghcr.io/ublue-os/bluefin-dx:latest
FROM ${BASE_IMAGE}

ARG IMAGE_NAME
ARG SHA_HEAD_SHORT

COPY build_files /ctx/build_files
COPY packages.json /ctx/packages.json

RUN /ctx/build_files/build.sh && \
    ostree container commit

RUN bootc container lint
`
}

// SampleContainerfileMultiStage returns a Containerfile with two FROM stages
func SampleContainerfileMultiStage() string {
	return `FROM docker.io/library/golang:1.24 AS tools
RUN go install example.com/tool@latest

FROM ghcr.io/ublue-os/bluefin-dx:stable
COPY --from=tools /go/bin/tool /usr/bin/tool
RUN bootc container lint
`
}

// SamplePackagesJSON returns a valid package manifest
func SamplePackagesJSON() string {
	return `{
  "install": ["htop", "tmux"],
  "remove": ["firefox"]
}
`
}

// SampleISOConfig returns a bootc-image-builder ISO config
func SampleISOConfig() string {
	return `[customizations.installer.kickstart]
contents = """
%post
bootc switch --mutate-in-place --transport registry ghcr.io/joshyorko/dudleys-second-bedroom:latest
%end
"""

[customizations.installer.modules]
enable = ["org.fedoraproject.Anaconda.Modules.Storage"]
`
}

// SampleDiskConfig returns a bootc-image-builder disk config
func SampleDiskConfig() string {
	return `[[customizations.filesystem]]
mountpoint = "/"
minsize = "20 GiB"
`
}

// SampleBuildInfoJSON returns what the build-info tool prints with --json
func SampleBuildInfoJSON() string {
	return `{"image":"dudleys-second-bedroom","commit":"abc1234","built":"2026-10-19T00:00:00Z"}`
}

// SamplePodmanInfoJSON returns a minimal "podman info --format json" document
func SamplePodmanInfoJSON(rootless bool) string {
	if rootless {
		return `{"host":{"security":{"rootless":true}},"version":{"Version":"5.2.3"}}`
	}
	return `{"host":{"security":{"rootless":false}},"version":{"Version":"5.2.3"}}`
}

// WriteSourceTree lays out a complete image source tree in a temp
// directory and returns its path.
func WriteSourceTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	WriteFile(t, dir, "Containerfile", SampleContainerfile())
	WriteFile(t, dir, "packages.json", SamplePackagesJSON())
	WriteFile(t, dir, "build_files/build.sh", "#!/bin/bash\nset -euo pipefail\necho building\n")
	WriteFile(t, dir, "build_files/shared/utils/helpers.sh", "#!/bin/bash\necho helper\n")
	WriteFile(t, dir, "build_files/README.md", "not a script\n")
	WriteFile(t, dir, "tests/validate-modules.sh", "#!/bin/bash\nexit 0\n")
	WriteFile(t, dir, "tests/validate-packages.sh", "#!/bin/bash\nexit 0\n")
	WriteFile(t, dir, "disk_config/iso.toml", SampleISOConfig())
	WriteFile(t, dir, "disk_config/disk.toml", SampleDiskConfig())
	return dir
}

// SourceTreeScripts returns the scripts in WriteSourceTree matched by
// the default scripts glob, in sorted order
func SourceTreeScripts() []string {
	return []string{"build_files/build.sh", "build_files/shared/utils/helpers.sh"}
}
