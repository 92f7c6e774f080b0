// Package config provides configuration management for dudley-ci.
// This file contains all default values and constants used throughout the application.
// Following containers/common pattern, all configurable defaults are centralized here.
package config

// =============================================================================
// Container Images
// =============================================================================

const (
	// DefaultValidatorImage is the disposable environment used by the validate stage
	DefaultValidatorImage = "registry.fedoraproject.org/fedora:41"
	// DefaultBootcImageBuilder is the default bootc-image-builder container image
	// Uses CentOS bootc image builder which is publicly available without authentication
	DefaultBootcImageBuilder = "quay.io/centos-bootc/bootc-image-builder:latest"
	// DefaultHadolintImage is the default Hadolint image for Containerfile linting
	DefaultHadolintImage = "docker.io/hadolint/hadolint:latest"
	// DefaultBaseImage is the Universal Blue image the OS image is derived from
	DefaultBaseImage = "ghcr.io/ublue-os/bluefin-dx:latest"
)

// =============================================================================
// Build Defaults
// =============================================================================

const (
	// DefaultImageName is used when no repository is given
	DefaultImageName = "dudleys-second-bedroom"
	// DefaultTag is the default image tag
	DefaultTag = "latest"
	// DefaultRegistry is the default registry for publishing
	DefaultRegistry = "ghcr.io"
	// DefaultGitCommit is recorded when the commit cannot be determined
	DefaultGitCommit = "unknown"
	// LocalImagePrefix is the prefix podman gives to locally built images
	LocalImagePrefix = "localhost"

	// BuildArgImageName is the build argument carrying the image name
	BuildArgImageName = "IMAGE_NAME"
	// BuildArgCommit is the build argument carrying the short commit SHA
	BuildArgCommit = "SHA_HEAD_SHORT"
	// LabelRevision records the source commit on the built image
	LabelRevision = "org.opencontainers.image.revision"
)

// =============================================================================
// Source Tree Layout
// =============================================================================

const (
	// DefaultContainerfileName is the build file at the root of the source tree
	DefaultContainerfileName = "Containerfile"
	// DefaultScriptsGlob matches the shell scripts checked by shellcheck
	DefaultScriptsGlob = "build_files/**/*.sh"
	// DefaultPackageManifest is the JSON package manifest checked by jq
	DefaultPackageManifest = "packages.json"
	// DefaultDiskConfigDir holds the bootc-image-builder TOML files
	DefaultDiskConfigDir = "disk_config"
	// DefaultISOConfig is the default ISO disk config
	DefaultISOConfig = "disk_config/iso.toml"
	// DefaultQCOW2Config is the default QCOW2 disk config
	DefaultQCOW2Config = "disk_config/disk.toml"
)

// DefaultValidationScripts are run with bash, in order, by the validate stage
var DefaultValidationScripts = []string{
	"tests/validate-modules.sh",
	"tests/validate-packages.sh",
}

// ValidatorLocale keeps shellcheck and jq output stable across host locales
const ValidatorLocale = "C.UTF-8"

// ValidatorPackages are installed into the validator image before any check runs
var ValidatorPackages = []string{"shellcheck", "jq", "git"}

// =============================================================================
// Paths Inside Containers
// =============================================================================

const (
	// DefaultBuildManifestPath is the JSON build manifest inside the built image
	DefaultBuildManifestPath = "/etc/dudley/build-manifest.json"
	// DefaultBuildInfoPath is the build-info executable inside the built image
	DefaultBuildInfoPath = "/usr/bin/dudley-build-info"
	// DefaultHooksDir is the user-setup hooks directory inside the built image
	DefaultHooksDir = "/usr/share/ublue-os/user-setup.hooks.d/"

	// WorkspaceMountPath is where the source tree is mounted for validation
	WorkspaceMountPath = "/workspace"
	// DiskConfigMountPath is where the disk config directory is mounted for bootc-image-builder
	DiskConfigMountPath = "/config"
	// DiskOutputMountPath is where bootc-image-builder writes its artifacts
	DiskOutputMountPath = "/output"
	// ContainerStoragePath is the host container storage shared with bootc-image-builder
	ContainerStoragePath = "/var/lib/containers/storage"
)

// =============================================================================
// Labels, Names and Patterns
// =============================================================================

const (
	// SessionNamePrefix prefixes the names of engine session containers
	SessionNamePrefix = "dudley-ci"
	// DefaultOutputDir is the host directory receiving disk images
	DefaultOutputDir = "output"
	// AuthDirTempPattern is the pattern for the per-call registry auth directory
	AuthDirTempPattern = "dudley-ci-auth-*"
	// DigestFileTempPattern is the pattern for digest file temp filename
	DigestFileTempPattern = "dudley-ci-digest-*.txt"
	// IIDFileTempPattern is the pattern for the image ID file written by podman build
	IIDFileTempPattern = "dudley-ci-iid-*.txt"
	// BinaryPodman is the name of the podman binary
	BinaryPodman = "podman"
	// MinPodmanVersion is the oldest podman release known to work
	MinPodmanVersion = "v4.0.0"
	// StageSeparator is the separator line for pipeline stages
	StageSeparator = "────────────────────────────────────────────────────────────────────────────────"
)

// =============================================================================
// Config File Paths
// =============================================================================

const (
	// SystemDefaultConfigPath is the system default config file path
	SystemDefaultConfigPath = "/usr/share/dudley-ci/config.yaml"
	// SystemAdminConfigPath is the system admin config file path
	SystemAdminConfigPath = "/etc/dudley-ci/config.yaml"
	// UserConfigFileName is the user config file name (relative to ~/.config)
	UserConfigFileName = "dudley-ci/config.yaml"
)

// =============================================================================
// Lint
// =============================================================================

// DefaultLintFailureThreshold fails the lint run on error-level findings only
const DefaultLintFailureThreshold = "error"

// LintFailureThresholds are the values hadolint accepts for --failure-threshold
var LintFailureThresholds = []string{"error", "warning", "info", "style", "ignore", "none"}
