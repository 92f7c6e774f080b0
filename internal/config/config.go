// Package config provides configuration management for dudley-ci.
// The design follows containers/common's pattern with hierarchical config files
// and environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Environment variable names for configuration overrides
const (
	EnvConfig            = "DUDLEYCI_CONFIG"
	EnvPodmanPath        = "DUDLEYCI_PODMAN"
	EnvValidatorImage    = "DUDLEYCI_VALIDATOR_IMAGE"
	EnvBootcImageBuilder = "DUDLEYCI_BOOTC_IMAGE_BUILDER"
	EnvHadolintImage     = "DUDLEYCI_HADOLINT_IMAGE"
	EnvRegistry          = "DUDLEYCI_REGISTRY"
	EnvOutputDir         = "DUDLEYCI_OUTPUT_DIR"
)

// Config represents the dudley-ci configuration
type Config struct {
	Runtime     RuntimeConfig     `yaml:"runtime" json:"runtime"`
	Images      ImagesConfig      `yaml:"images" json:"images"`
	Defaults    DefaultsConfig    `yaml:"defaults" json:"defaults"`
	Layout      LayoutConfig      `yaml:"layout" json:"layout"`
	ImageChecks ImageChecksConfig `yaml:"image_checks" json:"image_checks"`
	Lint        LintConfig        `yaml:"lint" json:"lint"`
	Paths       PathsConfig       `yaml:"paths" json:"paths"`
}

// RuntimeConfig contains runtime settings
type RuntimeConfig struct {
	// Podman binary to use: "auto", "podman", or full path
	Podman string `yaml:"podman" json:"podman"`
}

// ImagesConfig contains the tool images each stage runs in
type ImagesConfig struct {
	Validator         string `yaml:"validator" json:"validator"`
	BootcImageBuilder string `yaml:"bootc_image_builder" json:"bootc_image_builder"`
	Hadolint          string `yaml:"hadolint" json:"hadolint"`
}

// DefaultsConfig contains values used when a command does not specify them
type DefaultsConfig struct {
	ImageName string `yaml:"image_name" json:"image_name"`
	Tag       string `yaml:"tag" json:"tag"`
	Registry  string `yaml:"registry" json:"registry"`
	BaseImage string `yaml:"base_image" json:"base_image"`
	GitCommit string `yaml:"git_commit" json:"git_commit"`
}

// LayoutConfig contains paths relative to the source tree
type LayoutConfig struct {
	Containerfile     string   `yaml:"containerfile" json:"containerfile"`
	ScriptsGlob       string   `yaml:"scripts_glob" json:"scripts_glob"`
	PackageManifest   string   `yaml:"package_manifest" json:"package_manifest"`
	ValidationScripts []string `yaml:"validation_scripts" json:"validation_scripts"`
	DiskConfigDir     string   `yaml:"disk_config_dir" json:"disk_config_dir"`
	ISOConfig         string   `yaml:"iso_config" json:"iso_config"`
	QCOW2Config       string   `yaml:"qcow2_config" json:"qcow2_config"`
}

// ImageChecksConfig contains paths inside the built image asserted by the test stage
type ImageChecksConfig struct {
	BuildManifest string `yaml:"build_manifest" json:"build_manifest"`
	BuildInfo     string `yaml:"build_info" json:"build_info"`
	HooksDir      string `yaml:"hooks_dir" json:"hooks_dir"`
}

// LintConfig contains hadolint settings
type LintConfig struct {
	// FailureThreshold is the lowest finding level that fails the lint run
	FailureThreshold string `yaml:"failure_threshold" json:"failure_threshold"`
}

// PathsConfig contains host path settings
type PathsConfig struct {
	// Output directory for disk images
	Output string `yaml:"output" json:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			Podman: "auto",
		},
		Images: ImagesConfig{
			Validator:         DefaultValidatorImage,
			BootcImageBuilder: DefaultBootcImageBuilder,
			Hadolint:          DefaultHadolintImage,
		},
		Defaults: DefaultsConfig{
			ImageName: DefaultImageName,
			Tag:       DefaultTag,
			Registry:  DefaultRegistry,
			BaseImage: DefaultBaseImage,
			GitCommit: DefaultGitCommit,
		},
		Layout: LayoutConfig{
			Containerfile:     DefaultContainerfileName,
			ScriptsGlob:       DefaultScriptsGlob,
			PackageManifest:   DefaultPackageManifest,
			ValidationScripts: append([]string(nil), DefaultValidationScripts...),
			DiskConfigDir:     DefaultDiskConfigDir,
			ISOConfig:         DefaultISOConfig,
			QCOW2Config:       DefaultQCOW2Config,
		},
		ImageChecks: ImageChecksConfig{
			BuildManifest: DefaultBuildManifestPath,
			BuildInfo:     DefaultBuildInfoPath,
			HooksDir:      DefaultHooksDir,
		},
		Lint: LintConfig{
			FailureThreshold: DefaultLintFailureThreshold,
		},
		Paths: PathsConfig{
			Output: DefaultOutputDir,
		},
	}
}

// configPaths returns the list of config file paths to check, in order of priority
// (later files override earlier ones)
func configPaths() []string {
	paths := []string{SystemDefaultConfigPath, SystemAdminConfigPath}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", UserConfigFileName))
	}
	return paths
}

// Load reads configuration from files and applies environment overrides.
// It follows the containers/common pattern:
// 1. Start with default values
// 2. Load system default config
// 3. Load system admin config
// 4. Load user config
// 5. Apply environment variable overrides
func Load(explicitPath string) (*Config, error) {
	cfg := DefaultConfig()

	// If explicit path is provided, only load that file
	if explicitPath != "" {
		if err := loadFile(cfg, explicitPath); err != nil {
			return nil, err
		}
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	if envPath := os.Getenv(EnvConfig); envPath != "" {
		if err := loadFile(cfg, envPath); err != nil {
			return nil, err
		}
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	var loadedAny bool
	for _, path := range configPaths() {
		if _, err := os.Stat(path); err == nil {
			logrus.Debugf("Loading config from %s", path)
			if err := loadFile(cfg, path); err != nil {
				logrus.Warnf("Failed to load config from %s: %v", path, err)
				continue
			}
			loadedAny = true
		}
	}

	if !loadedAny {
		logrus.Debug("No config files found, using defaults")
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// loadFile loads a single config file and merges it into the existing config
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	mergeConfig(cfg, &fileCfg)
	return nil
}

// mergeConfig merges src into dst, only overwriting non-zero values
func mergeConfig(dst, src *Config) {
	mergeString(&dst.Runtime.Podman, src.Runtime.Podman)

	mergeString(&dst.Images.Validator, src.Images.Validator)
	mergeString(&dst.Images.BootcImageBuilder, src.Images.BootcImageBuilder)
	mergeString(&dst.Images.Hadolint, src.Images.Hadolint)

	mergeString(&dst.Defaults.ImageName, src.Defaults.ImageName)
	mergeString(&dst.Defaults.Tag, src.Defaults.Tag)
	mergeString(&dst.Defaults.Registry, src.Defaults.Registry)
	mergeString(&dst.Defaults.BaseImage, src.Defaults.BaseImage)
	mergeString(&dst.Defaults.GitCommit, src.Defaults.GitCommit)

	mergeString(&dst.Layout.Containerfile, src.Layout.Containerfile)
	mergeString(&dst.Layout.ScriptsGlob, src.Layout.ScriptsGlob)
	mergeString(&dst.Layout.PackageManifest, src.Layout.PackageManifest)
	if len(src.Layout.ValidationScripts) > 0 {
		dst.Layout.ValidationScripts = append([]string(nil), src.Layout.ValidationScripts...)
	}
	mergeString(&dst.Layout.DiskConfigDir, src.Layout.DiskConfigDir)
	mergeString(&dst.Layout.ISOConfig, src.Layout.ISOConfig)
	mergeString(&dst.Layout.QCOW2Config, src.Layout.QCOW2Config)

	mergeString(&dst.ImageChecks.BuildManifest, src.ImageChecks.BuildManifest)
	mergeString(&dst.ImageChecks.BuildInfo, src.ImageChecks.BuildInfo)
	mergeString(&dst.ImageChecks.HooksDir, src.ImageChecks.HooksDir)

	mergeString(&dst.Lint.FailureThreshold, src.Lint.FailureThreshold)

	mergeString(&dst.Paths.Output, src.Paths.Output)
}

func mergeString(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	overrides := map[string]*string{
		EnvPodmanPath:        &cfg.Runtime.Podman,
		EnvValidatorImage:    &cfg.Images.Validator,
		EnvBootcImageBuilder: &cfg.Images.BootcImageBuilder,
		EnvHadolintImage:     &cfg.Images.Hadolint,
		EnvRegistry:          &cfg.Defaults.Registry,
		EnvOutputDir:         &cfg.Paths.Output,
	}
	for env, field := range overrides {
		if v := os.Getenv(env); v != "" {
			logrus.Debugf("Config override from %s", env)
			*field = v
		}
	}
}

// Save writes the configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# dudley-ci configuration file
#
# Configuration is loaded in the following order (later overrides earlier):
# 1. /usr/share/dudley-ci/config.yaml (system default)
# 2. /etc/dudley-ci/config.yaml (system admin)
# 3. ~/.config/dudley-ci/config.yaml (user)
# 4. Environment variables (DUDLEYCI_*)
# 5. Command-line flags
#
`)
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []string

	required := []struct {
		name  string
		value string
	}{
		{"images.validator", c.Images.Validator},
		{"images.bootc_image_builder", c.Images.BootcImageBuilder},
		{"images.hadolint", c.Images.Hadolint},
		{"layout.containerfile", c.Layout.Containerfile},
		{"layout.package_manifest", c.Layout.PackageManifest},
		{"layout.disk_config_dir", c.Layout.DiskConfigDir},
		{"image_checks.build_manifest", c.ImageChecks.BuildManifest},
		{"image_checks.build_info", c.ImageChecks.BuildInfo},
		{"image_checks.hooks_dir", c.ImageChecks.HooksDir},
		{"paths.output", c.Paths.Output},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, fmt.Sprintf("%s must not be empty", r.name))
		}
	}

	for _, p := range []string{c.Layout.Containerfile, c.Layout.PackageManifest, c.Layout.DiskConfigDir} {
		if filepath.IsAbs(p) {
			errs = append(errs, fmt.Sprintf("layout path must be relative to the source tree: %s", p))
		}
	}

	if !isLintThreshold(c.Lint.FailureThreshold) {
		errs = append(errs, fmt.Sprintf("lint.failure_threshold must be one of %s: %q",
			strings.Join(LintFailureThresholds, ", "), c.Lint.FailureThreshold))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func isLintThreshold(v string) bool {
	for _, t := range LintFailureThresholds {
		if v == t {
			return true
		}
	}
	return false
}

// UserConfigPath returns the path to the user's config file
func UserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", UserConfigFileName), nil
}

// OutputDir returns the absolute disk image output directory, expanding ~ if needed
func (c *Config) OutputDir() (string, error) {
	dir := c.Paths.Output
	if strings.HasPrefix(dir, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, dir[1:])
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve output directory %s: %w", dir, err)
	}
	return abs, nil
}
