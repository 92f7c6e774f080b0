package ci

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/distribution/reference"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/joshyorko/dudley-ci/internal/config"
	"github.com/joshyorko/dudley-ci/internal/engine"
	"github.com/joshyorko/dudley-ci/internal/podman"
	"github.com/joshyorko/dudley-ci/internal/source"
)

// RegistryAuthInfo contains information about a registry that requires authentication
type RegistryAuthInfo struct {
	Registry    string
	LoginCmd    string
	Description string
}

// KnownAuthRegistries lists registries that require authentication
var KnownAuthRegistries = []RegistryAuthInfo{
	{
		Registry:    "registry.redhat.io",
		LoginCmd:    "podman login registry.redhat.io",
		Description: "Red Hat Container Registry (requires Red Hat subscription)",
	},
	{
		Registry:    "registry.connect.redhat.com",
		LoginCmd:    "podman login registry.connect.redhat.com",
		Description: "Red Hat Partner Connect Registry",
	},
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// BuildOptions describes one image build
type BuildOptions struct {
	// ImageName is the name the image is tagged with under localhost/
	ImageName string `validate:"required,lowercase,excludesall=/:@ "`
	Tag       string `validate:"required,max=128,excludesall=/:@ "`
	// BaseImage is checked for registry authentication before building.
	// It is not passed to the build.
	BaseImage string
	// GitCommit is recorded in the image as SHA_HEAD_SHORT
	GitCommit string `validate:"required,excludesall= "`
}

// withDefaults fills empty options from cfg
func (o BuildOptions) withDefaults(cfg *config.Config) BuildOptions {
	if o.ImageName == "" {
		o.ImageName = cfg.Defaults.ImageName
	}
	if o.Tag == "" {
		o.Tag = cfg.Defaults.Tag
	}
	if o.BaseImage == "" {
		o.BaseImage = cfg.Defaults.BaseImage
	}
	if o.GitCommit == "" {
		o.GitCommit = cfg.Defaults.GitCommit
	}
	return o
}

// LocalImageRef returns the reference a build is tagged with
func LocalImageRef(name, tag string) string {
	return fmt.Sprintf("%s/%s:%s", config.LocalImagePrefix, name, tag)
}

// BuildStage executes the build stage
type BuildStage struct {
	cfg    *config.Config
	runner podman.Runner
	out    io.Writer
}

// NewBuildStage creates a new build stage executor
func NewBuildStage(cfg *config.Config, runner podman.Runner, out io.Writer) *BuildStage {
	return &BuildStage{
		cfg:    cfg,
		runner: runner,
		out:    progressWriter(out),
	}
}

// Execute builds the image from src and returns the built image
func (b *BuildStage) Execute(ctx context.Context, src *source.Dir, opts BuildOptions) (*engine.Image, error) {
	opts = opts.withDefaults(b.cfg)
	if err := validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("invalid build options: %w", err)
	}
	ref := LocalImageRef(opts.ImageName, opts.Tag)
	if _, err := reference.ParseNormalizedNamed(ref); err != nil {
		return nil, fmt.Errorf("invalid image reference %s: %w", ref, err)
	}

	content, err := CheckContainerfile(src, b.cfg.Layout.Containerfile)
	if err != nil {
		return nil, err
	}

	// Check for registries that require authentication
	images, err := ParseBaseImages(content)
	if err != nil {
		// Don't fail on parse errors, just skip the check
		logrus.Warnf("Skipping registry authentication check: %v", err)
	} else {
		if opts.BaseImage != "" {
			images = append(images, opts.BaseImage)
		}
		if err := b.checkRegistryAuth(ctx, images); err != nil {
			return nil, err
		}
	}

	iidFile, err := os.CreateTemp("", config.IIDFileTempPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create image ID file: %w", err)
	}
	iidPath := iidFile.Name()
	iidFile.Close()
	defer os.Remove(iidPath)

	args := BuildPodmanBuildArgs(BuildArgsOptions{
		Tag:               ref,
		ContainerfilePath: src.HostPath(b.cfg.Layout.Containerfile),
		ContextPath:       src.Path(),
		IIDFile:           iidPath,
		BuildArgs: map[string]string{
			config.BuildArgImageName: opts.ImageName,
			config.BuildArgCommit:    opts.GitCommit,
		},
		Labels: map[string]string{
			config.LabelRevision: opts.GitCommit,
		},
	})

	fmt.Fprintf(b.out, "🔨 Building image %s (commit: %s)...\n", ref, opts.GitCommit)
	if _, err := b.runner.Output(ctx, nil, args...); err != nil {
		return nil, fmt.Errorf("build failed: %w", err)
	}

	img := &engine.Image{Ref: ref}
	if data, err := os.ReadFile(iidPath); err == nil {
		img.ID = strings.TrimSpace(string(data))
	}
	fmt.Fprintf(b.out, "✅ Built %s\n", ref)
	return img, nil
}

// BuildArgsOptions contains options for building podman build arguments
type BuildArgsOptions struct {
	Tag               string
	ContainerfilePath string
	ContextPath       string
	IIDFile           string
	BuildArgs         map[string]string
	Labels            map[string]string
}

// BuildPodmanBuildArgs constructs the argument list for podman build command
// This is a pure function that can be easily unit tested
func BuildPodmanBuildArgs(opts BuildArgsOptions) []string {
	args := []string{"build"}

	if opts.ContainerfilePath != "" {
		args = append(args, "-f", opts.ContainerfilePath)
	}

	// Sorted for deterministic output
	for _, key := range sortedKeys(opts.BuildArgs) {
		args = append(args, "--build-arg", fmt.Sprintf("%s=%s", key, opts.BuildArgs[key]))
	}
	for _, key := range sortedKeys(opts.Labels) {
		args = append(args, "--label", fmt.Sprintf("%s=%s", key, opts.Labels[key]))
	}

	if opts.IIDFile != "" {
		args = append(args, "--iidfile", opts.IIDFile)
	}
	if opts.Tag != "" {
		args = append(args, "-t", opts.Tag)
	}
	if opts.ContextPath != "" {
		args = append(args, opts.ContextPath)
	}
	return args
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// checkRegistryAuth fails when a base image comes from a registry that
// requires authentication and podman is not logged in to it
func (b *BuildStage) checkRegistryAuth(ctx context.Context, images []string) error {
	notLoggedIn, err := CheckRegistryAuthStatus(ctx, b.runner, images)
	if err != nil {
		return err
	}
	if len(notLoggedIn) == 0 {
		return nil
	}

	fmt.Fprintln(b.out)
	fmt.Fprintln(b.out, "⚠️  Registry Authentication Required")
	fmt.Fprintln(b.out, config.StageSeparator)
	fmt.Fprintln(b.out, "The following registries require authentication:")
	fmt.Fprintln(b.out)
	for _, reg := range notLoggedIn {
		fmt.Fprintf(b.out, "  • %s\n", reg.Registry)
		fmt.Fprintf(b.out, "    %s\n", reg.Description)
		fmt.Fprintf(b.out, "    Run: %s\n", reg.LoginCmd)
		fmt.Fprintln(b.out)
	}
	fmt.Fprintln(b.out, "Please login before running the build.")
	fmt.Fprintln(b.out, config.StageSeparator)
	fmt.Fprintln(b.out)
	return fmt.Errorf("registry authentication required: please run '%s' first", notLoggedIn[0].LoginCmd)
}

// CheckRegistryAuthStatus returns the known authenticated registries that
// images are pulled from and that podman is not logged in to.
// Images that are not valid references are ignored.
func CheckRegistryAuthStatus(ctx context.Context, r podman.Runner, images []string) ([]RegistryAuthInfo, error) {
	var notLoggedIn []RegistryAuthInfo
	seen := map[string]bool{}
	for _, image := range images {
		named, err := reference.ParseNormalizedNamed(image)
		if err != nil {
			logrus.Debugf("Skipping registry check for %q: %v", image, err)
			continue
		}
		domain := reference.Domain(named)
		if seen[domain] {
			continue
		}
		seen[domain] = true

		for _, regInfo := range KnownAuthRegistries {
			if regInfo.Registry != domain {
				continue
			}
			loggedIn, err := podman.IsLoggedIn(ctx, r, regInfo.Registry)
			if err != nil {
				logrus.Warnf("Failed to check login status for %s: %v", regInfo.Registry, err)
				continue
			}
			if !loggedIn {
				notLoggedIn = append(notLoggedIn, regInfo)
			}
		}
	}
	return notLoggedIn, nil
}
