package ci

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/distribution/reference"

	"github.com/joshyorko/dudley-ci/internal/config"
	"github.com/joshyorko/dudley-ci/internal/engine"
	"github.com/joshyorko/dudley-ci/internal/podman"
	"github.com/joshyorko/dudley-ci/internal/secret"
)

// PublishOptions describes where an image is pushed
type PublishOptions struct {
	Registry   string `validate:"required"`
	Repository string `validate:"required"`
	Tag        string `validate:"required,max=128"`
	Username   *secret.Secret
	Password   *secret.Secret
	// Insecure disables TLS verification, for local test registries
	Insecure bool
}

// PublishRef composes and validates registry/repository:tag
func PublishRef(registry, repository, tag string) (string, error) {
	name := strings.TrimSuffix(registry, "/") + "/" + strings.TrimPrefix(repository, "/")
	named, err := reference.ParseNormalizedNamed(name)
	if err != nil {
		return "", fmt.Errorf("invalid repository %s: %w", name, err)
	}
	tagged, err := reference.WithTag(named, tag)
	if err != nil {
		return "", fmt.Errorf("invalid tag %q: %w", tag, err)
	}
	return tagged.String(), nil
}

// PublishStage pushes a built image to a registry
type PublishStage struct {
	cfg    *config.Config
	runner podman.Runner
	out    io.Writer
}

// NewPublishStage creates a new publish stage executor
func NewPublishStage(cfg *config.Config, runner podman.Runner, out io.Writer) *PublishStage {
	return &PublishStage{
		cfg:    cfg,
		runner: runner,
		out:    progressWriter(out),
	}
}

// Execute pushes image and returns the published reference, with its
// digest appended when the registry reported one
func (p *PublishStage) Execute(ctx context.Context, image *engine.Image, opts PublishOptions) (string, error) {
	if opts.Registry == "" {
		opts.Registry = p.cfg.Defaults.Registry
	}
	if opts.Tag == "" {
		opts.Tag = p.cfg.Defaults.Tag
	}
	if err := validate.Struct(opts); err != nil {
		return "", fmt.Errorf("invalid publish options: %w", err)
	}
	if !opts.Username.Present() || !opts.Password.Present() {
		return "", fmt.Errorf("username and password are required to publish")
	}
	if image == nil || image.Ref == "" {
		return "", fmt.Errorf("no image to publish")
	}

	ref, err := PublishRef(opts.Registry, opts.Repository, opts.Tag)
	if err != nil {
		return "", err
	}

	exists, err := podman.ImageExists(ctx, p.runner, image.Ref)
	if err != nil {
		return "", fmt.Errorf("failed to check image %s: %w", image.Ref, err)
	}
	if !exists {
		return "", fmt.Errorf("image '%s' not found in local storage, build it first", image.Ref)
	}

	// Per-call credentials: nothing is left in the user's auth file
	authDir, err := os.MkdirTemp("", config.AuthDirTempPattern)
	if err != nil {
		return "", fmt.Errorf("failed to create auth directory: %w", err)
	}
	defer os.RemoveAll(authDir)
	authFile := filepath.Join(authDir, "auth.json")

	fmt.Fprintf(p.out, "🔐 Logging in to %s...\n", opts.Registry)
	loginArgs := []string{"login", "--authfile", authFile, "--username", opts.Username.Plaintext(), "--password-stdin"}
	if opts.Insecure {
		loginArgs = append(loginArgs, "--tls-verify=false")
	}
	loginArgs = append(loginArgs, opts.Registry)
	if _, err := p.runner.Output(ctx, strings.NewReader(opts.Password.Plaintext()), loginArgs...); err != nil {
		return "", fmt.Errorf("login to %s failed: %w", opts.Registry, err)
	}

	fmt.Fprintf(p.out, "📦 Pushing %s...\n", ref)
	digest, err := p.pushImageWithDigest(ctx, authDir, authFile, image.Ref, ref, opts.Insecure)
	if err != nil {
		return "", err
	}
	if digest == "" {
		return ref, nil
	}
	return ref + "@" + digest, nil
}

// pushImageWithDigest pushes the image and returns the digest
func (p *PublishStage) pushImageWithDigest(ctx context.Context, dir, authFile, image, destRef string, insecure bool) (string, error) {
	digestFile, err := os.CreateTemp(dir, config.DigestFileTempPattern)
	if err != nil {
		return "", fmt.Errorf("failed to create digest file: %w", err)
	}
	digestFile.Close()
	digestFilePath := digestFile.Name()

	args := []string{"push", "--authfile", authFile, "--digestfile", digestFilePath}
	if insecure {
		args = append(args, "--tls-verify=false")
	}
	args = append(args, image, destRef)

	if _, err := p.runner.Output(ctx, nil, args...); err != nil {
		return "", fmt.Errorf("push failed: %w", err)
	}

	digestBytes, err := os.ReadFile(digestFilePath)
	if err != nil {
		return "", fmt.Errorf("failed to read digest file: %w", err)
	}
	return strings.TrimSpace(string(digestBytes)), nil
}
