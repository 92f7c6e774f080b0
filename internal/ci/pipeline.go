package ci

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joshyorko/dudley-ci/internal/config"
	"github.com/joshyorko/dudley-ci/internal/format"
	"github.com/joshyorko/dudley-ci/internal/podman"
	"github.com/joshyorko/dudley-ci/internal/secret"
	"github.com/joshyorko/dudley-ci/internal/source"
)

// Report lines
const (
	ReportValidationPassed = "✅ Validation passed"
	ReportPublishSkipped   = "⚠️  Skipping publish: username and password required"
)

// PipelineOptions configures one pipeline run
type PipelineOptions struct {
	// Repository is the registry path the image is published under
	// (e.g. joshyorko/dudleys-second-bedroom); its last segment names the image
	Repository string
	Registry   string
	Tag        string
	// GitCommit overrides commit detection
	GitCommit    string
	Username     *secret.Secret
	Password     *secret.Secret
	RunTests     bool
	PublishImage bool
	// Insecure disables TLS verification when publishing
	Insecure bool
}

// ImageName returns the image name for a repository: its last path
// segment, or the configured default when the repository is empty
func ImageName(cfg *config.Config, repository string) string {
	repository = strings.Trim(repository, "/")
	if repository == "" {
		return cfg.Defaults.ImageName
	}
	return path.Base(repository)
}

// Pipeline runs validate, build, test and publish in order
type Pipeline struct {
	cfg    *config.Config
	runner podman.Runner
	out    io.Writer
}

// NewPipeline creates a pipeline. Stage progress is written to out.
func NewPipeline(cfg *config.Config, runner podman.Runner, out io.Writer) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		runner: runner,
		out:    progressWriter(out),
	}
}

// Run executes the pipeline against src and returns the report: one line
// per completed stage. The first failing stage stops the run.
func (p *Pipeline) Run(ctx context.Context, src *source.Dir, opts PipelineOptions) (string, error) {
	var report []string

	commit := p.gitCommit(src, opts.GitCommit)
	imageName := ImageName(p.cfg, opts.Repository)
	logrus.Debugf("Pipeline: image %s, commit %s, tests %v, publish %v", imageName, commit, opts.RunTests, opts.PublishImage)

	done := p.stage(StageValidate)
	if err := NewValidateStage(p.cfg, p.runner, p.out).Execute(ctx, src); err != nil {
		return "", fmt.Errorf("validate: %w", err)
	}
	done()
	report = append(report, ReportValidationPassed)

	done = p.stage(StageBuild)
	image, err := NewBuildStage(p.cfg, p.runner, p.out).Execute(ctx, src, BuildOptions{
		ImageName: imageName,
		Tag:       opts.Tag,
		GitCommit: commit,
	})
	if err != nil {
		return "", fmt.Errorf("build: %w", err)
	}
	done()
	report = append(report, fmt.Sprintf("✅ Build completed: %s (commit: %s)", image.Ref, commit))

	if opts.RunTests {
		done = p.stage(StageTest)
		result, err := NewTestStage(p.cfg, p.runner, p.out).Execute(ctx, image)
		if err != nil {
			return "", fmt.Errorf("test: %w", err)
		}
		done()
		report = append(report, result)
	}

	if opts.PublishImage {
		if !opts.Username.Present() || !opts.Password.Present() {
			fmt.Fprintln(p.out, ReportPublishSkipped)
			report = append(report, ReportPublishSkipped)
		} else {
			done = p.stage(StagePublish)
			repository := opts.Repository
			if repository == "" {
				repository = imageName
			}
			ref, err := NewPublishStage(p.cfg, p.runner, p.out).Execute(ctx, image, PublishOptions{
				Registry:   opts.Registry,
				Repository: repository,
				Tag:        opts.Tag,
				Username:   opts.Username,
				Password:   opts.Password,
				Insecure:   opts.Insecure,
			})
			if err != nil {
				return "", fmt.Errorf("publish: %w", err)
			}
			done()
			report = append(report, "✅ Published to: "+ref)
		}
	}

	return strings.Join(report, "\n"), nil
}

// gitCommit returns the explicit commit, the commit detected in src, or the default
func (p *Pipeline) gitCommit(src *source.Dir, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if commit, ok := src.ShortCommit(); ok {
		return commit
	}
	return p.cfg.Defaults.GitCommit
}

// stage prints the stage header. The returned func reports the elapsed time.
func (p *Pipeline) stage(name string) func() {
	fmt.Fprintln(p.out, config.StageSeparator)
	fmt.Fprintf(p.out, "▶ Stage: %s (%d/%d)\n", name, stagePosition(name), len(StageOrder))
	fmt.Fprintln(p.out, config.StageSeparator)
	start := time.Now()
	return func() {
		fmt.Fprintf(p.out, "⏱  %s finished in %s\n", name, format.Duration(time.Since(start)))
	}
}
