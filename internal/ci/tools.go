// Package ci implements the stages of the OS image pipeline: validate,
// build, test, publish, disk image conversion and Containerfile linting.
package ci

import "github.com/joshyorko/dudley-ci/internal/config"

// ContainerizedTool represents a CI tool that runs as a container
type ContainerizedTool struct {
	Name       string
	Image      string
	Privileged bool
}

// Tool names
const (
	ToolValidator         = "validator"
	ToolHadolint          = "hadolint"
	ToolBootcImageBuilder = "bootc-image-builder"
)

// Tools returns the containerized tools with the images configured in cfg
func Tools(cfg *config.Config) map[string]ContainerizedTool {
	return map[string]ContainerizedTool{
		ToolValidator: {
			Name:  ToolValidator,
			Image: cfg.Images.Validator,
		},
		ToolHadolint: {
			Name:  ToolHadolint,
			Image: cfg.Images.Hadolint,
		},
		ToolBootcImageBuilder: {
			Name:       ToolBootcImageBuilder,
			Image:      cfg.Images.BootcImageBuilder,
			Privileged: true,
		},
	}
}

// Pipeline stage names
const (
	StageValidate = "validate"
	StageBuild    = "build"
	StageTest     = "test"
	StagePublish  = "publish"
)

// StageOrder defines the canonical order of pipeline stages
var StageOrder = []string{StageValidate, StageBuild, StageTest, StagePublish}

// stagePosition returns the 1-based position of name in StageOrder, or 0
func stagePosition(name string) int {
	for i, s := range StageOrder {
		if s == name {
			return i + 1
		}
	}
	return 0
}
