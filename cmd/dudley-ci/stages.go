package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshyorko/dudley-ci/internal/ci"
	"github.com/joshyorko/dudley-ci/internal/engine"
	"github.com/joshyorko/dudley-ci/internal/source"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run shellcheck, the package manifest check and the validation scripts",
	Long: `Run the pre-build checks in a disposable validator container.

The source tree is mounted with an overlay so checks cannot modify it.
Checks run in order and stop at the first failure:
  1. shellcheck on every build script
  2. jq on the package manifest
  3. each validation script under bash`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

var (
	buildImageName string
	buildTag       string
	buildBaseImage string
	buildGitCommit string
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the OS image from the Containerfile",
	Long: `Build the OS image with podman build.

The image is tagged localhost/<image-name>:<tag> and receives the build
arguments IMAGE_NAME and SHA_HEAD_SHORT. When --git-commit is not given
the short HEAD commit of the source tree is used.`,
	Example: `  dudley-ci build
  dudley-ci build --image-name my-os --tag testing
  dudley-ci build -s ~/src/my-os --git-commit abc1234`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

var checkContainerfileCmd = &cobra.Command{
	Use:   "check-containerfile",
	Short: "Print the Containerfile of the source tree",
	Args:  cobra.NoArgs,
	RunE:  runCheckContainerfile,
}

var testCmd = &cobra.Command{
	Use:   "test [IMAGE]",
	Short: "Run the image assertions against a built image",
	Long: `Run the built-image assertions inside a container of IMAGE.

IMAGE defaults to localhost/<default image name>:<default tag>.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTest,
}

var (
	publishRegistry   string
	publishRepository string
	publishTag        string
	publishUsername   string
	publishPassword   string
	publishInsecure   bool
)

var publishCmd = &cobra.Command{
	Use:   "publish [IMAGE]",
	Short: "Push a built image to a registry",
	Long: `Push IMAGE to <registry>/<repository>:<tag>.

Credentials are used for this push only and never touch the user's
podman auth file. --username and --password accept:
  env:NAME   read the value from environment variable NAME
  file:PATH  read the value from a file
  VALUE      use the literal value`,
	Example: `  dudley-ci publish --repository joshyorko/dudleys-second-bedroom \
    --username env:REGISTRY_USER --password env:REGISTRY_TOKEN`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPublish,
}

var (
	diskImage  string
	diskConfig string
)

var buildISOCmd = &cobra.Command{
	Use:   "build-iso",
	Short: "Build an installer ISO with bootc-image-builder",
	Long: `Convert an image into an installer ISO.

The config file is looked up by name in the disk config directory of the
source tree. bootc-image-builder needs a rootful podman.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDisk(cmd, ci.DiskTypeISO)
	},
}

var buildQCOW2Cmd = &cobra.Command{
	Use:   "build-qcow2",
	Short: "Build a QCOW2 disk image with bootc-image-builder",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDisk(cmd, ci.DiskTypeQCOW2)
	},
}

var diskTypeFlag string

var buildDiskCmd = &cobra.Command{
	Use:   "build-disk",
	Short: "Build a disk image of any bootc-image-builder type",
	Long: `Convert an image into a disk image of the given --type
(iso, qcow2, raw or vmdk) using a config from the disk config directory.`,
	Example: `  dudley-ci build-disk --type raw --config-file disk.toml`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDisk(cmd, diskTypeFlag)
	},
}

var lintContainerfileCmd = &cobra.Command{
	Use:   "lint-containerfile",
	Short: "Lint the Containerfile with hadolint",
	Args:  cobra.NoArgs,
	RunE:  runLint,
}

func init() {
	buildCmd.Flags().StringVar(&buildImageName, "image-name", "", "image name (default from config)")
	buildCmd.Flags().StringVarP(&buildTag, "tag", "t", "", "image tag (default from config)")
	buildCmd.Flags().StringVar(&buildBaseImage, "base-image", "", "base image checked for registry login")
	buildCmd.Flags().StringVar(&buildGitCommit, "git-commit", "", "short commit recorded in the image")

	publishCmd.Flags().StringVar(&publishRegistry, "registry", "", "registry host (default from config)")
	publishCmd.Flags().StringVar(&publishRepository, "repository", "", "repository path, e.g. owner/name")
	publishCmd.Flags().StringVarP(&publishTag, "tag", "t", "", "tag to publish (default from config)")
	publishCmd.Flags().StringVarP(&publishUsername, "username", "u", "", "registry username")
	publishCmd.Flags().StringVarP(&publishPassword, "password", "p", "", "registry password or token")
	publishCmd.Flags().BoolVar(&publishInsecure, "insecure", false, "skip TLS verification")
	markFlagsRequired(publishCmd, "repository", "username", "password")

	for _, c := range []*cobra.Command{buildISOCmd, buildQCOW2Cmd, buildDiskCmd} {
		c.Flags().StringVar(&diskImage, "image", "", "image to convert (default is the local build)")
		c.Flags().StringVar(&diskConfig, "config-file", "", "builder config in the disk config directory")
	}
	buildDiskCmd.Flags().StringVar(&diskTypeFlag, "type", "", "disk type: iso, qcow2, raw or vmdk")
	markFlagsRequired(buildDiskCmd, "type", "config-file")

	rootCmd.AddCommand(validateCmd, buildCmd, checkContainerfileCmd, testCmd,
		publishCmd, buildISOCmd, buildQCOW2Cmd, buildDiskCmd, lintContainerfileCmd)
}

// markFlagsRequired panics when a flag is not defined on cmd
func markFlagsRequired(cmd *cobra.Command, names ...string) {
	for _, name := range names {
		if err := cmd.MarkFlagRequired(name); err != nil {
			panic(fmt.Sprintf("%s: %v", cmd.Name(), err))
		}
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	src, err := openSource()
	if err != nil {
		return err
	}
	return ci.NewValidateStage(getConfig(), newRunner(), progressOut(cmd)).Execute(cmd.Context(), src)
}

func runBuild(cmd *cobra.Command, args []string) error {
	src, err := openSource()
	if err != nil {
		return err
	}

	opts := ci.BuildOptions{
		ImageName: buildImageName,
		Tag:       buildTag,
		BaseImage: buildBaseImage,
		GitCommit: detectCommit(src, buildGitCommit),
	}
	image, err := ci.NewBuildStage(getConfig(), newRunner(), progressOut(cmd)).Execute(cmd.Context(), src, opts)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(cmd.OutOrStdout(), image)
	}
	fmt.Fprintln(cmd.OutOrStdout(), image.Ref)
	return nil
}

// detectCommit returns explicit, or the short HEAD commit of src.
// An empty result lets the build fall back to the configured default.
func detectCommit(src *source.Dir, explicit string) string {
	if explicit != "" {
		return explicit
	}
	commit, _ := src.ShortCommit()
	return commit
}

func runCheckContainerfile(cmd *cobra.Command, args []string) error {
	src, err := openSource()
	if err != nil {
		return err
	}
	content, err := ci.CheckContainerfile(src, getConfig().Layout.Containerfile)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), content)
	return nil
}

// imageArg returns the image named on the command line, or the default local build
func imageArg(args []string) *engine.Image {
	if len(args) > 0 {
		return &engine.Image{Ref: args[0]}
	}
	cfg := getConfig()
	return &engine.Image{Ref: ci.LocalImageRef(cfg.Defaults.ImageName, cfg.Defaults.Tag)}
}

func runTest(cmd *cobra.Command, args []string) error {
	report, err := ci.NewTestStage(getConfig(), newRunner(), cmd.ErrOrStderr()).Execute(cmd.Context(), imageArg(args))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), report)
	return nil
}

func runPublish(cmd *cobra.Command, args []string) error {
	username, err := parseSecret("username", publishUsername)
	if err != nil {
		return err
	}
	password, err := parseSecret("password", publishPassword)
	if err != nil {
		return err
	}

	opts := ci.PublishOptions{
		Registry:   publishRegistry,
		Repository: publishRepository,
		Tag:        publishTag,
		Username:   username,
		Password:   password,
		Insecure:   publishInsecure,
	}
	ref, err := ci.NewPublishStage(getConfig(), newRunner(), progressOut(cmd)).Execute(cmd.Context(), imageArg(args), opts)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(cmd.OutOrStdout(), map[string]string{"published": ref})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ Published to: %s\n", ref)
	return nil
}

func runDisk(cmd *cobra.Command, diskType string) error {
	src, err := openSource()
	if err != nil {
		return err
	}

	imageRef := diskImage
	if imageRef == "" {
		imageRef = imageArg(nil).Ref
	}

	stage := ci.NewDiskStage(getConfig(), newRunner(), progressOut(cmd))
	var artifact string
	switch diskType {
	case ci.DiskTypeISO:
		artifact, err = stage.BuildISO(cmd.Context(), src, imageRef, diskConfig)
	case ci.DiskTypeQCOW2:
		artifact, err = stage.BuildQCOW2(cmd.Context(), src, imageRef, diskConfig)
	default:
		artifact, err = stage.Execute(cmd.Context(), src, ci.DiskOptions{
			Type:       diskType,
			ImageRef:   imageRef,
			ConfigFile: diskConfig,
		})
	}
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(cmd.OutOrStdout(), map[string]string{"type": diskType, "path": artifact})
	}
	fmt.Fprintln(cmd.OutOrStdout(), artifact)
	return nil
}

func runLint(cmd *cobra.Command, args []string) error {
	src, err := openSource()
	if err != nil {
		return err
	}
	output, err := ci.NewLintStage(getConfig(), newRunner(), cmd.ErrOrStderr()).Execute(cmd.Context(), src)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), output)
	return nil
}
