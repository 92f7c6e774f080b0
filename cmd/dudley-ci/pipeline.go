package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshyorko/dudley-ci/internal/ci"
)

var (
	pipelineRepository   string
	pipelineRegistry     string
	pipelineTag          string
	pipelineGitCommit    string
	pipelineUsername     string
	pipelinePassword     string
	pipelineRunTests     bool
	pipelinePublishImage bool
	pipelineInsecure     bool
)

var ciPipelineCmd = &cobra.Command{
	Use:     "ci-pipeline",
	Aliases: []string{"pipeline"},
	Short:   "Run validate, build, test and publish in order",
	Long: `Run the complete pipeline against the source tree.

Stages run strictly in order and the first failure stops the run:
  1. validate
  2. build    (image name is the last segment of --repository)
  3. test     (unless --run-tests=false)
  4. publish  (with --publish-image; skipped when credentials are missing)

The final report lists every completed stage.`,
	Example: `  dudley-ci ci-pipeline --repository joshyorko/dudleys-second-bedroom
  dudley-ci ci-pipeline --repository joshyorko/dudleys-second-bedroom \
    --publish-image --username env:GITHUB_ACTOR --password env:GITHUB_TOKEN`,
	Args: cobra.NoArgs,
	RunE: runCIPipeline,
}

func init() {
	flags := ciPipelineCmd.Flags()
	flags.StringVar(&pipelineRepository, "repository", "", "repository path, e.g. owner/name")
	flags.StringVar(&pipelineRegistry, "registry", "", "registry to publish to (default from config)")
	flags.StringVarP(&pipelineTag, "tag", "t", "", "image tag (default from config)")
	flags.StringVar(&pipelineGitCommit, "git-commit", "", "short commit recorded in the image (default is HEAD of the source tree)")
	flags.StringVarP(&pipelineUsername, "username", "u", "", "registry username")
	flags.StringVarP(&pipelinePassword, "password", "p", "", "registry password or token")
	flags.BoolVar(&pipelineRunTests, "run-tests", true, "run the image assertions after building")
	flags.BoolVar(&pipelinePublishImage, "publish-image", false, "publish the image after testing")
	flags.BoolVar(&pipelineInsecure, "insecure", false, "skip TLS verification when publishing")

	rootCmd.AddCommand(ciPipelineCmd)
}

func runCIPipeline(cmd *cobra.Command, args []string) error {
	username, err := parseSecret("username", pipelineUsername)
	if err != nil {
		return err
	}
	password, err := parseSecret("password", pipelinePassword)
	if err != nil {
		return err
	}

	src, err := openSource()
	if err != nil {
		return err
	}

	opts := ci.PipelineOptions{
		Repository:   pipelineRepository,
		Registry:     pipelineRegistry,
		Tag:          pipelineTag,
		GitCommit:    pipelineGitCommit,
		Username:     username,
		Password:     password,
		RunTests:     pipelineRunTests,
		PublishImage: pipelinePublishImage,
		Insecure:     pipelineInsecure,
	}

	report, err := ci.NewPipeline(getConfig(), newRunner(), progressOut(cmd)).Run(cmd.Context(), src, opts)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(cmd.OutOrStdout(), map[string]string{"report": report})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n", report)
	return nil
}
