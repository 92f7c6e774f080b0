package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/joshyorko/dudley-ci/internal/config"
	"github.com/joshyorko/dudley-ci/internal/podman"
	"github.com/joshyorko/dudley-ci/internal/secret"
	"github.com/joshyorko/dudley-ci/internal/source"
)

var (
	cfgFile   string
	verbose   bool
	jsonOut   bool
	sourceDir string

	cfg *config.Config

	// censor scrubs every credential parsed from flags out of log output
	censor = secret.NewCensor()
)

var rootCmd = &cobra.Command{
	Use:   "dudley-ci",
	Short: "CI/CD pipeline for the Dudley's Second Bedroom bootc image",
	Long: `dudley-ci validates, builds, tests, publishes and converts a
bootc-compatible OS image (a Universal Blue / Bluefin-DX derivative).

Every step runs through Podman:
  - validate          shellcheck, package manifest and validation scripts
  - build             podman build of the Containerfile
  - test              assertions inside the built image
  - publish           push to a registry with per-call credentials
  - build-iso/qcow2   disk images with bootc-image-builder
  - ci-pipeline       validate → build → test → publish

Use --verbose to see the Podman commands being executed.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
		logrus.SetFormatter(censor.Formatter(&logrus.TextFormatter{DisableTimestamp: true}))

		// Completion must work without a readable config
		if cmd.Name() == "completion" || cmd.Name() == cobra.ShellCompRequestCmd {
			return nil
		}

		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func ExecuteWithContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default is ~/.config/dudley-ci/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"verbose output (shows the Podman commands being executed)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false,
		"output in JSON format")
	rootCmd.PersistentFlags().StringVarP(&sourceDir, "source", "s", ".",
		"image source tree")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(completionCmd)
}

func getConfig() *config.Config {
	if cfg == nil {
		return config.DefaultConfig()
	}
	return cfg
}

// newRunner returns the podman client used by every command.
// In verbose mode podman's own output is streamed to stderr.
func newRunner() *podman.Client {
	client := podman.NewClient(config.FindPodmanBinary(getConfig().Runtime.Podman))
	if verbose {
		client = client.WithProgress(os.Stderr)
	}
	return client
}

// openSource opens the --source tree
func openSource() (*source.Dir, error) {
	return source.Open(sourceDir)
}

// parseSecret parses a credential flag and registers it with the censor
func parseSecret(flag, value string) (*secret.Secret, error) {
	s, err := secret.Parse(value)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", flag, err)
	}
	censor.Add(s)
	return s, nil
}

// progressOut is where commands write progress lines
func progressOut(cmd *cobra.Command) io.Writer {
	if jsonOut {
		return cmd.ErrOrStderr()
	}
	return cmd.OutOrStdout()
}
