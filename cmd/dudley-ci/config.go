package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joshyorko/dudley-ci/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage dudley-ci configuration",
	Long:  `View and modify the tool images, defaults and source layout used by dudley-ci.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Display the effective configuration.

Configuration is loaded from (in order of priority):
  1. /usr/share/dudley-ci/config.yaml (system default)
  2. /etc/dudley-ci/config.yaml (system admin)
  3. ~/.config/dudley-ci/config.yaml (user)
  4. Environment variables (DUDLEYCI_*)
  5. Command-line flags`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Args:  cobra.NoArgs,
	RunE:  runConfigPath,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit configuration file in default editor",
	Long: `Open the user configuration file in $EDITOR.

The file is created with the default values when it does not exist yet.`,
	Args: cobra.NoArgs,
	RunE: runConfigEdit,
}

var configEditQuiet bool

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configEditCmd)

	configEditCmd.Flags().BoolVarP(&configEditQuiet, "quiet", "q", false, "Suppress output")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg := getConfig()
	out := cmd.OutOrStdout()

	if jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	fmt.Fprint(out, string(data))
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	path, err := config.UserConfigPath()
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), path)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(cmd.ErrOrStderr(), "(file does not exist)")
	}
	return nil
}

func runConfigEdit(cmd *cobra.Command, args []string) error {
	path, err := config.UserConfigPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.DefaultConfig().Save(path); err != nil {
			return err
		}
		if !configEditQuiet {
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s with default values\n", path)
		}
	}

	editor, err := findEditor()
	if err != nil {
		return fmt.Errorf("failed to find editor: %w\nSet EDITOR or VISUAL environment variable, or install nano, vim, or vi", err)
	}

	// EDITOR may carry arguments, e.g. "code --wait"
	parts := strings.Fields(editor)
	editorArgs := append(parts[1:], path)

	if !configEditQuiet {
		fmt.Fprintf(cmd.OutOrStdout(), "Opening %s with %s...\n", path, editor)
	}

	c := exec.CommandContext(cmd.Context(), parts[0], editorArgs...)
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	if err := c.Run(); err != nil {
		return fmt.Errorf("failed to run editor: %w", err)
	}
	return nil
}

// findEditor returns $EDITOR, then $VISUAL, then the first of nano, vim
// and vi found in PATH.
func findEditor() (string, error) {
	for _, env := range []string{"EDITOR", "VISUAL"} {
		if editor := strings.TrimSpace(os.Getenv(env)); editor != "" {
			if _, err := exec.LookPath(strings.Fields(editor)[0]); err == nil {
				return editor, nil
			}
		}
	}

	for _, editor := range []string{"nano", "vim", "vi"} {
		if path, err := exec.LookPath(editor); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no editor found")
}
