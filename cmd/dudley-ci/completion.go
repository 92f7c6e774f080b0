package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

const completionDescription = `Generate shell autocompletions for dudley-ci.

Valid arguments are bash, zsh, fish, and powershell.

Bash:
  $ source <(dudley-ci completion bash)
  $ dudley-ci completion bash > /etc/bash_completion.d/dudley-ci

Zsh:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc
  $ dudley-ci completion zsh > "${fpath[1]}/_dudley-ci"

fish:
  $ dudley-ci completion fish > ~/.config/fish/completions/dudley-ci.fish

PowerShell:
  PS> dudley-ci completion powershell | Out-String | Invoke-Expression`

var (
	completionFile   string
	completionNoDesc bool
	completionShells = []string{"bash", "zsh", "fish", "powershell"}
	completionCmd    = &cobra.Command{
		Use:       fmt.Sprintf("completion [options] {%s}", strings.Join(completionShells, "|")),
		Short:     "Generate shell autocompletions",
		Long:      completionDescription,
		ValidArgs: completionShells,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE:      completionRun,
		Example: `  dudley-ci completion bash
  dudley-ci completion zsh -f _dudley-ci
  dudley-ci completion fish --no-desc`,
	}
)

func init() {
	flags := completionCmd.Flags()
	flags.StringVarP(&completionFile, "file", "f", "",
		"Output the completion to file rather than stdout")
	flags.BoolVar(&completionNoDesc, "no-desc", false,
		"Don't include descriptions in the completion output")
}

func completionRun(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	if completionFile != "" {
		f, err := os.Create(completionFile)
		if err != nil {
			return fmt.Errorf("failed to create file %s: %w", completionFile, err)
		}
		defer f.Close()
		w = f
	}

	shell := args[0]
	if err := generateCompletion(cmd.Root(), shell, w, !completionNoDesc); err != nil {
		return fmt.Errorf("failed to generate %s completion: %w", shell, err)
	}

	if completionFile != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Completion script written to %s\n", completionFile)
	}
	return nil
}

func generateCompletion(root *cobra.Command, shell string, w io.Writer, desc bool) error {
	switch shell {
	case "bash":
		return root.GenBashCompletionV2(w, desc)
	case "zsh":
		if !desc {
			return root.GenZshCompletionNoDesc(w)
		}
		return root.GenZshCompletion(w)
	case "fish":
		return root.GenFishCompletion(w, desc)
	case "powershell":
		if !desc {
			return root.GenPowerShellCompletion(w)
		}
		return root.GenPowerShellCompletionWithDesc(w)
	default:
		return fmt.Errorf("unsupported shell: %s", shell)
	}
}
