package cli

import (
	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate shell completion script for tubefetch.

Bash:
  # Add to ~/.bashrc:
  source <(tubefetch completion bash)

  # Or install to system:
  tubefetch completion bash > /etc/bash_completion.d/tubefetch

Zsh:
  # Add to ~/.zshrc:
  source <(tubefetch completion zsh)

  # Or install to fpath:
  tubefetch completion zsh > "${fpath[1]}/_tubefetch"

Fish:
  tubefetch completion fish > ~/.config/fish/completions/tubefetch.fish

PowerShell:
  tubefetch completion powershell >> $PROFILE
`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(out)
		case "zsh":
			return rootCmd.GenZshCompletion(out)
		case "fish":
			return rootCmd.GenFishCompletion(out, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletion(out)
		default:
			return cmd.Help()
		}
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}

// completeDirs restricts a flag value to directories.
func completeDirs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return nil, cobra.ShellCompDirectiveFilterDirs
}

// completeYAML restricts a flag value to YAML files.
func completeYAML(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return []string{"yml", "yaml"}, cobra.ShellCompDirectiveFilterFileExt
}
