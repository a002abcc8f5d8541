package commands

import (
	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion bash|zsh|fish|powershell",
	Short: "Generate shell completion script",
	Long: `Print a completion script for shadowfs to stdout.

Examples:
  # Bash, system wide
  shadowfs completion bash > /etc/bash_completion.d/shadowfs

  # Zsh, into the first directory of $fpath (needs compinit)
  shadowfs completion zsh > "${fpath[1]}/_shadowfs"

  # Fish
  shadowfs completion fish > ~/.config/fish/completions/shadowfs.fish

  # PowerShell, current session
  shadowfs completion powershell | Out-String | Invoke-Expression`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, w := cmd.Root(), cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return root.GenBashCompletionV2(w, true)
		case "zsh":
			return root.GenZshCompletion(w)
		case "fish":
			return root.GenFishCompletion(w, true)
		default:
			return root.GenPowerShellCompletionWithDesc(w)
		}
	},
}
