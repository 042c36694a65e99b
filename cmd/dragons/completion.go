// File: cmd/dragons/completion.go
// Brief: Shell completion scripts and package-name completion for selection flags.

package main

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/example/dragons/internal/workspace"
)

var completionShells = []string{"bash", "zsh", "fish", "powershell"}

func newCompletionCommand(root *cobra.Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "completion [" + strings.Join(completionShells, "|") + "]",
		Short:     "Generate shell completion scripts",
		Long:      "Generate a completion script for your shell. Selection flags such as --packages complete to workspace package names.",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: completionShells,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return root.GenBashCompletionV2(out, true)
			case "zsh":
				return root.GenZshCompletion(out)
			case "fish":
				return root.GenFishCompletion(out, true)
			default:
				return root.GenPowerShellCompletionWithDesc(out)
			}
		},
	}
	cmd.Example = `  # Enable bash completion for the current session
  source <(dragons completion bash)

  # Persist zsh completions
  dragons completion zsh > ~/.oh-my-zsh/completions/_dragons`
	return cmd
}

// registerPackageCompletion completes the selection flags of every command
// in the tree with the names of the workspace packages.
func registerPackageCompletion(root *cobra.Command, opts *rootOptions) {
	complete := func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		names, err := packageNames(opts.manifestPath, toComplete)
		if err != nil {
			cobra.CompDebugln(err.Error(), true)
			return nil, cobra.ShellCompDirectiveError
		}
		return names, cobra.ShellCompDirectiveNoFileComp
	}
	var walk func(*cobra.Command)
	walk = func(c *cobra.Command) {
		for _, name := range []string{"packages", "skip"} {
			if c.Flags().Lookup(name) != nil {
				_ = c.RegisterFlagCompletionFunc(name, complete)
			}
		}
		for _, sub := range c.Commands() {
			walk(sub)
		}
	}
	walk(root)
}

// packageNames lists the anchored names of the workspace packages starting with prefix.
func packageNames(manifestPath, prefix string) ([]string, error) {
	ws, err := workspace.Load(manifestPath)
	if err != nil {
		return nil, errors.Wrap(err, "load workspace for completion")
	}
	prefix = strings.TrimPrefix(prefix, "^")
	var names []string
	for _, p := range ws.Deep() {
		if strings.HasPrefix(p.Name, prefix) {
			names = append(names, "^"+p.Name+"$")
		}
	}
	return names, nil
}
