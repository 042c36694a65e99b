// File: cmd/dragons/to_release.go
// Brief: CLI command wiring and implementation for 'to-release'.

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/dragons/internal/errdefs"
	"github.com/example/dragons/internal/graph"
)

func newToReleaseCommand(root *rootOptions) *cobra.Command {
	opts := &releaseOptions{}
	var output string
	cmd := &cobra.Command{
		Use:   "to-release",
		Short: "Print the packages to release, dependencies first",
		Long: `Compute the selected packages and the order in which they have to be released.
Dependency cycles abort the command and name every package on the cycle.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format := strings.ToLower(strings.TrimSpace(output))
			switch format {
			case "", "text", "json", "yaml":
			default:
				return errdefs.Configf("unknown output format %q (expected text, json or yaml)", output)
			}
			s, err := newSession(cmd, root)
			if err != nil {
				return err
			}
			order, err := s.plan(cmd.Context(), opts)
			if err != nil || len(order) == 0 {
				return err
			}
			if format == "" || format == "text" {
				fmt.Fprintln(s.out, packageList(order))
				return nil
			}
			g, err := graph.New(s.ws, graph.Options{SkipDev: !opts.includeDev})
			if err != nil {
				return err
			}
			d := g.Describe(order, nil)
			if format == "json" {
				return graph.WriteJSON(s.out, d)
			}
			return graph.WriteYAML(s.out, d)
		},
	}
	opts.bind(cmd.Flags())
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format (text, json, yaml)")
	cmd.Example = `  # Everything that changed since the last release tag
  dragons to-release --changed-since v1.4.0

  # Write the release graph for graphviz
  dragons to-release --dot-graph release.dot`
	return cmd
}
