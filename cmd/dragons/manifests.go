// File: cmd/dragons/manifests.go
// Brief: CLI wiring for the manifest transactions 'rename', 'unify-deps', 'set' and 'de-dev-deps'.

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/dragons/internal/ops"
)

func reportChanged(s *session, dryRun bool, changed []string) {
	verb := "Updated"
	if dryRun {
		verb = "Would update"
	}
	s.rep.Status(verb, fmt.Sprintf("%d manifests", len(changed)))
}

func newRenameCommand(root *rootOptions) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "rename OLD NEW | rename OLD=NEW...",
		Short: "Rename packages and keep every dependent pointing at them",
		Long: `Change the package name and add a package = "<new>" entry to every path dependency on it,
so dependents keep their existing key.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pairs := args
			if len(args) == 2 && !strings.Contains(args[0], "=") && !strings.Contains(args[1], "=") {
				pairs = []string{args[0] + "=" + args[1]}
			}
			renames, err := ops.ParseRenames(pairs)
			if err != nil {
				return err
			}
			s, err := newSession(cmd, root)
			if err != nil {
				return err
			}
			changed, err := ops.Rename(s.ws, renames, s.ops(dryRun))
			if err != nil {
				return err
			}
			reportChanged(s, dryRun, changed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the manifest changes as a diff instead of writing them")
	return cmd
}

func newUnifyDepsCommand(root *rootOptions) *cobra.Command {
	opts := &selectOptions{}
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "unify-deps",
		Short: "Point dependencies pinned in [workspace.dependencies] at the workspace pin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, root)
			if err != nil {
				return err
			}
			pred, err := opts.predicate(cmd.Context(), s)
			if err != nil {
				return err
			}
			changed, err := ops.UnifyDependencies(s.ws, pred, s.ops(dryRun))
			if err != nil {
				return err
			}
			reportChanged(s, dryRun, changed)
			return nil
		},
	}
	opts.bind(cmd.Flags())
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the manifest changes as a diff instead of writing them")
	return cmd
}

func newSetCommand(root *rootOptions) *cobra.Command {
	opts := &selectOptions{}
	var dryRun bool
	var table string
	cmd := &cobra.Command{
		Use:   "set NAME VALUE",
		Short: "Set a field in the manifests of the selected members",
		Long: `Set NAME = VALUE in the --root-key table of every selected member, adding it when missing.
true, false and integers keep their type; anything else is written as a string.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, root)
			if err != nil {
				return err
			}
			pred, err := opts.predicate(cmd.Context(), s)
			if err != nil {
				return err
			}
			changed, err := ops.SetField(s.ws, pred, table, args[0], args[1], s.ops(dryRun))
			if err != nil {
				return err
			}
			reportChanged(s, dryRun, changed)
			return nil
		},
	}
	opts.bind(cmd.Flags())
	cmd.Flags().StringVarP(&table, "root-key", "r", "package", "Table to set the field in")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the manifest changes as a diff instead of writing them")
	return cmd
}

func newDeDevDepsCommand(root *rootOptions) *cobra.Command {
	opts := &selectOptions{}
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "de-dev-deps",
		Short: "Remove the dev-dependencies of the selected packages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, root)
			if err != nil {
				return err
			}
			pred, err := opts.predicate(cmd.Context(), s)
			if err != nil {
				return err
			}
			changed, err := ops.DeactivateDevDependencies(s.ws, pred, s.ops(dryRun))
			if err != nil {
				return err
			}
			reportChanged(s, dryRun, changed)
			return nil
		},
	}
	opts.bind(cmd.Flags())
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the manifest changes as a diff instead of writing them")
	return cmd
}
