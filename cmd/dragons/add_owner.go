// File: cmd/dragons/add_owner.go
// Brief: CLI command wiring and implementation for 'add-owner'.

package main

import (
	"github.com/spf13/cobra"

	"github.com/example/dragons/internal/publish"
	"github.com/example/dragons/internal/selector"
)

func newAddOwnerCommand(root *rootOptions) *cobra.Command {
	opts := &selectOptions{}
	var token string
	cmd := &cobra.Command{
		Use:   "add-owner OWNER",
		Short: "Invite an owner to every selected workspace member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, root)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pred, err := opts.predicate(ctx, s)
			if err != nil {
				return err
			}
			pkgs := selector.Filter(s.ws.Members(), pred)
			if len(pkgs) == 0 {
				s.rep.Status("Done", "no packages selected, nothing to do")
				return nil
			}
			tok, err := s.token(ctx, token)
			if err != nil {
				return err
			}
			return publish.AddOwners(ctx, pkgs, s.registry(), args[0], tok, s.rep)
		},
	}
	opts.bind(cmd.Flags())
	cmd.Flags().StringVar(&token, "token", "", "Registry token (defaults to $DRAGONS_TOKEN, $CARGO_REGISTRY_TOKEN or the credentials file)")
	return cmd
}
