// File: cmd/dragons/check.go
// Brief: CLI command wiring and implementation for 'check'.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/dragons/internal/toolchain"
	"github.com/example/dragons/internal/workspace"
)

func newCheckCommand(root *rootOptions) *cobra.Command {
	opts := &releaseOptions{}
	var build bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check the selected packages can be packaged and built from their archives",
		Long: `Run the metadata checks on every selected package, package them all, then compile each
unpacked archive in release order against the already verified archives of its dependencies.
A build that modifies the unpacked sources fails the check.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, root)
			if err != nil {
				return err
			}
			order, err := s.plan(cmd.Context(), opts)
			if err != nil || len(order) == 0 {
				return err
			}
			return s.check(cmd, order, build)
		},
	}
	opts.bind(cmd.Flags())
	cmd.Flags().BoolVar(&build, "build", false, "Build the packages instead of only checking them")
	return cmd
}

func (s *session) check(cmd *cobra.Command, order []*workspace.Package, build bool) error {
	mode := toolchain.ModeCheck
	if build {
		mode = toolchain.ModeBuild
	}
	p, err := s.pipeline()
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			s.log.Error(err, "removing scratch directory failed")
		}
	}()
	s.rep.Status("Checking", packageList(order))
	if _, err := p.CheckPackages(cmd.Context(), order, mode); err != nil {
		return err
	}
	s.rep.Status("Checked", fmt.Sprintf("%d packages", len(order)))
	return nil
}
