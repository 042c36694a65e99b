// File: cmd/dragons/unleash.go
// Brief: CLI command wiring and implementation for 'unleash'.

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/dragons/internal/errdefs"
	"github.com/example/dragons/internal/journal"
	"github.com/example/dragons/internal/publish"
	"github.com/example/dragons/internal/ui"
)

type unleashOptions struct {
	releaseOptions
	build   bool
	dryRun  bool
	noCheck bool
	owner   string
	token   string
	resume  bool
}

func newUnleashCommand(root *rootOptions) *cobra.Command {
	opts := &unleashOptions{}
	cmd := &cobra.Command{
		Use:   "unleash",
		Short: "Check and publish the selected packages in release order",
		Long: `Package and verify every selected package (unless --no-check), then publish them one by one,
dependencies first. Batches larger than publish.burst_threshold wait publish.delay between uploads.
Every attempt is recorded in .dragons/state.sqlite; --resume skips what an earlier run published.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, root)
			if err != nil {
				return err
			}
			return s.unleash(cmd, opts)
		},
	}
	f := cmd.Flags()
	opts.bind(f)
	f.BoolVar(&opts.build, "build", false, "Build the packages instead of only checking them")
	f.BoolVar(&opts.dryRun, "dry-run", false, "Run every step but ask the registry not to persist the upload")
	f.BoolVar(&opts.noCheck, "no-check", false, "Skip the verification step")
	f.StringVar(&opts.owner, "owner", "", "Add this owner to every published package")
	f.StringVar(&opts.token, "token", "", "Registry token (defaults to $DRAGONS_TOKEN, $CARGO_REGISTRY_TOKEN or the credentials file)")
	f.BoolVar(&opts.resume, "resume", false, "Skip packages an earlier run already published")
	cmd.Example = `  # Publish everything that changed since the last release, adding the release team as owner
  dragons unleash --changed-since v1.4.0 --owner github:acme:release

  # Continue a release that stopped half way
  dragons unleash --no-check --resume`
	return cmd
}

func (s *session) unleash(cmd *cobra.Command, opts *unleashOptions) error {
	ctx := cmd.Context()
	if opts.resume && !s.cfg.Publish.Journal {
		return errdefs.Configf("--resume needs the publish journal (publish.journal = true)")
	}
	order, err := s.plan(ctx, &opts.releaseOptions)
	if err != nil || len(order) == 0 {
		return err
	}
	if !opts.noCheck {
		if err := s.check(cmd, order, opts.build); err != nil {
			return err
		}
	}
	token, err := s.token(ctx, opts.token)
	if err != nil {
		if !opts.dryRun {
			return err
		}
		s.log.V(1).Info("dry run without registry token", "reason", err.Error())
	}

	var store *journal.Store
	if s.cfg.Publish.Journal {
		if store, err = s.openJournal(false); err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				s.log.Error(err, "closing publish journal failed")
			}
		}()
	}

	s.rep.Status("Releasing", packageList(order))
	var sleep func(context.Context, time.Duration) error
	if s.progress != nil {
		sleep = func(ctx context.Context, d time.Duration) error {
			stop := ui.StartCountdown(s.progress, "     Waiting", d)
			defer stop()
			return publish.Sleep(ctx, d)
		}
	}
	report, err := publish.Publish(ctx, order, publish.Options{
		Registry:       s.registry(),
		Packager:       s.packager(),
		Token:          token,
		DryRun:         opts.dryRun,
		Owner:          opts.owner,
		Delay:          s.cfg.Publish.Delay,
		BurstThreshold: s.cfg.Publish.BurstThreshold,
		Journal:        store,
		Resume:         opts.resume,
		Reporter:       s.rep,
		Log:            s.log,
		Sleep:          sleep,
	})
	if report != nil {
		fmt.Fprintln(s.out, report.Summary())
	}
	return err
}
