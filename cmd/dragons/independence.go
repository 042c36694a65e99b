// File: cmd/dragons/independence.go
// Brief: CLI command wiring and implementation for 'independence-check'.

package main

import (
	"github.com/spf13/cobra"

	"github.com/example/dragons/internal/independence"
	"github.com/example/dragons/internal/selector"
	"github.com/example/dragons/internal/toolchain"
)

func newIndependenceCheckCommand(root *rootOptions) *cobra.Command {
	opts := &selectOptions{}
	var (
		modes        []string
		ctxName      string
		failFast     bool
		jobs         int
		sharedTarget bool
	)
	cmd := &cobra.Command{
		Use:   "independence-check",
		Short: "Compile every selected package once per optional feature subset",
		Long: `Compile each selected package outside the joint feature resolution of the workspace: once
for every subset of its optional features and every --mode. Without --failfast every failing
combination is reported.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed := make([]toolchain.Mode, 0, len(modes))
			for _, m := range modes {
				mode, err := toolchain.ParseMode(m)
				if err != nil {
					return err
				}
				parsed = append(parsed, mode)
			}
			compileCtx, err := toolchain.ParseContext(ctxName)
			if err != nil {
				return err
			}
			s, err := newSession(cmd, root)
			if err != nil {
				return err
			}
			pred, err := opts.predicate(cmd.Context(), s)
			if err != nil {
				return err
			}
			pkgs := selector.Filter(s.ws.Deep(), pred)
			if len(pkgs) == 0 {
				s.rep.Status("Done", "no packages selected, nothing to do")
				return nil
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
			if !cmd.Flags().Changed("jobs") {
				jobs = s.cfg.Independence.Jobs
			}
			if !cmd.Flags().Changed("shared-target") {
				sharedTarget = s.cfg.Independence.SharedTarget
			}
			report, err := independence.Run(cmd.Context(), pkgs, independence.Options{
				Pipeline:     p,
				Context:      compileCtx,
				Modes:        parsed,
				Jobs:         jobs,
				SharedTarget: sharedTarget,
				MaxFeatures:  s.cfg.Independence.MaxFeatures,
				FailFast:     failFast,
				Reporter:     s.rep,
				Log:          s.log,
			})
			if report != nil {
				independence.PrintSummary(s.out, report)
			}
			return err
		},
	}
	opts.bind(cmd.Flags())
	f := cmd.Flags()
	f.StringSliceVar(&modes, "mode", []string{string(toolchain.ModeTest)}, "Compile modes to run (test, build, check)")
	f.StringVar(&ctxName, "ctx", string(toolchain.InPlace), "Where to compile: inplace or ephemeral")
	f.BoolVar(&failFast, "failfast", false, "Stop at the first failing combination")
	f.IntVarP(&jobs, "jobs", "j", 0, "Parallel compiles (defaults to independence.jobs)")
	f.BoolVar(&sharedTarget, "shared-target", false, "Share one build output directory and compile one combination at a time")
	return cmd
}
