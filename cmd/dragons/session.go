// File: cmd/dragons/session.go
// Brief: Per-invocation state shared by every command.

package main

import (
	"context"
	"io"
	"strings"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/example/dragons/internal/config"
	"github.com/example/dragons/internal/errdefs"
	"github.com/example/dragons/internal/fingerprint"
	"github.com/example/dragons/internal/graph"
	"github.com/example/dragons/internal/journal"
	"github.com/example/dragons/internal/logging"
	"github.com/example/dragons/internal/mutate"
	"github.com/example/dragons/internal/ops"
	"github.com/example/dragons/internal/registry"
	"github.com/example/dragons/internal/selector"
	"github.com/example/dragons/internal/toolchain"
	"github.com/example/dragons/internal/ui"
	"github.com/example/dragons/internal/verify"
	"github.com/example/dragons/internal/workspace"
)

// session is the workspace, configuration and output of one invocation.
type session struct {
	cfg *config.Config
	ws  *workspace.Workspace
	log logr.Logger
	rep ui.Reporter
	out io.Writer

	// progress receives transient terminal output; nil when stderr is not a terminal.
	progress io.Writer
}

func newSession(cmd *cobra.Command, root *rootOptions) (*session, error) {
	level := root.logLevel
	switch {
	case root.verbose > 1:
		level = "trace"
	case root.verbose == 1 && (level == "" || strings.EqualFold(level, "info")):
		level = "debug"
	}
	log, err := logging.NewWithWriter(level, cmd.ErrOrStderr())
	if err != nil {
		return nil, &errdefs.ConfigError{Msg: "invalid --log-level", Err: err}
	}
	ws, err := workspace.Load(root.manifestPath)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(ws.Root, root.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Resolve(ws.Root); err != nil {
		return nil, err
	}
	log.V(1).Info("workspace loaded", "root", ws.Root, "members", len(ws.Members()), "packages", len(ws.Deep()), "config", cfg.Path)
	s := &session{
		cfg: cfg,
		ws:  ws,
		log: log,
		rep: ui.NewShell(cmd.ErrOrStderr(), ui.ShellOptions{Color: root.color, Quiet: root.quiet}),
		out: cmd.OutOrStdout(),
	}
	if !root.quiet && ui.IsTerminal(cmd.ErrOrStderr()) {
		s.progress = cmd.ErrOrStderr()
	}
	return s, nil
}

// ops returns transaction options; dry runs print diffs to stdout.
func (s *session) ops(dryRun bool) ops.Options {
	return ops.Options{
		Writer:   mutate.Writer{DryRun: dryRun, Diff: s.out, Log: s.log},
		Reporter: s.rep,
		Log:      s.log,
	}
}

func (s *session) reload() error {
	ws, err := s.ws.Reload()
	if err != nil {
		return errors.Wrap(err, "reload workspace")
	}
	s.ws = ws
	return nil
}

func (s *session) packager() toolchain.ArchivePackager {
	return toolchain.ArchivePackager{Workspace: s.ws, Log: s.log}
}

// pipeline builds the verification pipeline from [toolchain] and [verify].
func (s *session) pipeline() (*verify.Pipeline, error) {
	tc, err := toolchain.NewCommandToolchain(s.cfg.Toolchain.Templates, s.cfg.Toolchain.Timeout, s.cfg.Toolchain.Env, s.log)
	if err != nil {
		return nil, err
	}
	alg, err := fingerprint.ParseAlgorithm(s.cfg.Verify.Fingerprint)
	if err != nil {
		return nil, err
	}
	return &verify.Pipeline{
		Workspace:   s.ws,
		Toolchain:   tc,
		Packager:    s.packager(),
		Fingerprint: fingerprint.Options{Algorithm: alg, Allow: s.cfg.Verify.DriftAllow},
		ScratchDir:  s.cfg.Verify.ScratchDir,
		TargetDir:   s.cfg.Verify.TargetDir,
		Keep:        s.cfg.Verify.Keep,
		Reporter:    s.rep,
		Log:         s.log,
	}, nil
}

func (s *session) registry() *registry.HTTPClient {
	return registry.NewHTTPClient(s.cfg.Registry.API, s.cfg.Registry.Retries, s.cfg.Registry.Timeout, s.log)
}

// token resolves the registry token: flag, environment, credentials file,
// then the configured credential helper.
func (s *session) token(ctx context.Context, flag string) (string, error) {
	file := s.cfg.Credentials.File
	if file == "" {
		file = registry.DefaultCredentialsFile()
	}
	sources := []registry.TokenSource{
		registry.FlagToken(flag),
		registry.EnvToken(registry.DefaultEnv...),
		registry.FileToken(file, s.cfg.Registry.Name),
	}
	if s.cfg.Credentials.Helper != "" {
		sources = append(sources, registry.HelperToken(s.cfg.Credentials.Helper, s.cfg.Registry.API))
	}
	return registry.ResolveToken(ctx, sources...)
}

func (s *session) openJournal(readOnly bool) (*journal.Store, error) {
	return journal.Open(s.ws.Root, readOnly)
}

// selectOptions are the package selection flags.
type selectOptions struct {
	packages       []string
	skip           []string
	ignorePre      []string
	ignorePublish  bool
	changedSince   string
	includePreDeps bool
	cascade        string
}

func (o *selectOptions) bind(fs *pflag.FlagSet) {
	fs.StringArrayVarP(&o.packages, "packages", "p", nil, "Only select packages whose name matches this regular expression (repeatable)")
	fs.StringArrayVarP(&o.skip, "skip", "s", nil, "Skip packages whose name matches this regular expression (repeatable)")
	fs.StringArrayVarP(&o.ignorePre, "ignore-pre-version", "i", nil, "Skip packages whose pre-release tag is one of these (repeatable)")
	fs.BoolVar(&o.ignorePublish, "ignore-publish", false, "Select packages even when their publish setting excludes the registry")
	fs.StringVarP(&o.changedSince, "changed-since", "c", "", "Select packages containing files changed between this git reference and HEAD")
	fs.BoolVar(&o.includePreDeps, "include-pre-deps", false, "Also select packages pulled in through pre-release versions")
	fs.StringVar(&o.cascade, "pre-cascade", string(selector.CascadeSelf), "How --include-pre-deps cascades (self or seed)")
}

func (o *selectOptions) criteria() selector.Criteria {
	return selector.Criteria{
		Include:              o.packages,
		Skip:                 o.skip,
		SkipPreTags:          o.ignorePre,
		IgnorePublish:        o.ignorePublish,
		ChangedSince:         o.changedSince,
		IncludePreDependents: o.includePreDeps,
		Cascade:              selector.CascadePolicy(o.cascade),
	}
}

func (o *selectOptions) predicate(ctx context.Context, s *session) (selector.Predicate, error) {
	return selector.Build(ctx, s.ws, o.criteria(), selector.Options{Log: s.log})
}

// releaseOptions are shared by the commands that work on the release order.
type releaseOptions struct {
	selectOptions
	includeDev     bool
	emptyIsFailure bool
	dotGraph       string
}

func (o *releaseOptions) bind(fs *pflag.FlagSet) {
	o.selectOptions.bind(fs)
	fs.BoolVar(&o.includeDev, "include-dev-deps", false, "Keep dev-dependencies instead of removing them before computing the order")
	fs.BoolVar(&o.emptyIsFailure, "empty-package-is-failure", false, "Fail when no package matches the selection")
	fs.StringVar(&o.dotGraph, "dot-graph", "", "Write the dependency graph of the release to this file (.dot, .json or .yaml)")
}

// plan removes dev-dependencies unless asked not to, then returns the
// selected packages in release order. An empty order is reported and
// returned as nil unless emptyIsFailure is set.
func (s *session) plan(ctx context.Context, o *releaseOptions) ([]*workspace.Package, error) {
	pred, err := o.predicate(ctx, s)
	if err != nil {
		return nil, err
	}
	if !o.includeDev {
		s.rep.Status("Preparing", "disabling dev-dependencies")
		if _, err := ops.DeactivateDevDependencies(s.ws, pred, s.ops(false)); err != nil {
			return nil, err
		}
		if err := s.reload(); err != nil {
			return nil, err
		}
	}
	g, err := graph.New(s.ws, graph.Options{SkipDev: !o.includeDev})
	if err != nil {
		return nil, err
	}
	order, err := g.ReleaseOrder(pred)
	if err != nil {
		return nil, err
	}
	if o.dotGraph != "" {
		if err := graph.WriteFile(o.dotGraph, g.Describe(order, nil)); err != nil {
			return nil, err
		}
		s.log.V(1).Info("graph written", "path", o.dotGraph)
	}
	if len(order) == 0 {
		if o.emptyIsFailure {
			return nil, errdefs.Configf("no packages match the selection")
		}
		s.rep.Status("Done", "no packages selected, nothing to do")
		return nil, nil
	}
	return order, nil
}

func packageList(pkgs []*workspace.Package) string {
	out := make([]string, len(pkgs))
	for i, p := range pkgs {
		out[i] = p.String()
	}
	return strings.Join(out, ", ")
}
