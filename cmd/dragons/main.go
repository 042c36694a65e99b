// main.go bootstraps dragons: it builds the root Cobra command and executes it with a signal-aware context.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/example/dragons/internal/config"
	"github.com/example/dragons/internal/errdefs"
	"github.com/example/dragons/internal/version"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := newRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	handleError(os.Stderr, err)
	if err != nil {
		cancel()
		os.Exit(errdefs.ExitCode(err))
	}
}

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	manifestPath string
	configPath   string
	logLevel     string
	verbose      int
	quiet        bool
	color        string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{logLevel: "info", color: "auto"}
	info := version.Get()
	cmd := &cobra.Command{
		Use:           "dragons",
		Short:         "Release the packages of a large monorepo",
		Long:          "dragons selects, versions, verifies and publishes the interdependent packages of a Cargo workspace in dependency order.",
		Version:       info.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate(version.Template)
	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.manifestPath, "manifest-path", "m", ".", "Workspace manifest, or the directory containing Cargo.toml")
	pf.StringVar(&opts.configPath, "config", "", "Path to dragons.toml (defaults to the workspace root)")
	pf.StringVar(&opts.logLevel, "log-level", opts.logLevel, "Log level (trace, debug, info, warn, error)")
	pf.CountVarP(&opts.verbose, "verbose", "v", "Increase log verbosity (-v debug, -vv trace)")
	pf.BoolVarP(&opts.quiet, "quiet", "q", false, "Only print warnings and errors")
	pf.StringVar(&opts.color, "color", opts.color, "Colorize status output (auto, always, never)")

	cmd.AddCommand(
		newToReleaseCommand(opts),
		newCheckCommand(opts),
		newUnleashCommand(opts),
		newVersionCommand(opts),
		newRenameCommand(opts),
		newUnifyDepsCommand(opts),
		newSetCommand(opts),
		newDeDevDepsCommand(opts),
		newAddOwnerCommand(opts),
		newIndependenceCheckCommand(opts),
		newRunsCommand(opts),
		newCompletionCommand(cmd),
	)
	cmd.Example = `  # List the packages to release, dependencies first
  dragons to-release --changed-since origin/main

  # Bump every package touched since the last tag and fix up requirements
  dragons version bump-minor --changed-since v1.2.0

  # Verify every selected package builds from its packaged archive, then publish
  dragons unleash --owner github:acme:release`
	registerPackageCompletion(cmd, opts)
	bindViper(cmd)
	return cmd
}

// bindViper lets DRAGONS_<FLAG> environment variables fill flags the user
// did not pass, for every command of the tree.
func bindViper(root *cobra.Command) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()

	var commands []*cobra.Command
	var walk func(*cobra.Command)
	walk = func(c *cobra.Command) {
		commands = append(commands, c)
		for _, sub := range c.Commands() {
			walk(sub)
		}
	}
	walk(root)

	cobra.OnInitialize(func() {
		for _, cmd := range commands {
			for _, fs := range []*pflag.FlagSet{cmd.Flags(), cmd.PersistentFlags()} {
				fs.VisitAll(func(f *pflag.Flag) {
					if f.Changed || f.Name == "help" || f.Name == "version" {
						return
					}
					if err := v.BindEnv(f.Name); err != nil {
						cobra.CheckErr(err)
					}
					if !v.IsSet(f.Name) {
						return
					}
					val := fmt.Sprintf("%v", v.Get(f.Name))
					if val != "" {
						_ = f.Value.Set(val)
					}
				})
			}
		}
	})
}

func handleError(w io.Writer, err error) {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return
	}
	message := err.Error()
	var (
		drift *errdefs.DriftError
		graph *errdefs.GraphError
	)
	switch {
	case errors.Is(err, context.Canceled):
		message = fmt.Sprintf("%s\nHint: interrupted; packages that were not released are listed above.", err)
	case errors.As(err, &drift):
		message = fmt.Sprintf("%s\nHint: the build wrote into the package sources. Write generated files below the output directory or add them to verify.drift_allow.", err)
	case errors.As(err, &graph) && len(graph.Cycle) > 0:
		message = fmt.Sprintf("%s\nHint: cycles through dev-dependencies disappear when --include-dev-deps is not set.", err)
	}
	fmt.Fprintf(w, "Error: %s\n", message)
}
