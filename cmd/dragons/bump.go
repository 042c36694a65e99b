// File: cmd/dragons/bump.go
// Brief: CLI command wiring and implementation for 'version' and its transforms.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/dragons/internal/ops"
	"github.com/example/dragons/internal/versioning"
)

type bumpSpec struct {
	kind  versioning.Kind
	use   string
	short string
	// arg names the positional value the transform takes, if any.
	arg string
}

var bumpSpecs = []bumpSpec{
	{kind: versioning.Release, use: "release", short: "Drop the pre-release tag of pre-release versions"},
	{kind: versioning.BumpBreaking, use: "bump-breaking", short: "Bump to the next breaking release (minor for 0.x, major otherwise)"},
	{kind: versioning.BumpToDev, use: "bump-to-dev", short: "Bump to the next breaking release and add a pre-release tag"},
	{kind: versioning.BumpPre, use: "bump-pre", short: "Increase the numeric pre-release suffix, starting at .1"},
	{kind: versioning.BumpPatch, use: "bump-patch", short: "Increase the patch version and drop the pre-release tag"},
	{kind: versioning.BumpMinor, use: "bump-minor", short: "Increase the minor version, resetting patch and pre-release"},
	{kind: versioning.BumpMajor, use: "bump-major", short: "Increase the major version, resetting minor, patch and pre-release"},
	{kind: versioning.Set, use: "set", short: "Set the version", arg: "VERSION"},
	{kind: versioning.SetPre, use: "set-pre", short: "Set the pre-release tag", arg: "PRE"},
	{kind: versioning.SetBuild, use: "set-build", short: "Set the build metadata", arg: "META"},
}

func newVersionCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Change package versions and update the requirements on them",
		Long: `Apply a version change to every selected package, then walk every manifest of the workspace
and rewrite the requirements on the changed packages that no longer match (all of them with
--force-update).`,
	}
	for _, spec := range bumpSpecs {
		cmd.AddCommand(newBumpCommand(root, spec))
	}
	return cmd
}

func newBumpCommand(root *rootOptions, spec bumpSpec) *cobra.Command {
	opts := &selectOptions{}
	var forceUpdate, dryRun bool
	var preTag string
	use := spec.use
	args := cobra.NoArgs
	if spec.arg != "" {
		use += " " + spec.arg
		args = cobra.ExactArgs(1)
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: spec.short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			value := preTag
			if len(args) == 1 {
				value = args[0]
			}
			transform, err := versioning.NewTransform(spec.kind, value)
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
			res, err := ops.SetVersions(s.ws, pred, transform, forceUpdate, s.ops(dryRun))
			if err != nil {
				return err
			}
			verb := "Updated"
			if dryRun {
				verb = "Would update"
			}
			s.rep.Status(verb, fmt.Sprintf("%d versions, %d requirements in %d manifests", len(res.Versions), len(res.Requirements), len(res.Changed)))
			return nil
		},
	}
	opts.bind(cmd.Flags())
	cmd.Flags().BoolVar(&forceUpdate, "force-update", false, "Rewrite every requirement on a changed package, even when it still matches")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the manifest changes as a diff instead of writing them")
	if spec.kind == versioning.BumpToDev {
		cmd.Flags().StringVar(&preTag, "pre-tag", versioning.DefaultDevTag, "Pre-release tag to add")
	}
	return cmd
}
