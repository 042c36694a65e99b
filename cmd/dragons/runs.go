// File: cmd/dragons/runs.go
// Brief: CLI command wiring and implementation for 'runs'.

package main

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/dragons/internal/ui"
)

func newRunsCommand(root *rootOptions) *cobra.Command {
	var limit int
	var runID string
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded release runs, or the publish attempts of one run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, root)
			if err != nil {
				return err
			}
			store, err := s.openJournal(true)
			if err != nil {
				return err
			}
			defer store.Close()
			ctx := cmd.Context()

			if runID != "" {
				attempts, err := store.Attempts(ctx, runID)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(attempts))
				for _, a := range attempts {
					rows = append(rows, []string{a.Name, a.Version, a.Status, a.At.Local().Format(time.DateTime), a.Message})
				}
				ui.PrintTable(s.out, []string{"PACKAGE", "VERSION", "STATUS", "AT", "MESSAGE"}, rows)
				return nil
			}
			runs, err := store.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				rows = append(rows, []string{r.ID, r.Status, strconv.Itoa(len(r.Packages)), r.UpdatedAt.Local().Format(time.DateTime)})
			}
			ui.PrintTable(s.out, []string{"RUN", "STATUS", "PACKAGES", "UPDATED"}, rows)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to list")
	cmd.Flags().StringVar(&runID, "run", "", "Show the publish attempts of this run")
	return cmd
}
