package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mrsinham/drrforge/internal/journal"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ctx.config.Journal.Path
			if path == "" {
				return errors.New("no journal configured; set journal.path in the config file or DRRFORGE_JOURNAL__PATH")
			}
			store, err := journal.Open(cmd.Context(), path)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}

			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				rows = append(rows, []string{
					r.ID.String()[:8],
					r.Stage,
					humanize.Time(r.Started),
					r.Duration().Round(timeRounding(r.Duration())).String(),
					strconv.Itoa(r.Succeeded),
					strconv.Itoa(r.Skipped),
					strconv.Itoa(r.Failed),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Run", "Stage", "Started", "Duration", "OK", "Skipped", "Failed"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	return cmd
}
