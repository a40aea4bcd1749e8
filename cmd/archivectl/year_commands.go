package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newYearCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "year",
		Short: "Inspect archive years",
	}
	cmd.AddCommand(newYearStatsCommand(ctx))
	return cmd
}

func newYearStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <year>",
		Short: "Show edition and page totals for a year",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			year, err := strconv.Atoi(args[0])
			if err != nil || year <= 0 {
				return fmt.Errorf("invalid year %q", args[0])
			}
			components, err := ctx.ensure(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := components.Catalog.YearStatistics(cmd.Context(), year)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, stats)
			}
			writeTable(cmd,
				[]string{"Year", "Editions", "Digitized", "Pages", "Content", "Size"},
				[][]string{{
					strconv.Itoa(stats.Year),
					strconv.Itoa(stats.TotalEditions),
					strconv.Itoa(stats.DigitizedEditions),
					strconv.Itoa(stats.TotalPages),
					strconv.Itoa(stats.TotalContent),
					byteSize(stats.TotalSize),
				}},
				[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
			)
			return nil
		},
	}
}
