package main

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/yourusername/archive-forge/internal/archive"
	"github.com/yourusername/archive-forge/internal/digitize"
)

func newDigitizeCommand(ctx *commandContext) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "digitize <edition-id> <source>",
		Short: "Digitize a layout document into an edition",
		Long: "Converts the layout document, rasterizes every page and stores the derived assets.\n" +
			"Only one digitization per edition may run at a time on this host.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEditionID(args[0])
			if err != nil {
				return err
			}
			source, err := filepath.Abs(args[1])
			if err != nil {
				return err
			}
			if _, err := os.Stat(source); err != nil {
				return fmt.Errorf("source document: %w", err)
			}

			components, err := ctx.ensure(cmd.Context())
			if err != nil {
				return err
			}

			var progress digitize.ProgressReporter
			if !quiet && !ctx.jsonOutput() {
				stderr := cmd.ErrOrStderr()
				progress = func(stage string, percent int) {
					fmt.Fprintf(stderr, "[%3d%%] %s\n", percent, stage)
				}
			}

			manifest, err := components.Assembler.ProcessEdition(cmd.Context(), digitize.Source{Path: source}, id, progress)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				if err := writeJSON(cmd, manifest); err != nil {
					return err
				}
			} else {
				printManifest(cmd, manifest)
			}
			if manifest.Status() == archive.RunFailed {
				return fmt.Errorf("edition %d: all %d pages failed", id, len(manifest.Failures))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print progress")
	return cmd
}

func printManifest(cmd *cobra.Command, m *archive.Manifest) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Edition %d (%d #%d): %s\n", m.EditionID, m.Year, m.Number, m.Status())
	fmt.Fprintf(out, "  Pages:  %d (%s)\n", m.PageCount, byteSize(m.FileSize))

	if len(m.Documents) > 0 {
		rows := make([][]string, 0, len(m.Documents))
		for _, name := range slices.Sorted(maps.Keys(m.Documents)) {
			doc := m.Documents[name]
			rows = append(rows, []string{doc.Profile, doc.Path, strconv.Itoa(doc.Pages), byteSize(doc.Size)})
		}
		writeTable(cmd, []string{"Profile", "Asset", "Pages", "Size"}, rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight})
	}
	if len(m.Failures) > 0 {
		rows := make([][]string, 0, len(m.Failures))
		for _, f := range m.Failures {
			rows = append(rows, []string{strconv.Itoa(f.Page), f.Stage, f.Reason})
		}
		writeTable(cmd, []string{"Page", "Stage", "Reason"}, rows, []columnAlignment{alignRight})
	}
	for _, w := range m.Warnings {
		fmt.Fprintf(out, "  warning: %s\n", w)
	}
}
