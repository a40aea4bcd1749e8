package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourusername/archive-forge/internal/archive"
)

func newEditionCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edition",
		Short: "Manage archive editions",
	}
	cmd.AddCommand(newEditionCreateCommand(ctx))
	cmd.AddCommand(newEditionListCommand(ctx))
	cmd.AddCommand(newEditionShowCommand(ctx))
	return cmd
}

func newEditionCreateCommand(ctx *commandContext) *cobra.Command {
	var (
		year, number             int
		title, description, kind string
		date                     string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new edition in the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			components, err := ctx.ensure(cmd.Context())
			if err != nil {
				return err
			}
			draft := archive.EditionDraft{
				Title:       title,
				Description: description,
				EditionType: archive.EditionType(kind),
			}
			if date != "" {
				parsed, err := time.Parse(time.DateOnly, date)
				if err != nil {
					return fmt.Errorf("invalid --date %q: expected YYYY-MM-DD", date)
				}
				draft.PublicationDate = parsed
			}

			edition, err := components.Catalog.CreateEdition(cmd.Context(), year, number, draft)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, edition)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created edition %d (%d #%d, %s)\n", edition.ID, edition.Year, edition.Number, edition.Slug)
			return nil
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "Archive year")
	cmd.Flags().IntVar(&number, "number", 0, "Edition number within the year")
	cmd.Flags().StringVar(&title, "title", "", "Edition title")
	cmd.Flags().StringVar(&description, "description", "", "Edition description")
	cmd.Flags().StringVar(&kind, "type", string(archive.EditionRegular), "Edition type (regular, special, anniversary, supplement)")
	cmd.Flags().StringVar(&date, "date", "", "Publication date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("year")
	_ = cmd.MarkFlagRequired("number")
	return cmd
}

func newEditionListCommand(ctx *commandContext) *cobra.Command {
	var year int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List editions of a year",
		RunE: func(cmd *cobra.Command, args []string) error {
			components, err := ctx.ensure(cmd.Context())
			if err != nil {
				return err
			}
			editions, err := components.Catalog.ListEditions(cmd.Context(), year)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, editions)
			}
			if len(editions) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No editions for %d\n", year)
				return nil
			}
			rows := make([][]string, 0, len(editions))
			for _, e := range editions {
				rows = append(rows, []string{
					strconv.FormatInt(e.ID, 10),
					strconv.Itoa(e.Number),
					e.Title,
					yesNo(e.IsDigitized),
					strconv.Itoa(e.PageCount),
					byteSize(e.FileSize),
				})
			}
			writeTable(cmd,
				[]string{"ID", "No.", "Title", "Digitized", "Pages", "Size"},
				rows,
				[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignRight, alignRight},
			)
			return nil
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "Archive year")
	_ = cmd.MarkFlagRequired("year")
	return cmd
}

func newEditionShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <edition-id>",
		Short: "Show an edition and its digitized pages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEditionID(args[0])
			if err != nil {
				return err
			}
			components, err := ctx.ensure(cmd.Context())
			if err != nil {
				return err
			}
			edition, err := components.Catalog.GetEdition(cmd.Context(), id)
			if err != nil {
				return err
			}
			pages, err := components.Catalog.ListPages(cmd.Context(), id)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, map[string]any{"edition": edition, "pages": pages})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%d #%d)\n", edition.Title, edition.Year, edition.Number)
			fmt.Fprintf(out, "  Slug:      %s\n", edition.Slug)
			fmt.Fprintf(out, "  Type:      %s\n", edition.EditionType)
			fmt.Fprintf(out, "  Published: %s\n", edition.PublicationDate.Format(time.DateOnly))
			fmt.Fprintf(out, "  Digitized: %s\n", yesNo(edition.IsDigitized))
			fmt.Fprintf(out, "  Pages:     %d\n", edition.PageCount)
			fmt.Fprintf(out, "  Size:      %s\n", byteSize(edition.FileSize))
			if edition.HasCover() {
				fmt.Fprintf(out, "  Cover:     media %d\n", *edition.CoverMediaID)
			}
			if len(pages) == 0 {
				return nil
			}

			rows := make([][]string, 0, len(pages))
			for _, p := range pages {
				rows = append(rows, []string{
					strconv.Itoa(p.Content.PageNumber),
					p.Content.Title,
					p.Content.DigitalContent,
					string(p.Metadata.PreservationStatus),
				})
			}
			writeTable(cmd,
				[]string{"Page", "Title", "Asset", "Preservation"},
				rows,
				[]columnAlignment{alignRight},
			)
			return nil
		},
	}
}

func parseEditionID(value string) (int64, error) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid edition id %q", value)
	}
	return id, nil
}
