package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/export"
	"github.com/sells-group/prospect-cli/internal/fetcher"
	"github.com/sells-group/prospect-cli/internal/model"
)

var (
	enrichInput  string
	enrichOutput string
	enrichFormat string
	enrichSheet  string
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Enrich an exported spreadsheet",
	Long:  "Reads a previously exported spreadsheet, backfills contacts missing emails via person match, and writes the enriched set back out.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initSourcing(ctx, "search")
		if err != nil {
			return err
		}
		defer env.Close()

		out := enrichOutput
		if out == "" {
			ext := filepath.Ext(enrichInput)
			out = strings.TrimSuffix(enrichInput, ext) + "_enriched" + ext
		}
		formatName := enrichFormat
		if formatName == "" {
			formatName = strings.TrimPrefix(filepath.Ext(out), ".")
		}
		format, err := export.ParseFormat(formatName)
		if err != nil {
			return err
		}

		contacts, err := readContactSheet(ctx, enrichInput, enrichSheet)
		if err != nil {
			return err
		}
		if len(contacts) == 0 {
			return eris.Errorf("no contacts found in %s", enrichInput)
		}

		missing := 0
		for _, c := range contacts {
			if !c.HasEmail() {
				missing++
			}
		}
		zap.L().Info("enrichment starting",
			zap.String("input", enrichInput),
			zap.Int("contacts", len(contacts)),
			zap.Int("missing_emails", missing),
		)

		run, err := env.Store.CreateRun(ctx, model.Run{
			Kind:       model.RunKindEnrich,
			RosterPath: enrichInput,
			Requested:  missing,
			Status:     model.RunStatusRunning,
		})
		if err != nil {
			return eris.Wrap(err, "create run")
		}

		enriched, err := env.Enricher.EnrichAll(ctx, contacts)
		reveals := 0
		if cfg.Enrich.RevealPersonalEmails {
			reveals = enriched
		}
		credits := env.Calc.Enrichment(enriched, reveals)
		if err != nil {
			_ = env.Store.FinishRun(ctx, run.ID, runStatusForErr(err), err.Error())
			return eris.Wrap(err, "enrich")
		}

		files, err := export.Write(contacts, out, len(contacts), format)
		if err != nil {
			_ = env.Store.FinishRun(ctx, run.ID, model.RunStatusFailed, err.Error())
			return eris.Wrap(err, "write enriched sheet")
		}

		// The archive backfill keeps future exports of these contacts
		// enriched too.
		if _, err := env.Store.SaveContacts(ctx, run.ID, contacts); err != nil {
			zap.L().Warn("archive enriched contacts failed", zap.Error(err))
		}

		run.ContactsSourced = len(contacts)
		run.EmailsFound = countEmails(contacts)
		run.CreditsUsed = credits
		if err := env.Store.UpdateRunProgress(ctx, run); err != nil {
			zap.L().Warn("record run progress failed", zap.Error(err))
		}
		if err := env.Store.FinishRun(ctx, run.ID, model.RunStatusCompleted, ""); err != nil {
			return eris.Wrap(err, "finish run")
		}

		zap.L().Info("enrichment complete",
			zap.Int("contacts", len(contacts)),
			zap.Int("enriched", enriched),
			zap.Int("emails", run.EmailsFound),
			zap.Float64("credits", credits),
			zap.Strings("files", files),
		)
		return nil
	},
}

func init() {
	enrichCmd.Flags().StringVar(&enrichInput, "input", "", "exported spreadsheet to enrich (required)")
	enrichCmd.Flags().StringVar(&enrichOutput, "output", "", "output path (default: input with _enriched suffix)")
	enrichCmd.Flags().StringVar(&enrichFormat, "format", "", "output format: csv or xlsx (default from output extension)")
	enrichCmd.Flags().StringVar(&enrichSheet, "sheet", "", "XLSX sheet name (default: first)")
	_ = enrichCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(enrichCmd)
}

// readContactSheet loads contacts from a CSV or XLSX export.
func readContactSheet(ctx context.Context, path, sheet string) ([]model.Contact, error) {
	var rows [][]string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		var err error
		rows, err = fetcher.ReadXLSX(path, fetcher.XLSXOptions{SheetName: sheet})
		if err != nil {
			return nil, err
		}
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "open %s", path)
		}
		defer f.Close()
		rows, err = fetcher.ReadAllCSV(ctx, f, fetcher.CSVOptions{TrimSpace: true})
		if err != nil {
			return nil, err
		}
	}
	return contactsFromRows(rows)
}

// contactsFromRows maps spreadsheet rows onto contacts using the export
// column layout. Header matching is case-insensitive so hand-edited
// sheets still parse.
func contactsFromRows(rows [][]string) ([]model.Contact, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	idx := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := idx["name"]; !ok {
		return nil, eris.New("sheet has no Name column")
	}

	cell := func(row []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	contacts := make([]model.Contact, 0, len(rows)-1)
	for _, row := range rows[1:] {
		c := model.Contact{
			Name:      cell(row, "name"),
			Email:     cell(row, "email"),
			Phone:     cell(row, "phone"),
			Company:   cell(row, "company"),
			Title:     cell(row, "title"),
			Location:  cell(row, "location"),
			Persona:   cell(row, "persona"),
			LinkedIn:  cell(row, "linkedin"),
			Industry:  cell(row, "industry"),
			Seniority: cell(row, "seniority"),
			SourceID:  cell(row, "source id"),
		}
		if c.Name == "" && c.Company == "" {
			continue
		}
		contacts = append(contacts, c)
	}
	return contacts, nil
}
