package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/export"
	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/persona"
	"github.com/sells-group/prospect-cli/internal/sourcing"
)

var (
	searchPersona     string
	searchTitles      []string
	searchSeniorities []string
	searchLocations   []string
	searchCompanies   []string
	searchKeywords    string
	searchCount       int
	searchVerified    bool
	searchReveal      bool
	searchEnrich      bool
	searchSplitTitles bool
	searchOutput      string
	searchFormat      string
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run a one-off contact search",
	Long:  "Sources contacts matching a persona or ad hoc filters, optionally enriches missing emails, archives the results, and exports a spreadsheet.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initSourcing(ctx, "search")
		if err != nil {
			return err
		}
		defer env.Close()

		formatName := searchFormat
		if formatName == "" {
			formatName = cfg.Export.Format
		}
		format, err := export.ParseFormat(formatName)
		if err != nil {
			return err
		}

		spec, err := buildSearchSpec(env.Personas, searchPersona, searchCount, searchOverrides{
			Titles:      searchTitles,
			Seniorities: searchSeniorities,
			Locations:   searchLocations,
			Keywords:    searchKeywords,
			Verified:    searchVerified,
			Reveal:      searchReveal || cfg.Enrich.RevealPersonalEmails,
		})
		if err != nil {
			return err
		}

		var groups []sourcing.TitleGroup
		if searchSplitTitles {
			groups = titleGroups(spec.Titles)
		}

		run, err := env.Store.CreateRun(ctx, model.Run{
			Kind:           model.RunKindSearch,
			Persona:        spec.Persona,
			Requested:      spec.Count,
			Status:         model.RunStatusQueued,
			CompaniesTotal: len(searchCompanies),
		})
		if err != nil {
			return eris.Wrap(err, "create run")
		}
		if err := env.Store.UpdateRunStatus(ctx, run.ID, model.RunStatusRunning); err != nil {
			return eris.Wrap(err, "mark run running")
		}

		zap.L().Info("search starting",
			zap.String("run_id", run.ID),
			zap.String("query", spec.String()),
			zap.Int("count", spec.Count),
			zap.Int("companies", len(searchCompanies)),
			zap.Int("title_groups", len(groups)),
		)

		contacts, requests, err := env.Alloc.Collect(ctx, spec, groups, searchCompanies)
		credits := env.Calc.Search(requests)
		if err != nil {
			_ = env.Store.FinishRun(ctx, run.ID, runStatusForErr(err), err.Error())
			return eris.Wrap(err, "search")
		}

		enriched := 0
		if searchEnrich {
			enriched, err = env.Enricher.EnrichAll(ctx, contacts)
			reveals := 0
			if spec.RevealEmails {
				reveals = enriched
			}
			credits += env.Calc.Enrichment(enriched, reveals)
			if err != nil {
				_ = env.Store.FinishRun(ctx, run.ID, runStatusForErr(err), err.Error())
				return eris.Wrap(err, "enrich")
			}
		}

		saved, err := env.Store.SaveContacts(ctx, run.ID, contacts)
		if err != nil {
			_ = env.Store.FinishRun(ctx, run.ID, model.RunStatusFailed, err.Error())
			return eris.Wrap(err, "archive contacts")
		}

		run.CompaniesDone = len(searchCompanies)
		run.ContactsSourced = len(contacts)
		run.EmailsFound = countEmails(contacts)
		run.RequestsUsed = requests
		run.CreditsUsed = credits
		if err := env.Store.UpdateRunProgress(ctx, run); err != nil {
			return eris.Wrap(err, "record run progress")
		}

		var files []string
		if len(contacts) > 0 {
			out := searchOutput
			if out == "" {
				out = filepath.Join(cfg.Export.Dir, "search_"+time.Now().Format("20060102_150405"))
			}
			files, err = export.Write(contacts, out, cfg.Export.MaxPerFile, format)
			if err != nil {
				_ = env.Store.FinishRun(ctx, run.ID, model.RunStatusFailed, err.Error())
				return eris.Wrap(err, "export")
			}
		}

		if err := env.Store.FinishRun(ctx, run.ID, model.RunStatusCompleted, ""); err != nil {
			return eris.Wrap(err, "finish run")
		}

		zap.L().Info("search complete",
			zap.String("run_id", run.ID),
			zap.Int("contacts", len(contacts)),
			zap.Int("emails", run.EmailsFound),
			zap.Int("enriched", enriched),
			zap.Int("requests", requests),
			zap.Float64("credits", credits),
		)

		summary := searchSummary{
			RunID:    run.ID,
			Query:    spec.String(),
			Contacts: len(contacts),
			Emails:   run.EmailsFound,
			Enriched: enriched,
			Archived: saved,
			Requests: requests,
			Credits:  credits,
			Dollars:  env.Calc.Dollars(credits),
			Files:    files,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchPersona, "persona", "", "persona whose filters seed the search")
	searchCmd.Flags().StringSliceVar(&searchTitles, "title", nil, "job title filter (repeatable, overrides persona titles)")
	searchCmd.Flags().StringSliceVar(&searchSeniorities, "seniority", nil, "seniority filter (repeatable)")
	searchCmd.Flags().StringSliceVar(&searchLocations, "location", nil, "person location filter (repeatable)")
	searchCmd.Flags().StringSliceVar(&searchCompanies, "company", nil, "company to search within (repeatable, splits the count across companies)")
	searchCmd.Flags().StringVar(&searchKeywords, "keywords", "", "free-text keyword filter")
	searchCmd.Flags().IntVar(&searchCount, "count", 25, "number of contacts to source")
	searchCmd.Flags().BoolVar(&searchVerified, "verified", false, "only contacts with verified emails")
	searchCmd.Flags().BoolVar(&searchReveal, "reveal", false, "request personal email reveal (costs extra credits)")
	searchCmd.Flags().BoolVar(&searchEnrich, "enrich", false, "enrich contacts missing emails after the search")
	searchCmd.Flags().BoolVar(&searchSplitTitles, "split-titles", false, "partition the count across each title separately")
	searchCmd.Flags().StringVar(&searchOutput, "output", "", "output file base path (default: export dir with timestamp)")
	searchCmd.Flags().StringVar(&searchFormat, "format", "", "spreadsheet format: csv or xlsx (default from config)")
	rootCmd.AddCommand(searchCmd)
}

// searchSummary is the JSON result printed to stdout.
type searchSummary struct {
	RunID    string   `json:"run_id"`
	Query    string   `json:"query"`
	Contacts int      `json:"contacts"`
	Emails   int      `json:"emails"`
	Enriched int      `json:"enriched"`
	Archived int      `json:"archived"`
	Requests int      `json:"requests"`
	Credits  float64  `json:"credits"`
	Dollars  float64  `json:"dollars"`
	Files    []string `json:"files,omitempty"`
}

// searchOverrides carries the flag-level filter overrides applied on top
// of a persona's criteria.
type searchOverrides struct {
	Titles      []string
	Seniorities []string
	Locations   []string
	Keywords    string
	Verified    bool
	Reveal      bool
}

// buildSearchSpec merges persona filters with flag overrides. Explicit
// flags win over the persona's filters; the persona tag survives so
// exports stay grouped.
func buildSearchSpec(personas *persona.Registry, personaName string, count int, ov searchOverrides) (sourcing.QuerySpec, error) {
	if count <= 0 {
		return sourcing.QuerySpec{}, eris.New("count must be > 0")
	}

	spec := sourcing.QuerySpec{Count: count}
	if personaName != "" {
		p, ok := personas.Get(personaName)
		if !ok {
			return sourcing.QuerySpec{}, eris.Errorf("unknown persona %q (see: prospect personas)", personaName)
		}
		spec = sourcing.FromPersona(p, count)
	}

	if len(ov.Titles) > 0 {
		spec.Titles = ov.Titles
	}
	if len(ov.Seniorities) > 0 {
		spec.Seniorities = ov.Seniorities
	}
	if len(ov.Locations) > 0 {
		spec.Locations = ov.Locations
	}
	if ov.Keywords != "" {
		spec.Keywords = ov.Keywords
	}
	spec.VerifiedOnly = ov.Verified
	spec.RevealEmails = ov.Reveal

	if spec.Persona == "" && len(spec.Titles) == 0 && spec.Keywords == "" {
		return sourcing.QuerySpec{}, eris.New("search needs a persona, titles, or keywords")
	}
	return spec, nil
}

// titleGroups turns each title into its own partition so the allocator
// spreads the count evenly across titles.
func titleGroups(titles []string) []sourcing.TitleGroup {
	groups := make([]sourcing.TitleGroup, 0, len(titles))
	for _, t := range titles {
		groups = append(groups, sourcing.TitleGroup{Name: t, Titles: []string{t}})
	}
	return groups
}

func countEmails(contacts []model.Contact) int {
	n := 0
	for _, c := range contacts {
		if c.HasEmail() {
			n++
		}
	}
	return n
}

// runStatusForErr maps a sourcing failure to the run status recorded in
// the store: cancellation is an interruption, anything else a failure.
func runStatusForErr(err error) model.RunStatus {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return model.RunStatusInterrupted
	}
	return model.RunStatusFailed
}
