package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/campaign"
	"github.com/sells-group/prospect-cli/internal/export"
	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/persona"
	"github.com/sells-group/prospect-cli/internal/resilience"
	"github.com/sells-group/prospect-cli/internal/roster"
	"github.com/sells-group/prospect-cli/internal/sourcing"
)

var (
	campaignRoster      string
	campaignRosterURL   string
	campaignColumn      string
	campaignSheet       string
	campaignPersona     string
	campaignPerCompany  int
	campaignBatchSize   int
	campaignMaxBatches  int
	campaignCheckpoint  string
	campaignOutputDir   string
	campaignFormat      string
	campaignEnrich      bool
	campaignDryRun      bool
	campaignRetryFailed bool
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Run a checkpointed roster campaign",
	Long:  "Processes a company roster in batches under the hourly request cap, exporting each batch as it completes. An interrupted campaign resumes from its checkpoint; failed partitions land in the dead letter queue.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyCampaignFlags()

		formatName := campaignFormat
		if formatName == "" {
			formatName = cfg.Export.Format
		}
		format, err := export.ParseFormat(formatName)
		if err != nil {
			return err
		}

		// The DLQ drain re-sources straight from the queue, no roster needed.
		mode := "campaign"
		if campaignRetryFailed {
			mode = "search"
		}

		env, err := initSourcing(ctx, mode)
		if err != nil {
			return err
		}
		defer env.Close()

		if campaignRetryFailed {
			return drainDLQ(ctx, env, format)
		}

		spec := sourcing.QuerySpec{Count: cfg.Campaign.PerCompany}
		if campaignPersona != "" {
			p, ok := env.Personas.Get(campaignPersona)
			if !ok {
				return eris.Errorf("unknown persona %q (see: prospect personas)", campaignPersona)
			}
			spec = sourcing.FromPersona(p, cfg.Campaign.PerCompany)
		}
		spec.RevealEmails = cfg.Enrich.RevealPersonalEmails

		companies, err := roster.Load(ctx, roster.Source{
			Path:    cfg.Roster.Path,
			URL:     cfg.Roster.URL,
			Column:  cfg.Roster.Column,
			Sheet:   cfg.Roster.Sheet,
			Charset: cfg.Roster.Charset,
		})
		if err != nil {
			return eris.Wrap(err, "load roster")
		}
		if len(companies) == 0 {
			return eris.New("roster has no companies")
		}

		if campaignDryRun {
			credits := env.Calc.EstimateCampaign(len(companies), cfg.Campaign.PerCompany, cfg.Search.PageCap, campaignEnrich)
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(campaignEstimate{
				Companies:        len(companies),
				PerCompany:       cfg.Campaign.PerCompany,
				ContactsExpected: len(companies) * cfg.Campaign.PerCompany,
				Batches:          (len(companies) + cfg.Campaign.BatchSize - 1) / cfg.Campaign.BatchSize,
				Enrich:           campaignEnrich,
				Credits:          credits,
				Dollars:          env.Calc.Dollars(credits),
			})
		}

		run, err := env.Store.CreateRun(ctx, model.Run{
			Kind:           model.RunKindCampaign,
			Persona:        spec.Persona,
			RosterPath:     rosterLabel(),
			PerCompany:     cfg.Campaign.PerCompany,
			Requested:      len(companies) * cfg.Campaign.PerCompany,
			Status:         model.RunStatusQueued,
			CompaniesTotal: len(companies),
		})
		if err != nil {
			return eris.Wrap(err, "create run")
		}
		if err := env.Store.UpdateRunStatus(ctx, run.ID, model.RunStatusRunning); err != nil {
			return eris.Wrap(err, "mark run running")
		}

		stamp := time.Now().Format("20060102_150405")
		enrichedTotal := 0

		runner := campaign.NewRunner(env.Alloc, campaign.Config{
			BatchSize:        cfg.Campaign.BatchSize,
			PerCompany:       cfg.Campaign.PerCompany,
			HourlyRequestCap: cfg.Campaign.HourlyRequestCap,
			BatchDelay:       time.Duration(cfg.Campaign.BatchDelaySecs) * time.Second,
			MaxBatches:       cfg.Campaign.MaxBatches,
			CheckpointPath:   cfg.Campaign.CheckpointPath,
			OnBatch: func(ctx context.Context, batchIndex int, contacts []model.Contact) error {
				if campaignEnrich {
					n, err := env.Enricher.EnrichAll(ctx, contacts)
					enrichedTotal += n
					if err != nil {
						return err
					}
				}

				base := filepath.Join(cfg.Export.Dir, fmt.Sprintf("campaign_%s_batch_%d", stamp, batchIndex))
				files, err := export.Write(contacts, base, cfg.Export.MaxPerFile, format)
				if err != nil {
					return err
				}

				if _, err := env.Store.SaveContacts(ctx, run.ID, contacts); err != nil {
					return err
				}

				run.ContactsSourced += len(contacts)
				run.EmailsFound += countEmails(contacts)
				if err := env.Store.UpdateRunProgress(ctx, run); err != nil {
					return err
				}

				zap.L().Info("campaign batch exported",
					zap.Int("batch", batchIndex),
					zap.Int("contacts", len(contacts)),
					zap.Strings("files", files),
				)
				return nil
			},
		})

		result, runErr := runner.Run(ctx, spec, companies)

		reveals := 0
		if spec.RevealEmails {
			reveals = enrichedTotal
		}
		credits := env.Calc.Search(result.RequestsUsed) + env.Calc.Enrichment(enrichedTotal, reveals)

		run.CompaniesDone = result.CompaniesProcessed
		run.ContactsSourced = result.ContactsFound
		run.EmailsFound = result.EmailsFound
		run.RequestsUsed = result.RequestsUsed
		run.CreditsUsed = credits
		if err := env.Store.UpdateRunProgress(ctx, run); err != nil {
			zap.L().Warn("record run progress failed", zap.Error(err))
		}

		if runErr != nil {
			status := runStatusForErr(runErr)
			_ = env.Store.FinishRun(ctx, run.ID, status, runErr.Error())
			if status == model.RunStatusFailed {
				recordFailedPartition(ctx, env, companies, spec.Persona, runErr)
			}
			return eris.Wrap(runErr, "campaign")
		}

		if err := env.Store.FinishRun(ctx, run.ID, model.RunStatusCompleted, ""); err != nil {
			return eris.Wrap(err, "finish run")
		}

		zap.L().Info("campaign complete",
			zap.String("run_id", run.ID),
			zap.Int("companies", result.CompaniesProcessed),
			zap.Int("skipped", result.CompaniesSkipped),
			zap.Int("batches", result.BatchesCompleted),
			zap.Int("contacts", result.ContactsFound),
			zap.Int("emails", result.EmailsFound),
			zap.Float64("credits", credits),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(campaignSummary{
			RunID:              run.ID,
			CompaniesProcessed: result.CompaniesProcessed,
			CompaniesSkipped:   result.CompaniesSkipped,
			BatchesCompleted:   result.BatchesCompleted,
			Contacts:           result.ContactsFound,
			Emails:             result.EmailsFound,
			Enriched:           enrichedTotal,
			Requests:           result.RequestsUsed,
			Credits:            credits,
			Dollars:            env.Calc.Dollars(credits),
			Checkpoint:         result.CheckpointPath,
		})
	},
}

func init() {
	campaignCmd.Flags().StringVar(&campaignRoster, "roster", "", "roster file (CSV, XLSX, or ZIP)")
	campaignCmd.Flags().StringVar(&campaignRosterURL, "roster-url", "", "roster URL (HTTP/HTTPS/FTP)")
	campaignCmd.Flags().StringVar(&campaignColumn, "column", "", "company column header (default: detected)")
	campaignCmd.Flags().StringVar(&campaignSheet, "sheet", "", "XLSX sheet name (default: first)")
	campaignCmd.Flags().StringVar(&campaignPersona, "persona", "", "persona whose filters apply to every company")
	campaignCmd.Flags().IntVar(&campaignPerCompany, "per-company", 0, "contacts to source per company (default from config)")
	campaignCmd.Flags().IntVar(&campaignBatchSize, "batch-size", 0, "companies per batch (default from config)")
	campaignCmd.Flags().IntVar(&campaignMaxBatches, "max-batches", 0, "stop after this many batches (0 = all)")
	campaignCmd.Flags().StringVar(&campaignCheckpoint, "checkpoint", "", "checkpoint file path (default from config)")
	campaignCmd.Flags().StringVar(&campaignOutputDir, "output-dir", "", "export directory (default from config)")
	campaignCmd.Flags().StringVar(&campaignFormat, "format", "", "spreadsheet format: csv or xlsx (default from config)")
	campaignCmd.Flags().BoolVar(&campaignEnrich, "enrich", false, "enrich each batch's contacts missing emails")
	campaignCmd.Flags().BoolVar(&campaignDryRun, "dry-run", false, "print the credit estimate and exit")
	campaignCmd.Flags().BoolVar(&campaignRetryFailed, "retry-failed", false, "re-source partitions from the dead letter queue instead of a roster")
	rootCmd.AddCommand(campaignCmd)
}

// applyCampaignFlags overlays set flags on the loaded config so validation
// and the runner see one merged view.
func applyCampaignFlags() {
	if campaignRoster != "" {
		cfg.Roster.Path = campaignRoster
	}
	if campaignRosterURL != "" {
		cfg.Roster.URL = campaignRosterURL
	}
	if campaignColumn != "" {
		cfg.Roster.Column = campaignColumn
	}
	if campaignSheet != "" {
		cfg.Roster.Sheet = campaignSheet
	}
	if campaignPerCompany > 0 {
		cfg.Campaign.PerCompany = campaignPerCompany
	}
	if campaignBatchSize > 0 {
		cfg.Campaign.BatchSize = campaignBatchSize
	}
	if campaignMaxBatches > 0 {
		cfg.Campaign.MaxBatches = campaignMaxBatches
	}
	if campaignCheckpoint != "" {
		cfg.Campaign.CheckpointPath = campaignCheckpoint
	}
	if campaignOutputDir != "" {
		cfg.Export.Dir = campaignOutputDir
	}
}

func rosterLabel() string {
	if cfg.Roster.URL != "" {
		return cfg.Roster.URL
	}
	return cfg.Roster.Path
}

// campaignEstimate is the dry-run projection printed to stdout.
type campaignEstimate struct {
	Companies        int     `json:"companies"`
	PerCompany       int     `json:"per_company"`
	ContactsExpected int     `json:"contacts_expected"`
	Batches          int     `json:"batches"`
	Enrich           bool    `json:"enrich"`
	Credits          float64 `json:"credits"`
	Dollars          float64 `json:"dollars"`
}

// campaignSummary is the JSON result printed to stdout.
type campaignSummary struct {
	RunID              string  `json:"run_id"`
	CompaniesProcessed int     `json:"companies_processed"`
	CompaniesSkipped   int     `json:"companies_skipped"`
	BatchesCompleted   int     `json:"batches_completed"`
	Contacts           int     `json:"contacts"`
	Emails             int     `json:"emails"`
	Enriched           int     `json:"enriched"`
	Requests           int     `json:"requests"`
	Credits            float64 `json:"credits"`
	Dollars            float64 `json:"dollars"`
	Checkpoint         string  `json:"checkpoint"`
}

// recordFailedPartition queues the company that broke the campaign for a
// later retry. The runner processes companies in roster order and
// checkpoints each completion, so the failed partition is the first
// roster entry the checkpoint does not record.
func recordFailedPartition(ctx context.Context, env *sourcingEnv, companies []string, personaName string, runErr error) {
	cp, err := campaign.LoadCheckpoint(cfg.Campaign.CheckpointPath)
	if err != nil {
		zap.L().Warn("dlq: checkpoint unreadable, cannot identify failed partition", zap.Error(err))
		return
	}

	company := firstUnfinished(companies, cp)
	if company == "" {
		return
	}

	now := time.Now().UTC()
	entry := resilience.DLQEntry{
		Company:      company,
		Persona:      personaName,
		Requested:    cfg.Campaign.PerCompany,
		Error:        runErr.Error(),
		ErrorType:    resilience.ClassifyError(runErr),
		MaxRetries:   cfg.Campaign.DLQMaxRetries,
		NextRetryAt:  now,
		CreatedAt:    now,
		LastFailedAt: now,
	}
	if err := env.Store.EnqueueDLQ(ctx, entry); err != nil {
		zap.L().Warn("dlq: enqueue failed", zap.String("company", company), zap.Error(err))
		return
	}
	zap.L().Info("dlq: failed partition queued for retry",
		zap.String("company", company),
		zap.String("error_type", entry.ErrorType),
	)
}

// firstUnfinished returns the first roster company the checkpoint does not
// record as completed.
func firstUnfinished(companies []string, cp *campaign.Checkpoint) string {
	done := cp.CompletedSet()
	for _, name := range companies {
		if _, ok := done[name]; !ok {
			return name
		}
	}
	return ""
}

// drainDLQ re-sources every due dead-letter partition. Each success is
// removed from the queue and marked completed in the checkpoint; each
// failure is rescheduled with a longer delay until its retries run out.
func drainDLQ(ctx context.Context, env *sourcingEnv, format export.Format) error {
	entries, err := env.Store.DequeueDLQ(ctx, resilience.DLQFilter{})
	if err != nil {
		return eris.Wrap(err, "dequeue dlq")
	}
	if len(entries) == 0 {
		zap.L().Info("dlq empty, nothing to retry")
		return nil
	}

	retryCfg := resilience.BuildRetryConfig(resilience.RetrySettings{
		MaxAttempts:      cfg.Resilience.Retry.MaxAttempts,
		InitialBackoffMs: cfg.Resilience.Retry.InitialBackoffMs,
		MaxBackoffMs:     cfg.Resilience.Retry.MaxBackoffMs,
		Multiplier:       cfg.Resilience.Retry.Multiplier,
		JitterFraction:   cfg.Resilience.Retry.JitterFraction,
	})
	retryCfg.OnRetry = resilience.RetryLogger("apollo", "dlq_drain")

	requested := 0
	for _, e := range entries {
		requested += e.Requested
	}
	run, err := env.Store.CreateRun(ctx, model.Run{
		Kind:           model.RunKindCampaign,
		RosterPath:     "dlq",
		PerCompany:     cfg.Campaign.PerCompany,
		Requested:      requested,
		Status:         model.RunStatusRunning,
		CompaniesTotal: len(entries),
	})
	if err != nil {
		return eris.Wrap(err, "create run")
	}

	cp, err := campaign.LoadCheckpoint(cfg.Campaign.CheckpointPath)
	if err != nil {
		return err
	}

	zap.L().Info("dlq drain starting", zap.Int("entries", len(entries)))

	var recovered []model.Contact
	succeeded, failed, requests := 0, 0, 0
	for _, entry := range entries {
		spec := specForDLQEntry(env.Personas, entry)

		var contacts []model.Contact
		entryRequests := 0
		retryErr := resilience.Do(ctx, retryCfg, func(ctx context.Context) error {
			got, reqs, ferr := env.Alloc.Collect(ctx, spec, nil, []string{entry.Company})
			entryRequests += reqs
			if ferr != nil {
				return ferr
			}
			contacts = got
			return nil
		})
		requests += entryRequests
		if retryErr != nil {
			failed++
			next := time.Now().UTC().Add(dlqRetryDelay(entry.RetryCount + 1))
			if err := env.Store.IncrementDLQRetry(ctx, entry.ID, next, retryErr.Error()); err != nil {
				zap.L().Warn("dlq: reschedule failed", zap.String("company", entry.Company), zap.Error(err))
			}
			if ctx.Err() != nil {
				_ = env.Store.FinishRun(ctx, run.ID, model.RunStatusInterrupted, retryErr.Error())
				return eris.Wrap(retryErr, "dlq drain interrupted")
			}
			zap.L().Warn("dlq: retry failed",
				zap.String("company", entry.Company),
				zap.Int("retry_count", entry.RetryCount+1),
				zap.Error(retryErr),
			)
			continue
		}

		succeeded++
		recovered = append(recovered, contacts...)
		if err := env.Store.RemoveDLQ(ctx, entry.ID); err != nil {
			zap.L().Warn("dlq: remove failed", zap.String("company", entry.Company), zap.Error(err))
		}
		cp.MarkCompleted(entry.Company)
		cp.RequestsThisHour += entryRequests
		if err := cp.Save(cfg.Campaign.CheckpointPath); err != nil {
			zap.L().Warn("dlq: checkpoint save failed", zap.Error(err))
		}
	}

	if len(recovered) > 0 {
		base := filepath.Join(cfg.Export.Dir, "recovered_"+time.Now().Format("20060102_150405"))
		files, err := export.Write(recovered, base, cfg.Export.MaxPerFile, format)
		if err != nil {
			return eris.Wrap(err, "export recovered contacts")
		}
		if _, err := env.Store.SaveContacts(ctx, run.ID, recovered); err != nil {
			return eris.Wrap(err, "archive recovered contacts")
		}
		zap.L().Info("dlq: recovered contacts exported", zap.Strings("files", files))
	}

	run.CompaniesDone = succeeded
	run.ContactsSourced = len(recovered)
	run.EmailsFound = countEmails(recovered)
	run.RequestsUsed = requests
	run.CreditsUsed = env.Calc.Search(requests)
	if err := env.Store.UpdateRunProgress(ctx, run); err != nil {
		zap.L().Warn("record run progress failed", zap.Error(err))
	}

	status := model.RunStatusCompleted
	if failed > 0 && succeeded == 0 {
		status = model.RunStatusFailed
	}
	if err := env.Store.FinishRun(ctx, run.ID, status, ""); err != nil {
		return eris.Wrap(err, "finish run")
	}

	zap.L().Info("dlq drain complete",
		zap.Int("succeeded", succeeded),
		zap.Int("failed", failed),
		zap.Int("contacts", len(recovered)),
	)
	return nil
}

// specForDLQEntry rebuilds the partition's query from its DLQ record.
func specForDLQEntry(personas *persona.Registry, entry resilience.DLQEntry) sourcing.QuerySpec {
	count := entry.Requested
	if count <= 0 {
		count = cfg.Campaign.PerCompany
	}
	if entry.Persona != "" {
		if p, ok := personas.Get(entry.Persona); ok {
			return sourcing.FromPersona(p, count)
		}
	}
	return sourcing.QuerySpec{Count: count}
}

// dlqRetryDelay schedules the next drain attempt: 15 minutes doubled per
// prior retry, capped at 4 hours.
func dlqRetryDelay(retryCount int) time.Duration {
	d := 15 * time.Minute
	for i := 1; i < retryCount; i++ {
		d *= 2
		if d >= 4*time.Hour {
			return 4 * time.Hour
		}
	}
	return d
}
