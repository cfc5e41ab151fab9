package campaign

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/sourcing"
)

// Config controls one campaign run.
type Config struct {
	// BatchSize is the number of companies grouped into one batch for
	// export and progress reporting. Default 25.
	BatchSize int

	// PerCompany is the contact target for each company. Default 100.
	PerCompany int

	// HourlyRequestCap is the coarse request ceiling on top of the
	// per-minute rate limiter. Default 200.
	HourlyRequestCap int

	// BatchDelay is the pause between batches. Default 5s; negative
	// disables the pause.
	BatchDelay time.Duration

	// MaxBatches caps how many batches this invocation processes.
	// Zero means all.
	MaxBatches int

	// CheckpointPath is where campaign progress is persisted.
	CheckpointPath string

	// OnBatch, when set, receives each completed batch's contacts
	// (typically for export and archival). An OnBatch failure aborts the
	// campaign; the companies in the batch remain checkpointed.
	OnBatch func(ctx context.Context, batchIndex int, contacts []model.Contact) error
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 25
	}
	if c.PerCompany <= 0 {
		c.PerCompany = 100
	}
	if c.HourlyRequestCap <= 0 {
		c.HourlyRequestCap = 200
	}
	if c.BatchDelay < 0 {
		c.BatchDelay = 0
	} else if c.BatchDelay == 0 {
		c.BatchDelay = 5 * time.Second
	}
}

// Result summarizes a campaign invocation.
type Result struct {
	CompaniesProcessed int
	CompaniesSkipped   int
	BatchesCompleted   int
	ContactsFound      int
	EmailsFound        int
	RequestsUsed       int
	CheckpointPath     string
}

// Runner executes a campaign over a company roster. Each company is one
// atomic partition: it is either fully processed and checkpointed, or
// not marked at all, so a resumed run re-attempts it from scratch.
type Runner struct {
	alloc *sourcing.Allocator
	cfg   Config
	log   *zap.Logger

	// test seams
	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a campaign runner over the given allocator.
func NewRunner(alloc *sourcing.Allocator, cfg Config) *Runner {
	cfg.applyDefaults()
	return &Runner{
		alloc:     alloc,
		cfg:       cfg,
		log:       zap.L(),
		nowFunc:   time.Now,
		sleepFunc: sleepCtx,
	}
}

// Run processes every company on the roster that the checkpoint does not
// already record as completed, in roster order. The spec carries the
// shared search criteria; its organization filter is substituted per
// company. On failure the checkpoint is persisted before the error
// propagates, and the error reports how many companies completed and
// where to resume from.
func (r *Runner) Run(ctx context.Context, spec sourcing.QuerySpec, companies []string) (*Result, error) {
	cp, err := LoadCheckpoint(r.cfg.CheckpointPath)
	if err != nil {
		return nil, err
	}

	result := &Result{CheckpointPath: r.cfg.CheckpointPath}

	completed := cp.CompletedSet()
	remaining := make([]string, 0, len(companies))
	for _, name := range companies {
		if _, done := completed[name]; done {
			result.CompaniesSkipped++
			continue
		}
		remaining = append(remaining, name)
	}

	r.log.Info("campaign: starting",
		zap.Int("roster", len(companies)),
		zap.Int("already_completed", result.CompaniesSkipped),
		zap.Int("remaining", len(remaining)),
		zap.Int("batch_size", r.cfg.BatchSize),
		zap.Int("hourly_cap", r.cfg.HourlyRequestCap),
	)

	if len(remaining) == 0 {
		return result, nil
	}

	batches := chunk(remaining, r.cfg.BatchSize)
	if r.cfg.MaxBatches > 0 && len(batches) > r.cfg.MaxBatches {
		batches = batches[:r.cfg.MaxBatches]
	}

	for bi, batch := range batches {
		batchNumber := cp.BatchesCompleted + 1
		r.log.Info("campaign: batch starting",
			zap.Int("batch", batchNumber),
			zap.Int("companies", len(batch)),
		)

		var batchContacts []model.Contact
		for _, company := range batch {
			if err := r.waitHourly(ctx, cp); err != nil {
				return result, r.abort(cp, result, err)
			}

			sub := spec
			sub.Count = r.cfg.PerCompany
			contacts, requests, err := r.alloc.Collect(ctx, sub, nil, []string{company})
			cp.RequestsThisHour += requests
			result.RequestsUsed += requests
			if err != nil {
				return result, r.abort(cp, result, err)
			}

			cp.MarkCompleted(company)
			now := r.nowFunc()
			cp.LastRunTime = &now
			if err := cp.Save(r.cfg.CheckpointPath); err != nil {
				return result, r.abort(cp, result, err)
			}

			result.CompaniesProcessed++
			result.ContactsFound += len(contacts)
			for _, c := range contacts {
				if c.HasEmail() {
					result.EmailsFound++
				}
			}
			batchContacts = append(batchContacts, contacts...)
		}

		cp.LastBatchIndex = batchNumber
		cp.BatchesCompleted = batchNumber
		if err := cp.Save(r.cfg.CheckpointPath); err != nil {
			return result, r.abort(cp, result, err)
		}
		result.BatchesCompleted++

		if r.cfg.OnBatch != nil && len(batchContacts) > 0 {
			if err := r.cfg.OnBatch(ctx, batchNumber, batchContacts); err != nil {
				return result, r.abort(cp, result, eris.Wrapf(err, "campaign: batch %d delivery", batchNumber))
			}
		}

		r.log.Info("campaign: batch completed",
			zap.Int("batch", batchNumber),
			zap.Int("contacts", len(batchContacts)),
			zap.Int("total_processed", cp.TotalProcessed),
		)

		if bi < len(batches)-1 && r.cfg.BatchDelay > 0 {
			if err := r.sleepFunc(ctx, r.cfg.BatchDelay); err != nil {
				return result, r.abort(cp, result, err)
			}
		}
	}

	r.log.Info("campaign: complete",
		zap.Int("companies", result.CompaniesProcessed),
		zap.Int("batches", result.BatchesCompleted),
		zap.Int("contacts", result.ContactsFound),
		zap.Int("requests", result.RequestsUsed),
	)
	return result, nil
}

// waitHourly enforces the hourly request ceiling. When the counter is at
// or above the cap, it blocks until the current hour window completes,
// then resets the counter and window start.
func (r *Runner) waitHourly(ctx context.Context, cp *Checkpoint) error {
	now := r.nowFunc()

	if cp.HourStartTime == nil {
		cp.HourStartTime = &now
		return nil
	}

	if now.Sub(*cp.HourStartTime) >= time.Hour {
		r.log.Info("campaign: hourly window elapsed, resetting counter",
			zap.Int("requests_last_hour", cp.RequestsThisHour),
		)
		cp.RequestsThisHour = 0
		cp.HourStartTime = &now
		return cp.Save(r.cfg.CheckpointPath)
	}

	if cp.RequestsThisHour >= r.cfg.HourlyRequestCap {
		wait := cp.HourStartTime.Add(time.Hour).Sub(now)
		if wait > 0 {
			r.log.Info("campaign: hourly cap reached, blocking",
				zap.Int("cap", r.cfg.HourlyRequestCap),
				zap.Duration("wait", wait),
			)
			if err := r.sleepFunc(ctx, wait); err != nil {
				return err
			}
		}
		after := r.nowFunc()
		cp.RequestsThisHour = 0
		cp.HourStartTime = &after
		return cp.Save(r.cfg.CheckpointPath)
	}

	return nil
}

// abort persists the checkpoint so the campaign can resume, then wraps
// the error with the progress made and the resume path.
func (r *Runner) abort(cp *Checkpoint, result *Result, err error) error {
	if saveErr := cp.Save(r.cfg.CheckpointPath); saveErr != nil {
		r.log.Error("campaign: checkpoint save failed during abort", zap.Error(saveErr))
	}
	return eris.Wrapf(err, "campaign: aborted after %d companies, resume from %s",
		len(cp.CompletedCompanies), r.cfg.CheckpointPath)
}

func chunk(items []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
