package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-cli/internal/campaign"
	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal       int     `json:"runs_total"`
	RunsCompleted   int     `json:"runs_completed"`
	RunsFailed      int     `json:"runs_failed"`
	RunsRunning     int     `json:"runs_running"`
	RunsInterrupted int     `json:"runs_interrupted"`
	RunFailRate     float64 `json:"run_fail_rate"`

	// Usage accumulated by runs within the window.
	ContactsSourced int     `json:"contacts_sourced"`
	EmailsFound     int     `json:"emails_found"`
	RequestsUsed    int     `json:"requests_used"`
	CreditsUsed     float64 `json:"credits_used"`

	// Archive and DLQ depth (all time).
	ContactsArchived int `json:"contacts_archived"`
	DLQDepth         int `json:"dlq_depth"`

	// Live campaign state from the checkpoint.
	CompaniesCompleted int     `json:"companies_completed"`
	HourlyRequestsUsed int     `json:"hourly_requests_used"`
	HourlyRequestCap   int     `json:"hourly_request_cap"`
	HourlyUtilization  float64 `json:"hourly_utilization"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// CheckpointSource yields the live campaign checkpoint, if any.
type CheckpointSource interface {
	Load() (*campaign.Checkpoint, error)
}

// FileCheckpoint reads the checkpoint at a fixed path. A missing file
// reads as a zeroed checkpoint.
type FileCheckpoint string

func (p FileCheckpoint) Load() (*campaign.Checkpoint, error) {
	return campaign.LoadCheckpoint(string(p))
}

// Collector gathers metrics from the store and the campaign checkpoint.
type Collector struct {
	store      store.Store
	checkpoint CheckpointSource
	hourlyCap  int
}

// NewCollector creates a new metrics collector. checkpoint may be nil
// when no campaign state is available.
func NewCollector(st store.Store, checkpoint CheckpointSource, hourlyCap int) *Collector {
	return &Collector{store: st, checkpoint: checkpoint, hourlyCap: hourlyCap}
}

// Collect gathers a snapshot of pipeline metrics over the given lookback
// window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := snap.CollectedAt.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		CreatedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusCompleted:
			snap.RunsCompleted++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusRunning:
			snap.RunsRunning++
		case model.RunStatusInterrupted:
			snap.RunsInterrupted++
		}
		snap.ContactsSourced += r.ContactsSourced
		snap.EmailsFound += r.EmailsFound
		snap.RequestsUsed += r.RequestsUsed
		snap.CreditsUsed += r.CreditsUsed
	}

	// Interrupted runs are resumable, so only completed and failed count
	// as finished for the failure rate.
	finished := snap.RunsCompleted + snap.RunsFailed
	if finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}

	archived, err := c.store.CountContacts(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count contacts")
	}
	snap.ContactsArchived = archived

	dlqCount, err := c.store.CountDLQ(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count dlq")
	}
	snap.DLQDepth = dlqCount

	if c.checkpoint != nil {
		cp, err := c.checkpoint.Load()
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: load checkpoint")
		}
		snap.CompaniesCompleted = cp.TotalProcessed
		snap.HourlyRequestCap = c.hourlyCap
		// The runner resets the hourly counter lazily, so a stale window
		// reads as zero utilization.
		if cp.HourStartTime != nil && snap.CollectedAt.Sub(*cp.HourStartTime) < time.Hour {
			snap.HourlyRequestsUsed = cp.RequestsThisHour
		}
		if c.hourlyCap > 0 {
			snap.HourlyUtilization = float64(snap.HourlyRequestsUsed) / float64(c.hourlyCap)
		}
	}

	return snap, nil
}
