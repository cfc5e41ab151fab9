// Package store persists sourcing runs, the contact archive, and the
// dead letter queue. Two implementations exist: SQLite for single-user
// CLI work and Postgres for shared deployments.
package store

import (
	"context"
	"time"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/resilience"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	Kind         model.RunKind   `json:"kind,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// ContactFilter specifies criteria for querying the contact archive.
type ContactFilter struct {
	Company string `json:"company,omitempty"`
	Persona string `json:"persona,omitempty"`
	RunID   string `json:"run_id,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for the sourcing pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run model.Run) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunProgress(ctx context.Context, run *model.Run) error
	FinishRun(ctx context.Context, runID string, status model.RunStatus, runErr string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	CountRunsByStatus(ctx context.Context) (map[model.RunStatus]int, error)

	// Contact archive
	SaveContacts(ctx context.Context, runID string, contacts []model.Contact) (int, error)
	ListContacts(ctx context.Context, filter ContactFilter) ([]model.Contact, error)
	CountContacts(ctx context.Context) (int, error)

	// Dead letter queue
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error
	CountDLQ(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// mergeByIdentity collapses duplicate contacts before they reach the
// database. The upsert conflicts on identity, so a batch that carried the
// same person twice would otherwise fail; later duplicates backfill blank
// fields on the first occurrence and are then dropped.
func mergeByIdentity(contacts []model.Contact) []model.Contact {
	index := make(map[string]int, len(contacts))
	merged := make([]model.Contact, 0, len(contacts))
	for _, c := range contacts {
		key := c.Identity()
		if i, ok := index[key]; ok {
			merged[i] = backfillContact(merged[i], c)
			continue
		}
		index[key] = len(merged)
		merged = append(merged, c)
	}
	return merged
}

// backfillContact fills blank fields of dst from src. Populated fields
// never change, matching the archive's never-regress upsert.
func backfillContact(dst, src model.Contact) model.Contact {
	if dst.SourceID == "" {
		dst.SourceID = src.SourceID
	}
	if dst.FirstName == "" {
		dst.FirstName = src.FirstName
	}
	if dst.LastName == "" {
		dst.LastName = src.LastName
	}
	if dst.Email == "" {
		dst.Email = src.Email
	}
	if dst.Phone == "" {
		dst.Phone = src.Phone
	}
	if dst.Title == "" {
		dst.Title = src.Title
	}
	if dst.Location == "" {
		dst.Location = src.Location
	}
	if dst.Industry == "" {
		dst.Industry = src.Industry
	}
	if dst.Seniority == "" {
		dst.Seniority = src.Seniority
	}
	if dst.LinkedIn == "" {
		dst.LinkedIn = src.LinkedIn
	}
	if dst.Persona == "" {
		dst.Persona = src.Persona
	}
	return dst
}
