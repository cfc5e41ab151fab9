package model

import "time"

// RunStatus represents the current state of a sourcing run.
type RunStatus string

const (
	RunStatusQueued      RunStatus = "queued"
	RunStatusRunning     RunStatus = "running"
	RunStatusCompleted   RunStatus = "completed"
	RunStatusInterrupted RunStatus = "interrupted"
	RunStatusFailed      RunStatus = "failed"
)

// Run represents one sourcing run: a one-off search or a full roster
// campaign. Counters accumulate as partitions complete.
type Run struct {
	ID              string     `json:"id"`
	Kind            RunKind    `json:"kind"`
	Persona         string     `json:"persona,omitempty"`
	RosterPath      string     `json:"roster_path,omitempty"`
	PerCompany      int        `json:"per_company,omitempty"`
	Requested       int        `json:"requested"`
	Status          RunStatus  `json:"status"`
	CompaniesTotal  int        `json:"companies_total"`
	CompaniesDone   int        `json:"companies_done"`
	ContactsSourced int        `json:"contacts_sourced"`
	EmailsFound     int        `json:"emails_found"`
	RequestsUsed    int        `json:"requests_used"`
	CreditsUsed     float64    `json:"credits_used"`
	Error           string     `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// RunKind distinguishes one-off searches, roster campaigns, and
// spreadsheet enrichment passes.
type RunKind string

const (
	RunKindSearch   RunKind = "search"
	RunKindCampaign RunKind = "campaign"
	RunKindEnrich   RunKind = "enrich"
)
