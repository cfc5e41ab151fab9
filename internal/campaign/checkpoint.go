// Package campaign runs long multi-company sourcing campaigns: batched
// roster processing under an hourly request ceiling, with durable
// checkpointing so an interrupted run resumes without re-processing
// completed companies.
package campaign

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
)

// Checkpoint is the durable progress ledger for one campaign. It is
// created on first save, rewritten after every completed company, and
// never deleted; a finished campaign leaves it behind as an audit record.
type Checkpoint struct {
	LastBatchIndex     int        `json:"last_batch_index"`
	BatchesCompleted   int        `json:"batches_completed"`
	TotalProcessed     int        `json:"total_processed"`
	LastRunTime        *time.Time `json:"last_run_time"`
	RequestsThisHour   int        `json:"requests_this_hour"`
	HourStartTime      *time.Time `json:"hour_start_time"`
	CompletedCompanies []string   `json:"completed_companies"`
}

// LoadCheckpoint reads the checkpoint at path. A missing file yields a
// zeroed checkpoint, not an error; the file appears on first save.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Checkpoint{CompletedCompanies: []string{}}, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "campaign: read checkpoint %s", path)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, eris.Wrapf(err, "campaign: parse checkpoint %s", path)
	}
	if cp.CompletedCompanies == nil {
		cp.CompletedCompanies = []string{}
	}
	return &cp, nil
}

// Save writes the checkpoint durably. The file is written to a temporary
// sibling and renamed into place, so a reader never observes a partial
// checkpoint even if the process dies mid-write.
func (c *Checkpoint) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return eris.Wrap(err, "campaign: marshal checkpoint")
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return eris.Wrapf(err, "campaign: write checkpoint %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return eris.Wrapf(err, "campaign: replace checkpoint %s", path)
	}
	return nil
}

// MarkCompleted records a company as fully processed.
func (c *Checkpoint) MarkCompleted(company string) {
	c.CompletedCompanies = append(c.CompletedCompanies, company)
	c.TotalProcessed = len(c.CompletedCompanies)
}

// CompletedSet returns the completed companies as a membership set.
func (c *Checkpoint) CompletedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.CompletedCompanies))
	for _, name := range c.CompletedCompanies {
		set[name] = struct{}{}
	}
	return set
}
