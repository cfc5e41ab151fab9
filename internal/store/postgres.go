package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-cli/internal/db"
	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_run": `INSERT INTO runs
		 (id, kind, persona, roster_path, per_company, requested, status,
		  companies_total, companies_done, contacts_sourced, emails_found,
		  requests_used, credits_used, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
	"update_run_status": `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"update_run_progress": `UPDATE runs SET companies_total = $1, companies_done = $2, contacts_sourced = $3,
		 emails_found = $4, requests_used = $5, credits_used = $6, updated_at = $7
		 WHERE id = $8`,
	"finish_run": `UPDATE runs SET status = $1, error = $2, finished_at = $3, updated_at = $4 WHERE id = $5`,
	"get_run": `SELECT id, kind, persona, roster_path, per_company, requested, status,
		 companies_total, companies_done, contacts_sourced, emails_found,
		 requests_used, credits_used, error, created_at, updated_at, finished_at
		 FROM runs WHERE id = $1`,
	"remove_dlq": `DELETE FROM dead_letter_queue WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	kind             TEXT NOT NULL,
	persona          TEXT NOT NULL DEFAULT '',
	roster_path      TEXT NOT NULL DEFAULT '',
	per_company      INTEGER NOT NULL DEFAULT 0,
	requested        INTEGER NOT NULL DEFAULT 0,
	status           TEXT NOT NULL DEFAULT 'queued',
	companies_total  INTEGER NOT NULL DEFAULT 0,
	companies_done   INTEGER NOT NULL DEFAULT 0,
	contacts_sourced INTEGER NOT NULL DEFAULT 0,
	emails_found     INTEGER NOT NULL DEFAULT 0,
	requests_used    INTEGER NOT NULL DEFAULT 0,
	credits_used     DOUBLE PRECISION NOT NULL DEFAULT 0,
	error            TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at      TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS contacts (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id       TEXT NOT NULL REFERENCES runs(id),
	identity     TEXT NOT NULL UNIQUE,
	source_id    TEXT NOT NULL DEFAULT '',
	name         TEXT NOT NULL,
	first_name   TEXT NOT NULL DEFAULT '',
	last_name    TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	phone        TEXT NOT NULL DEFAULT '',
	company      TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	location     TEXT NOT NULL DEFAULT '',
	industry     TEXT NOT NULL DEFAULT '',
	seniority    TEXT NOT NULL DEFAULT '',
	linkedin_url TEXT NOT NULL DEFAULT '',
	persona      TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	company        TEXT NOT NULL,
	persona        TEXT NOT NULL DEFAULT '',
	requested      INTEGER NOT NULL DEFAULT 0,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_kind ON runs(kind);
CREATE INDEX IF NOT EXISTS idx_contacts_run_id ON contacts(run_id);
CREATE INDEX IF NOT EXISTS idx_contacts_company ON contacts(company);
CREATE INDEX IF NOT EXISTS idx_contacts_persona ON contacts(persona);
CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run model.Run) (*model.Run, error) {
	run.ID = uuid.New().String()
	if run.Status == "" {
		run.Status = model.RunStatusQueued
	}
	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs
		 (id, kind, persona, roster_path, per_company, requested, status,
		  companies_total, companies_done, contacts_sourced, emails_found,
		  requests_used, credits_used, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		run.ID, string(run.Kind), run.Persona, run.RosterPath, run.PerCompany,
		run.Requested, string(run.Status), run.CompaniesTotal, run.CompaniesDone,
		run.ContactsSourced, run.EmailsFound, run.RequestsUsed, run.CreditsUsed,
		run.Error, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return &run, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunProgress(ctx context.Context, run *model.Run) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET companies_total = $1, companies_done = $2, contacts_sourced = $3,
		 emails_found = $4, requests_used = $5, credits_used = $6, updated_at = $7
		 WHERE id = $8`,
		run.CompaniesTotal, run.CompaniesDone, run.ContactsSourced,
		run.EmailsFound, run.RequestsUsed, run.CreditsUsed, time.Now().UTC(), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run progress %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, runErr string) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, finished_at = $3, updated_at = $4 WHERE id = $5`,
		string(status), runErr, now, now, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var finishedAt *time.Time

	err := s.pool.QueryRow(ctx,
		`SELECT id, kind, persona, roster_path, per_company, requested, status,
		 companies_total, companies_done, contacts_sourced, emails_found,
		 requests_used, credits_used, error, created_at, updated_at, finished_at
		 FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.Kind, &r.Persona, &r.RosterPath, &r.PerCompany, &r.Requested, &r.Status,
		&r.CompaniesTotal, &r.CompaniesDone, &r.ContactsSourced, &r.EmailsFound,
		&r.RequestsUsed, &r.CreditsUsed, &r.Error, &r.CreatedAt, &r.UpdatedAt, &finishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("run not found: %s", runID)
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	r.FinishedAt = finishedAt
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, kind, persona, roster_path, per_company, requested, status,
	 companies_total, companies_done, contacts_sourced, emails_found,
	 requests_used, credits_used, error, created_at, updated_at, finished_at
	 FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Kind != "" {
		query += fmt.Sprintf(` AND kind = $%d`, argIdx)
		args = append(args, string(filter.Kind))
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.CreatedAfter.UTC())
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var finishedAt *time.Time
		if err := rows.Scan(&r.ID, &r.Kind, &r.Persona, &r.RosterPath, &r.PerCompany, &r.Requested, &r.Status,
			&r.CompaniesTotal, &r.CompaniesDone, &r.ContactsSourced, &r.EmailsFound,
			&r.RequestsUsed, &r.CreditsUsed, &r.Error, &r.CreatedAt, &r.UpdatedAt, &finishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.FinishedAt = finishedAt
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) CountRunsByStatus(ctx context.Context) (map[model.RunStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM runs GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count runs by status")
	}
	defer rows.Close()

	counts := make(map[model.RunStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run count")
		}
		counts[model.RunStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count runs iterate")
}

// contactColumns is the COPY column order for the contact archive upsert.
var contactColumns = []string{
	"id", "run_id", "identity", "source_id", "name", "first_name", "last_name",
	"email", "phone", "company", "title", "location", "industry", "seniority",
	"linkedin_url", "persona", "created_at", "updated_at",
}

// contactUpdateExprs keeps archived values when the incoming field is blank.
var contactUpdateExprs = map[string]string{
	"source_id":    "COALESCE(NULLIF(EXCLUDED.source_id, ''), contacts.source_id)",
	"first_name":   "COALESCE(NULLIF(EXCLUDED.first_name, ''), contacts.first_name)",
	"last_name":    "COALESCE(NULLIF(EXCLUDED.last_name, ''), contacts.last_name)",
	"email":        "COALESCE(NULLIF(EXCLUDED.email, ''), contacts.email)",
	"phone":        "COALESCE(NULLIF(EXCLUDED.phone, ''), contacts.phone)",
	"title":        "COALESCE(NULLIF(EXCLUDED.title, ''), contacts.title)",
	"location":     "COALESCE(NULLIF(EXCLUDED.location, ''), contacts.location)",
	"industry":     "COALESCE(NULLIF(EXCLUDED.industry, ''), contacts.industry)",
	"seniority":    "COALESCE(NULLIF(EXCLUDED.seniority, ''), contacts.seniority)",
	"linkedin_url": "COALESCE(NULLIF(EXCLUDED.linkedin_url, ''), contacts.linkedin_url)",
	"persona":      "COALESCE(NULLIF(EXCLUDED.persona, ''), contacts.persona)",
}

// SaveContacts upserts contacts into the archive keyed on identity, using
// COPY into a temp table for the batch. Blank incoming fields never
// overwrite archived values.
func (s *PostgresStore) SaveContacts(ctx context.Context, runID string, contacts []model.Contact) (int, error) {
	if len(contacts) == 0 {
		return 0, nil
	}
	merged := mergeByIdentity(contacts)
	now := time.Now().UTC()

	rows := make([][]any, 0, len(merged))
	for _, c := range merged {
		rows = append(rows, []any{
			uuid.New().String(), runID, c.Identity(), c.SourceID, c.Name, c.FirstName, c.LastName,
			c.Email, c.Phone, c.Company, c.Title, c.Location, c.Industry, c.Seniority,
			c.LinkedIn, c.Persona, now, now,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "contacts",
		Columns:      contactColumns,
		ConflictKeys: []string{"identity"},
		UpdateCols: []string{
			"run_id", "source_id", "name", "first_name", "last_name", "email", "phone",
			"company", "title", "location", "industry", "seniority", "linkedin_url",
			"persona", "updated_at",
		},
		UpdateExprs: contactUpdateExprs,
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: save contacts")
	}
	return int(n), nil
}

func (s *PostgresStore) ListContacts(ctx context.Context, filter ContactFilter) ([]model.Contact, error) {
	query := `SELECT source_id, name, first_name, last_name, email, phone, company,
	 title, location, industry, seniority, linkedin_url, persona
	 FROM contacts WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Company != "" {
		query += fmt.Sprintf(` AND company = $%d`, argIdx)
		args = append(args, filter.Company)
		argIdx++
	}
	if filter.Persona != "" {
		query += fmt.Sprintf(` AND persona = $%d`, argIdx)
		args = append(args, filter.Persona)
		argIdx++
	}
	if filter.RunID != "" {
		query += fmt.Sprintf(` AND run_id = $%d`, argIdx)
		args = append(args, filter.RunID)
		argIdx++
	}
	query += ` ORDER BY company, name`

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list contacts")
	}
	defer rows.Close()

	var contacts []model.Contact
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(&c.SourceID, &c.Name, &c.FirstName, &c.LastName, &c.Email, &c.Phone,
			&c.Company, &c.Title, &c.Location, &c.Industry, &c.Seniority, &c.LinkedIn, &c.Persona); err != nil {
			return nil, eris.Wrap(err, "postgres: scan contact")
		}
		contacts = append(contacts, c)
	}
	return contacts, eris.Wrap(rows.Err(), "postgres: list contacts iterate")
}

func (s *PostgresStore) CountContacts(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM contacts`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count contacts")
}

// Dead letter queue methods

func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue
		 (id, company, persona, requested, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
		   error = $5, error_type = $6, retry_count = $7,
		   next_retry_at = $9, last_failed_at = $11`,
		entry.ID, entry.Company, entry.Persona, entry.Requested, entry.Error, entry.ErrorType,
		entry.RetryCount, entry.MaxRetries, entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "postgres: enqueue dlq")
}

func (s *PostgresStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, company, persona, requested, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM dead_letter_queue
	          WHERE next_retry_at <= now() AND retry_count < max_retries`
	args := []any{}
	argIdx := 1

	if filter.ErrorType != "" {
		query += fmt.Sprintf(` AND error_type = $%d`, argIdx)
		args = append(args, filter.ErrorType)
		argIdx++
	}

	query += ` ORDER BY next_retry_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: dequeue dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		if err := rows.Scan(&e.ID, &e.Company, &e.Persona, &e.Requested, &e.Error, &e.ErrorType,
			&e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: dequeue dlq iterate")
}

func (s *PostgresStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE dead_letter_queue
		 SET retry_count = retry_count + 1, next_retry_at = $1, error = $2, last_failed_at = now()
		 WHERE id = $3`,
		nextRetryAt, lastErr, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment dlq retry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("dlq_entry not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE id = $1`, id)
	return eris.Wrap(err, "postgres: remove dlq")
}

func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dlq")
}
