package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_Migrate_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	// Migrate already ran in newTestSQLiteStore; calling again should not error.
	err := st.Migrate(ctx)
	require.NoError(t, err)
}

func TestSQLite_ReopenPersistsData(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "persist.db")

	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))

	run, err := st.CreateRun(ctx, model.Run{Kind: model.RunKindSearch, Persona: "founder"})
	require.NoError(t, err)

	_, err = st.SaveContacts(ctx, run.ID, []model.Contact{
		{SourceID: "apollo-1", Name: "Jane Smith", Email: "jane@acme.com", Company: "Acme Corp", Title: "CEO"},
	})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	// Reopen the same file and verify everything survived.
	st2, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st2.Close() }) //nolint:errcheck
	require.NoError(t, st2.Migrate(ctx))

	fetched, err := st2.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "founder", fetched.Persona)

	contacts, err := st2.ListContacts(ctx, ContactFilter{Company: "Acme Corp"})
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "jane@acme.com", contacts[0].Email)
}

func TestSQLite_CreateRun_AssignsDistinctIDs(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	r1, err := st.CreateRun(ctx, model.Run{Kind: model.RunKindSearch})
	require.NoError(t, err)
	r2, err := st.CreateRun(ctx, model.Run{Kind: model.RunKindSearch})
	require.NoError(t, err)

	assert.NotEmpty(t, r1.ID)
	assert.NotEmpty(t, r2.ID)
	assert.NotEqual(t, r1.ID, r2.ID)
}

func TestSQLite_SaveContacts_ReassignsRunID(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run1, err := st.CreateRun(ctx, model.Run{Kind: model.RunKindSearch})
	require.NoError(t, err)
	run2, err := st.CreateRun(ctx, model.Run{Kind: model.RunKindCampaign})
	require.NoError(t, err)

	contact := model.Contact{SourceID: "apollo-7", Name: "Ken Adams", Company: "Globex", Title: "CTO"}
	_, err = st.SaveContacts(ctx, run1.ID, []model.Contact{contact})
	require.NoError(t, err)

	// Re-sourcing the same person in a later run moves them to that run.
	_, err = st.SaveContacts(ctx, run2.ID, []model.Contact{contact})
	require.NoError(t, err)

	fromRun2, err := st.ListContacts(ctx, ContactFilter{RunID: run2.ID})
	require.NoError(t, err)
	require.Len(t, fromRun2, 1)
	assert.Equal(t, "Ken Adams", fromRun2[0].Name)

	fromRun1, err := st.ListContacts(ctx, ContactFilter{RunID: run1.ID})
	require.NoError(t, err)
	assert.Empty(t, fromRun1)

	total, err := st.CountContacts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}
