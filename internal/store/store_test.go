package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-cli/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndGetRun", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, model.Run{
			Kind:           model.RunKindCampaign,
			Persona:        "founder",
			RosterPath:     "rosters/yc-w26.csv",
			PerCompany:     3,
			Requested:      150,
			CompaniesTotal: 50,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, run.ID)
		assert.Equal(t, model.RunStatusQueued, run.Status)

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, run.ID, got.ID)
		assert.Equal(t, model.RunKindCampaign, got.Kind)
		assert.Equal(t, "founder", got.Persona)
		assert.Equal(t, "rosters/yc-w26.csv", got.RosterPath)
		assert.Equal(t, 3, got.PerCompany)
		assert.Equal(t, 150, got.Requested)
		assert.Equal(t, 50, got.CompaniesTotal)
		assert.Equal(t, model.RunStatusQueued, got.Status)
		assert.Nil(t, got.FinishedAt)
	})

	t.Run("UpdateRunStatus", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, model.Run{Kind: model.RunKindSearch, Persona: "recruiter", Requested: 25})
		require.NoError(t, err)

		err = s.UpdateRunStatus(ctx, run.ID, model.RunStatusRunning)
		require.NoError(t, err)

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusRunning, got.Status)
	})

	t.Run("UpdateRunStatusNotFound", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		err := s.UpdateRunStatus(ctx, "nonexistent-id", model.RunStatusRunning)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("UpdateRunProgress", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, model.Run{Kind: model.RunKindCampaign, Requested: 100, CompaniesTotal: 20})
		require.NoError(t, err)

		run.CompaniesDone = 7
		run.ContactsSourced = 21
		run.EmailsFound = 15
		run.RequestsUsed = 34
		run.CreditsUsed = 55.5
		err = s.UpdateRunProgress(ctx, run)
		require.NoError(t, err)

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, 7, got.CompaniesDone)
		assert.Equal(t, 21, got.ContactsSourced)
		assert.Equal(t, 15, got.EmailsFound)
		assert.Equal(t, 34, got.RequestsUsed)
		assert.InDelta(t, 55.5, got.CreditsUsed, 0.001)
	})

	t.Run("UpdateRunProgressNotFound", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		err := s.UpdateRunProgress(ctx, &model.Run{ID: "nonexistent-id", CompaniesDone: 1})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("FinishRun", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, model.Run{Kind: model.RunKindSearch, Requested: 25})
		require.NoError(t, err)

		err = s.FinishRun(ctx, run.ID, model.RunStatusCompleted, "")
		require.NoError(t, err)

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusCompleted, got.Status)
		assert.Empty(t, got.Error)
		require.NotNil(t, got.FinishedAt)
	})

	t.Run("FinishRunFailed", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, model.Run{Kind: model.RunKindCampaign, Requested: 100})
		require.NoError(t, err)

		err = s.FinishRun(ctx, run.ID, model.RunStatusFailed, "people search unavailable: 503")
		require.NoError(t, err)

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusFailed, got.Status)
		assert.Contains(t, got.Error, "503")
		require.NotNil(t, got.FinishedAt)
	})

	t.Run("FinishRunNotFound", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		err := s.FinishRun(ctx, "nonexistent-id", model.RunStatusCompleted, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("ListRuns", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.CreateRun(ctx, model.Run{Kind: model.RunKindSearch, Requested: 25})
		require.NoError(t, err)
		run2, err := s.CreateRun(ctx, model.Run{Kind: model.RunKindCampaign, Requested: 100})
		require.NoError(t, err)
		err = s.UpdateRunStatus(ctx, run2.ID, model.RunStatusRunning)
		require.NoError(t, err)

		all, err := s.ListRuns(ctx, RunFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		queued, err := s.ListRuns(ctx, RunFilter{Status: model.RunStatusQueued})
		require.NoError(t, err)
		require.Len(t, queued, 1)
		assert.Equal(t, model.RunKindSearch, queued[0].Kind)

		campaigns, err := s.ListRuns(ctx, RunFilter{Kind: model.RunKindCampaign})
		require.NoError(t, err)
		require.Len(t, campaigns, 1)
		assert.Equal(t, run2.ID, campaigns[0].ID)

		limited, err := s.ListRuns(ctx, RunFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("ListRuns_WithOffset", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			_, err := s.CreateRun(ctx, model.Run{Kind: model.RunKindSearch, Requested: 25})
			require.NoError(t, err)
		}

		paged, err := s.ListRuns(ctx, RunFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Len(t, paged, 1)
	})

	t.Run("ListRuns_CreatedAfter", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.CreateRun(ctx, model.Run{Kind: model.RunKindSearch, Requested: 25})
		require.NoError(t, err)

		recent, err := s.ListRuns(ctx, RunFilter{CreatedAfter: time.Now().Add(-time.Hour)})
		require.NoError(t, err)
		assert.Len(t, recent, 1)

		future, err := s.ListRuns(ctx, RunFilter{CreatedAfter: time.Now().Add(time.Hour)})
		require.NoError(t, err)
		assert.Empty(t, future)
	})

	t.Run("ListRuns_Empty", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		runs, err := s.ListRuns(ctx, RunFilter{})
		require.NoError(t, err)
		assert.Empty(t, runs)
	})

	t.Run("GetRun_NotFound", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.GetRun(ctx, "nonexistent")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("CountRunsByStatus", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run1, err := s.CreateRun(ctx, model.Run{Kind: model.RunKindSearch, Requested: 25})
		require.NoError(t, err)
		_, err = s.CreateRun(ctx, model.Run{Kind: model.RunKindSearch, Requested: 25})
		require.NoError(t, err)
		require.NoError(t, s.FinishRun(ctx, run1.ID, model.RunStatusCompleted, ""))

		counts, err := s.CountRunsByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, counts[model.RunStatusQueued])
		assert.Equal(t, 1, counts[model.RunStatusCompleted])
	})

	t.Run("SaveAndListContacts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, model.Run{Kind: model.RunKindSearch, Requested: 25})
		require.NoError(t, err)

		n, err := s.SaveContacts(ctx, run.ID, []model.Contact{
			{SourceID: "apollo-1", Name: "Jane Smith", Company: "Acme Corp", Title: "CEO", Email: "jane@acme.com", Persona: "founder"},
			{SourceID: "apollo-2", Name: "Raj Patel", Company: "Globex", Title: "CTO", Persona: "founder"},
			{Name: "Ana Lima", Company: "Initech", Title: "VP Engineering", Persona: "engineering"},
		})
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		all, err := s.ListContacts(ctx, ContactFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		acme, err := s.ListContacts(ctx, ContactFilter{Company: "Acme Corp"})
		require.NoError(t, err)
		require.Len(t, acme, 1)
		assert.Equal(t, "Jane Smith", acme[0].Name)
		assert.Equal(t, "jane@acme.com", acme[0].Email)

		founders, err := s.ListContacts(ctx, ContactFilter{Persona: "founder"})
		require.NoError(t, err)
		assert.Len(t, founders, 2)

		byRun, err := s.ListContacts(ctx, ContactFilter{RunID: run.ID})
		require.NoError(t, err)
		assert.Len(t, byRun, 3)
	})

	t.Run("SaveContacts_Empty", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		n, err := s.SaveContacts(ctx, "run-1", nil)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("SaveContacts_BlankNeverOverwrites", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, model.Run{Kind: model.RunKindSearch, Requested: 25})
		require.NoError(t, err)

		_, err = s.SaveContacts(ctx, run.ID, []model.Contact{
			{SourceID: "apollo-1", Name: "Jane Smith", Company: "Acme Corp", Email: "jane@acme.com", Title: "CEO"},
		})
		require.NoError(t, err)

		// Re-source the same person without enrichment data.
		_, err = s.SaveContacts(ctx, run.ID, []model.Contact{
			{SourceID: "apollo-1", Name: "Jane Smith", Company: "Acme Corp"},
		})
		require.NoError(t, err)

		got, err := s.ListContacts(ctx, ContactFilter{Company: "Acme Corp"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "jane@acme.com", got[0].Email)
		assert.Equal(t, "CEO", got[0].Title)
	})

	t.Run("SaveContacts_NewValueReplaces", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, model.Run{Kind: model.RunKindSearch, Requested: 25})
		require.NoError(t, err)

		_, err = s.SaveContacts(ctx, run.ID, []model.Contact{
			{SourceID: "apollo-1", Name: "Jane Smith", Company: "Acme Corp", Title: "VP Sales"},
		})
		require.NoError(t, err)

		_, err = s.SaveContacts(ctx, run.ID, []model.Contact{
			{SourceID: "apollo-1", Name: "Jane Smith", Company: "Acme Corp", Title: "CRO", Email: "jane@acme.com"},
		})
		require.NoError(t, err)

		got, err := s.ListContacts(ctx, ContactFilter{Company: "Acme Corp"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "CRO", got[0].Title)
		assert.Equal(t, "jane@acme.com", got[0].Email)
	})

	t.Run("SaveContacts_MergesDuplicateIdentity", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, model.Run{Kind: model.RunKindSearch, Requested: 25})
		require.NoError(t, err)

		// Same identity twice in one batch must not break the upsert.
		n, err := s.SaveContacts(ctx, run.ID, []model.Contact{
			{Name: "Jane Smith", Company: "Acme Corp", Title: "CEO"},
			{Name: "Jane Smith", Company: "Acme Corp", Email: "jane@acme.com"},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := s.ListContacts(ctx, ContactFilter{Company: "Acme Corp"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "CEO", got[0].Title)
		assert.Equal(t, "jane@acme.com", got[0].Email)
	})

	t.Run("CountContacts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, model.Run{Kind: model.RunKindSearch, Requested: 25})
		require.NoError(t, err)

		count, err := s.CountContacts(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, count)

		_, err = s.SaveContacts(ctx, run.ID, []model.Contact{
			{Name: "Jane Smith", Company: "Acme Corp"},
			{Name: "Raj Patel", Company: "Globex"},
		})
		require.NoError(t, err)

		count, err = s.CountContacts(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}

func TestMergeByIdentity(t *testing.T) {
	merged := mergeByIdentity([]model.Contact{
		{Name: "Jane Smith", Company: "Acme Corp", Title: "CEO"},
		{Name: "Raj Patel", Company: "Globex"},
		{Name: "Jane Smith", Company: "Acme Corp", Email: "jane@acme.com"},
	})
	require.Len(t, merged, 2)
	assert.Equal(t, "Jane Smith", merged[0].Name)
	assert.Equal(t, "CEO", merged[0].Title)
	assert.Equal(t, "jane@acme.com", merged[0].Email)
	assert.Equal(t, "Raj Patel", merged[1].Name)
}

func TestMergeByIdentity_SourceIDWins(t *testing.T) {
	// Same source ID with different display names is still one person.
	merged := mergeByIdentity([]model.Contact{
		{SourceID: "apollo-1", Name: "Jane Smith", Company: "Acme Corp"},
		{SourceID: "apollo-1", Name: "Jane A. Smith", Company: "Acme Corp", Phone: "+1 555 0100"},
	})
	require.Len(t, merged, 1)
	assert.Equal(t, "Jane Smith", merged[0].Name)
	assert.Equal(t, "+1 555 0100", merged[0].Phone)
}

func TestBackfillContact_PreservesPopulated(t *testing.T) {
	dst := model.Contact{Name: "Jane Smith", Company: "Acme Corp", Email: "jane@acme.com", Title: "CEO"}
	src := model.Contact{Name: "Jane Smith", Company: "Acme Corp", Email: "other@acme.com", Phone: "+1 555 0100", Seniority: "c_suite"}

	out := backfillContact(dst, src)
	assert.Equal(t, "jane@acme.com", out.Email, "populated email must not change")
	assert.Equal(t, "CEO", out.Title)
	assert.Equal(t, "+1 555 0100", out.Phone, "blank phone is filled")
	assert.Equal(t, "c_suite", out.Seniority)
}
