package campaign

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/resilience"
	"github.com/sells-group/prospect-cli/internal/sourcing"
	"github.com/sells-group/prospect-cli/pkg/apollo"
)

// scriptedSource serves one full page per company and counts how often
// each company is searched.
type scriptedSource struct {
	mu       sync.Mutex
	searches map[string]int
	fail     map[string]bool
}

func newScriptedSource() *scriptedSource {
	return &scriptedSource{
		searches: make(map[string]int),
		fail:     make(map[string]bool),
	}
}

func (s *scriptedSource) SearchPeople(_ context.Context, req apollo.SearchRequest) (*apollo.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.searches[req.OrganizationName]++
	if s.fail[req.OrganizationName] {
		return nil, &apollo.APIError{StatusCode: 503, Body: "unavailable"}
	}

	people := make([]apollo.Person, req.PerPage)
	for i := range people {
		people[i] = apollo.Person{
			ID:   fmt.Sprintf("%s-%d-%d", req.OrganizationName, req.Page, i),
			Name: fmt.Sprintf("Person %d", i),
			Organization: &apollo.Organization{
				Name: req.OrganizationName,
			},
		}
		if i%2 == 0 {
			people[i].Email = fmt.Sprintf("person%d@example.com", i)
		}
	}
	return &apollo.SearchResult{People: people}, nil
}

func (s *scriptedSource) MatchPerson(_ context.Context, _ apollo.MatchRequest) (*apollo.Person, error) {
	return nil, nil
}

func (s *scriptedSource) Health(_ context.Context) error { return nil }

func (s *scriptedSource) count(company string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searches[company]
}

// testClock drives the runner's time seams: sleeps advance the clock
// instead of blocking.
type testClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func newTestRunner(t *testing.T, src apollo.Client, cfg Config) (*Runner, *testClock) {
	t.Helper()

	if cfg.CheckpointPath == "" {
		cfg.CheckpointPath = filepath.Join(t.TempDir(), "progress.json")
	}
	if cfg.BatchDelay == 0 {
		cfg.BatchDelay = -1 // keep tests free of incidental sleeps
	}

	alloc := sourcing.NewAllocator(sourcing.NewPager(src), sourcing.WithPartitionDelay(0))
	r := NewRunner(alloc, cfg)

	clk := &testClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	r.nowFunc = clk.Now
	r.sleepFunc = clk.Sleep
	return r, clk
}

func rosterOf(n int) []string {
	companies := make([]string, n)
	for i := range companies {
		companies[i] = fmt.Sprintf("Company %03d", i)
	}
	return companies
}

func TestRunner_ProcessesRoster(t *testing.T) {
	t.Parallel()

	src := newScriptedSource()
	runner, _ := newTestRunner(t, src, Config{PerCompany: 10})

	result, err := runner.Run(context.Background(), sourcing.QuerySpec{Persona: "Startup Career Fair"}, rosterOf(5))
	require.NoError(t, err)

	assert.Equal(t, 5, result.CompaniesProcessed)
	assert.Zero(t, result.CompaniesSkipped)
	assert.Equal(t, 1, result.BatchesCompleted)
	assert.Equal(t, 50, result.ContactsFound)
	assert.Equal(t, 25, result.EmailsFound)
	assert.Equal(t, 5, result.RequestsUsed)

	cp, err := LoadCheckpoint(result.CheckpointPath)
	require.NoError(t, err)
	assert.Len(t, cp.CompletedCompanies, 5)
	assert.Equal(t, 1, cp.BatchesCompleted)
	assert.Equal(t, 1, cp.LastBatchIndex)
	assert.Equal(t, 5, cp.TotalProcessed)
	assert.NotNil(t, cp.LastRunTime)
}

func TestRunner_IdempotentResume(t *testing.T) {
	t.Parallel()

	src := newScriptedSource()
	path := filepath.Join(t.TempDir(), "progress.json")
	roster := rosterOf(25)
	spec := sourcing.QuerySpec{Persona: "Startup Career Fair"}

	first, _ := newTestRunner(t, src, Config{PerCompany: 4, CheckpointPath: path})
	r1, err := first.Run(context.Background(), spec, roster)
	require.NoError(t, err)
	assert.Equal(t, 25, r1.CompaniesProcessed)

	second, _ := newTestRunner(t, src, Config{PerCompany: 4, CheckpointPath: path})
	r2, err := second.Run(context.Background(), spec, roster)
	require.NoError(t, err)

	assert.Zero(t, r2.CompaniesProcessed, "second run reprocesses nothing")
	assert.Equal(t, 25, r2.CompaniesSkipped)
	assert.Zero(t, r2.RequestsUsed)

	for _, company := range roster {
		assert.Equal(t, 1, src.count(company), "%s searched exactly once across both runs", company)
	}
}

func TestRunner_HourlyCapBlocksUntilWindowCompletes(t *testing.T) {
	t.Parallel()

	src := newScriptedSource()
	runner, clk := newTestRunner(t, src, Config{
		PerCompany:       10,
		HourlyRequestCap: 200,
	})

	// 250 companies at one request each: the cap bites after request 200.
	result, err := runner.Run(context.Background(), sourcing.QuerySpec{}, rosterOf(250))
	require.NoError(t, err)

	assert.Equal(t, 250, result.CompaniesProcessed)
	assert.Equal(t, 250, result.RequestsUsed)

	// Exactly one block, for the remainder of the hour window. No time
	// passed between requests, so the wait is the full hour.
	require.Len(t, clk.sleeps, 1)
	assert.Equal(t, time.Hour, clk.sleeps[0])

	cp, err := LoadCheckpoint(result.CheckpointPath)
	require.NoError(t, err)
	assert.Equal(t, 50, cp.RequestsThisHour, "counter reset at the window, then counted the remainder")
}

func TestRunner_HourlyWindowElapsedResetsWithoutBlocking(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "progress.json")
	stale := time.Date(2026, 3, 14, 6, 0, 0, 0, time.UTC)
	cp := &Checkpoint{RequestsThisHour: 199, HourStartTime: &stale, CompletedCompanies: []string{}}
	require.NoError(t, cp.Save(path))

	src := newScriptedSource()
	runner, clk := newTestRunner(t, src, Config{PerCompany: 5, HourlyRequestCap: 200, CheckpointPath: path})

	result, err := runner.Run(context.Background(), sourcing.QuerySpec{}, rosterOf(3))
	require.NoError(t, err)

	assert.Equal(t, 3, result.CompaniesProcessed)
	assert.Empty(t, clk.sleeps, "stale window resets the counter instead of blocking")

	got, err := LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, 3, got.RequestsThisHour)
}

func TestRunner_PartitionAtomicityOnFailure(t *testing.T) {
	t.Parallel()

	src := newScriptedSource()
	src.fail["Company 001"] = true
	path := filepath.Join(t.TempDir(), "progress.json")
	roster := rosterOf(3)

	runner, _ := newTestRunner(t, src, Config{PerCompany: 5, CheckpointPath: path})
	result, err := runner.Run(context.Background(), sourcing.QuerySpec{}, roster)

	require.Error(t, err)
	assert.Equal(t, 1, result.CompaniesProcessed)

	var srcErr *resilience.SourceError
	require.True(t, errors.As(err, &srcErr))
	assert.Contains(t, err.Error(), "aborted after 1 companies")
	assert.Contains(t, err.Error(), path)

	cp, loadErr := LoadCheckpoint(path)
	require.NoError(t, loadErr)
	assert.Equal(t, []string{"Company 000"}, cp.CompletedCompanies,
		"failed partition never marked completed")

	// Recovery: the source comes back, and a resumed run re-attempts the
	// failed company from scratch.
	src.fail["Company 001"] = false
	resumed, _ := newTestRunner(t, src, Config{PerCompany: 5, CheckpointPath: path})
	r2, err := resumed.Run(context.Background(), sourcing.QuerySpec{}, roster)
	require.NoError(t, err)

	assert.Equal(t, 2, r2.CompaniesProcessed)
	assert.Equal(t, 1, r2.CompaniesSkipped)
	assert.Equal(t, 1, src.count("Company 000"))
	assert.Equal(t, 2, src.count("Company 001"), "one failed attempt, one successful")
	assert.Equal(t, 1, src.count("Company 002"))
}

func TestRunner_BatchDelivery(t *testing.T) {
	t.Parallel()

	src := newScriptedSource()

	var mu sync.Mutex
	var batchIndexes []int
	var batchSizes []int

	runner, _ := newTestRunner(t, src, Config{
		PerCompany: 2,
		BatchSize:  25,
		OnBatch: func(_ context.Context, batchIndex int, contacts []model.Contact) error {
			mu.Lock()
			defer mu.Unlock()
			batchIndexes = append(batchIndexes, batchIndex)
			batchSizes = append(batchSizes, len(contacts))
			return nil
		},
	})

	result, err := runner.Run(context.Background(), sourcing.QuerySpec{}, rosterOf(60))
	require.NoError(t, err)

	assert.Equal(t, 60, result.CompaniesProcessed)
	assert.Equal(t, 3, result.BatchesCompleted)
	assert.Equal(t, []int{1, 2, 3}, batchIndexes)
	assert.Equal(t, []int{50, 50, 20}, batchSizes)
}

func TestRunner_BatchDelayBetweenBatches(t *testing.T) {
	t.Parallel()

	src := newScriptedSource()
	runner, clk := newTestRunner(t, src, Config{
		PerCompany: 2,
		BatchSize:  2,
		BatchDelay: 5 * time.Second,
	})

	_, err := runner.Run(context.Background(), sourcing.QuerySpec{}, rosterOf(4))
	require.NoError(t, err)

	// One gap between two batches, none after the last.
	assert.Equal(t, []time.Duration{5 * time.Second}, clk.sleeps)
}

func TestRunner_MaxBatches(t *testing.T) {
	t.Parallel()

	src := newScriptedSource()
	path := filepath.Join(t.TempDir(), "progress.json")

	runner, _ := newTestRunner(t, src, Config{PerCompany: 2, BatchSize: 25, MaxBatches: 1, CheckpointPath: path})
	result, err := runner.Run(context.Background(), sourcing.QuerySpec{}, rosterOf(60))
	require.NoError(t, err)

	assert.Equal(t, 25, result.CompaniesProcessed)
	assert.Equal(t, 1, result.BatchesCompleted)

	// The next invocation picks up where this one stopped.
	next, _ := newTestRunner(t, src, Config{PerCompany: 2, BatchSize: 25, CheckpointPath: path})
	r2, err := next.Run(context.Background(), sourcing.QuerySpec{}, rosterOf(60))
	require.NoError(t, err)
	assert.Equal(t, 35, r2.CompaniesProcessed)
	assert.Equal(t, 25, r2.CompaniesSkipped)
}

func TestRunner_OnBatchErrorAbortsButKeepsCheckpoint(t *testing.T) {
	t.Parallel()

	src := newScriptedSource()
	path := filepath.Join(t.TempDir(), "progress.json")
	delivery := errors.New("export target unavailable")

	runner, _ := newTestRunner(t, src, Config{
		PerCompany:     2,
		BatchSize:      25,
		CheckpointPath: path,
		OnBatch: func(_ context.Context, _ int, _ []model.Contact) error {
			return delivery
		},
	})

	_, err := runner.Run(context.Background(), sourcing.QuerySpec{}, rosterOf(30))
	require.Error(t, err)
	assert.True(t, errors.Is(err, delivery))

	cp, loadErr := LoadCheckpoint(path)
	require.NoError(t, loadErr)
	assert.Len(t, cp.CompletedCompanies, 25, "sourced companies stay completed even when delivery fails")
}

func TestRunner_EmptyRemainingIsNoOp(t *testing.T) {
	t.Parallel()

	src := newScriptedSource()
	path := filepath.Join(t.TempDir(), "progress.json")

	cp := &Checkpoint{CompletedCompanies: []string{"Acme", "Globex"}}
	require.NoError(t, cp.Save(path))

	runner, _ := newTestRunner(t, src, Config{CheckpointPath: path})
	result, err := runner.Run(context.Background(), sourcing.QuerySpec{}, []string{"Acme", "Globex"})
	require.NoError(t, err)

	assert.Zero(t, result.CompaniesProcessed)
	assert.Equal(t, 2, result.CompaniesSkipped)
	assert.Empty(t, src.searches)
}

func TestChunk(t *testing.T) {
	t.Parallel()

	got := chunk([]string{"a", "b", "c", "d", "e"}, 2)
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, got)

	assert.Nil(t, chunk(nil, 3))
	assert.Equal(t, [][]string{{"a"}}, chunk([]string{"a"}, 10))
}
