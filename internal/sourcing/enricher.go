package sourcing

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/resilience"
	"github.com/sells-group/prospect-cli/pkg/apollo"
)

// Enricher backfills withheld contact fields (email, phone, title) from
// the source's person-match endpoint. Fields the contact already carries
// are never overwritten, and a populated field is never regressed to
// empty.
type Enricher struct {
	client      apollo.Client
	reveal      bool
	concurrency int
	circuit     resilience.CircuitBreakerConfig
	breaker     *resilience.CircuitBreaker
	log         *zap.Logger
}

// EnricherOption customizes an Enricher.
type EnricherOption func(*Enricher)

// WithReveal controls whether matches reveal personal emails. Reveals are
// cost-bearing on the source side.
func WithReveal(reveal bool) EnricherOption {
	return func(e *Enricher) { e.reveal = reveal }
}

// WithEnrichConcurrency sets the number of parallel workers used by
// EnrichAll.
func WithEnrichConcurrency(n int) EnricherOption {
	return func(e *Enricher) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithEnricherLogger sets the logger used for enrichment events.
func WithEnricherLogger(l *zap.Logger) EnricherOption {
	return func(e *Enricher) { e.log = l }
}

// WithCircuitConfig tunes the enrichment circuit breaker. Only thresholds
// and timing are taken from cfg; the trip predicate and state-change hook
// stay fixed.
func WithCircuitConfig(cfg resilience.CircuitBreakerConfig) EnricherOption {
	return func(e *Enricher) { e.circuit = cfg }
}

// NewEnricher creates an enricher over the given source client.
func NewEnricher(client apollo.Client, opts ...EnricherOption) *Enricher {
	e := &Enricher{
		client:      client,
		concurrency: 4,
		circuit:     resilience.DefaultCircuitBreakerConfig(),
		log:         zap.L(),
	}
	for _, opt := range opts {
		opt(e)
	}

	cbCfg := e.circuit
	cbCfg.ShouldTrip = resilience.IsSourceFailure
	cbCfg.OnStateChange = func(from, to resilience.CircuitState) {
		e.log.Warn("sourcing: enrichment circuit state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	e.breaker = resilience.NewCircuitBreaker(cbCfg)
	return e
}

// Enrich fills empty fields on the contact in place and reports whether
// the source had a matching person. A contact that already carries a
// source identifier is matched directly by it; otherwise the match is
// fuzzy, by split first/last name plus company. No match is an expected
// outcome, not an error.
func (e *Enricher) Enrich(ctx context.Context, c *model.Contact) (bool, error) {
	req := apollo.MatchRequest{RevealPersonalEmails: e.reveal}
	if c.SourceID != "" {
		req.ID = c.SourceID
	} else {
		if strings.TrimSpace(c.Name) == "" && c.Company == "" {
			// Nothing to match on.
			return false, nil
		}
		req.FirstName, req.LastName = c.SplitName()
		req.OrganizationName = c.Company
	}

	person, err := e.client.MatchPerson(ctx, req)
	if err != nil {
		return false, enrichError(c, err)
	}
	if person == nil {
		e.log.Debug("sourcing: no enrichment data",
			zap.String("contact", c.Name),
			zap.String("company", c.Company),
		)
		return false, nil
	}

	if c.Email == "" && person.Email != "" {
		c.Email = person.Email
	}
	if c.Phone == "" {
		if phone := person.Phone(); phone != "" {
			c.Phone = phone
		}
	}
	if c.Title == "" && person.Title != "" {
		c.Title = person.Title
	}
	return true, nil
}

// enrichError maps a source client failure onto the pipeline taxonomy.
func enrichError(c *model.Contact, err error) error {
	query := c.Name
	if c.Company != "" {
		query += " @ " + c.Company
	}

	var rateErr *resilience.RateLimitError
	if errors.As(err, &rateErr) {
		return err
	}

	var decErr *apollo.DecodeError
	if errors.As(err, &decErr) {
		return &resilience.MalformedError{Op: "enrich", Query: query, Err: err}
	}

	srcErr := &resilience.SourceError{Op: "enrich", Query: query, Err: err}
	var apiErr *apollo.APIError
	if errors.As(err, &apiErr) {
		srcErr.StatusCode = apiErr.StatusCode
	}
	return srcErr
}
