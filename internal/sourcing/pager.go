package sourcing

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/resilience"
	"github.com/sells-group/prospect-cli/pkg/apollo"
)

// defaultPageCap is the source's hard per-page maximum.
const defaultPageCap = 100

// Pager assembles an exact number of contacts for one query by walking the
// source's paginated search endpoint. Pages are requested strictly in
// increasing order, each sized so the final page is not over-requested.
type Pager struct {
	client  apollo.Client
	pageCap int
	log     *zap.Logger
}

// PagerOption customizes a Pager.
type PagerOption func(*Pager)

// WithPageCap overrides the per-page maximum.
func WithPageCap(n int) PagerOption {
	return func(p *Pager) {
		if n > 0 {
			p.pageCap = n
		}
	}
}

// WithPagerLogger sets the logger used for page-level events.
func WithPagerLogger(l *zap.Logger) PagerOption {
	return func(p *Pager) { p.log = l }
}

// NewPager creates a pager over the given source client.
func NewPager(client apollo.Client, opts ...PagerOption) *Pager {
	p := &Pager{
		client:  client,
		pageCap: defaultPageCap,
		log:     zap.L(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Fetch pages through the source until the spec's target count is reached
// or the source is exhausted. It returns at most spec.Count contacts,
// deduplicated by source identity, along with the number of page requests
// issued (consumed requests are reported even on failure, for quota
// accounting).
//
// Stop conditions are checked after each page, in this order: target
// reached, empty page, short page, source's own last-page hint. The
// total_entries hint is logged for diagnostics only; it has been observed
// inconsistent with actual page content and is never trusted as an exit
// condition.
func (p *Pager) Fetch(ctx context.Context, spec QuerySpec) ([]model.Contact, int, error) {
	target := spec.Count
	if target <= 0 {
		return nil, 0, nil
	}

	queryID := uuid.NewString()
	seen := make(map[string]struct{}, target)
	contacts := make([]model.Contact, 0, target)
	requests := 0

	for page := 1; ; page++ {
		size := p.pageCap
		if remaining := target - len(contacts); remaining < size {
			size = remaining
		}

		res, err := p.client.SearchPeople(ctx, spec.request(page, size))
		requests++
		if err != nil {
			p.log.Warn("sourcing: page request failed",
				zap.String("query_id", queryID),
				zap.String("query", spec.String()),
				zap.Int("page", page),
				zap.Error(err),
			)
			// Partial results are discarded; the caller decides whether to
			// retry the whole query.
			return nil, requests, searchError(spec, page, err)
		}

		returned := len(res.People)
		for _, person := range res.People {
			c := contactFromPerson(person, spec.Persona)
			key := c.Identity()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			contacts = append(contacts, c)
		}

		p.log.Debug("sourcing: page fetched",
			zap.String("query_id", queryID),
			zap.Int("page", page),
			zap.Int("requested", size),
			zap.Int("returned", returned),
			zap.Int("accumulated", len(contacts)),
			zap.Int("total_entries_hint", res.Pagination.TotalEntries),
			zap.Int("total_pages_hint", res.Pagination.TotalPages),
		)

		reason := stopReason(len(contacts), target, returned, size, res.Pagination, page)
		if reason == "" {
			continue
		}

		if len(contacts) > target {
			contacts = contacts[:target]
		}
		p.log.Info("sourcing: query complete",
			zap.String("query_id", queryID),
			zap.String("query", spec.String()),
			zap.String("outcome", reason),
			zap.Int("contacts", len(contacts)),
			zap.Int("pages", requests),
		)
		return contacts, requests, nil
	}
}

// stopReason evaluates the pager stop conditions in their fixed priority
// order. An empty string means keep paging.
func stopReason(accumulated, target, returned, requested int, hint apollo.Pagination, page int) string {
	switch {
	case accumulated >= target:
		return "target_reached"
	case returned == 0:
		return "empty_page"
	case returned < requested:
		return "short_page"
	case hint.TotalPages > 0 && page >= hint.TotalPages:
		return "last_page_hint"
	default:
		return ""
	}
}

// searchError maps a source client failure onto the pipeline taxonomy,
// attaching the query and page it happened on.
func searchError(spec QuerySpec, page int, err error) error {
	var rateErr *resilience.RateLimitError
	if errors.As(err, &rateErr) {
		return err
	}

	var decErr *apollo.DecodeError
	if errors.As(err, &decErr) {
		return &resilience.MalformedError{
			Op:    "search",
			Query: spec.String(),
			Err:   err,
		}
	}

	srcErr := &resilience.SourceError{
		Op:    "search",
		Query: spec.String(),
		Page:  page,
		Err:   err,
	}
	var apiErr *apollo.APIError
	if errors.As(err, &apiErr) {
		srcErr.StatusCode = apiErr.StatusCode
	}
	return srcErr
}
