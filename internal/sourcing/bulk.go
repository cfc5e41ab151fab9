package sourcing

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/resilience"
)

// EnrichAll enriches contacts concurrently, mutating the slice in place.
// A contact the source has no data for, or whose individual enrichment
// fails, keeps its original record. Consecutive source failures open a
// circuit breaker, which aborts the remaining work instead of hammering a
// dead upstream. Returns the number of contacts that received data.
func (e *Enricher) EnrichAll(ctx context.Context, contacts []model.Contact) (int, error) {
	if len(contacts) == 0 {
		return 0, nil
	}

	var enriched atomic.Int64

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i := range contacts {
		g.Go(func() error {
			ok, err := resilience.ExecuteVal(gCtx, e.breaker, func(ctx context.Context) (bool, error) {
				return e.Enrich(ctx, &contacts[i])
			})
			if err != nil {
				if errors.Is(err, resilience.ErrCircuitOpen) || gCtx.Err() != nil {
					return err
				}
				e.log.Warn("sourcing: enrichment failed, keeping original",
					zap.String("contact", contacts[i].Name),
					zap.String("company", contacts[i].Company),
					zap.Error(err),
				)
				return nil
			}
			if ok {
				enriched.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return int(enriched.Load()), eris.Wrap(err, "sourcing: bulk enrichment aborted")
	}

	e.log.Info("sourcing: bulk enrichment complete",
		zap.Int("contacts", len(contacts)),
		zap.Int64("enriched", enriched.Load()),
	)
	return int(enriched.Load()), nil
}
