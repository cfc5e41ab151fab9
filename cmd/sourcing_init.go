package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/cost"
	"github.com/sells-group/prospect-cli/internal/persona"
	"github.com/sells-group/prospect-cli/internal/ratelimit"
	"github.com/sells-group/prospect-cli/internal/resilience"
	"github.com/sells-group/prospect-cli/internal/sourcing"
	"github.com/sells-group/prospect-cli/internal/store"
	"github.com/sells-group/prospect-cli/pkg/apollo"
)

// sourcingEnv holds the initialized store, source client, and sourcing
// components needed by the search/campaign/enrich/serve commands.
type sourcingEnv struct {
	Store    store.Store
	Client   apollo.Client
	Limiter  *ratelimit.Limiter
	Pager    *sourcing.Pager
	Alloc    *sourcing.Allocator
	Enricher *sourcing.Enricher
	Personas *persona.Registry
	Calc     *cost.Calculator
}

// Close releases resources held by the sourcing environment.
func (se *sourcingEnv) Close() {
	if se.Store != nil {
		_ = se.Store.Close()
	}
}

// initSourcing validates config for the given mode, sets up the store and
// the rate-limited source client, and builds the sourcing components.
// Callers should defer env.Close().
func initSourcing(ctx context.Context, mode string) (*sourcingEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	limiter := ratelimit.New(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowSecs)*time.Second)
	client := apollo.NewClient(cfg.Apollo.Key,
		apollo.WithBaseURL(cfg.Apollo.BaseURL),
		apollo.WithLimiter(limiter),
	)

	pager := sourcing.NewPager(client, sourcing.WithPageCap(cfg.Search.PageCap))
	alloc := sourcing.NewAllocator(pager,
		sourcing.WithPartitionDelay(time.Duration(cfg.Search.PartitionDelayMs)*time.Millisecond),
	)
	enricher := sourcing.NewEnricher(client,
		sourcing.WithReveal(cfg.Enrich.RevealPersonalEmails),
		sourcing.WithEnrichConcurrency(cfg.Enrich.Concurrency),
		sourcing.WithCircuitConfig(resilience.BuildCircuitConfig(resilience.CircuitSettings{
			FailureThreshold: cfg.Resilience.Circuit.FailureThreshold,
			ResetTimeoutSecs: cfg.Resilience.Circuit.ResetTimeoutSecs,
		})),
	)

	personas := persona.Defaults()
	if cfg.Personas.Path != "" {
		personas, err = persona.Load(cfg.Personas.Path)
		if err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "load personas")
		}
	}

	calc := cost.NewCalculator(cost.Rates{
		Apollo: cost.ApolloRate{
			PerSearchPage:   cfg.Pricing.Apollo.PerSearchPage,
			PerMatch:        cfg.Pricing.Apollo.PerMatch,
			PerReveal:       cfg.Pricing.Apollo.PerReveal,
			PlanMonthly:     cfg.Pricing.Apollo.PlanMonthly,
			CreditsIncluded: cfg.Pricing.Apollo.CreditsIncluded,
		},
	})

	zap.L().Info("sourcing initialized",
		zap.String("mode", mode),
		zap.String("store", cfg.Store.Driver),
		zap.Int("rate_limit", cfg.RateLimit.MaxRequests),
		zap.Int("personas", len(personas.Names())),
	)

	return &sourcingEnv{
		Store:    st,
		Client:   client,
		Limiter:  limiter,
		Pager:    pager,
		Alloc:    alloc,
		Enricher: enricher,
		Personas: personas,
		Calc:     calc,
	}, nil
}
