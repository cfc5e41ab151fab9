package config

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks that the configuration can support the given mode
// ("search", "campaign", or "serve"). Problems are aggregated into a
// single error so a misconfigured run reports everything at once.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "search", "campaign", "serve":
		if c.Apollo.Key == "" {
			problems = append(problems, "apollo.key is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if mode == "campaign" {
		if c.Roster.Path == "" && c.Roster.URL == "" {
			problems = append(problems, "roster.path or roster.url is required")
		}
		if c.Campaign.CheckpointPath == "" {
			problems = append(problems, "campaign.checkpoint_path is required")
		}
	}

	if mode == "serve" && c.Server.Port <= 0 {
		problems = append(problems, "server.port must be > 0")
	}

	problems = append(problems, c.storeProblems()...)
	problems = append(problems, c.boundsProblems()...)

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) storeProblems() []string {
	var problems []string
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			problems = append(problems, "store.path is required when store.driver is sqlite")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required when store.driver is postgres")
		}
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}
	return problems
}

// boundsProblems holds the range checks shared by every mode. The page
// cap ceiling is the source's hard per-page maximum.
func (c *Config) boundsProblems() []string {
	var problems []string

	if c.RateLimit.MaxRequests < 1 || c.RateLimit.MaxRequests > 600 {
		problems = append(problems, "rate_limit.max_requests must be between 1 and 600")
	}
	if c.RateLimit.WindowSecs < 1 {
		problems = append(problems, "rate_limit.window_secs must be > 0")
	}
	if c.Search.PageCap < 1 || c.Search.PageCap > 100 {
		problems = append(problems, "search.page_cap must be between 1 and 100")
	}
	if c.Enrich.Concurrency < 1 || c.Enrich.Concurrency > 32 {
		problems = append(problems, "enrich.concurrency must be between 1 and 32")
	}
	if c.Campaign.BatchSize < 1 || c.Campaign.BatchSize > 500 {
		problems = append(problems, "campaign.batch_size must be between 1 and 500")
	}
	if c.Campaign.PerCompany < 1 {
		problems = append(problems, "campaign.per_company must be > 0")
	}
	if c.Campaign.HourlyRequestCap < 1 {
		problems = append(problems, "campaign.hourly_request_cap must be > 0")
	}
	if c.Export.MaxPerFile < 1 {
		problems = append(problems, "export.max_per_file must be > 0")
	}

	switch strings.ToLower(c.Export.Format) {
	case "", "csv", "xlsx", "excel":
	default:
		problems = append(problems, "export.format must be csv or xlsx")
	}

	return problems
}
