package cost

// Rates holds credit pricing for the people-search source.
type Rates struct {
	Apollo ApolloRate `yaml:"apollo" mapstructure:"apollo"`
}

// ApolloRate holds per-operation credit costs and plan sizing.
type ApolloRate struct {
	PerSearchPage   float64 `yaml:"per_search_page" mapstructure:"per_search_page"`
	PerMatch        float64 `yaml:"per_match" mapstructure:"per_match"`
	PerReveal       float64 `yaml:"per_reveal" mapstructure:"per_reveal"`
	PlanMonthly     float64 `yaml:"plan_monthly" mapstructure:"plan_monthly"`
	CreditsIncluded float64 `yaml:"credits_included" mapstructure:"credits_included"`
}

// Calculator computes credit spend for source API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Search returns the credit cost of the given number of search page
// requests.
func (c *Calculator) Search(pages int) float64 {
	return float64(pages) * c.rates.Apollo.PerSearchPage
}

// Enrichment returns the credit cost of person-match calls, plus the
// reveal surcharge for the subset that revealed personal emails.
func (c *Calculator) Enrichment(matches, reveals int) float64 {
	return float64(matches)*c.rates.Apollo.PerMatch + float64(reveals)*c.rates.Apollo.PerReveal
}

// EstimateCampaign projects the credit spend of a roster campaign before
// it runs: one query per company paging to perCompany contacts, plus an
// enrichment match and reveal per contact when enrich is set. pageCap
// defaults to 100 when zero.
func (c *Calculator) EstimateCampaign(companies, perCompany, pageCap int, enrich bool) float64 {
	if companies <= 0 || perCompany <= 0 {
		return 0
	}
	if pageCap <= 0 {
		pageCap = 100
	}

	pagesPerCompany := (perCompany + pageCap - 1) / pageCap
	credits := float64(companies*pagesPerCompany) * c.rates.Apollo.PerSearchPage
	if enrich {
		credits += float64(companies*perCompany) * (c.rates.Apollo.PerMatch + c.rates.Apollo.PerReveal)
	}
	return credits
}

// Dollars converts a credit amount to dollars using the plan price per
// included credit. Returns 0 when the plan carries no credits.
func (c *Calculator) Dollars(credits float64) float64 {
	if c.rates.Apollo.CreditsIncluded <= 0 {
		return 0
	}
	return credits / c.rates.Apollo.CreditsIncluded * c.rates.Apollo.PlanMonthly
}

// DefaultRates returns the default credit pricing.
func DefaultRates() Rates {
	return Rates{
		Apollo: ApolloRate{
			PerSearchPage:   1.00,
			PerMatch:        0.50,
			PerReveal:       1.00,
			PlanMonthly:     49.00,
			CreditsIncluded: 6000,
		},
	}
}
