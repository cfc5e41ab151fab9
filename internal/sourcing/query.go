// Package sourcing drives the acquisition pipeline: paginated people
// searches against the source API, quota allocation across companies and
// title groups, and contact enrichment. All outbound calls go through the
// shared rate limiter owned by the source client.
package sourcing

import (
	"strings"

	"github.com/sells-group/prospect-cli/internal/persona"
	"github.com/sells-group/prospect-cli/pkg/apollo"
)

// QuerySpec describes one logical people search. A spec targets at most
// one organization; multi-company requests are expressed as one spec per
// company by the allocator. Count is the number of contacts the caller
// wants back in total, across however many pages that takes.
type QuerySpec struct {
	Titles       []string
	Seniorities  []string
	Locations    []string
	Organization string
	Keywords     string
	VerifiedOnly bool
	RevealEmails bool
	Persona      string
	Count        int
}

// FromPersona builds a QuerySpec carrying a persona's search criteria.
func FromPersona(p persona.Persona, count int) QuerySpec {
	return QuerySpec{
		Titles:      p.Titles,
		Seniorities: p.Seniorities,
		Keywords:    p.Keywords,
		Persona:     p.Name,
		Count:       count,
	}
}

// request maps the spec onto one page request against the source.
func (q QuerySpec) request(page, perPage int) apollo.SearchRequest {
	return apollo.SearchRequest{
		Titles:           q.Titles,
		Seniorities:      q.Seniorities,
		PersonLocations:  q.Locations,
		OrganizationName: q.Organization,
		Keywords:         q.Keywords,
		VerifiedOnly:     q.VerifiedOnly,
		RevealEmails:     q.RevealEmails,
		Page:             page,
		PerPage:          perPage,
	}
}

// String renders a compact descriptor for logs and error messages.
func (q QuerySpec) String() string {
	var parts []string
	if q.Persona != "" {
		parts = append(parts, "persona="+q.Persona)
	}
	if q.Organization != "" {
		parts = append(parts, "org="+q.Organization)
	}
	if len(q.Titles) > 0 {
		parts = append(parts, "titles="+strings.Join(q.Titles, "|"))
	}
	if q.Keywords != "" {
		parts = append(parts, "keywords="+q.Keywords)
	}
	if len(parts) == 0 {
		return "all"
	}
	return strings.Join(parts, " ")
}
