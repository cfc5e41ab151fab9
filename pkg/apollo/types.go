package apollo

import "strings"

// SearchRequest describes one page request against the people search
// endpoint. Zero-value fields are omitted from the payload.
type SearchRequest struct {
	Titles           []string
	Seniorities      []string
	PersonLocations  []string
	OrgLocations     []string
	OrgIDs           []string
	IndustryTagIDs   []string
	OrganizationName string
	Keywords         string
	VerifiedOnly     bool
	RevealEmails     bool
	Page             int
	PerPage          int
}

// searchPayload is the wire form of a search request.
type searchPayload struct {
	Page                  int      `json:"page"`
	PerPage               int      `json:"per_page"`
	RevealPersonalEmails  bool     `json:"reveal_personal_emails"`
	PersonTitles          []string `json:"person_titles,omitempty"`
	PersonLocations       []string `json:"person_locations,omitempty"`
	PersonSeniorities     []string `json:"person_seniorities,omitempty"`
	OrganizationLocations []string `json:"organization_locations,omitempty"`
	OrganizationIDs       []string `json:"organization_ids,omitempty"`
	IndustryTagIDs        []string `json:"organization_industry_tag_ids,omitempty"`
	OrganizationName      string   `json:"q_organization_name,omitempty"`
	Keywords              string   `json:"q_keywords,omitempty"`
	ContactEmailStatus    []string `json:"contact_email_status,omitempty"`
}

// SearchResult is one page of search results. Pagination hints are
// advisory; the API has been observed reporting totals inconsistent with
// actual page contents.
type SearchResult struct {
	People     []Person   `json:"people"`
	Pagination Pagination `json:"pagination"`
}

// Pagination is the source's own paging metadata.
type Pagination struct {
	Page         int `json:"page"`
	PerPage      int `json:"per_page"`
	TotalEntries int `json:"total_entries"`
	TotalPages   int `json:"total_pages"`
}

// Person is a raw person record from search or match.
type Person struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	FirstName    string        `json:"first_name"`
	LastName     string        `json:"last_name"`
	Email        string        `json:"email"`
	Title        string        `json:"title"`
	Seniority    string        `json:"seniority"`
	LinkedInURL  string        `json:"linkedin_url"`
	City         string        `json:"city"`
	State        string        `json:"state"`
	Country      string        `json:"country"`
	PhoneNumbers []PhoneNumber `json:"phone_numbers"`
	Organization *Organization `json:"organization"`
}

// PhoneNumber is one phone entry on a person record.
type PhoneNumber struct {
	RawNumber       string `json:"raw_number"`
	SanitizedNumber string `json:"sanitized_number"`
	Type            string `json:"type"`
}

// Organization is the employer block on a person record.
type Organization struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Industry string `json:"industry"`
	Website  string `json:"website_url"`
}

// Phone returns the first usable phone number, preferring the sanitized
// form.
func (p Person) Phone() string {
	for _, n := range p.PhoneNumbers {
		if n.SanitizedNumber != "" {
			return n.SanitizedNumber
		}
		if n.RawNumber != "" {
			return n.RawNumber
		}
	}
	return ""
}

// Location joins city, state and country into a display string.
func (p Person) Location() string {
	parts := make([]string, 0, 3)
	for _, s := range []string{p.City, p.State, p.Country} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// MatchRequest identifies a person for enrichment, either by source ID or
// by fuzzy fields. At least one identifying field is required.
type MatchRequest struct {
	ID                   string `json:"id,omitempty"`
	Email                string `json:"email,omitempty"`
	FirstName            string `json:"first_name,omitempty"`
	LastName             string `json:"last_name,omitempty"`
	OrganizationName     string `json:"organization_name,omitempty"`
	Domain               string `json:"domain,omitempty"`
	RevealPersonalEmails bool   `json:"reveal_personal_emails,omitempty"`
}

func (r MatchRequest) empty() bool {
	return r.ID == "" && r.Email == "" && r.FirstName == "" &&
		r.LastName == "" && r.OrganizationName == "" && r.Domain == ""
}

// matchResponse is the wire form of a match result. Some responses carry
// the email at the top level instead of inside the person object.
type matchResponse struct {
	Person *Person `json:"person"`
	Email  string  `json:"email"`
}
