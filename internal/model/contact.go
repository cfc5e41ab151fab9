package model

import "strings"

// Contact is one sourced person. Created from a raw search record,
// optionally backfilled by enrichment, terminal once exported.
type Contact struct {
	Name      string `json:"name"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Company   string `json:"company"`
	Title     string `json:"title,omitempty"`
	Location  string `json:"location,omitempty"`
	Industry  string `json:"industry,omitempty"`
	Seniority string `json:"seniority,omitempty"`
	LinkedIn  string `json:"linkedin_url,omitempty"`
	SourceID  string `json:"source_id,omitempty"`
	Persona   string `json:"persona,omitempty"`
}

// Identity returns the deduplication key: the source identifier when
// present, else the lowercased (name, company) pair.
func (c Contact) Identity() string {
	if c.SourceID != "" {
		return c.SourceID
	}
	return strings.ToLower(strings.TrimSpace(c.Name)) + "|" + strings.ToLower(strings.TrimSpace(c.Company))
}

// SplitName returns first and last name, deriving them from Name when the
// explicit fields are empty. The name splits on the first space, so middle
// names stay part of the last name.
func (c Contact) SplitName() (first, last string) {
	if c.FirstName != "" || c.LastName != "" {
		return c.FirstName, c.LastName
	}
	parts := strings.Fields(c.Name)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// HasEmail reports whether the contact carries an email address.
func (c Contact) HasEmail() bool {
	return strings.TrimSpace(c.Email) != ""
}
