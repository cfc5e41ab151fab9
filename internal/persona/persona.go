// Package persona defines the outreach audiences the sourcing pipeline
// targets and the search criteria associated with each. A built-in table
// covers the standard audiences; deployments can override or extend it
// with a YAML file.
package persona

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Persona describes one outreach audience and the people-search criteria
// used to source it. A persona with no filters matches anyone; callers
// are expected to narrow such searches themselves (e.g. by company).
type Persona struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Titles      []string `yaml:"person_titles"`
	Seniorities []string `yaml:"person_seniorities"`
	Industries  []string `yaml:"organization_industries"`
	Keywords    string   `yaml:"q_keywords"`
}

// HasFilters reports whether the persona narrows the search at all.
func (p Persona) HasFilters() bool {
	return len(p.Titles) > 0 || len(p.Seniorities) > 0 || len(p.Industries) > 0 || p.Keywords != ""
}

// Registry holds the known personas in display order.
type Registry struct {
	personas []Persona
}

// Defaults returns the built-in persona table.
func Defaults() *Registry {
	return &Registry{personas: []Persona{
		{
			Name:        "Consulting",
			Description: "Data Scientists working in consulting firms",
			Titles: []string{
				"Data Scientist",
				"Senior Data Scientist",
				"Lead Data Scientist",
				"Principal Data Scientist",
				"Staff Data Scientist",
				"Data Science Consultant",
				"Analytics Consultant",
				"Machine Learning Consultant",
			},
			Industries: []string{
				"Management Consulting",
				"Consulting",
				"Strategy Consulting",
				"Technology Consulting",
			},
			Keywords: "consulting data science analytics",
		},
		{
			Name:        "Social Good",
			Description: "Data Scientists in social good/nonprofit sectors",
			Titles: []string{
				"Data Scientist",
				"Senior Data Scientist",
				"Lead Data Scientist",
				"Principal Data Scientist",
				"Data Analyst",
				"Research Scientist",
			},
			Industries: []string{
				"Nonprofit",
				"Education",
				"Healthcare",
				"Government",
				"Environmental",
				"Social Impact",
			},
			Keywords: "nonprofit social impact public health education environment",
		},
		{
			Name:        "External",
			Description: "Data Scientists in external tech companies",
			Titles: []string{
				"Data Scientist",
				"Senior Data Scientist",
				"Lead Data Scientist",
				"Principal Data Scientist",
				"Staff Data Scientist",
				"Machine Learning Engineer",
				"Data Engineer",
				"Applied Scientist",
			},
			Industries: []string{
				"Technology",
				"Software",
				"Internet",
				"E-commerce",
				"Financial Services",
				"Fintech",
			},
			Keywords: "data science machine learning AI",
		},
		{
			// No built-in filters. Career fair sourcing runs against a
			// company roster, so the search is narrowed per company.
			Name:        "Startup Career Fair",
			Description: "Contacts at startups sourced for career fair outreach",
		},
	}}
}

// Load reads a persona file and merges it over the built-in table. A file
// persona whose name matches a built-in replaces it; new names are
// appended in file order.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "persona: read %s", path)
	}

	// The YAML has a top-level "personas" key
	var wrapper struct {
		Personas []Persona `yaml:"personas"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrapf(err, "persona: parse %s", path)
	}

	reg := Defaults()
	for _, p := range wrapper.Personas {
		if strings.TrimSpace(p.Name) == "" {
			return nil, eris.Errorf("persona: entry without a name in %s", path)
		}
		reg.put(p)
	}
	return reg, nil
}

func (r *Registry) put(p Persona) {
	for i, existing := range r.personas {
		if strings.EqualFold(existing.Name, p.Name) {
			r.personas[i] = p
			return
		}
	}
	r.personas = append(r.personas, p)
}

// Get looks up a persona by name, case-insensitively.
func (r *Registry) Get(name string) (Persona, bool) {
	for _, p := range r.personas {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Persona{}, false
}

// All returns the personas in display order.
func (r *Registry) All() []Persona {
	out := make([]Persona, len(r.personas))
	copy(out, r.personas)
	return out
}

// Names returns the persona names in display order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.personas))
	for i, p := range r.personas {
		names[i] = p.Name
	}
	return names
}
