package sourcing

import (
	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/pkg/apollo"
)

// contactFromPerson maps one raw person record onto the domain contact.
// Organization fields come from the embedded organization block when the
// source includes one.
func contactFromPerson(p apollo.Person, personaName string) model.Contact {
	c := model.Contact{
		Name:      p.Name,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Email:     p.Email,
		Phone:     p.Phone(),
		Title:     p.Title,
		Location:  p.Location(),
		Seniority: p.Seniority,
		LinkedIn:  p.LinkedInURL,
		SourceID:  p.ID,
		Persona:   personaName,
	}
	if p.Organization != nil {
		c.Company = p.Organization.Name
		c.Industry = p.Organization.Industry
	}
	return c
}
