package main

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/prospect-cli/internal/persona"
)

var personasCmd = &cobra.Command{
	Use:   "personas [name]",
	Short: "List available personas",
	Long:  "Lists the outreach personas and their search filters. With a name argument, prints the full persona definition as YAML.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		personas := persona.Defaults()
		if cfg.Personas.Path != "" {
			loaded, err := persona.Load(cfg.Personas.Path)
			if err != nil {
				return eris.Wrap(err, "load personas")
			}
			personas = loaded
		}

		if len(args) == 1 {
			p, ok := personas.Get(args[0])
			if !ok {
				return eris.Errorf("unknown persona %q (known: %s)", args[0], strings.Join(personas.Names(), ", "))
			}
			out, err := yaml.Marshal(p)
			if err != nil {
				return eris.Wrap(err, "render persona")
			}
			fmt.Print(string(out))
			return nil
		}

		fmt.Println(formatPersonas(personas.All()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(personasCmd)
}

// formatPersonas renders the persona registry as a table.
func formatPersonas(personas []persona.Persona) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Name", "Description", "Titles", "Seniorities", "Keywords"})

	for _, p := range personas {
		t.AppendRow(table.Row{
			p.Name,
			p.Description,
			summarizeList(p.Titles),
			summarizeList(p.Seniorities),
			p.Keywords,
		})
	}

	return t.Render()
}

// summarizeList shows the first entries of a filter list with a count for
// the rest, keeping table rows readable.
func summarizeList(items []string) string {
	const show = 2
	if len(items) <= show {
		return strings.Join(items, ", ")
	}
	return fmt.Sprintf("%s, +%d more", strings.Join(items[:show], ", "), len(items)-show)
}
