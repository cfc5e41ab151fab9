// Package export writes sourced contacts to spreadsheets. Large result
// sets split into numbered files so each stays under a per-file bound,
// and campaign exports group by persona.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-cli/internal/model"
)

// Format selects the spreadsheet format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat normalizes a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv", "":
		return FormatCSV, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	default:
		return "", eris.Errorf("export: unsupported format %q (want csv or xlsx)", s)
	}
}

// columns is the spreadsheet header row. rowFor must stay in sync.
var columns = []string{
	"Name",
	"Email",
	"Phone",
	"Company",
	"Title",
	"Location",
	"Persona",
	"LinkedIn",
	"Industry",
	"Seniority",
	"Source ID",
}

func rowFor(c model.Contact) []string {
	return []string{
		c.Name,
		c.Email,
		c.Phone,
		c.Company,
		c.Title,
		c.Location,
		c.Persona,
		c.LinkedIn,
		c.Industry,
		c.Seniority,
		c.SourceID,
	}
}

// nowFunc allows test injection of time for timestamped filenames.
var nowFunc = time.Now

// Write exports contacts in the given format. outputPath is the base
// path; its extension, if any, is replaced. When the contacts exceed
// maxPerFile the export splits into numbered files
// ("base_batch_1_of_3.csv"). Returns the generated file paths.
func Write(contacts []model.Contact, outputPath string, maxPerFile int, format Format) ([]string, error) {
	switch format {
	case FormatXLSX:
		return WriteXLSX(contacts, outputPath, maxPerFile)
	default:
		return WriteCSV(contacts, outputPath, maxPerFile)
	}
}

// splitPlan validates the inputs and pairs each chunk of maxPerFile
// contacts with its output path.
func splitPlan(contacts []model.Contact, outputPath string, maxPerFile int, ext string) ([]string, [][]model.Contact, error) {
	if len(contacts) == 0 {
		return nil, nil, eris.New("export: no contacts to export")
	}
	if maxPerFile <= 0 {
		maxPerFile = 100
	}

	dir := filepath.Dir(outputPath)
	base := strings.TrimSuffix(filepath.Base(outputPath), filepath.Ext(outputPath))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, eris.Wrapf(err, "export: create directory %s", dir)
	}

	total := (len(contacts) + maxPerFile - 1) / maxPerFile
	paths := make([]string, 0, total)
	chunks := make([][]model.Contact, 0, total)

	for i := 0; i < total; i++ {
		start := i * maxPerFile
		end := start + maxPerFile
		if end > len(contacts) {
			end = len(contacts)
		}

		filename := base + "." + ext
		if total > 1 {
			filename = fmt.Sprintf("%s_batch_%d_of_%d.%s", base, i+1, total, ext)
		}
		paths = append(paths, filepath.Join(dir, filename))
		chunks = append(chunks, contacts[start:end])
	}

	return paths, chunks, nil
}

// ByPersona groups contacts by persona (contacts without one fall under
// "Unknown") and exports each group to its own timestamped file set in
// outputDir. Returns persona name mapped to the generated paths.
func ByPersona(contacts []model.Contact, outputDir string, maxPerFile int, format Format) (map[string][]string, error) {
	if len(contacts) == 0 {
		return nil, eris.New("export: no contacts to export")
	}

	var order []string
	grouped := make(map[string][]model.Contact)
	for _, c := range contacts {
		name := c.Persona
		if name == "" {
			name = "Unknown"
		}
		if _, ok := grouped[name]; !ok {
			order = append(order, name)
		}
		grouped[name] = append(grouped[name], c)
	}

	timestamp := nowFunc().Format("20060102_150405")
	results := make(map[string][]string, len(grouped))

	for _, name := range order {
		base := strings.ReplaceAll(name, " ", "_") + "_" + timestamp
		paths, err := Write(grouped[name], filepath.Join(outputDir, base), maxPerFile, format)
		if err != nil {
			return nil, err
		}
		results[name] = paths
	}

	return results, nil
}
