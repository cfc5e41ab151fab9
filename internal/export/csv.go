package export

import (
	"encoding/csv"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-cli/internal/model"
)

// WriteCSV exports contacts to one or more CSV files, splitting at
// maxPerFile records per file.
func WriteCSV(contacts []model.Contact, outputPath string, maxPerFile int) ([]string, error) {
	paths, chunks, err := splitPlan(contacts, outputPath, maxPerFile, "csv")
	if err != nil {
		return nil, err
	}

	for i, path := range paths {
		if err := writeCSVFile(path, chunks[i]); err != nil {
			return nil, err
		}
	}
	return paths, nil
}

func writeCSVFile(path string, contacts []model.Contact) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return eris.Wrapf(err, "export: write header %s", path)
	}
	for _, c := range contacts {
		if err := w.Write(rowFor(c)); err != nil {
			return eris.Wrapf(err, "export: write row %s", path)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrapf(err, "export: flush %s", path)
	}
	return f.Close()
}
