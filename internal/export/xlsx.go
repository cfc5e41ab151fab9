package export

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/prospect-cli/internal/model"
)

const sheetName = "Contacts"

// WriteXLSX exports contacts to one or more XLSX workbooks, splitting at
// maxPerFile records per file.
func WriteXLSX(contacts []model.Contact, outputPath string, maxPerFile int) ([]string, error) {
	paths, chunks, err := splitPlan(contacts, outputPath, maxPerFile, "xlsx")
	if err != nil {
		return nil, err
	}

	for i, path := range paths {
		if err := writeXLSXFile(path, chunks[i]); err != nil {
			return nil, err
		}
	}
	return paths, nil
}

func writeXLSXFile(path string, contacts []model.Contact) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrapf(err, "export: add sheet %s", path)
	}

	header := sheet.AddRow()
	for _, col := range columns {
		header.AddCell().Value = col
	}
	for _, c := range contacts {
		row := sheet.AddRow()
		for _, val := range rowFor(c) {
			row.AddCell().Value = val
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}
