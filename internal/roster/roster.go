// Package roster loads company rosters for batch campaigns. A roster is a
// spreadsheet with one company per row, such as a YC batch export or a
// career-fair attendee list, stored locally or behind an HTTP or FTP URL.
package roster

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/fetcher"
)

// Source describes where a roster lives and how to read it.
type Source struct {
	// Path is a local roster file (CSV, XLSX, or a ZIP holding one).
	// Ignored when URL is set.
	Path string

	// URL is a remote roster over HTTP(S) or FTP.
	URL string

	// Column names the company column explicitly. When empty the column
	// is detected from the header row.
	Column string

	// Sheet selects the XLSX sheet by name (default: first sheet).
	Sheet string

	// ArchiveEntry names the file to pull out of a ZIP archive. When
	// empty, a single-file archive is unpacked directly and a multi-file
	// archive is scanned for the first CSV or XLSX entry.
	ArchiveEntry string

	// Charset names the CSV encoding when the export is not UTF-8.
	Charset string
}

// Load reads the roster and returns the ordered company list. Blank cells
// are dropped and repeated names keep their first position.
func Load(ctx context.Context, src Source) ([]string, error) {
	pth := src.Path
	if src.URL != "" {
		downloaded, cleanup, err := download(ctx, src.URL)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		pth = downloaded
	}
	if pth == "" {
		return nil, eris.New("roster: no path or url given")
	}

	companies, err := loadFile(ctx, pth, src, true)
	if err != nil {
		return nil, err
	}

	zap.L().Info("roster: loaded",
		zap.String("path", pth),
		zap.Int("companies", len(companies)),
	)
	return companies, nil
}

func loadFile(ctx context.Context, pth string, src Source, allowArchive bool) ([]string, error) {
	switch strings.ToLower(filepath.Ext(pth)) {
	case ".csv", ".tsv", ".txt":
		return loadCSV(ctx, pth, src)
	case ".xlsx":
		return loadXLSX(pth, src)
	case ".zip":
		if !allowArchive {
			return nil, eris.Errorf("roster: nested archive %q not supported", pth)
		}
		return loadZIP(ctx, pth, src)
	default:
		return nil, eris.Errorf("roster: unsupported file type %q", filepath.Ext(pth))
	}
}

func loadCSV(ctx context.Context, pth string, src Source) ([]string, error) {
	f, err := os.Open(pth)
	if err != nil {
		return nil, eris.Wrap(err, "roster: open csv")
	}
	defer f.Close() //nolint:errcheck

	opts := fetcher.CSVOptions{TrimSpace: true, Charset: src.Charset}
	if strings.EqualFold(filepath.Ext(pth), ".tsv") {
		opts.Delimiter = '\t'
	}

	rows, err := fetcher.ReadAllCSV(ctx, f, opts)
	if err != nil {
		return nil, eris.Wrap(err, "roster: read csv")
	}
	return companiesFrom(rows, src.Column)
}

func loadXLSX(pth string, src Source) ([]string, error) {
	rows, err := fetcher.ReadXLSX(pth, fetcher.XLSXOptions{SheetName: src.Sheet})
	if err != nil {
		return nil, eris.Wrap(err, "roster: read xlsx")
	}
	return companiesFrom(rows, src.Column)
}

func loadZIP(ctx context.Context, pth string, src Source) ([]string, error) {
	dir, err := os.MkdirTemp("", "roster-*")
	if err != nil {
		return nil, eris.Wrap(err, "roster: temp dir")
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	entry, err := unpack(pth, dir, src.ArchiveEntry)
	if err != nil {
		return nil, err
	}
	return loadFile(ctx, entry, src, false)
}

// unpack extracts the roster file from a ZIP archive. A named entry wins;
// otherwise the archive is unpacked and the lone file, or failing that the
// first spreadsheet entry, is used.
func unpack(zipPath, destDir, entry string) (string, error) {
	if entry != "" {
		pth, err := fetcher.ExtractZIPFile(zipPath, entry, destDir)
		if err != nil {
			return "", eris.Wrap(err, "roster: extract entry")
		}
		return pth, nil
	}

	extracted, err := fetcher.ExtractZIP(zipPath, destDir)
	if err != nil {
		return "", eris.Wrap(err, "roster: extract archive")
	}
	if len(extracted) == 1 {
		return extracted[0], nil
	}
	for _, pth := range extracted {
		switch strings.ToLower(filepath.Ext(pth)) {
		case ".csv", ".tsv", ".xlsx":
			return pth, nil
		}
	}
	return "", eris.Errorf("roster: no spreadsheet found in %s", zipPath)
}

// download pulls the remote roster into a temp file whose extension matches
// the URL path, so the format dispatch works the same as for local files.
func download(ctx context.Context, rawURL string) (string, func(), error) {
	d, err := fetcher.ForURL(rawURL)
	if err != nil {
		return "", nil, err
	}

	ext := ".csv"
	if u, parseErr := url.Parse(rawURL); parseErr == nil {
		if e := path.Ext(u.Path); e != "" {
			ext = e
		}
	}

	tmp, err := os.CreateTemp("", "roster-*"+ext)
	if err != nil {
		return "", nil, eris.Wrap(err, "roster: temp file")
	}
	tmp.Close() //nolint:errcheck

	cleanup := func() { os.Remove(tmp.Name()) } //nolint:errcheck

	zap.L().Debug("roster: downloading", zap.String("url", rawURL))
	if _, err := d.DownloadToFile(ctx, rawURL, tmp.Name()); err != nil {
		cleanup()
		return "", nil, eris.Wrapf(err, "roster: download %s", rawURL)
	}
	return tmp.Name(), cleanup, nil
}

// companiesFrom pulls the company column out of the parsed rows. The first
// row is always treated as the header.
func companiesFrom(rows [][]string, column string) ([]string, error) {
	if len(rows) == 0 {
		return nil, eris.New("roster: file contains no rows")
	}

	header := rows[0]
	col, err := findColumn(header, column)
	if err != nil {
		return nil, err
	}

	var companies []string
	seen := make(map[string]struct{})
	for _, row := range rows[1:] {
		if col >= len(row) {
			continue
		}
		name := strings.TrimSpace(row[col])
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		companies = append(companies, name)
	}

	if len(companies) == 0 {
		return nil, eris.New("roster: no companies found")
	}
	return companies, nil
}

// findColumn locates the company column. An explicit name must match a
// header cell. Detection looks for a header containing "name" that is not
// an organization-id style column, and falls back to the first column.
func findColumn(header []string, explicit string) (int, error) {
	if explicit != "" {
		for i, cell := range header {
			if strings.EqualFold(strings.TrimSpace(cell), explicit) {
				return i, nil
			}
		}
		return 0, eris.Errorf("roster: column %q not found in header", explicit)
	}

	for i, cell := range header {
		lower := strings.ToLower(cell)
		if strings.Contains(lower, "name") && !strings.Contains(lower, "organization") {
			return i, nil
		}
	}
	return 0, nil
}
