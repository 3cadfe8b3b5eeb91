package document

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"invoicepipe/internal"
	"invoicepipe/internal/util"
)

// UnsupportedFormatError is returned for file types no adapter reads.
type UnsupportedFormatError struct {
	Filename string
}

func (e *UnsupportedFormatError) Error() string {
	return "document: unsupported file type: " + e.Filename
}

// Supported reports whether Load has an adapter for the filename's extension.
func Supported(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm", ".pdf", ".html", ".htm", ".eml", ".txt", ".text":
		return true
	}
	return false
}

// Load converts one uploaded file into page text and table cells.
func Load(filename string, content []byte) (internal.Document, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		return FromXLSX(filename, content)
	case ".pdf":
		return FromPDF(filename, content)
	case ".html", ".htm":
		return FromHTML(filename, string(content))
	case ".eml":
		return FromEmail(filename, content)
	case ".txt", ".text":
		return FromText(filename, string(content)), nil
	default:
		return internal.Document{}, &UnsupportedFormatError{Filename: filename}
	}
}

func LoadFile(path string) (internal.Document, []byte, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return internal.Document{}, nil, eris.Wrapf(err, "document: read %s", path)
	}
	doc, err := Load(filepath.Base(path), blob)
	return doc, blob, err
}

// FromText treats every line as a page line and every line with two or more
// whitespace-separated columns as a table row.
func FromText(filename, text string) internal.Document {
	lines := util.SplitLines(text)
	return internal.Document{
		Filename: filename,
		Source:   internal.SourceText,
		Pages:    []string{joinLines(lines)},
		Tables:   linesToTables(filename, [][]string{lines}),
	}
}

func linesToTables(name string, pages [][]string) []internal.Table {
	out := []internal.Table{}
	for i, lines := range pages {
		rows := [][]string{}
		for _, line := range lines {
			cells := util.SplitColumns(line)
			if len(cells) < 2 {
				continue
			}
			rows = append(rows, cells)
		}
		if len(rows) == 0 {
			continue
		}
		tableName := name
		if len(pages) > 1 {
			tableName = name + "#" + strconv.Itoa(i+1)
		}
		out = append(out, internal.Table{Name: tableName, Rows: rows})
	}
	return out
}

func normalizeCells(row []string) []string {
	out := make([]string, 0, len(row))
	empty := true
	for _, c := range row {
		c = util.NormalizeSpaces(c)
		if c != "" {
			empty = false
		}
		out = append(out, c)
	}
	if empty {
		return nil
	}
	return out
}

func joinLines(lines []string) string {
	return strings.Join(lines, "\n")
}
