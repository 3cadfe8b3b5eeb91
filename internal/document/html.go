package document

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"invoicepipe/internal"
	"invoicepipe/internal/util"
)

const blockElements = "p,div,h1,h2,h3,h4,h5,li,address,pre"

// FromHTML lifts every <table> into a Table and the text outside tables
// into the single page.
func FromHTML(filename, html string) (internal.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return internal.Document{}, eris.Wrap(err, "document: parse html")
	}

	out := internal.Document{Filename: filename, Source: internal.SourceHTML}
	doc.Find("table").Each(func(i int, table *goquery.Selection) {
		// only top-level tables
		if table.ParentsFiltered("table").Length() > 0 {
			return
		}
		name, _ := table.Attr("id")
		if name == "" {
			name = filename + "#" + strconv.Itoa(i+1)
		}
		t := internal.Table{Name: name}
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := []string{}
			row.ChildrenFiltered("th,td").Each(func(_ int, cell *goquery.Selection) {
				cells = append(cells, cell.Text())
			})
			if normalized := normalizeCells(cells); normalized != nil {
				t.Rows = append(t.Rows, normalized)
			}
		})
		if len(t.Rows) > 0 {
			out.Tables = append(out.Tables, t)
		}
	})

	lines := []string{}
	doc.Find("table").Remove()
	doc.Find("script,style").Remove()
	doc.Find(blockElements).Each(func(_ int, s *goquery.Selection) {
		if s.Find(blockElements).Length() > 0 {
			return
		}
		if text := util.NormalizeSpaces(s.Text()); text != "" {
			lines = append(lines, text)
		}
	})
	if len(lines) == 0 {
		if text := util.NormalizeSpaces(doc.Text()); text != "" {
			lines = append(lines, text)
		}
	}
	for _, t := range out.Tables {
		for _, row := range t.Rows {
			lines = append(lines, strings.Join(nonEmpty(row), "  "))
		}
	}
	out.Pages = []string{joinLines(lines)}
	return out, nil
}
