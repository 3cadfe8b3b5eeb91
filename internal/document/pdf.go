package document

import (
	"bytes"

	pdf "github.com/ledongthuc/pdf"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"invoicepipe/internal"
	"invoicepipe/internal/util"
)

// FromPDF extracts the plain text of each page. Table rows are recovered
// from lines whose columns are separated by tabs or runs of spaces.
func FromPDF(filename string, content []byte) (internal.Document, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return internal.Document{}, eris.Wrap(err, "document: open pdf")
	}

	doc := internal.Document{Filename: filename, Source: internal.SourcePDF}
	pageLines := [][]string{}
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			zap.L().Warn("document: skip unreadable pdf page", zap.String("file", filename), zap.Int("page", i), zap.Error(err))
			continue
		}
		lines := util.SplitLines(text)
		doc.Pages = append(doc.Pages, joinLines(lines))
		pageLines = append(pageLines, lines)
	}
	doc.Tables = linesToTables(filename, pageLines)
	return doc, nil
}
