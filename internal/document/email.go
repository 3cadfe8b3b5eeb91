package document

import (
	"bytes"
	"strings"

	"github.com/jhillyerd/enmime"
	"github.com/rotisserie/eris"

	"invoicepipe/internal"
)

type Attachment struct {
	Filename string
	Content  []byte
}

// Email is the part of a parsed message the intake path cares about.
type Email struct {
	Subject     string
	From        string
	Text        string
	HTML        string
	Attachments []Attachment
}

func ReadEmail(raw []byte) (Email, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return Email{}, eris.Wrap(err, "document: read email")
	}

	out := Email{
		Subject: env.GetHeader("Subject"),
		From:    env.GetHeader("From"),
		Text:    env.Text,
		HTML:    env.HTML,
	}
	for _, att := range env.Attachments {
		filename := strings.TrimSpace(att.FileName)
		if filename == "" {
			filename = "attachment"
		}
		out.Attachments = append(out.Attachments, Attachment{Filename: filename, Content: att.Content})
	}
	return out, nil
}

// InvoiceAttachments returns the attachments Load can read, in message order.
func (e Email) InvoiceAttachments() []Attachment {
	out := []Attachment{}
	for _, att := range e.Attachments {
		if Supported(att.Filename) && !strings.HasSuffix(strings.ToLower(att.Filename), ".eml") {
			out = append(out, att)
		}
	}
	return out
}

// FromEmail reads the first supported attachment. A message without one is
// read from its HTML body, then its text body.
func FromEmail(filename string, raw []byte) (internal.Document, error) {
	msg, err := ReadEmail(raw)
	if err != nil {
		return internal.Document{}, err
	}

	if atts := msg.InvoiceAttachments(); len(atts) > 0 {
		doc, err := Load(atts[0].Filename, atts[0].Content)
		if err != nil {
			return internal.Document{}, err
		}
		doc.Filename = filename
		doc.Source = internal.SourceEmail
		return doc, nil
	}

	var doc internal.Document
	if strings.TrimSpace(msg.HTML) != "" {
		doc, err = FromHTML(filename, msg.HTML)
		if err != nil {
			return internal.Document{}, err
		}
	} else {
		doc = FromText(filename, msg.Text)
	}
	doc.Source = internal.SourceEmail
	if len(doc.Pages) > 0 {
		doc.Pages[0] = strings.TrimSpace(msg.From + "\n" + msg.Subject + "\n" + doc.Pages[0])
	}
	return doc, nil
}
