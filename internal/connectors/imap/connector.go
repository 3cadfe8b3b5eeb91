package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/rotisserie/eris"

	"invoicepipe/internal"
	"invoicepipe/internal/config"
)

const provider = "imap"

type Connector struct {
	host     string
	port     int
	secure   bool
	user     string
	password string
	markSeen bool
}

func NewConnector(cfg config.Config) (*Connector, error) {
	if err := cfg.Require("IMAP_HOST", cfg.IMAPHost); err != nil {
		return nil, err
	}
	if err := cfg.Require("IMAP_USER", cfg.IMAPUser); err != nil {
		return nil, err
	}
	if err := cfg.Require("IMAP_PASSWORD", cfg.IMAPPassword); err != nil {
		return nil, err
	}

	return &Connector{
		host:     cfg.IMAPHost,
		port:     cfg.IMAPPort,
		secure:   cfg.IMAPSecure,
		user:     cfg.IMAPUser,
		password: cfg.IMAPPassword,
		markSeen: cfg.IMAPMarkSeen,
	}, nil
}

// FetchInbox downloads the newest max unseen messages from the mailbox named
// label. When IMAP_MARK_SEEN is set the fetched messages are flagged \Seen
// after the whole batch has been read.
func (c *Connector) FetchInbox(ctx context.Context, label string, max int) ([]internal.FetchedMailMessage, error) {
	client, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout() }()

	// the client API is blocking; closing the connection unblocks it on cancel
	stop := context.AfterFunc(ctx, func() { _ = client.Terminate() })
	defer stop()

	if err := client.Login(c.user, c.password); err != nil {
		return nil, eris.Wrap(err, "imap: login")
	}
	if _, err := client.Select(label, false); err != nil {
		return nil, eris.Wrapf(err, "imap: select %s", label)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	ids, err := client.Search(criteria)
	if err != nil {
		return nil, eris.Wrap(err, "imap: search unseen")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if max > 0 && len(ids) > max {
		ids = ids[len(ids)-max:]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, imap.FetchUid, section.FetchItem()}
	messages := make(chan *imap.Message, len(ids))
	fetchDone := make(chan error, 1)
	go func() { fetchDone <- client.Fetch(seqset, items, messages) }()

	out := make([]internal.FetchedMailMessage, 0, len(ids))
	seen := new(imap.SeqSet)
	var readErr error
	for msg := range messages {
		if msg == nil || readErr != nil {
			continue
		}
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			readErr = eris.Wrap(err, "imap: read body")
			continue
		}
		out = append(out, toFetched(msg, raw))
		seen.AddNum(msg.SeqNum)
	}
	if err := <-fetchDone; err != nil {
		return nil, eris.Wrap(err, "imap: fetch")
	}
	if readErr != nil {
		return nil, readErr
	}

	if c.markSeen && !seen.Empty() {
		item := imap.FormatFlagsOp(imap.AddFlags, true)
		if err := client.Store(seen, item, []interface{}{imap.SeenFlag}, nil); err != nil {
			return nil, eris.Wrap(err, "imap: mark seen")
		}
	}
	return out, nil
}

func (c *Connector) dial() (*imapclient.Client, error) {
	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	var (
		client *imapclient.Client
		err    error
	)
	if c.secure {
		client, err = imapclient.DialTLS(addr, &tls.Config{ServerName: c.host})
	} else {
		client, err = imapclient.Dial(addr)
	}
	return client, eris.Wrapf(err, "imap: dial %s", addr)
}

func toFetched(msg *imap.Message, raw []byte) internal.FetchedMailMessage {
	messageID, subject, from := "", "", ""
	if msg.Envelope != nil {
		messageID = msg.Envelope.MessageId
		subject = msg.Envelope.Subject
		from = formatAddresses(msg.Envelope.From)
	}
	if messageID == "" {
		messageID = fmt.Sprintf("imap-%d", msg.Uid)
	}

	received := time.Now().UTC().Format(time.RFC3339)
	if !msg.InternalDate.IsZero() {
		received = msg.InternalDate.UTC().Format(time.RFC3339)
	}

	return internal.FetchedMailMessage{
		Provider:   provider,
		MessageID:  messageID,
		Subject:    subject,
		From:       from,
		ReceivedAt: received,
		Raw:        raw,
	}
}

func formatAddresses(addrs []*imap.Address) string {
	if len(addrs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a == nil {
			continue
		}
		email := strings.Trim(strings.Join([]string{a.MailboxName, a.HostName}, "@"), "@")
		if a.PersonalName != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", a.PersonalName, email))
		} else {
			parts = append(parts, email)
		}
	}
	return strings.Join(parts, ", ")
}
