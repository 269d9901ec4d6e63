package email

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"

	"github.com/nhle/inbox-followup/internal/model"
	"github.com/nhle/inbox-followup/internal/source"
)

// IMAPClient wraps go-imap v2 for reading a shared mailbox.
type IMAPClient struct {
	host     string
	port     string
	username string
	password string
	tls      bool
	mailbox  string
}

// NewIMAPClient creates an IMAP client for the configured account.
func NewIMAPClient(cfg model.IMAPConfig, password string) *IMAPClient {
	mailbox := cfg.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	return &IMAPClient{
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.Username,
		password: password,
		tls:      cfg.TLS,
		mailbox:  mailbox,
	}
}

// Server returns the host:port the client connects to.
func (c *IMAPClient) Server() string {
	return c.host + ":" + c.port
}

// Connect establishes a connection to the IMAP server, authenticates,
// and returns the connected client. The caller is responsible for
// calling Logout on the returned client.
func (c *IMAPClient) Connect(ctx context.Context) (*imapclient.Client, error) {
	addr := c.Server()

	var client *imapclient.Client
	var err error

	if c.tls {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := ctx.Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	if err := client.Login(c.username, c.password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &source.AuthError{
			Server: addr,
			Message: fmt.Sprintf(
				"authentication failed for %s: %v",
				c.username, err,
			),
		}
	}

	return client, nil
}

// session connects, selects the mailbox and runs fn. The connection is
// closed if ctx ends first, which unblocks any pending command.
func (c *IMAPClient) session(
	ctx context.Context,
	fn func(*imapclient.Client) error,
) error {
	client, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	if _, err := client.Select(c.mailbox, nil).Wait(); err != nil {
		return fmt.Errorf("selecting %s: %w", c.mailbox, err)
	}

	return fn(client)
}

// ValidateConnection verifies credentials and that the mailbox exists.
func (c *IMAPClient) ValidateConnection(ctx context.Context) error {
	return c.session(ctx, func(*imapclient.Client) error { return nil })
}

// FetchRecent returns up to limit of the newest messages received
// since the given time, with their bodies. Bodies are fetched with PEEK
// so reading does not mark messages seen.
func (c *IMAPClient) FetchRecent(
	ctx context.Context, since time.Time, limit int,
) ([]Message, error) {
	var messages []Message

	err := c.session(ctx, func(client *imapclient.Client) error {
		searchData, err := client.UIDSearch(&imap.SearchCriteria{
			Since: since,
		}, nil).Wait()
		if err != nil {
			return fmt.Errorf("searching messages: %w", err)
		}

		uids := searchData.AllUIDs()
		if len(uids) == 0 {
			return nil
		}

		// Take the most recent.
		if limit > 0 && len(uids) > limit {
			uids = uids[len(uids)-limit:]
		}

		bodySection := &imap.FetchItemBodySection{Peek: true}
		fetchCmd := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
			Envelope:    true,
			Flags:       true,
			UID:         true,
			BodySection: []*imap.FetchItemBodySection{bodySection},
		})
		defer fetchCmd.Close()

		for {
			msg := fetchCmd.Next()
			if msg == nil {
				break
			}

			buf, err := msg.Collect()
			if err != nil {
				continue
			}

			m := Message{Envelope: envelopeFromBuffer(buf)}
			if raw := buf.FindBodySection(bodySection); raw != nil {
				m.TextBody, m.HTMLBody = parseMIMEBody(raw)
			}
			messages = append(messages, m)
		}

		if err := fetchCmd.Close(); err != nil {
			return fmt.Errorf("fetching messages: %w", err)
		}
		return nil
	})

	return messages, err
}

// MarkAnswered sets the \Answered flag on the message with the given
// Message-ID. It is a no-op when the message is no longer in the
// mailbox or had no Message-ID to search for.
func (c *IMAPClient) MarkAnswered(ctx context.Context, messageID string) error {
	if messageID == "" || IsSyntheticID(messageID) {
		return nil
	}

	return c.session(ctx, func(client *imapclient.Client) error {
		searchData, err := client.UIDSearch(&imap.SearchCriteria{
			Header: []imap.SearchCriteriaHeaderField{
				{Key: "Message-ID", Value: messageID},
			},
		}, nil).Wait()
		if err != nil {
			return fmt.Errorf("searching for %s: %w", messageID, err)
		}

		uids := searchData.AllUIDs()
		if len(uids) == 0 {
			return nil
		}

		storeCmd := client.Store(imap.UIDSetNum(uids...), &imap.StoreFlags{
			Op:     imap.StoreFlagsAdd,
			Silent: true,
			Flags:  []imap.Flag{imap.FlagAnswered},
		}, nil)
		if err := storeCmd.Close(); err != nil {
			return fmt.Errorf("flagging %s answered: %w", messageID, err)
		}
		return nil
	})
}

// envelopeFromBuffer extracts an Envelope from a FetchMessageBuffer.
func envelopeFromBuffer(buf *imapclient.FetchMessageBuffer) Envelope {
	env := Envelope{
		UID: uint32(buf.UID),
	}

	if buf.Envelope != nil {
		env.MessageID = buf.Envelope.MessageID
		env.Subject = buf.Envelope.Subject
		env.Date = buf.Envelope.Date

		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			env.FromAddr = from.Addr()
			env.From = from.Name
			if env.From == "" {
				env.From = env.FromAddr
			}
		}
	}

	for _, flag := range buf.Flags {
		env.Flags = append(env.Flags, string(flag))
	}

	return env
}

// parseMIMEBody parses a raw RFC 5322 message using go-message and
// returns its first text/plain and text/html parts. Attachments are
// skipped.
func parseMIMEBody(raw []byte) (textBody, htmlBody string) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// Not MIME; treat the whole thing as plain text.
		return string(raw), ""
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, _ := h.ContentType()
		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain") && textBody == "":
			textBody = string(body)
		case strings.HasPrefix(contentType, "text/html") && htmlBody == "":
			htmlBody = string(body)
		}
	}

	return strings.TrimSpace(textBody), htmlBody
}

// htmlTagPattern matches HTML tags for stripping.
var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// stripHTML removes HTML tags from a string and decodes common
// entities, providing a basic plain-text rendering.
func stripHTML(html string) string {
	if html == "" {
		return ""
	}

	result := html
	for _, tag := range []string{
		"<br>", "<br/>", "<br />", "</p>", "</div>", "</li>",
	} {
		result = strings.ReplaceAll(result, tag, "\n")
	}

	result = htmlTagPattern.ReplaceAllString(result, "")

	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	result = replacer.Replace(result)

	for strings.Contains(result, "\n\n\n") {
		result = strings.ReplaceAll(result, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(result)
}
