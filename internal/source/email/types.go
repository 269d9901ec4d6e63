package email

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// syntheticIDPrefix marks external IDs derived from the envelope of a
// message that has no Message-ID header.
const syntheticIDPrefix = "synthetic:"

// Envelope holds the parsed envelope data from an IMAP message.
type Envelope struct {
	MessageID string
	Subject   string
	From      string // display name, or the address when there is none
	FromAddr  string
	Date      time.Time
	Flags     []string // \Seen, \Flagged, \Answered, \Deleted
	UID       uint32
}

// Sender formats the sender the way it is shown in the inbox.
func (e Envelope) Sender() string {
	switch {
	case e.FromAddr == "":
		return e.From
	case e.From == "" || e.From == e.FromAddr:
		return e.FromAddr
	default:
		return e.From + " <" + e.FromAddr + ">"
	}
}

// ExternalID identifies the message across sync passes. It is the
// Message-ID header when present, otherwise a name-based UUID of the
// sender, date and subject, which stay the same on every fetch.
func (e Envelope) ExternalID() string {
	if id := strings.TrimSpace(e.MessageID); id != "" {
		return id
	}
	name := strings.Join([]string{
		strings.ToLower(e.FromAddr),
		e.Date.UTC().Format(time.RFC3339),
		e.Subject,
	}, "\x00")
	return syntheticIDPrefix + uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// IsSyntheticID reports whether id was derived by ExternalID rather
// than read from a Message-ID header.
func IsSyntheticID(id string) bool {
	return strings.HasPrefix(id, syntheticIDPrefix)
}

// Answered reports whether the message carries the \Answered flag.
func (e Envelope) Answered() bool {
	for _, f := range e.Flags {
		if f == `\Answered` {
			return true
		}
	}
	return false
}

// Message is a fetched message with its decoded bodies.
type Message struct {
	Envelope Envelope
	TextBody string
	HTMLBody string
}

// Content returns the plain-text body, falling back to the HTML body
// with tags stripped.
func (m Message) Content() string {
	if m.TextBody != "" {
		return m.TextBody
	}
	return stripHTML(m.HTMLBody)
}
