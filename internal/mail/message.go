package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mazen160/go-random"
)

// ErrMalformed is returned by Validate for payloads that can never be sent.
var ErrMalformed = errors.New("malformed message")

// Attachment is a file attached to a message. Either Data is set, or Load
// downloads the content at send time so that building messages stays free of
// I/O.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
	Load        func(ctx context.Context) ([]byte, error)
}

// Content returns the attachment bytes, loading them if necessary.
func (a Attachment) Content(ctx context.Context) ([]byte, error) {
	if a.Data != nil || a.Load == nil {
		return a.Data, nil
	}
	data, err := a.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load attachment %s: %w", a.Name, err)
	}
	return data, nil
}

// Message is an outbound email. From is filled in by the sender when empty.
type Message struct {
	From        string
	To          []string
	ReplyTo     string
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment

	// threading headers, all values include the angle brackets
	MessageID  string
	InReplyTo  string
	References []string
}

func (m Message) Validate() error {
	var problems []string
	if len(m.To) == 0 {
		problems = append(problems, "no recipients")
	}
	for _, to := range m.To {
		if strings.TrimSpace(to) == "" {
			problems = append(problems, "empty recipient")
			break
		}
	}
	if strings.TrimSpace(m.Subject) == "" {
		problems = append(problems, "no subject")
	}
	if strings.TrimSpace(m.Text) == "" && strings.TrimSpace(m.HTML) == "" {
		problems = append(problems, "no body")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrMalformed, strings.Join(problems, ", "))
	}
	return nil
}

// ThreadID returns the deterministic Message-ID of message `index` of a
// portal thread, replies to the same thread always yield the same chain.
func ThreadID(source, category, thread string, index int, domain string) string {
	return fmt.Sprintf("<%s.%s.%s.%d@%s>", source, category, thread, index, domain)
}

// ThreadHeaders fills the threading headers of message `index` so that it
// replies to message `index-1` and references every earlier message.
func ThreadHeaders(m *Message, source, category, thread string, index int, domain string) {
	m.MessageID = ThreadID(source, category, thread, index, domain)
	if index == 0 {
		return
	}
	m.References = make([]string, index)
	for i := 0; i < index; i++ {
		m.References[i] = ThreadID(source, category, thread, i, domain)
	}
	m.InReplyTo = m.References[index-1]
}

// RandomID returns a fresh Message-ID for messages that are not part of a
// thread.
func RandomID(domain string) (string, error) {
	token, err := random.String(24)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("<%s@%s>", token, domain), nil
}
