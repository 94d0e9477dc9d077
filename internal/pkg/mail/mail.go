package mail

import (
	"context"
	"errors"
	"strings"
)

var ErrInvalidMessage = errors.New("mail: recipient, subject and body are required")

// Message is one outgoing HTML email.
type Message struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
	Tag      string `json:"tag,omitempty"`
}

func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" || strings.TrimSpace(m.Subject) == "" || m.HTMLBody == "" {
		return ErrInvalidMessage
	}
	return nil
}

// Sender delivers a message. Implementations may fail; callers decide
// whether a failure matters.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }
