package mail

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"
)

var ErrPostmarkConfig = errors.New("mail: postmark server token and sender address are required")

type postmarkAPI interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// PostmarkSender delivers through Postmark's transactional API.
type PostmarkSender struct {
	client  postmarkAPI
	from    string
	replyTo string
}

func NewPostmarkSender(serverToken, accountToken, from, replyTo string) (*PostmarkSender, error) {
	if serverToken == "" || from == "" {
		return nil, ErrPostmarkConfig
	}
	return &PostmarkSender{
		client:  postmark.NewClient(serverToken, accountToken),
		from:    from,
		replyTo: replyTo,
	}, nil
}

func (s *PostmarkSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	resp, err := s.client.SendEmail(ctx, postmark.Email{
		From:       s.from,
		ReplyTo:    s.replyTo,
		To:         msg.To,
		Subject:    msg.Subject,
		Tag:        msg.Tag,
		HTMLBody:   msg.HTMLBody,
		TrackOpens: true,
	})
	if err != nil {
		return fmt.Errorf("postmark send: %w", err)
	}
	if resp.ErrorCode > 0 {
		return fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message)
	}
	return nil
}
