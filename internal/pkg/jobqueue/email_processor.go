package jobqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CobroFox/internal/pkg/mail"
)

var ErrNoSender = errors.New("no mail sender configured")

// EnqueueEmail stores msg as a send_email job. It satisfies the
// notification dispatcher's queue interface.
func (q *Queue) EnqueueEmail(ctx context.Context, msg mail.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	_, err := q.Enqueue(ctx, JobTypeSendEmail, NewSendEmailJobPayload(msg).ToMap())
	return err
}

func (q *Queue) processSendEmailJob(ctx context.Context, job *Job) error {
	payload, err := SendEmailJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to parse email payload: %w", err)
	}
	sender := q.mailSender()
	if sender == nil {
		return ErrNoSender
	}

	msg := payload.Message()
	if err := msg.Validate(); err != nil {
		// A broken payload will never succeed; burn the remaining retries.
		job.RetryCount = job.MaxRetries
		return err
	}
	if err := sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", msg.To, err)
	}
	log.Infof("[JobQueue] Email %q delivered to %s", msg.Tag, msg.To)
	return nil
}
