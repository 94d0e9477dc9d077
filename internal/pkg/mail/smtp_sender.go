package mail

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/gofiber/fiber/v2/log"
)

// SMTPSender sends emails via SMTP
type SMTPSender struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string

	// sendMail is smtp.SendMail outside of tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(host, port, username, password, from string) *SMTPSender {
	if from == "" {
		from = "no-reply@localhost"
		log.Warnf("[Mail] SMTP sender address not set, using default sender: %s", from)
	}
	return &SMTPSender{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		From:     from,
		sendMail: smtp.SendMail,
	}
}

func (s *SMTPSender) Send(_ context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	var auth smtp.Auth
	if s.Username != "" && s.Password != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}
	addr := fmt.Sprintf("%s:%s", s.Host, s.Port)

	if err := s.sendMail(addr, auth, s.From, []string{msg.To}, s.compose(msg)); err != nil {
		log.Errorf("[Mail] SMTP send to %s failed: %v", msg.To, err)
		return err
	}
	log.Infof("[Mail] Email sent to %s via %s", msg.To, addr)
	return nil
}

func (s *SMTPSender) compose(msg Message) []byte {
	return []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", s.From, msg.To, msg.Subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			msg.HTMLBody,
	)
}
