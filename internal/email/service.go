package email

import (
	"context"
	"fmt"
	"net/smtp"
)

// Mailer delivers one HTML message.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPMailer handles email sending via SMTP
type SMTPMailer struct {
	host string
	port string
	from string
	auth smtp.Auth
}

// NewSMTPMailer creates a mailer. Authentication is only used when a
// username is configured; local relays such as MailHog accept anonymous mail.
func NewSMTPMailer(host, port, from, username, password string) *SMTPMailer {
	m := &SMTPMailer{host: host, port: port, from: from}
	if username != "" {
		m.auth = smtp.PlainAuth("", username, password, host)
	}
	return m
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		m.from, to, subject, body)
	addr := fmt.Sprintf("%s:%s", m.host, m.port)
	return smtp.SendMail(addr, m.auth, m.from, []string{to}, []byte(msg))
}
