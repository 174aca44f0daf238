// Package mail delivers one-time verification codes by email.
package mail

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
)

// Sender dispatches a one-time code to a recipient.
// Handlers depend on this interface; tests substitute a recording fake.
type Sender interface {
	SendCode(ctx context.Context, to, code string) error
}

// SMTPConfig holds the settings for the SMTP sender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender sends codes through a plain SMTP relay.
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender creates a sender for the given relay.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

// SendCode emails the code to the recipient. The send is synchronous; a
// failed dispatch surfaces as an error to the caller, nothing is retried.
func (s *SMTPSender) SendCode(ctx context.Context, to, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	msg := FormatCodeMessage(s.cfg.From, to, code)
	if err := smtp.SendMail(addr, auth, s.cfg.From, []string{to}, msg); err != nil {
		return fmt.Errorf("send verification email: %w", err)
	}

	return nil
}

// LogSender writes codes to the log instead of sending email.
// Used in development when no SMTP relay is configured.
type LogSender struct {
	Logger *slog.Logger
}

// SendCode logs the code.
func (s *LogSender) SendCode(ctx context.Context, to, code string) error {
	s.Logger.Info("verification code (email delivery disabled)",
		slog.String("to", to),
		slog.String("code", code),
	)
	return nil
}

// FormatCodeMessage builds the RFC 5322 message carrying the code.
func FormatCodeMessage(from, to, code string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	b.WriteString("Subject: Your Portal verification code\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "Your verification code is %s. It expires in 10 minutes.\r\n", code)
	return []byte(b.String())
}
