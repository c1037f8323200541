package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/sbtc-gateway/warden/ports"
)

// Config holds SMTP delivery settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	FromName string
	// BaseURL prefixes links embedded in messages.
	BaseURL string
}

// SMTPSender delivers identity notifications over SMTP.
type SMTPSender struct {
	config Config
	auth   smtp.Auth
}

// NewSMTPSender creates an SMTP-backed email sender.
func NewSMTPSender(config Config) *SMTPSender {
	var auth smtp.Auth
	if config.User != "" && config.Password != "" {
		auth = smtp.PlainAuth("", config.User, config.Password, config.Host)
	}
	return &SMTPSender{config: config, auth: auth}
}

func (s *SMTPSender) SendLinkingInvite(ctx context.Context, to, sourceName, token string) error {
	link := fmt.Sprintf("%s/account/confirm-link?token=%s", s.config.BaseURL, token)
	body := fmt.Sprintf(
		"<p>%s wants to link their sBTC Gateway account with yours.</p>"+
			"<p><a href=%q>Confirm the link</a> within one hour, or ignore this message.</p>",
		sourceName, link,
	)
	return s.send(to, "Account linking request", body)
}

func (s *SMTPSender) SendGeneratedPasswordNotice(ctx context.Context, to string) error {
	body := "<p>Your wallet account was created with a generated password. " +
		"Sign in and retrieve it from your security settings, then set your own.</p>"
	return s.send(to, "Your sBTC Gateway account", body)
}

func (s *SMTPSender) SendEmailChangeVerification(ctx context.Context, to, verificationURL string) error {
	if verificationURL == "" {
		verificationURL = s.config.BaseURL + "/account/verify-email"
	}
	body := fmt.Sprintf("<p>Confirm your new email address: <a href=%q>verify</a></p>", verificationURL)
	return s.send(to, "Verify your email", body)
}

func (s *SMTPSender) send(to, subject, htmlBody string) error {
	return smtp.SendMail(s.addr(), s.auth, s.config.From, []string{to}, s.message(to, subject, htmlBody))
}

func (s *SMTPSender) addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

func (s *SMTPSender) message(to, subject, htmlBody string) []byte {
	fromHeader := s.config.From
	if strings.TrimSpace(s.config.FromName) != "" {
		fromHeader = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	msg := []string{
		"From: " + sanitizeHeader(fromHeader),
		"To: " + sanitizeHeader(to),
		"Subject: " + sanitizeHeader(subject),
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
		"",
		htmlBody,
	}
	return []byte(strings.Join(msg, "\r\n"))
}

func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}

// NopSender discards mail. Used in tests and local development.
type NopSender struct{}

func (NopSender) SendLinkingInvite(context.Context, string, string, string) error { return nil }
func (NopSender) SendGeneratedPasswordNotice(context.Context, string) error       { return nil }
func (NopSender) SendEmailChangeVerification(context.Context, string, string) error {
	return nil
}

var (
	_ ports.EmailSender = (*SMTPSender)(nil)
	_ ports.EmailSender = NopSender{}
)
