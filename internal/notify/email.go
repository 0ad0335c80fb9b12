package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// SMTPConfig holds SMTP configuration.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Email sends verification outcomes as plain text email over SMTP.
type Email struct {
	config SMTPConfig
	server string
	auth   smtp.Auth
	to     []string
	// send is swapped in tests; smtp.SendMail otherwise.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmail(config SMTPConfig, to []string) *Email {
	return &Email{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   smtp.PlainAuth("", config.Username, config.Password, config.Host),
		to:     to,
		send:   smtp.SendMail,
	}
}

func (e *Email) Name() string { return "email" }

// IsConfigured returns true if enough SMTP settings are present to send.
func (e *Email) IsConfigured() bool {
	return e.config.Host != "" && e.config.Port != "" && e.config.From != "" && len(e.to) > 0
}

func (e *Email) Notify(_ context.Context, ev Event) error {
	if !e.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := e.config.From
	if e.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", e.config.FromName, e.config.From)
	}

	subject := fmt.Sprintf("Proof verification %s (%s)", ev.Status, ev.RunID)
	body := renderBody(ev)

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(e.to, ", "),
		from,
		subject,
		body,
	))

	return e.send(e.server, e.auth, e.config.From, e.to, msg)
}

func renderBody(ev Event) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Verification run %s finished with status %s.\r\n", ev.RunID, ev.Status)
	fmt.Fprintf(&sb, "Started: %s\r\n\r\n", ev.StartedAt)
	fmt.Fprintf(&sb, "Exports: %d pass, %d fail, %d miss\r\n", ev.ExportsPass, ev.ExportsFail, ev.ExportsMiss)
	fmt.Fprintf(&sb, "Compose replay: %d pass, %d drift, %d miss\r\n", ev.ComposePass, ev.ComposeDrift, ev.ComposeMiss)
	if ev.ReportPath != "" {
		fmt.Fprintf(&sb, "\r\nFull report: %s\r\n", ev.ReportPath)
	}
	return sb.String()
}
