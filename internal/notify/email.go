package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"

	"splitledger/internal/core"
	applog "splitledger/internal/log"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// EmailAlerter mails failed executions to the operators.
type EmailAlerter struct {
	cfg  SMTPConfig
	send func(e *email.Email, addr string, auth smtp.Auth) error
}

func NewEmailAlerter(cfg SMTPConfig) *EmailAlerter {
	return &EmailAlerter{
		cfg: cfg,
		send: func(e *email.Email, addr string, auth smtp.Auth) error {
			return e.Send(addr, auth)
		},
	}
}

func (s *EmailAlerter) message(a core.ExecutionAlert) *email.Email {
	e := email.NewEmail()
	e.From = s.cfg.From
	e.To = s.cfg.To
	e.Subject = fmt.Sprintf("Scheduled action %s failed for %s", a.ActionID, a.DueDate)

	var b strings.Builder
	fmt.Fprintf(&b, "A scheduled %s could not be executed.\n\n", a.ActionType)
	fmt.Fprintf(&b, "Action:   %s\n", a.ActionID)
	fmt.Fprintf(&b, "Group:    %s\n", a.GroupID)
	fmt.Fprintf(&b, "Due date: %s\n", a.DueDate)
	fmt.Fprintf(&b, "Attempt:  %s\n", a.ExecutedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "Error:    %s\n\n", a.Err)
	b.WriteString("The action stays due and will be retried on the next sweep.\n")
	e.Text = []byte(b.String())
	return e
}

func (s *EmailAlerter) Alert(ctx context.Context, a core.ExecutionAlert) error {
	if len(s.cfg.To) == 0 {
		return nil
	}
	e := s.message(a)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	if err := s.send(e, addr, auth); err != nil {
		return fmt.Errorf("send alert email: %w", err)
	}

	slog.InfoContext(ctx, "Alert email sent", applog.FieldActionID, a.ActionID, "recipients", len(s.cfg.To))
	return nil
}
