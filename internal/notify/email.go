package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/pricelens/pricelens/internal/config"
	"github.com/pricelens/pricelens/internal/model"
)

// sendMailFunc matches smtp.SendMail. Injectable for tests.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Email sends change alerts over SMTP.
type Email struct {
	cfg  config.EmailConfig
	send sendMailFunc
}

// NewEmail builds the email channel from SMTP settings.
func NewEmail(cfg config.EmailConfig) *Email {
	return &Email{cfg: cfg, send: smtp.SendMail}
}

func (e *Email) Name() string { return "email" }

// Send delivers one plain-text message to all recipients.
func (e *Email) Send(ctx context.Context, change model.PriceChange) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "notify: email")
	}

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", renderSubject(change))
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(renderBody(change))

	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)
	if err := e.send(addr, auth, e.cfg.From, e.cfg.To, []byte(b.String())); err != nil {
		return eris.Wrap(err, "notify: smtp send")
	}
	return nil
}
