// Package mailer sends workflow notifications over SMTP.
package mailer

import (
	"fmt"

	"gopkg.in/gomail.v2"
)

// Config SMTP 配置
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// Mailer SMTP 发信
type Mailer struct {
	dialer *gomail.Dialer
	from   string
}

// New returns nil when no SMTP host is configured; callers treat a nil mailer as
// "notifications disabled".
func New(cfg Config) *Mailer {
	if cfg.Host == "" {
		return nil
	}
	from := cfg.From
	if from == "" {
		from = cfg.User
	}
	return &Mailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		from:   from,
	}
}

// Send delivers an HTML message to the recipients.
func (m *Mailer) Send(to []string, subject, htmlBody string) error {
	if len(to) == 0 {
		return nil
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", htmlBody)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}
