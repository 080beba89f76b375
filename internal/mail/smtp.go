// Package mail is the production delivery capability: one SMTP send per
// call, bounded by a hard timeout.
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"dealflow/internal/config"
	"dealflow/pkg/logger"

	mail "gopkg.in/gomail.v2"
)

const sendTimeout = 60 * time.Second

type SMTPDeliverer struct {
	cfg config.SMTPConfig
}

func NewSMTPDeliverer(cfg config.SMTPConfig) *SMTPDeliverer {
	return &SMTPDeliverer{cfg: cfg}
}

// Deliver sends one message. Any error is a delivery failure subject to the
// dispatch handler's retry policy.
func (s *SMTPDeliverer) Deliver(ctx context.Context, to, toName, subject, htmlBody, textBody string) error {
	m := mail.NewMessage()
	m.SetAddressHeader("From", s.cfg.FromAddress, s.cfg.FromName)
	m.SetAddressHeader("To", to, toName)
	m.SetHeader("Subject", subject)
	if textBody != "" {
		m.SetBody("text/plain", textBody)
		if htmlBody != "" {
			m.AddAlternative("text/html", htmlBody)
		}
	} else {
		m.SetBody("text/html", htmlBody)
	}

	d := mail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.Username, s.cfg.Password)
	d.TLSConfig = &tls.Config{
		ServerName:         s.cfg.Host,
		InsecureSkipVerify: s.cfg.SkipTLSVerify,
	}
	if s.cfg.SkipTLSVerify {
		logger.Warn("smtp TLS certificate verification is disabled")
	}

	// gomail's dial-and-send is synchronous; bound it so a wedged provider
	// connection cannot hold the send queue forever.
	done := make(chan error, 1)
	go func() {
		done <- d.DialAndSend(m)
	}()

	timer := time.NewTimer(sendTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send failed: %w", err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("smtp send timed out after %s", sendTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
