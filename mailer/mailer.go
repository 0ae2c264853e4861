// Package mailer provides an SMTP-backed EmailDispatcher for the engine.
// Host applications with their own delivery pipeline can ignore it and
// implement the interface directly.
package mailer

import (
	"context"
	"fmt"
	"net/url"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"

	"github.com/membergate/membergate"
)

// Config holds SMTP settings and the link templates tokens are embedded in.
type Config struct {
	Host     string `env:"SMTP_HOST"`
	Port     int    `env:"SMTP_PORT"`
	Username string `env:"SMTP_USERNAME"`
	Password string `env:"SMTP_PASSWORD"`
	From     string `env:"SMTP_FROM"`

	// VerifyURL and ResetURL are the pages the emailed links point at; the
	// token is appended as a "token" query parameter.
	VerifyURL string `env:"MG_VERIFY_URL"`
	ResetURL  string `env:"MG_RESET_URL"`

	SiteName string `env:"MG_SITE_NAME" envDefault:"our community"`
}

// ConfigFromEnv reads Config from environment variables.
func ConfigFromEnv() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse mailer environment: %w", err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.Host == "":
		return fmt.Errorf("missing SMTP_HOST")
	case c.Port == 0:
		return fmt.Errorf("missing SMTP_PORT")
	case c.From == "":
		return fmt.Errorf("missing SMTP_FROM")
	case c.VerifyURL == "":
		return fmt.Errorf("missing MG_VERIFY_URL")
	case c.ResetURL == "":
		return fmt.Errorf("missing MG_RESET_URL")
	}
	return nil
}

// Mailer sends token-bearing emails over SMTP.
type Mailer struct {
	config Config
	dialer *gomail.Dialer
	logger *zerolog.Logger
}

// New validates cfg and returns a ready Mailer.
func New(cfg Config, logger *zerolog.Logger) (*Mailer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Mailer{
		config: cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		logger: logger,
	}, nil
}

// Send implements membergate.EmailDispatcher.
func (m *Mailer) Send(ctx context.Context, toAddress string, kind membergate.EmailKind, tokenValue string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	subject, text, html := m.compose(kind, tokenValue)

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.config.From)
	msg.SetHeader("To", toAddress)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", html)
	msg.AddAlternative("text/plain", text)

	if err := m.dialer.DialAndSend(msg); err != nil {
		// The token value must not leak into logs through the error.
		if m.logger != nil {
			m.logger.Warn().Str("host", m.config.Host).Msg("smtp delivery failed")
		}
		return fmt.Errorf("smtp delivery failed: %w", err)
	}
	return nil
}

// compose renders the subject and both bodies for an email kind. The token
// appears only inside the action link.
func (m *Mailer) compose(kind membergate.EmailKind, tokenValue string) (subject, text, html string) {
	switch kind {
	case membergate.EmailPasswordReset:
		link := tokenLink(m.config.ResetURL, tokenValue)
		subject = fmt.Sprintf("Reset your %s password", m.config.SiteName)
		text = fmt.Sprintf(
			"A password reset was requested for your %s account.\n\n"+
				"Open this link to choose a new password:\n%s\n\n"+
				"If you did not request this, no action is needed.\n",
			m.config.SiteName, link,
		)
		html = fmt.Sprintf(
			"<p>A password reset was requested for your %s account.</p>"+
				"<p><a href=%q>Choose a new password</a></p>"+
				"<p>If you did not request this, no action is needed.</p>",
			m.config.SiteName, link,
		)
	default:
		link := tokenLink(m.config.VerifyURL, tokenValue)
		subject = fmt.Sprintf("Confirm your %s email address", m.config.SiteName)
		text = fmt.Sprintf(
			"Welcome to %s.\n\n"+
				"Open this link to confirm your email address:\n%s\n\n"+
				"The link is valid once and expires; you can request a new one "+
				"from the sign-in page.\n",
			m.config.SiteName, link,
		)
		html = fmt.Sprintf(
			"<p>Welcome to %s.</p>"+
				"<p><a href=%q>Confirm your email address</a></p>"+
				"<p>The link is valid once and expires; you can request a new "+
				"one from the sign-in page.</p>",
			m.config.SiteName, link,
		)
	}
	return subject, text, html
}

// tokenLink appends the token as a query parameter, preserving any query the
// configured URL already carries.
func tokenLink(base, tokenValue string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base + "?token=" + url.QueryEscape(tokenValue)
	}
	q := u.Query()
	q.Set("token", tokenValue)
	u.RawQuery = q.Encode()
	return u.String()
}
