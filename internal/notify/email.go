// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

package notify

import (
	"bytes"
	"context"
	htmltemplate "html/template"
	"log/slog"
	"net/url"
	"text/template"
	"time"

	"github.com/samber/oops"
	"github.com/wneessen/go-mail"

	"github.com/elouarate/gallery-admin/internal/auth"
)

var _ auth.NotificationSink = (*EmailSink)(nil)

// TLS policies accepted by SMTPConfig.TLSPolicy.
const (
	TLSMandatory     = "mandatory"
	TLSOpportunistic = "opportunistic"
	TLSNone          = "none"
)

const (
	resetLinkSubject    = "Reset your Elouarate Gallery password"
	resetConfirmSubject = "Your Elouarate Gallery password was changed"
)

// SMTPConfig configures EmailSink.
type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	From      string
	TLSPolicy string
	Timeout   time.Duration
	// ResetURL is the page that accepts the reset secret as its token
	// query parameter.
	ResetURL string
}

// Validate checks that the config can build a client and reset links.
func (c SMTPConfig) Validate() error {
	if c.Host == "" {
		return oops.Code("SMTP_CONFIG_INVALID").Errorf("smtp host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return oops.Code("SMTP_CONFIG_INVALID").With("port", c.Port).Errorf("smtp port must be between 1 and 65535")
	}
	if c.From == "" {
		return oops.Code("SMTP_CONFIG_INVALID").Errorf("sender address is required")
	}
	switch c.TLSPolicy {
	case TLSMandatory, TLSOpportunistic, TLSNone:
	default:
		return oops.Code("SMTP_CONFIG_INVALID").
			With("tls_policy", c.TLSPolicy).
			Errorf("tls policy must be mandatory, opportunistic or none")
	}
	u, err := url.Parse(c.ResetURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return oops.Code("SMTP_CONFIG_INVALID").With("reset_url", c.ResetURL).Errorf("reset url must be absolute")
	}
	return nil
}

// sender is satisfied by *mail.Client.
type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// EmailSink delivers reset notifications over SMTP.
type EmailSink struct {
	cfg    SMTPConfig
	client sender
	logger *slog.Logger
}

// NewEmailSink validates cfg and builds the SMTP client.
func NewEmailSink(cfg SMTPConfig, logger *slog.Logger) (*EmailSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(tlsPolicy(cfg.TLSPolicy)),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(cfg.Timeout))
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, oops.Code("SMTP_CLIENT_FAILED").With("host", cfg.Host).Wrap(err)
	}
	return newEmailSink(cfg, client, logger), nil
}

func newEmailSink(cfg SMTPConfig, client sender, logger *slog.Logger) *EmailSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailSink{cfg: cfg, client: client, logger: logger}
}

func tlsPolicy(p string) mail.TLSPolicy {
	switch p {
	case TLSOpportunistic:
		return mail.TLSOpportunistic
	case TLSNone:
		return mail.NoTLS
	default:
		return mail.TLSMandatory
	}
}

// SendPasswordResetLink mails the reset link to the principal.
func (s *EmailSink) SendPasswordResetLink(ctx context.Context, principal *auth.Principal, rawToken string, expiresAt time.Time) error {
	link, err := resetLink(s.cfg.ResetURL, rawToken)
	if err != nil {
		return err
	}
	text, html, err := render(resetLinkText, resetLinkHTML, resetLinkData{
		Email:     principal.Email,
		Link:      link,
		ExpiresAt: expiresAt.UTC().Format(time.RFC1123),
	})
	if err != nil {
		return err
	}
	return s.send(ctx, principal, resetLinkSubject, text, html)
}

// SendPasswordResetConfirmation tells the principal their password changed.
func (s *EmailSink) SendPasswordResetConfirmation(ctx context.Context, principal *auth.Principal) error {
	text, html, err := render(resetConfirmText, resetConfirmHTML, resetConfirmData{Email: principal.Email})
	if err != nil {
		return err
	}
	return s.send(ctx, principal, resetConfirmSubject, text, html)
}

func (s *EmailSink) send(ctx context.Context, principal *auth.Principal, subject, text, html string) error {
	msg := mail.NewMsg()
	if err := msg.From(s.cfg.From); err != nil {
		return oops.Code("SMTP_MESSAGE_INVALID").With("field", "from").Wrap(err)
	}
	if err := msg.To(principal.Email); err != nil {
		return oops.Code("SMTP_MESSAGE_INVALID").
			With("field", "to").
			With("principal_id", principal.ID.String()).
			Wrap(err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, text)
	msg.AddAlternativeString(mail.TypeTextHTML, html)

	if err := s.client.DialAndSendWithContext(ctx, msg); err != nil {
		return oops.Code("SMTP_SEND_FAILED").
			With("host", s.cfg.Host).
			With("principal_id", principal.ID.String()).
			Wrap(err)
	}
	s.logger.DebugContext(ctx, "notification mailed",
		"principal_id", principal.ID.String(),
		"subject", subject)
	return nil
}

func resetLink(base, rawToken string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", oops.Code("SMTP_CONFIG_INVALID").With("reset_url", base).Wrap(err)
	}
	q := u.Query()
	q.Set("token", rawToken)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type resetLinkData struct {
	Email     string
	Link      string
	ExpiresAt string
}

type resetConfirmData struct {
	Email string
}

var (
	resetLinkText = template.Must(template.New("reset_link_text").Parse(
		`Hello {{.Email}},

Someone asked to reset the password of your Elouarate Gallery account.
Open the link below to choose a new password. It expires at {{.ExpiresAt}}.

{{.Link}}

If you did not ask for this, ignore this message. Your password is unchanged.
`))
	resetLinkHTML = htmltemplate.Must(htmltemplate.New("reset_link_html").Parse(
		`<p>Hello {{.Email}},</p>
<p>Someone asked to reset the password of your Elouarate Gallery account.
Open the link below to choose a new password. It expires at {{.ExpiresAt}}.</p>
<p><a href="{{.Link}}">Reset password</a></p>
<p>If you did not ask for this, ignore this message. Your password is unchanged.</p>
`))
	resetConfirmText = template.Must(template.New("reset_confirm_text").Parse(
		`Hello {{.Email}},

The password of your Elouarate Gallery account was just changed and every
session was signed out. If this was not you, contact an administrator now.
`))
	resetConfirmHTML = htmltemplate.Must(htmltemplate.New("reset_confirm_html").Parse(
		`<p>Hello {{.Email}},</p>
<p>The password of your Elouarate Gallery account was just changed and every
session was signed out. If this was not you, contact an administrator now.</p>
`))
)

func render(text *template.Template, html *htmltemplate.Template, data any) (string, string, error) {
	var tb, hb bytes.Buffer
	if err := text.Execute(&tb, data); err != nil {
		return "", "", oops.Code("NOTIFY_RENDER_FAILED").With("template", text.Name()).Wrap(err)
	}
	if err := html.Execute(&hb, data); err != nil {
		return "", "", oops.Code("NOTIFY_RENDER_FAILED").With("template", html.Name()).Wrap(err)
	}
	return tb.String(), hb.String(), nil
}
