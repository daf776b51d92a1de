package email

import (
	"context"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"

	"github.com/fernwood/siteauth/internal/domain"
)

// Mailer renders the auth flow emails for a site and hands them to a Sender.
type Mailer interface {
	SendVerification(ctx context.Context, site *domain.Site, to, token string) error
	SendPasswordReset(ctx context.Context, site *domain.Site, to, token string) error
	SendEmailChange(ctx context.Context, site *domain.Site, to, token string) error
}

// LinkTTLs carries the link lifetimes quoted in the email copy. They must
// match the token ledger configuration or the emails lie.
type LinkTTLs struct {
	Verification time.Duration
	Reset        time.Duration
	Change       time.Duration
}

// TemplateMailer renders messages from HTML templates.
type TemplateMailer struct {
	sender Sender
	ttls   LinkTTLs
}

// NewTemplateMailer creates a mailer delivering through the given sender.
func NewTemplateMailer(sender Sender, ttls LinkTTLs) *TemplateMailer {
	return &TemplateMailer{sender: sender, ttls: ttls}
}

var bodyTemplate = template.Must(template.New("body").Parse(`<html>
<body style="font-family: sans-serif; max-width: 560px; margin: 0 auto;">
  <h2>{{.Heading}}</h2>
  <p>{{.Intro}}</p>
  <p><a href="{{.Link}}" style="display: inline-block; padding: 10px 20px; background: #2563eb; color: #fff; text-decoration: none; border-radius: 4px;">{{.Action}}</a></p>
  <p>If the button does not work, copy this link into your browser:</p>
  <p><a href="{{.Link}}">{{.Link}}</a></p>
  <p>{{.Outro}}</p>
  <p>&mdash; {{.SiteName}}</p>
</body>
</html>`))

type bodyData struct {
	Heading  string
	Intro    string
	Action   string
	Link     string
	Outro    string
	SiteName string
}

// SendVerification mails the email verification link issued at registration.
func (m *TemplateMailer) SendVerification(ctx context.Context, site *domain.Site, to, token string) error {
	link := appendToken(site.VerificationURL(), token)
	return m.send(ctx, site, to,
		fmt.Sprintf("Verify your email for %s", site.Name),
		bodyData{
			Heading:  "Verify your email",
			Intro:    fmt.Sprintf("Thanks for signing up for %s. Confirm your email address to activate your account.", site.Name),
			Action:   "Verify email",
			Link:     link,
			Outro:    fmt.Sprintf("This link expires in %s. If you did not create an account, you can ignore this email.", humanDuration(m.ttls.Verification)),
			SiteName: site.Name,
		})
}

// SendPasswordReset mails the one-time password reset link.
func (m *TemplateMailer) SendPasswordReset(ctx context.Context, site *domain.Site, to, token string) error {
	link := appendToken(joinPath(site.FrontendURL, "reset-password"), token)
	return m.send(ctx, site, to,
		fmt.Sprintf("Reset your password for %s", site.Name),
		bodyData{
			Heading:  "Reset your password",
			Intro:    fmt.Sprintf("We received a request to reset the password for your %s account.", site.Name),
			Action:   "Reset password",
			Link:     link,
			Outro:    fmt.Sprintf("This link expires in %s and can be used once. If you did not request a reset, you can ignore this email.", humanDuration(m.ttls.Reset)),
			SiteName: site.Name,
		})
}

// SendEmailChange mails the confirmation link to the requested new address.
func (m *TemplateMailer) SendEmailChange(ctx context.Context, site *domain.Site, to, token string) error {
	link := appendToken(joinPath(site.FrontendURL, "confirm-email-change"), token)
	return m.send(ctx, site, to,
		fmt.Sprintf("Confirm your new email for %s", site.Name),
		bodyData{
			Heading:  "Confirm your new email address",
			Intro:    fmt.Sprintf("A request was made to move your %s account to this email address.", site.Name),
			Action:   "Confirm email change",
			Link:     link,
			Outro:    fmt.Sprintf("This link expires in %s. If you did not request this change, you can ignore this email.", humanDuration(m.ttls.Change)),
			SiteName: site.Name,
		})
}

func (m *TemplateMailer) send(ctx context.Context, site *domain.Site, to, subject string, data bodyData) error {
	var html strings.Builder
	if err := bodyTemplate.Execute(&html, data); err != nil {
		return fmt.Errorf("render email body: %w", err)
	}

	text := fmt.Sprintf("%s\n\n%s\n\n%s\n\n%s\n", data.Heading, data.Intro, data.Link, data.Outro)

	return m.sender.Send(ctx, &Message{
		FromEmail: site.EmailFrom,
		FromName:  site.EmailFromName,
		To:        to,
		Subject:   subject,
		HTML:      html.String(),
		Text:      text,
	})
}

// appendToken adds the token as a query parameter, preserving any query the
// base URL already carries.
func appendToken(base, token string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base + "?token=" + url.QueryEscape(token)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func joinPath(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + path
}

// humanDuration renders a TTL the way the email copy needs it: whole hours
// when it divides evenly, minutes otherwise.
func humanDuration(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	m := int(d / time.Minute)
	if m == 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", m)
}
