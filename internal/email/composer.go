package email

import (
	"fmt"
	"html/template"
	"strings"

	"companion/internal/types"
)

// htmlBody is the reminder email layout. Kept deliberately plain: a short
// paragraph and a single call-to-action link render reliably across clients.
var htmlBody = template.Must(template.New("reminder").Parse(`<!DOCTYPE html>
<html dir="{{.Dir}}">
<body style="font-family: Arial, sans-serif; color: #333333; max-width: 600px; margin: 0 auto; padding: 24px;">
  <p>{{.Greeting}}</p>
  <p>{{.Body}}</p>
  <p style="margin: 32px 0;">
    <a href="{{.CheckinURL}}" style="background-color: #4a7c8c; color: #ffffff; padding: 12px 24px; text-decoration: none; border-radius: 4px;">{{.CTA}}</a>
  </p>
  <p style="font-size: 12px; color: #999999;">{{.Footer}}</p>
</body>
</html>
`))

// Composer builds localized reminder emails. It is stateless apart from the
// deployment's base URL and sender display name.
type Composer struct {
	AppBaseURL string
	FromName   string
}

// ComposedEmail is the rendered subject and bodies for one reminder.
type ComposedEmail struct {
	Subject  string
	BodyText string
	BodyHTML string
}

// Compose renders the daily check-in reminder in the given language. The
// language comes from the reminder row, not the client row, so a reminder
// configured in Hebrew stays Hebrew even if the client profile changes.
func (c *Composer) Compose(lang types.Language) (*ComposedEmail, error) {
	checkinURL := strings.TrimRight(c.AppBaseURL, "/") + "/checkin"

	text := fmt.Sprintf("%s\n\n%s\n\n%s\n%s\n\n%s\n",
		Translate(KeyGreeting, lang),
		Translate(KeyBody, lang),
		Translate(KeyCTA, lang),
		checkinURL,
		Translate(KeyFooter, lang),
	)

	dir := "ltr"
	if IsRTL(lang) {
		dir = "rtl"
	}

	var html strings.Builder
	err := htmlBody.Execute(&html, struct {
		Dir        string
		Greeting   string
		Body       string
		CTA        string
		Footer     string
		CheckinURL string
	}{
		Dir:        dir,
		Greeting:   Translate(KeyGreeting, lang),
		Body:       Translate(KeyBody, lang),
		CTA:        Translate(KeyCTA, lang),
		Footer:     Translate(KeyFooter, lang),
		CheckinURL: checkinURL,
	})
	if err != nil {
		return nil, fmt.Errorf("email: failed to render reminder template: %w", err)
	}

	return &ComposedEmail{
		Subject:  Translate(KeySubject, lang),
		BodyText: text,
		BodyHTML: html.String(),
	}, nil
}
