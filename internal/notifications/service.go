package notifications

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/feedbackloop/question-engine/internal/config"
	"github.com/feedbackloop/question-engine/internal/models"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

// Service handles sending notifications via various channels
type Service struct {
	config *config.Config
	client *resty.Client
}

// Ensure Service implements NotificationInterface
var _ NotificationInterface = (*Service)(nil)

// TeamsMessage represents a Microsoft Teams message
type TeamsMessage struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	ThemeColor string         `json:"themeColor,omitempty"`
	Title      string         `json:"title"`
	Text       string         `json:"text"`
	Sections   []TeamsSection `json:"sections,omitempty"`
}

type TeamsSection struct {
	ActivityTitle    string      `json:"activityTitle,omitempty"`
	ActivitySubtitle string      `json:"activitySubtitle,omitempty"`
	ActivityText     string      `json:"activityText,omitempty"`
	Facts            []TeamsFact `json:"facts,omitempty"`
	Markdown         bool        `json:"markdown,omitempty"`
}

type TeamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// NewService creates a new notification service
func NewService(cfg *config.Config) *Service {
	return &Service{
		config: cfg,
		client: resty.New().SetTimeout(30 * time.Second),
	}
}

// SendDigest sends an adaptive adjustment digest via configured notification channels
func (s *Service) SendDigest(digest *models.Digest) error {
	var errors []string

	// Send to Teams if configured
	if s.config.TeamsWebhookURL != "" {
		if err := s.postTeams(s.buildDigestMessage(digest)); err != nil {
			logrus.Errorf("Failed to send Teams notification: %v", err)
			errors = append(errors, fmt.Sprintf("Teams: %v", err))
		} else {
			logrus.Infof("Successfully sent digest for %s to Teams", digest.BusinessID)
		}
	}

	// Send via email if configured
	if s.config.NotificationEmail != "" {
		if err := s.sendDigestEmail(digest); err != nil {
			logrus.Errorf("Failed to send email notification: %v", err)
			errors = append(errors, fmt.Sprintf("Email: %v", err))
		} else {
			logrus.Infof("Successfully sent digest for %s via email", digest.BusinessID)
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

// SendAlert posts an operational alert to Teams; email is reserved for digests
func (s *Service) SendAlert(alert *models.Alert) error {
	if s.config.TeamsWebhookURL == "" {
		logrus.Warnf("Alert not delivered, no Teams webhook configured: %s - %s", alert.Type, alert.Title)
		return nil
	}

	color := "FFB900"
	if alert.Severity == models.SeverityHigh {
		color = "D13438"
	}
	message := &TeamsMessage{
		Type:       "MessageCard",
		Context:    "https://schema.org/extensions",
		ThemeColor: color,
		Title:      alert.Title,
		Text:       alert.Message,
		Sections: []TeamsSection{{
			Facts: []TeamsFact{
				{Name: "Type", Value: alert.Type},
				{Name: "Severity", Value: alert.Severity},
				{Name: "Business", Value: alert.BusinessID},
				{Name: "Raised", Value: alert.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC")},
			},
		}},
	}
	if err := s.postTeams(message); err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}
	return nil
}

func (s *Service) postTeams(message *TeamsMessage) error {
	resp, err := s.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(message).
		Post(s.config.TeamsWebhookURL)

	if err != nil {
		return fmt.Errorf("failed to send Teams message: %w", err)
	}

	if resp.StatusCode() != 200 {
		return fmt.Errorf("Teams webhook returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	return nil
}

func adjustmentLine(a models.AdaptiveResult) string {
	return fmt.Sprintf("%s: %d -> %d (x%.2f, response rate %.0f%%)",
		a.QuestionID, a.OldTarget, a.NewTarget, a.Multiplier, a.Metrics.ResponseRate*100)
}

func appliedAdjustments(digest *models.Digest) []models.AdaptiveResult {
	var out []models.AdaptiveResult
	for _, a := range digest.Adjustments {
		if a.Applied {
			out = append(out, a)
		}
	}
	return out
}

func (s *Service) buildDigestMessage(digest *models.Digest) *TeamsMessage {
	applied := appliedAdjustments(digest)
	message := &TeamsMessage{
		Type:    "MessageCard",
		Context: "https://schema.org/extensions",
		Title:   fmt.Sprintf("Question Frequency Digest - %s", digest.BusinessID),
		Text:    fmt.Sprintf("Adjusted %d of %d questions in the %s sweep", len(applied), len(digest.Adjustments), digest.Period),
	}

	facts := []TeamsFact{
		{Name: "Questions Evaluated", Value: fmt.Sprintf("%d", len(digest.Adjustments))},
		{Name: "Targets Adjusted", Value: fmt.Sprintf("%d", len(applied))},
		{Name: "Generated", Value: digest.GeneratedAt.UTC().Format("2006-01-02 15:04:05 UTC")},
	}
	for _, key := range []string{"increased", "decreased", "insufficient_data", "errors"} {
		if v, ok := digest.Summary[key]; ok {
			facts = append(facts, TeamsFact{Name: key, Value: fmt.Sprintf("%v", v)})
		}
	}
	message.Sections = append(message.Sections, TeamsSection{
		ActivityTitle: "Summary",
		Facts:         facts,
		Markdown:      true,
	})

	// Add adjustments section
	if len(applied) > 0 {
		var lines []string
		limit := 10
		if len(applied) < limit {
			limit = len(applied)
		}
		for i := 0; i < limit; i++ {
			lines = append(lines, "**"+adjustmentLine(applied[i])+"**")
		}
		message.Sections = append(message.Sections, TeamsSection{
			ActivityTitle: "Adjusted Questions",
			ActivityText:  strings.Join(lines, "\n\n"),
			Markdown:      true,
		})
	}

	return message
}

func (s *Service) sendDigestEmail(digest *models.Digest) error {
	applied := appliedAdjustments(digest)
	subject := fmt.Sprintf("Question Frequency Digest - %s (%d adjusted)", digest.BusinessID, len(applied))

	htmlBody, err := s.buildEmailHTML(digest)
	if err != nil {
		return fmt.Errorf("failed to build email HTML: %w", err)
	}

	textBody := s.buildEmailText(digest)

	// Create message
	m := gomail.NewMessage()
	m.SetHeader("From", s.config.SMTPUsername)
	m.SetHeader("To", s.config.NotificationEmail)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", textBody)
	m.AddAlternative("text/html", htmlBody)

	// Send email
	d := gomail.NewDialer(s.config.SMTPHost, s.config.SMTPPort, s.config.SMTPUsername, s.config.SMTPPassword)

	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

const digestTemplate = `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Question Frequency Digest</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        .header { background-color: #0078d4; color: white; padding: 20px; border-radius: 5px; }
        .summary { background-color: #f5f5f5; padding: 15px; margin: 20px 0; border-radius: 5px; }
        .adjustment { border-left: 4px solid #605e5c; padding: 10px; margin: 10px 0; background-color: #fafafa; }
        .up { border-left-color: #107c10; }
        .down { border-left-color: #d13438; }
    </style>
</head>
<body>
    <div class="header">
        <h1>Question Frequency Digest</h1>
        <p>{{.BusinessID}}, {{.Period}} sweep on {{.GeneratedAt.Format "January 2, 2006 at 3:04 PM MST"}}</p>
    </div>

    <div class="summary">
        <h2>Summary</h2>
        <p><strong>Questions Evaluated:</strong> {{len .Adjustments}}</p>
        {{range $key, $value := .Summary}}
            <p><strong>{{$key}}:</strong> {{$value}}</p>
        {{end}}
    </div>

    <h2>Adjustments</h2>
    {{range .Adjustments}}
        {{if .Applied}}
        <div class="adjustment {{if gt .NewTarget .OldTarget}}up{{else}}down{{end}}">
            <strong>{{.QuestionID}}</strong>: {{.OldTarget}} &rarr; {{.NewTarget}}
            <div>{{.Reason}} (response rate {{percent .Metrics.ResponseRate}}, rating {{printf "%.1f" .Metrics.AverageRating}})</div>
        </div>
        {{end}}
    {{end}}

    <hr>
    <p><small>This digest was generated automatically by the question engine.</small></p>
</body>
</html>
`

func (s *Service) buildEmailHTML(digest *models.Digest) (string, error) {
	t := template.New("digest").Funcs(template.FuncMap{
		"percent": func(v float64) string { return fmt.Sprintf("%.0f%%", v*100) },
	})

	t, err := t.Parse(digestTemplate)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, digest); err != nil {
		return "", err
	}

	return buf.String(), nil
}

func (s *Service) buildEmailText(digest *models.Digest) string {
	var text strings.Builder

	text.WriteString(fmt.Sprintf("Question Frequency Digest - %s\n", digest.BusinessID))
	text.WriteString(fmt.Sprintf("Generated: %s\n\n", digest.GeneratedAt.UTC().Format("2006-01-02 15:04:05 UTC")))

	text.WriteString("SUMMARY\n")
	text.WriteString("=======\n")
	text.WriteString(fmt.Sprintf("Questions Evaluated: %d\n", len(digest.Adjustments)))
	for key, value := range digest.Summary {
		text.WriteString(fmt.Sprintf("%s: %v\n", key, value))
	}

	applied := appliedAdjustments(digest)
	if len(applied) > 0 {
		text.WriteString("\nADJUSTMENTS\n")
		text.WriteString("===========\n")
		for i, a := range applied {
			text.WriteString(fmt.Sprintf("%d. %s\n", i+1, adjustmentLine(a)))
		}
	}

	text.WriteString("\n---\nThis digest was generated automatically by the question engine.\n")

	return text.String()
}
