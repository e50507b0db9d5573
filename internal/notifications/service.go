package notifications

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"github.com/support-tools/resolution-leaderboard/internal/config"
	"github.com/support-tools/resolution-leaderboard/internal/models"
	"gopkg.in/gomail.v2"
)

// Service sends run summaries to operators via Teams and email
type Service struct {
	config *config.Config
	client *resty.Client
	dialer func() gomail.SendCloser
}

// Ensure Service implements NotificationInterface
var _ NotificationInterface = (*Service)(nil)

// TeamsMessage represents a Microsoft Teams message card
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

// Enabled reports whether any notification channel is configured
func (s *Service) Enabled() bool {
	return s.config.TeamsWebhookURL != "" || s.config.NotificationEmail != ""
}

// SendRunSummary sends the summary via every configured channel
func (s *Service) SendRunSummary(summary *models.RunSummary) error {
	var errors []string

	if s.config.TeamsWebhookURL != "" {
		if err := s.sendToTeams(summary); err != nil {
			logrus.Errorf("Failed to send Teams notification: %v", err)
			errors = append(errors, fmt.Sprintf("Teams: %v", err))
		} else {
			logrus.Info("Successfully sent run summary to Teams")
		}
	}

	if s.config.NotificationEmail != "" {
		if err := s.sendEmail(summary); err != nil {
			logrus.Errorf("Failed to send email notification: %v", err)
			errors = append(errors, fmt.Sprintf("Email: %v", err))
		} else {
			logrus.Info("Successfully sent run summary via email")
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

func (s *Service) sendToTeams(summary *models.RunSummary) error {
	message := s.buildTeamsMessage(summary)

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

func subject(summary *models.RunSummary) string {
	status := "succeeded"
	if summary.Failed() {
		status = "had failures"
	}
	return fmt.Sprintf("Resolution leaderboard run %s (%d posted, %d skipped, %d failed)",
		status,
		summary.Count(models.OutcomePosted),
		summary.Count(models.OutcomeSkippedDuplicate),
		summary.Count(models.OutcomeFailed))
}

func resultLine(res models.WeekResult) string {
	switch res.Outcome {
	case models.OutcomePosted:
		return fmt.Sprintf("%d resolutions by %d people", res.Resolutions, res.Users)
	case models.OutcomeFailed:
		return "failed: " + res.Error
	default:
		return "already posted"
	}
}

func (s *Service) buildTeamsMessage(summary *models.RunSummary) *TeamsMessage {
	color := "107C10"
	if summary.Failed() {
		color = "D13438"
	}

	message := &TeamsMessage{
		Type:       "MessageCard",
		Context:    "https://schema.org/extensions",
		ThemeColor: color,
		Title:      subject(summary),
		Text:       fmt.Sprintf("Triggered by %s, finished %s", summary.Trigger, summary.FinishedAt.UTC().Format("2006-01-02 15:04:05 UTC")),
	}

	facts := make([]TeamsFact, 0, len(summary.Results))
	for _, res := range summary.Results {
		facts = append(facts, TeamsFact{
			Name:  "Week of " + res.Week.Label(),
			Value: resultLine(res),
		})
	}

	if len(facts) > 0 {
		message.Sections = append(message.Sections, TeamsSection{
			ActivityTitle: "Weeks",
			Facts:         facts,
			Markdown:      true,
		})
	}

	return message
}

func (s *Service) sendEmail(summary *models.RunSummary) error {
	htmlBody, err := s.buildEmailHTML(summary)
	if err != nil {
		return fmt.Errorf("failed to build email HTML: %w", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.config.SMTPUsername)
	m.SetHeader("To", s.config.NotificationEmail)
	m.SetHeader("Subject", subject(summary))
	m.SetBody("text/plain", s.buildEmailText(summary))
	m.AddAlternative("text/html", htmlBody)

	if s.dialer != nil {
		sender := s.dialer()
		defer sender.Close()
		return gomail.Send(sender, m)
	}

	d := gomail.NewDialer(s.config.SMTPHost, s.config.SMTPPort, s.config.SMTPUsername, s.config.SMTPPassword)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

var emailTemplate = template.Must(template.New("email").Funcs(template.FuncMap{
	"line": resultLine,
}).Parse(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Resolution Leaderboard Run</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        .header { background-color: #4a154b; color: white; padding: 20px; border-radius: 5px; }
        .week { border-left: 4px solid #605e5c; padding: 10px; margin: 10px 0; background-color: #fafafa; }
        .posted { border-left-color: #107c10; }
        .failed { border-left-color: #d13438; }
    </style>
</head>
<body>
    <div class="header">
        <h1>Resolution Leaderboard Run</h1>
        <p>Triggered by {{.Trigger}}, finished {{.FinishedAt.Format "January 2, 2006 at 3:04 PM MST"}}</p>
    </div>

    {{range .Results}}
    <div class="week {{.Outcome}}">
        <strong>Week of {{.Week.Label}}</strong>: {{line .}}
    </div>
    {{end}}

    <hr>
    <p><small>This summary was generated automatically by the resolution leaderboard bot.</small></p>
</body>
</html>
`))

func (s *Service) buildEmailHTML(summary *models.RunSummary) (string, error) {
	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, summary); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (s *Service) buildEmailText(summary *models.RunSummary) string {
	var text strings.Builder

	text.WriteString(subject(summary) + "\n")
	text.WriteString(fmt.Sprintf("Triggered by: %s\n", summary.Trigger))
	text.WriteString(fmt.Sprintf("Finished: %s\n\n", summary.FinishedAt.UTC().Format("2006-01-02 15:04:05 UTC")))

	text.WriteString("WEEKS\n")
	text.WriteString("=====\n")
	for _, res := range summary.Results {
		text.WriteString(fmt.Sprintf("%s: %s\n", res.Week.Label(), resultLine(res)))
	}

	text.WriteString("\n---\nThis summary was generated automatically by the resolution leaderboard bot.\n")

	return text.String()
}
