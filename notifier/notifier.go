package notifier

import (
	"fmt"

	"rank-tracker-service/config"
	"rank-tracker-service/models"

	"github.com/apex/log"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// EmailNotifier delivers run-completed events to the report's notification
// target via SendGrid.
type EmailNotifier struct {
	config *config.Config
	client *sendgrid.Client
}

// NewEmailNotifier creates a new email notifier
func NewEmailNotifier(cfg *config.Config) *EmailNotifier {
	return &EmailNotifier{
		config: cfg,
		client: sendgrid.NewSendClient(cfg.SendGridAPIKey),
	}
}

// RunCompleted sends the run-completed notification for a report.
func (n *EmailNotifier) RunCompleted(report *models.RankReport, runID int64, avgRank *float64) error {
	if report.NotifyEmail == "" {
		return nil
	}

	from := mail.NewEmail(n.config.SendGridFromName, n.config.SendGridFromEmail)
	to := mail.NewEmail(report.NotifyEmail, report.NotifyEmail)
	subject := fmt.Sprintf("Ranking scan finished: %s", report.Name)

	rankText := "Your business was not found in the scanned results."
	if avgRank != nil {
		rankText = fmt.Sprintf("Average position across the grid: %.1f", *avgRank)
	}
	plainText := fmt.Sprintf("The scheduled ranking scan for %q has finished.\n%s\nRun ID: %d\n",
		report.Name, rankText, runID)
	htmlText := fmt.Sprintf("<p>The scheduled ranking scan for <b>%s</b> has finished.</p><p>%s</p><p>Run ID: %d</p>",
		report.Name, rankText, runID)

	message := mail.NewSingleEmail(from, subject, to, plainText, htmlText)
	response, err := n.client.Send(message)
	if err != nil {
		return fmt.Errorf("failed to send notification email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid returned status %d: %s", response.StatusCode, response.Body)
	}

	log.Infof("Sent run-completed notification for run %d to %s", runID, report.NotifyEmail)
	return nil
}

// LogNotifier records run-completed events to the log only. Used when no
// SendGrid key is configured.
type LogNotifier struct{}

// RunCompleted logs the run-completed event.
func (n *LogNotifier) RunCompleted(report *models.RankReport, runID int64, avgRank *float64) error {
	log.Infof("Run %d completed for report %d (notification target %s, delivery disabled)",
		runID, report.ID, report.NotifyEmail)
	return nil
}
