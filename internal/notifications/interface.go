package notifications

import "github.com/support-tools/resolution-leaderboard/internal/models"

// NotificationInterface defines the contract for notification services
type NotificationInterface interface {
	Enabled() bool
	SendRunSummary(summary *models.RunSummary) error
}
