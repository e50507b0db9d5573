package sources

import (
	"context"
	"iter"

	"github.com/support-tools/resolution-leaderboard/internal/models"
)

// Source interface defines the contract for channel history sources
type Source interface {
	GetName() string
	// FetchMessages yields the messages posted in the channel during week.
	// The sequence is lazy and single-pass; a non-nil error ends it.
	FetchMessages(ctx context.Context, channelID string, week models.Week) iter.Seq2[models.Message, error]
}
