package sources

import (
	"context"
	"fmt"
	"iter"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
	"github.com/support-tools/resolution-leaderboard/internal/metrics"
	"github.com/support-tools/resolution-leaderboard/internal/models"
)

// HistoryAPI is the part of the Slack client the fetcher needs
type HistoryAPI interface {
	History(ctx context.Context, params slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	Reactions(ctx context.Context, channelID, timestamp string) ([]slack.ItemReaction, error)
}

// SlackHistory reads channel history through conversations.history
type SlackHistory struct {
	api              HistoryAPI
	pageSize         int
	resolveTruncated bool
}

// Ensure SlackHistory implements Source
var _ Source = (*SlackHistory)(nil)

// NewSlackHistory creates a history source. Reactions whose user list was
// truncated by Slack are completed with a reactions.get call.
func NewSlackHistory(api HistoryAPI, pageSize int) *SlackHistory {
	if pageSize <= 0 {
		pageSize = 200
	}
	return &SlackHistory{
		api:              api,
		pageSize:         pageSize,
		resolveTruncated: true,
	}
}

// WithoutReactionLookups returns a copy that never calls reactions.get.
// Used when only message text matters.
func (s *SlackHistory) WithoutReactionLookups() *SlackHistory {
	c := *s
	c.resolveTruncated = false
	return &c
}

func (s *SlackHistory) GetName() string {
	return "slack"
}

func (s *SlackHistory) FetchMessages(ctx context.Context, channelID string, week models.Week) iter.Seq2[models.Message, error] {
	return func(yield func(models.Message, error) bool) {
		params := slack.GetConversationHistoryParameters{
			ChannelID: channelID,
			Oldest:    models.FormatSlackTimestamp(week.Start),
			Latest:    models.FormatSlackTimestamp(week.End),
			Inclusive: true,
			Limit:     s.pageSize,
		}

		for page := 1; ; page++ {
			if err := ctx.Err(); err != nil {
				yield(models.Message{}, err)
				return
			}

			resp, err := s.api.History(ctx, params)
			if err != nil {
				yield(models.Message{}, fmt.Errorf("fetching history page %d of %s: %w", page, channelID, err))
				return
			}

			logrus.WithFields(logrus.Fields{
				"channel":  channelID,
				"week":     week.ID(),
				"page":     page,
				"messages": len(resp.Messages),
			}).Debug("Fetched history page")

			// Slack returns newest first
			for _, raw := range resp.Messages {
				ts, err := models.ParseSlackTimestamp(raw.Timestamp)
				if err != nil {
					metrics.MessagesSkippedTotal.Inc()
					logrus.WithFields(logrus.Fields{
						"channel": channelID,
						"ts":      raw.Timestamp,
					}).Warnf("Skipping message with malformed timestamp: %v", err)
					continue
				}
				if !ts.Before(week.End) {
					continue
				}
				if ts.Before(week.Start) {
					return
				}

				msg := convertMessage(channelID, raw)
				msg.Timestamp = ts

				if s.resolveTruncated && hasTruncatedReaction(msg.Reactions) {
					full, err := s.api.Reactions(ctx, channelID, raw.Timestamp)
					if err != nil {
						yield(models.Message{}, fmt.Errorf("fetching reactions for %s/%s: %w", channelID, raw.Timestamp, err))
						return
					}
					msg.Reactions = convertReactions(full)
				}

				metrics.MessagesScannedTotal.Inc()
				if !yield(msg, nil) {
					return
				}
			}

			if !resp.HasMore || resp.ResponseMetaData.NextCursor == "" {
				return
			}
			params.Cursor = resp.ResponseMetaData.NextCursor
		}
	}
}

func convertMessage(channelID string, raw slack.Message) models.Message {
	return models.Message{
		ID:        raw.Timestamp,
		ChannelID: channelID,
		UserID:    raw.User,
		BotID:     raw.BotID,
		Text:      raw.Text,
		IsBot:     raw.BotID != "" || raw.SubType == "bot_message",
		Reactions: convertReactions(raw.Reactions),
	}
}

func convertReactions(raw []slack.ItemReaction) []models.Reaction {
	if len(raw) == 0 {
		return nil
	}
	reactions := make([]models.Reaction, 0, len(raw))
	for _, r := range raw {
		reactions = append(reactions, models.Reaction{
			Name:  models.NormalizeEmoji(r.Name),
			Count: r.Count,
			Users: r.Users,
		})
	}
	return reactions
}

func hasTruncatedReaction(reactions []models.Reaction) bool {
	for _, r := range reactions {
		if r.Truncated() {
			return true
		}
	}
	return false
}
