// Package resolution turns resolution emoji reactions into per-user counts.
package resolution

import (
	"fmt"
	"iter"

	"github.com/sirupsen/logrus"
	"github.com/support-tools/resolution-leaderboard/internal/config"
	"github.com/support-tools/resolution-leaderboard/internal/metrics"
	"github.com/support-tools/resolution-leaderboard/internal/models"
)

// Counts maps a user ID to the number of messages the user resolved
type Counts map[string]int

// Total sums all counts
func (c Counts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// AggregationError reports a message whose data cannot be counted
type AggregationError struct {
	MessageID string
	Reason    string
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("cannot aggregate message %q: %s", e.MessageID, e.Reason)
}

// Options controls which reactions count as resolutions
type Options struct {
	Emojis []string
	// IncludeSelfResolutions counts a user reacting to their own message
	IncludeSelfResolutions bool
	// ExcludeBotMessages ignores reactions on bot posts
	ExcludeBotMessages bool
}

// OptionsFromConfig builds aggregation options from application configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Emojis:                 cfg.ResolutionEmojis,
		IncludeSelfResolutions: cfg.CountSelfResolutions,
		ExcludeBotMessages:     cfg.ExcludeBotMessages,
	}
}

// Aggregator counts resolution events for a week
type Aggregator struct {
	emojis map[string]bool
	opts   Options
}

// NewAggregator creates an aggregator for the given options
func NewAggregator(opts Options) *Aggregator {
	emojis := make(map[string]bool, len(opts.Emojis))
	for _, e := range opts.Emojis {
		emojis[models.NormalizeEmoji(e)] = true
	}
	return &Aggregator{emojis: emojis, opts: opts}
}

// Events returns one event per distinct user who resolved msg. Several
// resolution emojis from the same user yield a single event.
func (a *Aggregator) Events(msg models.Message, week models.Week) ([]models.ResolutionEvent, error) {
	if msg.ID == "" {
		return nil, &AggregationError{Reason: "missing message id"}
	}
	if a.opts.ExcludeBotMessages && msg.IsBot {
		return nil, nil
	}

	seen := make(map[string]bool)
	var events []models.ResolutionEvent

	for _, reaction := range msg.Reactions {
		if !a.emojis[models.NormalizeEmoji(reaction.Name)] {
			continue
		}
		for _, user := range reaction.Users {
			if user == "" {
				return nil, &AggregationError{MessageID: msg.ID, Reason: "reaction without user"}
			}
			if seen[user] {
				continue
			}
			if !a.opts.IncludeSelfResolutions && user == msg.UserID {
				continue
			}
			seen[user] = true
			events = append(events, models.ResolutionEvent{
				UserID:    user,
				MessageID: msg.ID,
				Week:      week,
			})
		}
	}

	return events, nil
}

// Aggregate consumes the message sequence and tallies resolutions per user.
// Malformed messages are logged and skipped; a sequence error aborts the
// aggregation and no counts are returned.
func (a *Aggregator) Aggregate(messages iter.Seq2[models.Message, error], week models.Week) (Counts, error) {
	counts := make(Counts)
	resolved := make(map[string]bool) // user + "/" + message

	for msg, err := range messages {
		if err != nil {
			return nil, fmt.Errorf("aggregating week %s: %w", week.ID(), err)
		}
		if !msg.Timestamp.IsZero() && !week.Contains(msg.Timestamp) {
			continue
		}

		events, err := a.Events(msg, week)
		if err != nil {
			metrics.MessagesSkippedTotal.Inc()
			logrus.WithFields(logrus.Fields{
				"week":    week.ID(),
				"message": msg.ID,
			}).Warnf("Skipping message: %v", err)
			continue
		}

		for _, event := range events {
			key := event.UserID + "/" + event.MessageID
			if resolved[key] {
				continue
			}
			resolved[key] = true
			counts[event.UserID]++
		}
	}

	logrus.WithFields(logrus.Fields{
		"week":        week.ID(),
		"users":       len(counts),
		"resolutions": counts.Total(),
	}).Info("Aggregated resolutions")

	return counts, nil
}
