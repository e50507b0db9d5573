// Package guard keeps a week's leaderboard from being posted twice.
package guard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/support-tools/resolution-leaderboard/internal/leaderboard"
	"github.com/support-tools/resolution-leaderboard/internal/models"
	"github.com/support-tools/resolution-leaderboard/internal/sources"
	"github.com/support-tools/resolution-leaderboard/internal/storage"
)

const ledgerPrefix = "ledger/"

// Guard decides whether a week's leaderboard was already posted. The
// destination channel history is the source of truth; an optional ledger
// short-circuits the scan.
type Guard struct {
	history sources.Source
	ledger  storage.StorageInterface
	now     func() time.Time

	resolvePoster func(ctx context.Context) (Poster, error)
	posterMu      sync.Mutex
	poster        *Poster
}

// Poster is the Slack identity leaderboards are posted as. A message counts
// as ours when its user or bot ID matches.
type Poster struct {
	UserID string
	BotID  string
}

func (p Poster) posted(msg models.Message) bool {
	return (p.UserID != "" && msg.UserID == p.UserID) || (p.BotID != "" && msg.BotID == p.BotID)
}

// Option configures a Guard
type Option func(*Guard)

// WithLedger adds a persisted record of posted weeks
func WithLedger(ledger storage.StorageInterface) Option {
	return func(g *Guard) {
		g.ledger = ledger
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		g.now = now
	}
}

// WithPoster restricts marker matches to messages from the identity resolve
// returns. resolve is called on the first scan; a failed call is retried on
// the next one. Without a poster any bot message is trusted.
func WithPoster(resolve func(ctx context.Context) (Poster, error)) Option {
	return func(g *Guard) {
		g.resolvePoster = resolve
	}
}

// New creates a guard reading destination history from history
func New(history sources.Source, opts ...Option) *Guard {
	g := &Guard{
		history: history,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// LedgerKey is the storage key of a week's publish record
func LedgerKey(week models.Week) string {
	return ledgerPrefix + week.ID() + ".json"
}

// AlreadyPosted reports whether a message of ours carrying the week's marker
// exists in the destination channel. History is scanned from the week's
// start to now, which covers every post that could have been made for it.
func (g *Guard) AlreadyPosted(ctx context.Context, channelID string, week models.Week) (bool, error) {
	if g.ledger != nil {
		record, err := g.lookup(ctx, week)
		switch {
		case err != nil:
			logrus.WithFields(logrus.Fields{
				"week": week.ID(),
			}).Warnf("Ledger lookup failed, falling back to channel scan: %v", err)
		case record != nil:
			logrus.WithFields(logrus.Fields{
				"week":       week.ID(),
				"message_ts": record.MessageTS,
			}).Info("Leaderboard found in ledger")
			return true, nil
		}
	}

	window := models.Week{Start: week.Start, End: g.now().Add(time.Second)}
	if !window.End.After(window.Start) {
		return false, nil
	}

	ours, err := g.ownMessage(ctx)
	if err != nil {
		return false, fmt.Errorf("resolving poster identity: %w", err)
	}

	for msg, err := range g.history.FetchMessages(ctx, channelID, window) {
		if err != nil {
			return false, fmt.Errorf("scanning %s for week %s: %w", channelID, week.ID(), err)
		}
		if !ours(msg) {
			continue
		}
		if id, ok := leaderboard.ParseMarker(msg.Text); ok && id == week.ID() {
			logrus.WithFields(logrus.Fields{
				"week":       week.ID(),
				"channel":    channelID,
				"message_ts": msg.ID,
			}).Info("Leaderboard already posted")
			return true, nil
		}
	}

	return false, nil
}

// ownMessage returns the predicate deciding whether a message was posted by us
func (g *Guard) ownMessage(ctx context.Context) (func(models.Message) bool, error) {
	if g.resolvePoster == nil {
		return func(msg models.Message) bool { return msg.IsBot }, nil
	}

	g.posterMu.Lock()
	defer g.posterMu.Unlock()

	if g.poster == nil {
		poster, err := g.resolvePoster(ctx)
		if err != nil {
			return nil, err
		}
		if poster.UserID == "" && poster.BotID == "" {
			return nil, errors.New("identity has neither a user nor a bot ID")
		}
		g.poster = &poster
	}
	return g.poster.posted, nil
}

// Record writes the publish record to the ledger, if one is configured
func (g *Guard) Record(ctx context.Context, week models.Week, channelID, messageTS string) error {
	if g.ledger == nil {
		return nil
	}

	data, err := json.Marshal(models.PublishRecord{
		WeekID:    week.ID(),
		ChannelID: channelID,
		MessageTS: messageTS,
		PostedAt:  g.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal publish record: %w", err)
	}

	if err := g.ledger.Store(ctx, LedgerKey(week), data); err != nil {
		return fmt.Errorf("failed to record week %s: %w", week.ID(), err)
	}
	return nil
}

func (g *Guard) lookup(ctx context.Context, week models.Week) (*models.PublishRecord, error) {
	data, err := g.ledger.Retrieve(ctx, LedgerKey(week))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var record models.PublishRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal publish record: %w", err)
	}
	if record.WeekID != week.ID() {
		return nil, nil
	}
	return &record, nil
}
