// Package publisher builds and posts weekly resolution leaderboards.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/support-tools/resolution-leaderboard/internal/config"
	"github.com/support-tools/resolution-leaderboard/internal/guard"
	"github.com/support-tools/resolution-leaderboard/internal/leaderboard"
	"github.com/support-tools/resolution-leaderboard/internal/metrics"
	"github.com/support-tools/resolution-leaderboard/internal/models"
	"github.com/support-tools/resolution-leaderboard/internal/notifications"
	"github.com/support-tools/resolution-leaderboard/internal/resolution"
	"github.com/support-tools/resolution-leaderboard/internal/slackclient"
	"github.com/support-tools/resolution-leaderboard/internal/sources"
	"github.com/support-tools/resolution-leaderboard/internal/storage"
)

// Week outcomes
const (
	OutcomePosted           = models.OutcomePosted
	OutcomeSkippedDuplicate = models.OutcomeSkippedDuplicate
	OutcomeFailed           = models.OutcomeFailed
)

// BatchResult is the outcome of a multi-week run
type BatchResult = models.RunSummary

// Service publishes leaderboards for the configured channels
type Service struct {
	config     *config.Config
	platform   slackclient.Platform
	history    sources.Source
	guard      *guard.Guard
	aggregator *resolution.Aggregator
	notifier   notifications.NotificationInterface
	now        func() time.Time

	// runMu serializes runs so scheduled and manual triggers never overlap
	runMu  sync.Mutex
	mu     sync.RWMutex
	status *Status
}

// Status describes the service for the /status endpoint
type Status struct {
	Running   bool               `json:"running"`
	TotalRuns int                `json:"total_runs"`
	LastRun   *models.RunSummary `json:"last_run,omitempty"`
}

// Option configures a Service
type Option func(*Service)

// WithClock replaces time.Now for week computation and duplicate checks
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService wires the fetcher, aggregator and guard around the Slack
// platform. ledger and notifier are optional.
func NewService(cfg *config.Config, platform slackclient.Platform, ledger storage.StorageInterface, notifier notifications.NotificationInterface, opts ...Option) *Service {
	s := &Service{
		config:     cfg,
		platform:   platform,
		aggregator: resolution.NewAggregator(resolution.OptionsFromConfig(cfg)),
		notifier:   notifier,
		now:        time.Now,
		status:     &Status{},
	}
	for _, opt := range opts {
		opt(s)
	}

	history := sources.NewSlackHistory(platform, cfg.HistoryPageSize)
	s.history = history

	guardOpts := []guard.Option{
		guard.WithClock(s.now),
		guard.WithPoster(func(ctx context.Context) (guard.Poster, error) {
			identity, err := platform.AuthTest(ctx)
			if err != nil {
				return guard.Poster{}, err
			}
			return guard.Poster{UserID: identity.UserID, BotID: identity.BotID}, nil
		}),
	}
	if ledger != nil {
		guardOpts = append(guardOpts, guard.WithLedger(ledger))
	}
	s.guard = guard.New(history.WithoutReactionLookups(), guardOpts...)

	return s
}

// WeekAgo returns the week that began n weeks before the current one
func (s *Service) WeekAgo(n int) (models.Week, error) {
	loc, err := s.config.Location()
	if err != nil {
		return models.Week{}, fmt.Errorf("invalid time zone: %w", err)
	}
	weekday, err := s.config.StartWeekday()
	if err != nil {
		return models.Week{}, err
	}
	return models.WeekFor(s.now(), n, loc, weekday), nil
}

// LastWeeks returns the last n complete weeks, oldest first
func (s *Service) LastWeeks(n int) ([]models.Week, error) {
	weeks := make([]models.Week, 0, n)
	for i := n; i >= 1; i-- {
		week, err := s.WeekAgo(i)
		if err != nil {
			return nil, err
		}
		weeks = append(weeks, week)
	}
	return weeks, nil
}

// Publish posts the leaderboard for one week unless it was already posted
func (s *Service) Publish(ctx context.Context, week models.Week) models.WeekResult {
	return s.publish(ctx, week, newNameCache(s.platform))
}

// PublishWeeks processes weeks oldest first. A failed week does not stop the
// remaining ones; check the result's Failed method.
func (s *Service) PublishWeeks(ctx context.Context, weeks []models.Week, trigger string) *BatchResult {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.setRunning(true)
	defer s.setRunning(false)

	ordered := append([]models.Week(nil), weeks...)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Start.Before(ordered[j].Start)
	})

	summary := &BatchResult{
		Trigger:   trigger,
		StartedAt: s.now(),
	}
	logrus.WithFields(logrus.Fields{
		"trigger": trigger,
		"weeks":   len(ordered),
	}).Info("Starting publish run")

	names := newNameCache(s.platform)
	for _, week := range ordered {
		summary.Results = append(summary.Results, s.publish(ctx, week, names))
	}
	summary.FinishedAt = s.now()

	logrus.WithFields(logrus.Fields{
		"trigger": trigger,
		"posted":  summary.Count(OutcomePosted),
		"skipped": summary.Count(OutcomeSkippedDuplicate),
		"failed":  summary.Count(OutcomeFailed),
	}).Info("Publish run finished")

	s.recordRun(summary)

	if s.notifier != nil && s.notifier.Enabled() {
		if err := s.notifier.SendRunSummary(summary); err != nil {
			logrus.Errorf("Failed to send run summary: %v", err)
		}
	}

	return summary
}

// Preview builds a week's leaderboard without posting it
func (s *Service) Preview(ctx context.Context, week models.Week) (models.Leaderboard, error) {
	lb, _, err := s.build(ctx, week, newNameCache(s.platform))
	return lb, err
}

func (s *Service) publish(ctx context.Context, week models.Week, names *nameCache) models.WeekResult {
	log := logrus.WithFields(logrus.Fields{
		"week":        week.ID(),
		"destination": s.config.DestinationChannelID,
	})
	result := models.WeekResult{Week: week}

	fail := func(err error) models.WeekResult {
		log.Errorf("Publishing leaderboard failed: %v", err)
		result.Outcome = OutcomeFailed
		result.Err = err
		result.Error = err.Error()
		metrics.PublishTotal.WithLabelValues(string(result.Outcome)).Inc()
		return result
	}

	posted, err := s.guard.AlreadyPosted(ctx, s.config.DestinationChannelID, week)
	if err != nil {
		return fail(fmt.Errorf("duplicate check: %w", err))
	}
	if posted {
		log.Info("Leaderboard already posted, skipping")
		result.Outcome = OutcomeSkippedDuplicate
		metrics.PublishTotal.WithLabelValues(string(result.Outcome)).Inc()
		return result
	}

	lb, counts, err := s.build(ctx, week, names)
	if err != nil {
		return fail(err)
	}

	ts, err := s.platform.PostMessage(ctx, s.config.DestinationChannelID, leaderboard.FallbackText(lb), leaderboard.Blocks(lb)...)
	if err != nil {
		return fail(fmt.Errorf("posting leaderboard: %w", err))
	}

	if err := s.guard.Record(ctx, week, s.config.DestinationChannelID, ts); err != nil {
		// the channel scan still finds the post on the next run
		log.Warnf("Failed to record publish in ledger: %v", err)
	}

	result.Outcome = OutcomePosted
	result.MessageTS = ts
	result.Resolutions = lb.Total
	result.Users = len(counts)
	metrics.PublishTotal.WithLabelValues(string(result.Outcome)).Inc()
	metrics.LastResolutions.Set(float64(lb.Total))

	log.WithFields(logrus.Fields{
		"message_ts":  ts,
		"resolutions": lb.Total,
		"users":       len(counts),
	}).Info("Leaderboard posted")

	return result
}

// build fetches, aggregates and formats. Nothing is returned unless the
// whole week was read successfully.
func (s *Service) build(ctx context.Context, week models.Week, names *nameCache) (models.Leaderboard, resolution.Counts, error) {
	messages := s.history.FetchMessages(ctx, s.config.SourceChannelID, week)
	counts, err := s.aggregator.Aggregate(messages, week)
	if err != nil {
		return models.Leaderboard{}, nil, err
	}

	userIDs := make([]string, 0, len(counts))
	for id := range counts {
		userIDs = append(userIDs, id)
	}
	sort.Strings(userIDs)

	return leaderboard.Format(counts, week, names.resolve(ctx, userIDs)), counts, nil
}

func (s *Service) setRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Running = running
}

func (s *Service) recordRun(summary *BatchResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.TotalRuns++
	s.status.LastRun = summary
}

// LastRun returns the most recent batch, or nil before the first run
func (s *Service) LastRun() *BatchResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status.LastRun
}

// GetStatus returns the current status as JSON
func (s *Service) GetStatus() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, _ := json.MarshalIndent(s.status, "", "  ")
	return string(data)
}
