package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/support-tools/resolution-leaderboard/internal/config"
	"github.com/support-tools/resolution-leaderboard/internal/models"
)

// Publisher is the part of the publisher service the scheduler drives
type Publisher interface {
	LastWeeks(n int) ([]models.Week, error)
	PublishWeeks(ctx context.Context, weeks []models.Week, trigger string) *models.RunSummary
}

// Service runs the weekly publish on a cron schedule
type Service struct {
	config    *config.Config
	publisher Publisher
	cron      *cron.Cron
	timeout   time.Duration
	// ctx is cancelled by Stop so an in-flight run ends promptly
	ctx    context.Context
	cancel context.CancelFunc
}

// NewService creates a new scheduler service. Schedules are evaluated in
// the configured time zone.
func NewService(cfg *config.Config, publisher Publisher) (*Service, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid time zone: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		config:    cfg,
		publisher: publisher,
		cron:      cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		timeout:   30 * time.Minute,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start registers the weekly publish and starts the cron loop
func (s *Service) Start() error {
	_, err := s.cron.AddFunc(s.config.ReportSchedule, s.run)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", s.config.ReportSchedule, err)
	}

	s.cron.Start()
	logrus.Infof("Scheduler started with schedule %q covering %d week(s)", s.config.ReportSchedule, s.config.ScheduleWeeks)
	return nil
}

func (s *Service) run() {
	logrus.Info("Starting scheduled leaderboard run")

	weeks, err := s.publisher.LastWeeks(s.config.ScheduleWeeks)
	if err != nil {
		logrus.Errorf("Scheduled leaderboard run failed: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	summary := s.publisher.PublishWeeks(ctx, weeks, "schedule")
	if summary.Failed() {
		logrus.Errorf("Scheduled leaderboard run had %d failed week(s)", summary.Count(models.OutcomeFailed))
	}
}

// Stop stops the scheduler and waits for a running job to finish
func (s *Service) Stop() {
	if s.cron != nil {
		s.cancel()
		<-s.cron.Stop().Done()
		logrus.Info("Scheduler stopped")
	}
}
