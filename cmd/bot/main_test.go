package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/support-tools/resolution-leaderboard/internal/config"
	"github.com/support-tools/resolution-leaderboard/internal/models"
	"github.com/support-tools/resolution-leaderboard/internal/slackclient/slacktest"
	"github.com/support-tools/resolution-leaderboard/internal/storage"
)

// MockPublisher is a mock implementation of publisherService
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) LastWeeks(n int) ([]models.Week, error) {
	args := m.Called(n)
	weeks, _ := args.Get(0).([]models.Week)
	return weeks, args.Error(1)
}

func (m *MockPublisher) PublishWeeks(ctx context.Context, weeks []models.Week, trigger string) *models.RunSummary {
	return m.Called(weeks, trigger).Get(0).(*models.RunSummary)
}

func (m *MockPublisher) GetStatus() string {
	return m.Called().String(0)
}

var week = models.Week{
	Start: time.Date(2026, 10, 5, 0, 0, 0, 0, time.UTC),
	End:   time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC),
}

func publishFlags(args ...string) (*cobra.Command, *int, *int) {
	var weeks, single int
	cmd := &cobra.Command{Use: "publish"}
	cmd.Flags().IntVar(&weeks, "weeks", 0, "")
	cmd.Flags().IntVar(&single, "week", 1, "")
	cmd.MarkFlagsMutuallyExclusive("weeks", "week")
	_ = cmd.ParseFlags(args)
	return cmd, &weeks, &single
}

func TestSelectWeeks(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected weekSelection
		wantErr  bool
	}{
		{name: "Default is last week", args: nil, expected: weekSelection{single: 1}},
		{name: "Single week", args: []string{"--week", "3"}, expected: weekSelection{single: 3}},
		{name: "Several weeks", args: []string{"--weeks", "4"}, expected: weekSelection{last: 4}},
		{name: "Current week rejected", args: []string{"--week", "0"}, wantErr: true},
		{name: "Zero weeks rejected", args: []string{"--weeks", "0"}, wantErr: true},
		{name: "Negative week rejected", args: []string{"--week=-2"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, weeks, single := publishFlags(tt.args...)

			selection, err := selectWeeks(cmd, *weeks, *single)

			if tt.wantErr {
				var cfgErr *config.ConfigError
				require.ErrorAs(t, err, &cfgErr)
				assert.Equal(t, exitConfigError, exitCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, selection)
		})
	}
}

func TestPublishFlagsMutuallyExclusive(t *testing.T) {
	cmd, _, _ := publishFlags("--weeks", "2", "--week", "1")
	assert.Error(t, cmd.ValidateFlagGroups())
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitConfigError, exitCode(&config.ConfigError{Field: "SLACK_BOT_TOKEN", Reason: "is required"}))
	assert.Equal(t, exitConfigError, exitCode(fmt.Errorf("load: %w", &config.ConfigError{Field: "TIMEZONE"})))
	assert.Equal(t, exitFailure, exitCode(&runFailedError{failed: 1}))
	assert.Equal(t, exitFailure, exitCode(errors.New("boom")))
}

func TestPrintSummary(t *testing.T) {
	var out bytes.Buffer
	printSummary(&out, &models.RunSummary{Results: []models.WeekResult{
		{Week: week.Prev(), Outcome: models.OutcomeSkippedDuplicate},
		{Week: week, Outcome: models.OutcomePosted, Resolutions: 3, MessageTS: "1791000000.000100"},
		{Week: week.Next(), Outcome: models.OutcomeFailed, Error: "retries exhausted"},
	}})

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Contains(t, string(lines[0]), "skipped-duplicate")
	assert.Contains(t, string(lines[1]), "3 resolutions, ts 1791000000.000100")
	assert.Contains(t, string(lines[2]), "retries exhausted")
}

func TestHealthCheckHandler(t *testing.T) {
	router := newRouter(context.Background(), &MockPublisher{}, &sync.WaitGroup{})
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestStatusHandler(t *testing.T) {
	service := &MockPublisher{}
	service.On("GetStatus").Return(`{"running":false,"total_runs":0}`)
	router := newRouter(context.Background(), service, &sync.WaitGroup{})
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"running":false,"total_runs":0}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	router := newRouter(context.Background(), &MockPublisher{}, &sync.WaitGroup{})
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTriggerHandler(t *testing.T) {
	t.Run("Runs the requested weeks", func(t *testing.T) {
		weeks := []models.Week{week.Prev(), week}
		done := make(chan struct{})
		service := &MockPublisher{}
		service.On("LastWeeks", 2).Return(weeks, nil)
		service.On("PublishWeeks", weeks, "http").Return(&models.RunSummary{}).Run(func(mock.Arguments) {
			close(done)
		})
		router := newRouter(context.Background(), service, &sync.WaitGroup{})
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/trigger?weeks=2", nil))

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Contains(t, rec.Body.String(), "2026-10-05")
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("publish run was not started")
		}
	})

	t.Run("Defaults to one week", func(t *testing.T) {
		done := make(chan struct{})
		service := &MockPublisher{}
		service.On("LastWeeks", 1).Return([]models.Week{week}, nil)
		service.On("PublishWeeks", []models.Week{week}, "http").Return(&models.RunSummary{}).Run(func(mock.Arguments) {
			close(done)
		})
		router := newRouter(context.Background(), service, &sync.WaitGroup{})
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/trigger", nil))

		assert.Equal(t, http.StatusAccepted, rec.Code)
		<-done
	})

	t.Run("Runs are tracked until they finish", func(t *testing.T) {
		release := make(chan struct{})
		service := &MockPublisher{}
		service.On("LastWeeks", 1).Return([]models.Week{week}, nil)
		service.On("PublishWeeks", []models.Week{week}, "http").Return(&models.RunSummary{}).Run(func(mock.Arguments) {
			<-release
		})
		var runs sync.WaitGroup
		router := newRouter(context.Background(), service, &runs)

		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/trigger", nil))

		finished := make(chan struct{})
		go func() {
			runs.Wait()
			close(finished)
		}()

		select {
		case <-finished:
			t.Fatal("runs.Wait returned while the run was in progress")
		case <-time.After(50 * time.Millisecond):
		}

		close(release)
		select {
		case <-finished:
		case <-time.After(5 * time.Second):
			t.Fatal("runs.Wait did not return after the run finished")
		}
	})

	t.Run("Invalid weeks", func(t *testing.T) {
		for _, raw := range []string{"0", "-1", "abc", "53"} {
			service := &MockPublisher{}
			router := newRouter(context.Background(), service, &sync.WaitGroup{})
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/trigger?weeks="+raw, nil))

			assert.Equal(t, http.StatusBadRequest, rec.Code, raw)
			service.AssertNotCalled(t, "LastWeeks", mock.Anything)
		}
	})

	t.Run("GET is not allowed", func(t *testing.T) {
		router := newRouter(context.Background(), &MockPublisher{}, &sync.WaitGroup{})
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/trigger", nil))

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

// closeCounter is a ledger that only counts Close calls
type closeCounter struct {
	storage.StorageInterface
	closed int
	err    error
}

func (c *closeCounter) Close() error {
	c.closed++
	return c.err
}

func TestCloseLedger(t *testing.T) {
	closeLedger(nil)

	ledger := &closeCounter{}
	closeLedger(ledger)
	assert.Equal(t, 1, ledger.closed)

	failing := &closeCounter{err: errors.New("connection reset")}
	closeLedger(failing)
	assert.Equal(t, 1, failing.closed)
}

func TestCheckAccess(t *testing.T) {
	cfg := &config.Config{SourceChannelID: "C0SUPPORT", DestinationChannelID: "C0LEADERS"}

	t.Run("All channels readable", func(t *testing.T) {
		ws := slacktest.NewWorkspace()
		ws.AddChannel("C0SUPPORT", "C0LEADERS")
		var out bytes.Buffer

		err := checkAccess(context.Background(), &out, cfg, ws)

		require.NoError(t, err)
		assert.Contains(t, out.String(), "leaderboard-bot in test-team")
		assert.Equal(t, 1, ws.HistoryCalls["C0LEADERS"])
	})

	t.Run("Destination not readable", func(t *testing.T) {
		ws := slacktest.NewWorkspace()
		ws.AddChannel("C0SUPPORT")
		ws.HistoryErr = func(channel string, call int) error {
			if channel == "C0LEADERS" {
				return slack.SlackErrorResponse{Err: "not_in_channel"}
			}
			return nil
		}
		var out bytes.Buffer

		err := checkAccess(context.Background(), &out, cfg, ws)

		require.Error(t, err)
		assert.Contains(t, out.String(), "not_in_channel")
	})
}
