package guard

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/support-tools/resolution-leaderboard/internal/leaderboard"
	"github.com/support-tools/resolution-leaderboard/internal/models"
	"github.com/support-tools/resolution-leaderboard/internal/slackclient/slacktest"
	"github.com/support-tools/resolution-leaderboard/internal/sources"
	"github.com/support-tools/resolution-leaderboard/internal/storage"
)

// MockStorage is a mock implementation of StorageInterface
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) Store(ctx context.Context, key string, data []byte) error {
	return m.Called(key, data).Error(0)
}

func (m *MockStorage) Retrieve(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(key)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *MockStorage) Close() error {
	return m.Called().Error(0)
}

const destination = "C0LEADERS"

var (
	week = models.Week{
		Start: time.Date(2026, 10, 5, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC),
	}
	now = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
)

func newGuard(ws *slacktest.Workspace, opts ...Option) *Guard {
	history := sources.NewSlackHistory(ws, 50).WithoutReactionLookups()
	return New(history, append([]Option{WithClock(func() time.Time { return now })}, opts...)...)
}

func addBotMessage(ws *slacktest.Workspace, at time.Time, text string) {
	msg := slacktest.Message(slacktest.TS(at), slacktest.BotUserID)
	msg.BotID = slacktest.BotID
	msg.Text = text
	ws.AddMessages(destination, msg)
}

func TestGuard_AlreadyPosted(t *testing.T) {
	marker := leaderboard.Marker(week)

	tests := []struct {
		name     string
		setup    func(ws *slacktest.Workspace)
		expected bool
	}{
		{
			name:     "Empty channel",
			setup:    func(ws *slacktest.Workspace) {},
			expected: false,
		},
		{
			name: "Marker posted by the bot",
			setup: func(ws *slacktest.Workspace) {
				addBotMessage(ws, now.Add(-time.Hour), marker+" Weekly Resolution Leaderboard")
			},
			expected: true,
		},
		{
			name: "Marker posted on the first day of the week",
			setup: func(ws *slacktest.Workspace) {
				addBotMessage(ws, week.Start, marker+" Weekly Resolution Leaderboard")
			},
			expected: true,
		},
		{
			name: "Marker for another week",
			setup: func(ws *slacktest.Workspace) {
				other := models.Week{Start: week.Start.AddDate(0, 0, -7), End: week.Start}
				addBotMessage(ws, now.Add(-time.Hour), leaderboard.Marker(other)+" Weekly Resolution Leaderboard")
			},
			expected: false,
		},
		{
			name: "Marker typed by a human",
			setup: func(ws *slacktest.Workspace) {
				msg := slacktest.Message(slacktest.TS(now.Add(-time.Hour)), "U1")
				msg.Text = marker
				ws.AddMessages(destination, msg)
			},
			expected: false,
		},
		{
			name: "Bot text mentioning the date",
			setup: func(ws *slacktest.Workspace) {
				addBotMessage(ws, now.Add(-time.Hour), "Leaderboard for "+week.ID()+" is coming")
			},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := slacktest.NewWorkspace()
			ws.AddChannel(destination)
			tt.setup(ws)

			posted, err := newGuard(ws).AlreadyPosted(context.Background(), destination, week)

			require.NoError(t, err)
			assert.Equal(t, tt.expected, posted)
		})
	}
}

func TestGuard_Poster(t *testing.T) {
	marker := leaderboard.Marker(week) + " Weekly Resolution Leaderboard"
	botPoster := func(ctx context.Context) (Poster, error) {
		return Poster{UserID: slacktest.BotUserID, BotID: slacktest.BotID}, nil
	}

	tests := []struct {
		name     string
		poster   func(ctx context.Context) (Poster, error)
		setup    func(ws *slacktest.Workspace)
		expected bool
	}{
		{
			name:     "Bot post matched by bot ID",
			poster:   botPoster,
			setup:    func(ws *slacktest.Workspace) { addBotMessage(ws, now.Add(-time.Hour), marker) },
			expected: true,
		},
		{
			name: "Post by the bot user without a bot ID",
			poster: func(ctx context.Context) (Poster, error) {
				return Poster{UserID: slacktest.BotUserID}, nil
			},
			setup: func(ws *slacktest.Workspace) {
				msg := slacktest.Message(slacktest.TS(now.Add(-time.Hour)), slacktest.BotUserID)
				msg.Text = marker
				ws.AddMessages(destination, msg)
			},
			expected: true,
		},
		{
			name:   "Marker from another bot",
			poster: botPoster,
			setup: func(ws *slacktest.Workspace) {
				msg := slacktest.Message(slacktest.TS(now.Add(-time.Hour)), "U0OTHERBOT")
				msg.BotID = "B0OTHER"
				msg.Text = marker
				ws.AddMessages(destination, msg)
			},
			expected: false,
		},
		{
			name:   "Marker typed by a human",
			poster: botPoster,
			setup: func(ws *slacktest.Workspace) {
				msg := slacktest.Message(slacktest.TS(now.Add(-time.Hour)), "U1")
				msg.Text = marker
				ws.AddMessages(destination, msg)
			},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := slacktest.NewWorkspace()
			ws.AddChannel(destination)
			tt.setup(ws)

			posted, err := newGuard(ws, WithPoster(tt.poster)).AlreadyPosted(context.Background(), destination, week)

			require.NoError(t, err)
			assert.Equal(t, tt.expected, posted)
		})
	}
}

func TestGuard_PosterResolution(t *testing.T) {
	t.Run("Resolved once", func(t *testing.T) {
		ws := slacktest.NewWorkspace()
		ws.AddChannel(destination)
		calls := 0
		g := newGuard(ws, WithPoster(func(ctx context.Context) (Poster, error) {
			calls++
			return Poster{UserID: slacktest.BotUserID}, nil
		}))

		for i := 0; i < 3; i++ {
			_, err := g.AlreadyPosted(context.Background(), destination, week)
			require.NoError(t, err)
		}
		assert.Equal(t, 1, calls)
	})

	t.Run("Failure is returned and retried", func(t *testing.T) {
		ws := slacktest.NewWorkspace()
		ws.AddChannel(destination)
		addBotMessage(ws, now.Add(-time.Hour), leaderboard.Marker(week))
		fail := true
		g := newGuard(ws, WithPoster(func(ctx context.Context) (Poster, error) {
			if fail {
				return Poster{}, errors.New("invalid_auth")
			}
			return Poster{BotID: slacktest.BotID}, nil
		}))

		_, err := g.AlreadyPosted(context.Background(), destination, week)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "resolving poster identity")
		assert.Equal(t, 0, ws.HistoryCalls[destination])

		fail = false
		posted, err := g.AlreadyPosted(context.Background(), destination, week)
		require.NoError(t, err)
		assert.True(t, posted)
	})

	t.Run("Empty identity", func(t *testing.T) {
		ws := slacktest.NewWorkspace()
		ws.AddChannel(destination)
		g := newGuard(ws, WithPoster(func(ctx context.Context) (Poster, error) {
			return Poster{}, nil
		}))

		_, err := g.AlreadyPosted(context.Background(), destination, week)
		assert.Error(t, err)
	})
}

func TestGuard_ScansAcrossPages(t *testing.T) {
	ws := slacktest.NewWorkspace()
	addBotMessage(ws, week.Start.Add(time.Hour), leaderboard.Marker(week)+" Weekly Resolution Leaderboard")
	for i := 0; i < 120; i++ {
		msg := slacktest.Message(slacktest.TS(week.Start.Add(2*time.Hour+time.Duration(i)*time.Minute)), "U1")
		ws.AddMessages(destination, msg)
	}

	posted, err := newGuard(ws).AlreadyPosted(context.Background(), destination, week)

	require.NoError(t, err)
	assert.True(t, posted)
	assert.Equal(t, 3, ws.HistoryCalls[destination])
}

func TestGuard_HistoryError(t *testing.T) {
	ws := slacktest.NewWorkspace()

	_, err := newGuard(ws).AlreadyPosted(context.Background(), "C0MISSING", week)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "scanning C0MISSING")
}

func TestGuard_Ledger(t *testing.T) {
	t.Run("Record then found without scanning", func(t *testing.T) {
		ws := slacktest.NewWorkspace()
		ws.AddChannel(destination)
		ledger := storage.NewMemoryStorage()
		g := newGuard(ws, WithLedger(ledger))

		require.NoError(t, g.Record(context.Background(), week, destination, "1791000000.000100"))

		data, err := ledger.Retrieve(context.Background(), "ledger/2026-10-05.json")
		require.NoError(t, err)
		var record models.PublishRecord
		require.NoError(t, json.Unmarshal(data, &record))
		assert.Equal(t, week.ID(), record.WeekID)
		assert.Equal(t, "1791000000.000100", record.MessageTS)

		posted, err := g.AlreadyPosted(context.Background(), destination, week)
		require.NoError(t, err)
		assert.True(t, posted)
		assert.Equal(t, 0, ws.HistoryCalls[destination])
	})

	t.Run("Missing record falls back to the channel", func(t *testing.T) {
		ws := slacktest.NewWorkspace()
		addBotMessage(ws, now.Add(-time.Hour), leaderboard.Marker(week)+" Weekly Resolution Leaderboard")
		g := newGuard(ws, WithLedger(storage.NewMemoryStorage()))

		posted, err := g.AlreadyPosted(context.Background(), destination, week)

		require.NoError(t, err)
		assert.True(t, posted)
		assert.Equal(t, 1, ws.HistoryCalls[destination])
	})

	t.Run("Ledger failure falls back to the channel", func(t *testing.T) {
		ws := slacktest.NewWorkspace()
		ws.AddChannel(destination)
		ledger := &MockStorage{}
		ledger.On("Retrieve", LedgerKey(week)).Return(nil, errors.New("connection refused"))

		posted, err := newGuard(ws, WithLedger(ledger)).AlreadyPosted(context.Background(), destination, week)

		require.NoError(t, err)
		assert.False(t, posted)
		ledger.AssertExpectations(t)
	})

	t.Run("Store failure is returned", func(t *testing.T) {
		ledger := &MockStorage{}
		ledger.On("Store", LedgerKey(week), mock.Anything).Return(errors.New("forbidden"))

		err := newGuard(slacktest.NewWorkspace(), WithLedger(ledger)).Record(context.Background(), week, destination, "1.0")

		assert.Error(t, err)
	})

	t.Run("No ledger", func(t *testing.T) {
		err := newGuard(slacktest.NewWorkspace()).Record(context.Background(), week, destination, "1.0")
		assert.NoError(t, err)
	})
}

func TestLedgerKey(t *testing.T) {
	assert.Equal(t, "ledger/2026-10-05.json", LedgerKey(week))
}
