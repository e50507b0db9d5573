package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WeekIDLayout is the layout of a week identifier (its start date)
const WeekIDLayout = "2006-01-02"

// Week is the half-open interval [Start, End) a leaderboard covers
type Week struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// WeekFor returns the week that began weeksAgo weeks before the current one.
// weeksAgo=0 is the week containing now, weeksAgo=1 the last complete week.
func WeekFor(now time.Time, weeksAgo int, loc *time.Location, weekStart time.Weekday) Week {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	offset := (int(local.Weekday()) - int(weekStart) + 7) % 7
	current := time.Date(local.Year(), local.Month(), local.Day()-offset, 0, 0, 0, 0, loc)
	start := current.AddDate(0, 0, -7*weeksAgo)
	return Week{Start: start, End: start.AddDate(0, 0, 7)}
}

// ID identifies the week by its start date
func (w Week) ID() string {
	return w.Start.Format(WeekIDLayout)
}

// Contains reports whether t falls inside the week. The start boundary is
// included and the end boundary belongs to the next week.
func (w Week) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Label renders the week as "Jan 02 - Jan 08, 2006"
func (w Week) Label() string {
	last := w.End.AddDate(0, 0, -1)
	return fmt.Sprintf("%s - %s", w.Start.Format("Jan 02"), last.Format("Jan 02, 2006"))
}

// Prev returns the week before w
func (w Week) Prev() Week {
	return Week{Start: w.Start.AddDate(0, 0, -7), End: w.Start}
}

// Next returns the week after w
func (w Week) Next() Week {
	return Week{Start: w.End, End: w.End.AddDate(0, 0, 7)}
}

func (w Week) String() string {
	return w.ID()
}

// Message represents a chat message in the monitored channel
type Message struct {
	ID        string     `json:"id"` // Slack "ts"
	ChannelID string     `json:"channel_id"`
	UserID    string     `json:"user_id"`
	BotID     string     `json:"bot_id,omitempty"`
	Text      string     `json:"text"`
	Timestamp time.Time  `json:"timestamp"`
	IsBot     bool       `json:"is_bot"`
	Reactions []Reaction `json:"reactions"`
}

// Reaction is one emoji applied to a message, with the users who applied it
type Reaction struct {
	Name  string   `json:"name"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// Truncated reports whether the platform returned fewer users than the count
func (r Reaction) Truncated() bool {
	return r.Count > len(r.Users)
}

// ResolutionEvent is one user resolving one message
type ResolutionEvent struct {
	UserID    string `json:"user_id"`
	MessageID string `json:"message_id"`
	Week      Week   `json:"week"`
}

// LeaderboardEntry is a ranked user
type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Count       int    `json:"count"`
}

// Leaderboard is the ranked report for one week
type Leaderboard struct {
	Week    Week               `json:"week"`
	Entries []LeaderboardEntry `json:"entries"`
	Total   int                `json:"total"`
	Text    string             `json:"text"`
}

// IsEmpty reports whether nobody resolved anything in the week
func (l *Leaderboard) IsEmpty() bool {
	return len(l.Entries) == 0
}

// PublishRecord is evidence that a week's leaderboard was already posted
type PublishRecord struct {
	WeekID    string    `json:"week_id"`
	ChannelID string    `json:"channel_id"`
	MessageTS string    `json:"message_ts"`
	PostedAt  time.Time `json:"posted_at"`
}

// User is a Slack user
type User struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	RealName    string `json:"real_name"`
}

// GetDisplayName returns the preferred name: DisplayName > RealName > Name > ID
func (u *User) GetDisplayName() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	if u.RealName != "" {
		return u.RealName
	}
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}

// NormalizeEmoji strips skin-tone modifiers ("+1::skin-tone-2" -> "+1")
func NormalizeEmoji(name string) string {
	name = strings.Trim(strings.TrimSpace(name), ":")
	if i := strings.Index(name, "::"); i >= 0 {
		name = name[:i]
	}
	return name
}

// ParseSlackTimestamp converts a Slack "ts" ("1700000000.123456") to a time
func ParseSlackTimestamp(ts string) (time.Time, error) {
	secPart, fracPart, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid slack timestamp %q: %w", ts, err)
	}

	var nsec int64
	if fracPart != "" {
		if len(fracPart) > 9 {
			fracPart = fracPart[:9]
		}
		frac, err := strconv.ParseInt(fracPart, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid slack timestamp %q: %w", ts, err)
		}
		for i := len(fracPart); i < 9; i++ {
			frac *= 10
		}
		nsec = frac
	}

	return time.Unix(sec, nsec).UTC(), nil
}

// FormatSlackTimestamp converts a time to the "ts" form accepted by oldest/latest
func FormatSlackTimestamp(t time.Time) string {
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/1000)
}

// Outcome is the result of publishing one week
type Outcome string

const (
	OutcomePosted           Outcome = "posted"
	OutcomeSkippedDuplicate Outcome = "skipped-duplicate"
	OutcomeFailed           Outcome = "failed"
)

// WeekResult is the outcome of publishing one week
type WeekResult struct {
	Week        Week    `json:"week"`
	Outcome     Outcome `json:"outcome"`
	Resolutions int     `json:"resolutions"`
	Users       int     `json:"users"`
	MessageTS   string  `json:"message_ts,omitempty"`
	Err         error   `json:"-"`
	Error       string  `json:"error,omitempty"`
}

// RunSummary collects the week results of one publisher run
type RunSummary struct {
	Trigger    string       `json:"trigger"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Results    []WeekResult `json:"results"`
}

// Failed reports whether any week failed
func (r *RunSummary) Failed() bool {
	return r.Count(OutcomeFailed) > 0
}

// Count returns the number of weeks with the given outcome
func (r *RunSummary) Count(outcome Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}
