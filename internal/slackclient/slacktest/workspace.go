// Package slacktest provides an in-memory Slack workspace that implements
// slackclient.Platform for tests.
package slacktest

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/support-tools/resolution-leaderboard/internal/models"
	"github.com/support-tools/resolution-leaderboard/internal/slackclient"
)

// BotID and BotUserID identify messages posted through the workspace
const (
	BotID     = "B0BOT0001"
	BotUserID = "U0BOT0001"
)

// Post is a message posted through PostMessage
type Post struct {
	Channel string
	Text    string
	Blocks  []slack.Block
	TS      string
}

// Workspace holds channels, users and call counters
type Workspace struct {
	mu sync.Mutex

	channels  map[string][]slack.Message // oldest first
	reactions map[string][]slack.ItemReaction
	users     map[string]*slack.User

	// Now stamps posted messages; it defaults to time.Now
	Now func() time.Time

	// PostAs makes the workspace behave like a user token: posts carry this
	// user ID and no bot ID, and AuthTest reports the user
	PostAs string

	// Hooks to inject failures; a nil hook means success
	HistoryErr  func(channel string, call int) error
	ReactionErr func(channel, ts string) error
	PostErr     func(channel string) error
	UserErr     func(userID string) error
	AuthErr     func() error

	HistoryCalls  map[string]int
	ReactionCalls int
	UserCalls     int
	AuthCalls     int
	Posts         []Post
}

// Ensure Workspace implements Platform
var _ slackclient.Platform = (*Workspace)(nil)

// NewWorkspace creates an empty workspace
func NewWorkspace() *Workspace {
	return &Workspace{
		channels:     make(map[string][]slack.Message),
		reactions:    make(map[string][]slack.ItemReaction),
		users:        make(map[string]*slack.User),
		Now:          time.Now,
		HistoryCalls: make(map[string]int),
	}
}

// TS formats a time as a Slack message timestamp
func TS(t time.Time) string {
	return models.FormatSlackTimestamp(t)
}

// Message builds a user message
func Message(ts, user string, reactions ...slack.ItemReaction) slack.Message {
	return slack.Message{Msg: slack.Msg{
		Type:      "message",
		Timestamp: ts,
		User:      user,
		Text:      "help request " + ts,
		Reactions: reactions,
	}}
}

// Reaction builds a reaction whose count matches its users
func Reaction(name string, users ...string) slack.ItemReaction {
	return slack.ItemReaction{Name: name, Count: len(users), Users: users}
}

// AddChannel creates empty channels
func (w *Workspace) AddChannel(ids ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, id := range ids {
		if _, ok := w.channels[id]; !ok {
			w.channels[id] = nil
		}
	}
}

// AddMessages stores messages in a channel, keeping chronological order
func (w *Workspace) AddMessages(channel string, msgs ...slack.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.channels[channel] = append(w.channels[channel], msgs...)
	sort.SliceStable(w.channels[channel], func(i, j int) bool {
		return tsValue(w.channels[channel][i].Timestamp).Before(tsValue(w.channels[channel][j].Timestamp))
	})
}

// SetFullReactions sets what reactions.get returns for a message
func (w *Workspace) SetFullReactions(channel, ts string, reactions ...slack.ItemReaction) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reactions[channel+"/"+ts] = reactions
}

// AddUser registers a user for users.info
func (w *Workspace) AddUser(user *slack.User) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.users[user.ID] = user
}

// PostsTo returns the posts made to a channel
func (w *Workspace) PostsTo(channel string) []Post {
	w.mu.Lock()
	defer w.mu.Unlock()

	var posts []Post
	for _, p := range w.Posts {
		if p.Channel == channel {
			posts = append(posts, p)
		}
	}
	return posts
}

// History returns messages newest first, filtered by oldest/latest and paged
// with a numeric cursor, like conversations.history
func (w *Workspace) History(ctx context.Context, params slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.HistoryCalls[params.ChannelID]++
	if w.HistoryErr != nil {
		if err := w.HistoryErr(params.ChannelID, w.HistoryCalls[params.ChannelID]); err != nil {
			return nil, err
		}
	}

	all, ok := w.channels[params.ChannelID]
	if !ok {
		return nil, slack.SlackErrorResponse{Err: "channel_not_found"}
	}

	var matched []slack.Message
	for i := len(all) - 1; i >= 0; i-- {
		if inRange(all[i].Timestamp, params) {
			matched = append(matched, all[i])
		}
	}

	offset := 0
	if params.Cursor != "" {
		n, err := strconv.Atoi(params.Cursor)
		if err != nil {
			return nil, slack.SlackErrorResponse{Err: "invalid_cursor"}
		}
		offset = n
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}
	if offset > len(matched) {
		offset = len(matched)
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}

	resp := &slack.GetConversationHistoryResponse{
		Messages: append([]slack.Message(nil), matched[offset:end]...),
		HasMore:  end < len(matched),
	}
	resp.Ok = true
	if resp.HasMore {
		resp.ResponseMetaData.NextCursor = strconv.Itoa(end)
	}
	return resp, nil
}

// Reactions returns the full reaction list set with SetFullReactions, or the
// inline reactions of the stored message
func (w *Workspace) Reactions(ctx context.Context, channelID, timestamp string) ([]slack.ItemReaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.ReactionCalls++
	if w.ReactionErr != nil {
		if err := w.ReactionErr(channelID, timestamp); err != nil {
			return nil, err
		}
	}

	if full, ok := w.reactions[channelID+"/"+timestamp]; ok {
		return full, nil
	}
	for _, msg := range w.channels[channelID] {
		if msg.Timestamp == timestamp {
			return msg.Reactions, nil
		}
	}
	return nil, slack.SlackErrorResponse{Err: "message_not_found"}
}

// PostMessage stores a bot message in the channel and records the post
func (w *Workspace) PostMessage(ctx context.Context, channelID, text string, blocks ...slack.Block) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.PostErr != nil {
		if err := w.PostErr(channelID); err != nil {
			return "", err
		}
	}

	// keep timestamps unique even when Now is frozen
	stamp := w.Now().Add(time.Duration(len(w.Posts)) * time.Microsecond)
	ts := TS(stamp)

	msg := slack.Message{Msg: slack.Msg{
		Type:      "message",
		Timestamp: ts,
		User:      BotUserID,
		BotID:     BotID,
		Text:      text,
	}}
	if w.PostAs != "" {
		msg.User, msg.BotID = w.PostAs, ""
	}
	w.channels[channelID] = append(w.channels[channelID], msg)
	w.Posts = append(w.Posts, Post{Channel: channelID, Text: text, Blocks: blocks, TS: ts})
	return ts, nil
}

// UserInfo returns a registered user
func (w *Workspace) UserInfo(ctx context.Context, userID string) (*slack.User, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.UserCalls++
	if w.UserErr != nil {
		if err := w.UserErr(userID); err != nil {
			return nil, err
		}
	}

	user, ok := w.users[userID]
	if !ok {
		return nil, slack.SlackErrorResponse{Err: "user_not_found"}
	}
	return user, nil
}

// AuthTest returns the workspace bot identity, or the PostAs user
func (w *Workspace) AuthTest(ctx context.Context) (*slack.AuthTestResponse, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.AuthCalls++
	if w.AuthErr != nil {
		if err := w.AuthErr(); err != nil {
			return nil, err
		}
	}
	if w.PostAs != "" {
		return &slack.AuthTestResponse{
			Team:   "test-team",
			User:   "leaderboard-user",
			UserID: w.PostAs,
		}, nil
	}
	return &slack.AuthTestResponse{
		Team:   "test-team",
		User:   "leaderboard-bot",
		UserID: BotUserID,
		BotID:  BotID,
	}, nil
}

func inRange(ts string, params slack.GetConversationHistoryParameters) bool {
	t, err := models.ParseSlackTimestamp(ts)
	if err != nil {
		// malformed data is passed through for the caller to deal with
		return true
	}
	if params.Oldest != "" {
		oldest := tsValue(params.Oldest)
		if t.Before(oldest) || (!params.Inclusive && t.Equal(oldest)) {
			return false
		}
	}
	if params.Latest != "" {
		latest := tsValue(params.Latest)
		if t.After(latest) || (!params.Inclusive && t.Equal(latest)) {
			return false
		}
	}
	return true
}

// tsValue orders malformed timestamps before everything else
func tsValue(ts string) time.Time {
	t, err := models.ParseSlackTimestamp(ts)
	if err != nil {
		return time.Time{}
	}
	return t
}
