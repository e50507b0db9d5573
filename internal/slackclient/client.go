package slackclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
	"github.com/support-tools/resolution-leaderboard/internal/config"
	"github.com/support-tools/resolution-leaderboard/internal/metrics"
)

// Operation names, as documented by Slack
const (
	OpHistory   = "conversations.history"
	OpReactions = "reactions.get"
	OpPost      = "chat.postMessage"
	OpUserInfo  = "users.info"
	OpAuthTest  = "auth.test"
)

// API is the part of *slack.Client this package wraps
type API interface {
	GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	GetReactionsContext(ctx context.Context, item slack.ItemRef, params slack.GetReactionsParameters) (slack.ReactedItem, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	GetUserInfoContext(ctx context.Context, user string) (*slack.User, error)
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
}

var _ API = (*slack.Client)(nil)

// Platform is everything the rest of the bot needs from Slack. Every method
// is retried according to the client's RetryPolicy.
type Platform interface {
	History(ctx context.Context, params slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	Reactions(ctx context.Context, channelID, timestamp string) ([]slack.ItemReaction, error)
	PostMessage(ctx context.Context, channelID, text string, blocks ...slack.Block) (string, error)
	UserInfo(ctx context.Context, userID string) (*slack.User, error)
	AuthTest(ctx context.Context) (*slack.AuthTestResponse, error)
}

// Client wraps Slack API calls with rate limit handling and backoff
type Client struct {
	api    API
	policy RetryPolicy
	timer  backoff.Timer
}

// Ensure Client implements Platform
var _ Platform = (*Client)(nil)

// Option configures a Client
type Option func(*Client)

// WithTimer replaces the timer used to wait between retries
func WithTimer(t backoff.Timer) Option {
	return func(c *Client) {
		c.timer = t
	}
}

// New creates a client around an existing Slack API implementation
func New(api API, policy RetryPolicy, opts ...Option) *Client {
	c := &Client{
		api:    api,
		policy: policy,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig creates a client for the configured bot token
func NewFromConfig(cfg *config.Config) *Client {
	api := slack.New(cfg.SlackBotToken,
		slack.OptionHTTPClient(&http.Client{Timeout: 30 * time.Second}),
	)
	return New(api, PolicyFromConfig(cfg))
}

// Do runs fn until it succeeds, fails permanently or runs out of attempts.
// Rate limited calls wait for the server supplied duration; transient
// failures wait on the exponential schedule.
func (c *Client) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	return c.do(ctx, operation, true, fn)
}

// do is Do with control over transient retries. Calls that are not safe to
// repeat (the request may have been applied before the failure) only retry
// rate limit rejections.
func (c *Client) do(ctx context.Context, operation string, retryTransient bool, fn func(ctx context.Context) error) error {
	schedule := c.policy.newBackOff()
	retries := c.policy.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	b := backoff.WithContext(backoff.WithMaxRetries(schedule, uint64(retries)), ctx)

	attempts := 0
	var last *APIError

	call := func() error {
		attempts++
		err := fn(ctx)
		if err == nil {
			metrics.APICallsTotal.WithLabelValues(operation, "ok").Inc()
			return nil
		}

		last = classify(operation, err)
		last.Attempts = attempts
		metrics.APICallsTotal.WithLabelValues(operation, last.Kind.String()).Inc()

		switch last.Kind {
		case KindRateLimited:
			if last.RetryAfter > 0 {
				schedule.serverWait(last.RetryAfter)
			}
			return last
		case KindTransient:
			if !retryTransient {
				return backoff.Permanent(last)
			}
			return last
		default:
			return backoff.Permanent(last)
		}
	}

	notify := func(err error, wait time.Duration) {
		kind := KindTransient
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			kind = apiErr.Kind
		}
		metrics.APIRetriesTotal.WithLabelValues(operation, kind.String()).Inc()
		metrics.APIRetryWaitSeconds.WithLabelValues(operation).Observe(wait.Seconds())
		logrus.WithFields(logrus.Fields{
			"operation": operation,
			"attempt":   attempts,
			"kind":      kind.String(),
			"wait":      wait.String(),
		}).Warnf("Slack call failed, retrying: %v", err)
	}

	err := backoff.RetryNotifyWithTimer(call, b, notify, c.timer)
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		// context ended while waiting between attempts
		return fmt.Errorf("slack %s: %w", operation, err)
	}

	if apiErr.Kind == KindRateLimited || apiErr.Kind == KindTransient {
		return &APIError{
			Kind:      KindExhausted,
			Operation: operation,
			Attempts:  attempts,
			Err:       apiErr.Err,
		}
	}

	return apiErr
}

// History returns one page of conversations.history
func (c *Client) History(ctx context.Context, params slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error) {
	var resp *slack.GetConversationHistoryResponse
	err := c.Do(ctx, OpHistory, func(ctx context.Context) error {
		var err error
		resp, err = c.api.GetConversationHistoryContext(ctx, &params)
		return err
	})
	return resp, err
}

// Reactions returns the complete reaction list of one message
func (c *Client) Reactions(ctx context.Context, channelID, timestamp string) ([]slack.ItemReaction, error) {
	var item slack.ReactedItem
	err := c.Do(ctx, OpReactions, func(ctx context.Context) error {
		var err error
		item, err = c.api.GetReactionsContext(ctx, slack.NewRefToMessage(channelID, timestamp), slack.GetReactionsParameters{Full: true})
		return err
	})
	if err != nil {
		return nil, err
	}
	return item.Reactions, nil
}

// PostMessage posts text with optional blocks and returns the message ts.
// A transient failure is not retried because the post may have gone
// through; rerunning the publisher is safe since the guard re-checks.
func (c *Client) PostMessage(ctx context.Context, channelID, text string, blocks ...slack.Block) (string, error) {
	options := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if len(blocks) > 0 {
		options = append(options, slack.MsgOptionBlocks(blocks...))
	}

	var ts string
	err := c.do(ctx, OpPost, false, func(ctx context.Context) error {
		var err error
		_, ts, err = c.api.PostMessageContext(ctx, channelID, options...)
		return err
	})
	return ts, err
}

// UserInfo looks up a user
func (c *Client) UserInfo(ctx context.Context, userID string) (*slack.User, error) {
	var user *slack.User
	err := c.Do(ctx, OpUserInfo, func(ctx context.Context) error {
		var err error
		user, err = c.api.GetUserInfoContext(ctx, userID)
		return err
	})
	return user, err
}

// AuthTest verifies the token and returns the bot identity
func (c *Client) AuthTest(ctx context.Context) (*slack.AuthTestResponse, error) {
	var resp *slack.AuthTestResponse
	err := c.Do(ctx, OpAuthTest, func(ctx context.Context) error {
		var err error
		resp, err = c.api.AuthTestContext(ctx)
		return err
	})
	return resp, err
}
