package publisher

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
	"github.com/support-tools/resolution-leaderboard/internal/models"
)

type userDirectory interface {
	UserInfo(ctx context.Context, userID string) (*slack.User, error)
}

// nameCache resolves display names once per run. Failed lookups are cached
// as empty names so the formatter falls back to a mention.
type nameCache struct {
	users userDirectory
	names map[string]string
}

func newNameCache(users userDirectory) *nameCache {
	return &nameCache{
		users: users,
		names: make(map[string]string),
	}
}

func (c *nameCache) resolve(ctx context.Context, userIDs []string) map[string]string {
	out := make(map[string]string, len(userIDs))
	for _, id := range userIDs {
		name, ok := c.names[id]
		if !ok {
			name = c.lookup(ctx, id)
			if ctx.Err() == nil {
				c.names[id] = name
			}
		}
		if name != "" {
			out[id] = name
		}
	}
	return out
}

func (c *nameCache) lookup(ctx context.Context, id string) string {
	if ctx.Err() != nil {
		return ""
	}

	user, err := c.users.UserInfo(ctx, id)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logrus.WithField("user", id).Warnf("Failed to look up user, using mention: %v", err)
		}
		return ""
	}

	u := models.User{
		ID:          user.ID,
		Name:        user.Name,
		DisplayName: user.Profile.DisplayName,
		RealName:    user.RealName,
	}
	if u.RealName == "" {
		u.RealName = user.Profile.RealName
	}
	if u.ID == "" {
		u.ID = id
	}
	name := u.GetDisplayName()
	if name == u.ID {
		return ""
	}
	return name
}
