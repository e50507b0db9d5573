package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/slack-go/slack"
	"github.com/spf13/cobra"
	"github.com/support-tools/resolution-leaderboard/internal/config"
	"github.com/support-tools/resolution-leaderboard/internal/slackclient"
)

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	return checkAccess(cmd.Context(), cmd.OutOrStdout(), cfg, slackclient.NewFromConfig(cfg))
}

// checkAccess verifies the token and that both channels are readable
func checkAccess(ctx context.Context, out io.Writer, cfg *config.Config, platform slackclient.Platform) error {
	fmt.Fprintln(out, "🔍 Resolution Leaderboard - Slack Connectivity Check")
	fmt.Fprintln(out, strings.Repeat("=", 50))

	fmt.Fprint(out, "🔸 Testing token... ")
	identity, err := platform.AuthTest(ctx)
	if err != nil {
		fmt.Fprintf(out, "❌ ERROR: %v\n", err)
		return err
	}
	fmt.Fprintf(out, "✅ %s in %s (bot %s)\n", identity.User, identity.Team, identity.BotID)

	channels := []string{cfg.SourceChannelID}
	if cfg.DestinationChannelID != cfg.SourceChannelID {
		channels = append(channels, cfg.DestinationChannelID)
	}

	failed := 0
	for _, channel := range channels {
		fmt.Fprintf(out, "🔸 Reading %s... ", channel)
		_, err := platform.History(ctx, slack.GetConversationHistoryParameters{ChannelID: channel, Limit: 1})
		if err != nil {
			fmt.Fprintf(out, "❌ ERROR: %v\n", err)
			failed++
			continue
		}
		fmt.Fprintln(out, "✅ OK")
	}

	if failed > 0 {
		return fmt.Errorf("%d channel(s) not readable", failed)
	}

	fmt.Fprintln(out, "\n✅ Connectivity check completed!")
	return nil
}
