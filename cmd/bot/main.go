package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/support-tools/resolution-leaderboard/internal/config"
	"github.com/support-tools/resolution-leaderboard/internal/notifications"
	"github.com/support-tools/resolution-leaderboard/internal/publisher"
	"github.com/support-tools/resolution-leaderboard/internal/slackclient"
	"github.com/support-tools/resolution-leaderboard/internal/storage"
)

// Exit codes
const (
	exitOK          = 0
	exitFailure     = 1
	exitConfigError = 2
)

var rootCmd = &cobra.Command{
	Use:           "bot",
	Short:         "Weekly support resolution leaderboard for Slack",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Post the leaderboard for one or more past weeks",
	RunE:  runPublish,
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Print a week's leaderboard without posting it",
	RunE:  runPreview,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the weekly schedule and the HTTP health, metrics and trigger endpoints",
	RunE:  runServe,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the Slack token and channel access",
	RunE:  runCheck,
}

var (
	weeksFlag   int
	weekFlag    int
	previewJSON bool
)

func init() {
	publishCmd.Flags().IntVar(&weeksFlag, "weeks", 0, "Publish the last N complete weeks")
	publishCmd.Flags().IntVar(&weekFlag, "week", 1, "Publish only the week N weeks before the current one")
	publishCmd.MarkFlagsMutuallyExclusive("weeks", "week")

	previewCmd.Flags().IntVar(&weekFlag, "week", 1, "Preview the week N weeks before the current one")
	previewCmd.Flags().BoolVar(&previewJSON, "json", false, "Print the leaderboard as JSON")

	rootCmd.AddCommand(publishCmd, previewCmd, serveCmd, checkCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}

// runFailedError reports a run in which at least one week failed
type runFailedError struct {
	failed int
}

func (e *runFailedError) Error() string {
	return fmt.Sprintf("%d week(s) failed", e.failed)
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var cfgErr *config.ConfigError
	if errors.As(err, &cfgErr) {
		return exitConfigError
	}
	return exitFailure
}

// loadConfig reads .env and the environment and sets up logging
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logrus.SetLevel(logrus.InfoLevel)
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})

	return cfg, nil
}

// newPublisher wires the Slack client, ledger and notifications. The
// returned func releases the ledger.
func newPublisher(ctx context.Context, cfg *config.Config) (*publisher.Service, func(), error) {
	ledger, err := storage.NewFromConfig(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize ledger: %w", err)
	}

	client := slackclient.NewFromConfig(cfg)
	notificationService := notifications.NewService(cfg)

	service := publisher.NewService(cfg, client, ledger, notificationService)
	return service, func() { closeLedger(ledger) }, nil
}

func closeLedger(ledger storage.StorageInterface) {
	if ledger == nil {
		return
	}
	if err := ledger.Close(); err != nil {
		logrus.Warnf("Failed to close ledger: %v", err)
	}
}
