package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/support-tools/resolution-leaderboard/internal/config"
	"github.com/support-tools/resolution-leaderboard/internal/models"
	"github.com/support-tools/resolution-leaderboard/internal/publisher"
)

// weekSelection is the validated --weeks / --week choice
type weekSelection struct {
	last   int // publish the last N complete weeks
	single int // publish the week N weeks ago
}

func selectWeeks(cmd *cobra.Command, weeks, week int) (weekSelection, error) {
	if cmd.Flags().Changed("weeks") {
		if weeks < 1 {
			return weekSelection{}, &config.ConfigError{Field: "--weeks", Reason: fmt.Sprintf("must be at least 1, got %d", weeks)}
		}
		return weekSelection{last: weeks}, nil
	}
	if week < 1 {
		return weekSelection{}, &config.ConfigError{Field: "--week", Reason: fmt.Sprintf("must be at least 1, got %d", week)}
	}
	return weekSelection{single: week}, nil
}

func (s weekSelection) resolve(service *publisher.Service) ([]models.Week, error) {
	if s.last > 0 {
		return service.LastWeeks(s.last)
	}
	week, err := service.WeekAgo(s.single)
	if err != nil {
		return nil, err
	}
	return []models.Week{week}, nil
}

func runPublish(cmd *cobra.Command, args []string) error {
	selection, err := selectWeeks(cmd, weeksFlag, weekFlag)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	service, release, err := newPublisher(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer release()

	weeks, err := selection.resolve(service)
	if err != nil {
		return err
	}

	summary := service.PublishWeeks(cmd.Context(), weeks, "cli")
	printSummary(cmd.OutOrStdout(), summary)

	if summary.Failed() {
		return &runFailedError{failed: summary.Count(models.OutcomeFailed)}
	}
	return nil
}

func printSummary(w io.Writer, summary *models.RunSummary) {
	for _, res := range summary.Results {
		line := fmt.Sprintf("%s  %-17s", res.Week.ID(), res.Outcome)
		switch res.Outcome {
		case models.OutcomePosted:
			line += fmt.Sprintf("  %d resolutions, ts %s", res.Resolutions, res.MessageTS)
		case models.OutcomeFailed:
			line += "  " + res.Error
		}
		fmt.Fprintln(w, line)
	}
}

func runPreview(cmd *cobra.Command, args []string) error {
	selection, err := selectWeeks(cmd, 0, weekFlag)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	service, release, err := newPublisher(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer release()

	week, err := service.WeekAgo(selection.single)
	if err != nil {
		return err
	}

	lb, err := service.Preview(cmd.Context(), week)
	if err != nil {
		return fmt.Errorf("preview week %s: %w", week.ID(), err)
	}

	logrus.WithField("week", week.ID()).Info("Rendered leaderboard preview")

	out := cmd.OutOrStdout()
	if previewJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(lb)
	}
	fmt.Fprintln(out, lb.Text)
	return nil
}
