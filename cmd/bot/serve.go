package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/support-tools/resolution-leaderboard/internal/metrics"
	"github.com/support-tools/resolution-leaderboard/internal/scheduler"
)

// maxTriggerWeeks bounds a manual backfill
const maxTriggerWeeks = 52

// publisherService is what the HTTP handlers need from the publisher
type publisherService interface {
	scheduler.Publisher
	GetStatus() string
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logrus.Info("Starting resolution leaderboard bot")
	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx := cmd.Context()
	service, release, err := newPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	defer release()

	schedulerService, err := scheduler.NewService(cfg, service)
	if err != nil {
		return err
	}
	if err := schedulerService.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer schedulerService.Stop()

	// manual runs started by /trigger; waited for before the ledger closes
	var runs sync.WaitGroup
	defer runs.Wait()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      newRouter(ctx, service, &runs),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logrus.Infof("HTTP server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	logrus.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	logrus.Info("Server exited")
	return nil
}

// newRouter sets up the HTTP routes. Manual runs use ctx so they stop on
// shutdown, and are tracked in runs so shutdown can wait for them.
func newRouter(ctx context.Context, service publisherService, runs *sync.WaitGroup) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheckHandler).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/status", statusHandler(service)).Methods("GET")
	router.HandleFunc("/trigger", triggerHandler(ctx, service, runs)).Methods("POST")
	return router
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.Errorf("Failed to write response: %v", err)
	}
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func statusHandler(service publisherService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(service.GetStatus()))
	}
}

func triggerHandler(ctx context.Context, service publisherService, runs *sync.WaitGroup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		weeks := 1
		if raw := r.URL.Query().Get("weeks"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > maxTriggerWeeks {
				writeJSON(w, http.StatusBadRequest, map[string]string{
					"error": fmt.Sprintf("weeks must be an integer between 1 and %d", maxTriggerWeeks),
				})
				return
			}
			weeks = n
		}

		selected, err := service.LastWeeks(weeks)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}

		runs.Add(1)
		go func() {
			defer runs.Done()
			summary := service.PublishWeeks(ctx, selected, "http")
			if summary.Failed() {
				logrus.Errorf("Manual leaderboard trigger had failed weeks")
			}
		}()

		ids := make([]string, 0, len(selected))
		for _, week := range selected {
			ids = append(ids, week.ID())
		}
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"message": "Leaderboard run triggered",
			"weeks":   ids,
		})
	}
}
