package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/j-veylop/claude-usage-watch/internal/logger"
	"github.com/j-veylop/claude-usage-watch/internal/services"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the usage watcher in the foreground",
	Long: `Starts the polling daemon. Usage is fetched on an adaptive
schedule, snapshots are recorded to the local database, and threshold
alerts are delivered as they fire. Stop with Ctrl+C.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	mgr, err := services.NewManager(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer func() {
		if closeErr := mgr.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: error closing services: %v\n", closeErr)
		}
	}()

	events := mgr.Subscribe()
	mgr.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("usage watcher started",
		"poll_interval", cfg.PollInterval, "thresholds", cfg.ThresholdsPath)

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return nil
			}
			logEvent(event)

		case sig := <-sigChan:
			logger.Info("shutting down", "signal", sig.String())
			return nil
		}
	}
}

// logEvent reports manager events on the daemon's log stream.
func logEvent(event services.ManagerEvent) {
	switch e := event.(type) {
	case services.UsageUpdatedEvent:
		logger.Info("usage updated",
			"session_pct", fmt.Sprintf("%.1f", e.Snapshot.Session.PercentUsed),
			"weekly_pct", fmt.Sprintf("%.1f", e.Snapshot.Weekly.PercentUsed),
			"tier", e.Snapshot.Tier,
			"stale", e.Snapshot.Stale)

	case services.UsageErrorEvent:
		logger.Error("usage fetch failed", "error", e.Message)

	case services.SessionStatusEvent:
		if e.Authenticated {
			logger.Info("session active")
		} else {
			logger.Warn("session ended, run 'cuw login' to re-authenticate")
		}

	case services.ThresholdTriggeredEvent:
		logger.Warn("threshold crossed",
			"threshold", e.ThresholdID,
			"window", e.Type,
			"current_pct", fmt.Sprintf("%.1f", e.CurrentPercent))

	case services.ErrorEvent:
		logger.Error("service error", "service", e.Service, "error", e.Error)
	}
}
