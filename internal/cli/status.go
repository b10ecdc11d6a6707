package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/j-veylop/claude-usage-watch/internal/db"
	"github.com/j-veylop/claude-usage-watch/internal/models"
)

// Status colors, stepped by utilization.
var (
	colorOK    = lipgloss.Color("42")  // Green
	colorWarn  = lipgloss.Color("220") // Yellow
	colorHot   = lipgloss.Color("196") // Red
	colorMuted = lipgloss.Color("240")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("208")).
			MarginBottom(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(14)

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorMuted)
)

const statusBarWidth = 30

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the most recently recorded usage",
	Long: `Renders the latest snapshot from the local database. This reads
what the daemon last recorded and does not contact claude.ai.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	database, err := db.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = database.Close() }()

	row, err := database.LatestSnapshot()
	if err != nil {
		return fmt.Errorf("failed to read snapshot history: %w", err)
	}
	if row == nil {
		fmt.Println(mutedStyle.Render("No usage recorded yet. Start the daemon with 'cuw run'."))
		return nil
	}

	fmt.Println(renderStatus(row, time.Now()))
	return nil
}

// renderStatus builds the status report for one history row.
func renderStatus(row *db.SnapshotRow, now time.Time) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Claude usage"))
	b.WriteString("\n")

	session := models.WindowUsage{PercentUsed: row.SessionPercent, ResetAt: row.SessionResetAt}
	weekly := models.WindowUsage{PercentUsed: row.WeeklyPercent, ResetAt: row.WeeklyResetAt}

	b.WriteString(renderWindow("Session (5h)", session, now))
	b.WriteString("\n")
	b.WriteString(renderWindow("Weekly (7d)", weekly, now))
	b.WriteString("\n\n")

	b.WriteString(labelStyle.Render("Tier"))
	b.WriteString(row.Tier)
	b.WriteString("\n")
	b.WriteString(labelStyle.Render("As of"))
	b.WriteString(mutedStyle.Render(row.Timestamp.Local().Format("2006-01-02 15:04:05")))
	if row.Stale {
		b.WriteString(mutedStyle.Render(" (stale)"))
	}
	b.WriteString("\n")

	return b.String()
}

func renderWindow(label string, window models.WindowUsage, now time.Time) string {
	line := labelStyle.Render(label) + renderBar(window.PercentUsed) +
		fmt.Sprintf(" %5.1f%%", window.PercentUsed)

	if !window.ResetAt.IsZero() {
		if remaining := window.TimeUntilReset(now); remaining > 0 {
			line += mutedStyle.Render("  resets in " + formatDuration(remaining))
		} else {
			line += mutedStyle.Render("  reset due")
		}
	}
	return line
}

// renderBar draws a fixed-width utilization bar colored by level.
func renderBar(percent float64) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	filled := int(percent / 100 * statusBarWidth)
	color := colorOK
	switch {
	case percent >= 90:
		color = colorHot
	case percent >= 75:
		color = colorWarn
	}

	bar := lipgloss.NewStyle().Foreground(color).Render(strings.Repeat("█", filled))
	rest := mutedStyle.Render(strings.Repeat("░", statusBarWidth-filled))
	return bar + rest
}

// formatDuration renders a duration as "3h 25m" or "12m".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60

	if h >= 24 {
		return fmt.Sprintf("%dd %dh", h/24, h%24)
	}
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
