package alerts

import (
	"context"
	"fmt"

	"github.com/j-veylop/claude-usage-watch/internal/models"
)

// Notifier delivers fired alerts to an external surface.
type Notifier interface {
	// Name returns the notifier identifier.
	Name() string

	// Send delivers an alert. Implementations must be safe for
	// concurrent use.
	Send(ctx context.Context, alert models.Alert) error
}

// alertTitle formats the notification headline.
func alertTitle(alert models.Alert) string {
	window := "Session"
	if alert.Type == models.WindowWeekly {
		window = "Weekly"
	}
	return fmt.Sprintf("Claude %s Usage: %.0f%%", window, alert.CurrentPercent)
}

// alertBody formats the notification body text.
func alertBody(alert models.Alert) string {
	return fmt.Sprintf("Usage crossed the %.0f%% threshold (now at %.1f%%).",
		alert.Percentage, alert.CurrentPercent)
}
