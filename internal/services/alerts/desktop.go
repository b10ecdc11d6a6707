package alerts

import (
	"context"

	"github.com/gen2brain/beeep"

	"github.com/j-veylop/claude-usage-watch/internal/models"
)

// DesktopNotifier shows alerts as native desktop notifications.
type DesktopNotifier struct{}

// NewDesktopNotifier creates a desktop notifier.
func NewDesktopNotifier() *DesktopNotifier {
	return &DesktopNotifier{}
}

func (d *DesktopNotifier) Name() string { return "desktop" }

func (d *DesktopNotifier) Send(_ context.Context, alert models.Alert) error {
	if alert.SoundEnabled {
		return beeep.Alert(alertTitle(alert), alertBody(alert), "")
	}
	return beeep.Notify(alertTitle(alert), alertBody(alert), "")
}
