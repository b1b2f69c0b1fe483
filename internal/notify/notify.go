package notify

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/gen2brain/beeep"
)

// Notifier shows desktop notifications about planning results.
type Notifier struct {
	enabled bool
	send    func(title, message string) error
	logger  *slog.Logger
}

func New(enabled bool, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Notifier{
		enabled: enabled,
		send: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
		logger: logger,
	}
}

// Dropped tells the user that count chunks of work did not fit before
// their deadlines. It does nothing when count is zero or notifications are
// off. Failures are only logged.
func (n *Notifier) Dropped(count, minutes int) {
	if !n.enabled || count == 0 {
		return
	}
	noun := "chunks"
	if count == 1 {
		noun = "chunk"
	}
	msg := fmt.Sprintf("%d study %s (%d min) did not fit before their deadlines. Run 'aura show' for details.", count, noun, minutes)
	if err := n.send("aura: plan incomplete", msg); err != nil {
		n.logger.Warn("desktop notification failed", "error", err)
	}
}

// Synced reports how many events were pushed to the remote calendar.
func (n *Notifier) Synced(count int) {
	if !n.enabled || count == 0 {
		return
	}
	if err := n.send("aura: calendar updated", fmt.Sprintf("Added %d study sessions to your calendar.", count)); err != nil {
		n.logger.Warn("desktop notification failed", "error", err)
	}
}
