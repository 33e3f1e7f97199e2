package behavior

import (
	"github.com/hamba/pkg/log"
)

// Notifier shows status messages to the user.
type Notifier interface {
	Notify(msg string)
}

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	log log.Logger
}

// NewLogNotifier returns a notifier writing to the logger.
func NewLogNotifier(l log.Logger) *LogNotifier {
	return &LogNotifier{log: l}
}

// Notify logs the message.
func (n *LogNotifier) Notify(msg string) {
	n.log.Info("behavior: notification", "msg", msg)
}
