package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// LogNotifier writes events to the logger instead of delivering them
// anywhere. It doubles as the dry-run mode for the webhook and Slack paths.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLog returns a notifier that only logs.
func NewLog(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, event StackEvent) error {
	log := n.logger.Info()
	if !event.OK {
		log = n.logger.Warn()
	}
	log.Str("stack", event.Stack).
		Str("command", event.Command).
		Bool("ok", event.OK).
		Int("services", len(event.Services)).
		Msg("stack command completed")
	return nil
}
