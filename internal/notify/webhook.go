package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// WebhookNotifier posts each stack event as a JSON document to a
// configured HTTP endpoint.
type WebhookNotifier struct {
	poster *eventPoster
}

func NewWebhook(logger zerolog.Logger, url string) *WebhookNotifier {
	return &WebhookNotifier{
		poster: newEventPoster(logger, "webhook", url, defaultTiming),
	}
}

func (w *WebhookNotifier) Notify(ctx context.Context, event StackEvent) error {
	if err := w.poster.wait(ctx, event.Stack); err != nil {
		return fmt.Errorf("webhook rate wait: %w", err)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	if err := w.poster.post(ctx, payload); err != nil {
		return err
	}
	w.poster.logger.Debug().
		Str("stack", event.Stack).
		Str("command", event.Command).
		Msg("webhook notification delivered")
	return nil
}
