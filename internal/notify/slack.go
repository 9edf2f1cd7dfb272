package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

// SlackNotifier posts stack events to a Slack incoming webhook as a
// block-formatted message with one line per service outcome.
type SlackNotifier struct {
	poster *eventPoster
}

func NewSlack(logger zerolog.Logger, webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		poster: newEventPoster(logger, "slack", webhookURL, defaultTiming),
	}
}

func (s *SlackNotifier) Notify(ctx context.Context, event StackEvent) error {
	if err := s.poster.wait(ctx, event.Stack); err != nil {
		return fmt.Errorf("slack rate wait: %w", err)
	}
	payload, err := json.Marshal(buildMessage(event))
	if err != nil {
		return fmt.Errorf("encode slack payload: %w", err)
	}
	if err := s.poster.post(ctx, payload); err != nil {
		return err
	}
	s.poster.logger.Debug().
		Str("stack", event.Stack).
		Str("command", event.Command).
		Msg("slack notification delivered")
	return nil
}

func buildMessage(event StackEvent) slack.WebhookMessage {
	icon := ":white_check_mark:"
	if !event.OK {
		icon = ":x:"
	}
	header := slack.NewHeaderBlock(
		slack.NewTextBlockObject(slack.PlainTextType,
			fmt.Sprintf("%s %s %s", icon, event.Stack, event.Command), true, false),
	)
	meta := slack.NewContextBlock("",
		slack.NewTextBlockObject(slack.MarkdownType,
			fmt.Sprintf("completed at %s", event.CompletedAt.Format("2006-01-02 15:04:05 MST")), false, false),
	)

	blocks := []slack.Block{header, meta}
	for _, svc := range event.Services {
		line := fmt.Sprintf("`%s` %s", svc.Name, svc.State)
		if svc.Error != "" {
			line = fmt.Sprintf("%s: %s", line, svc.Error)
		}
		if !svc.Attempted {
			line += " (skipped)"
		}
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, line, false, false), nil, nil))
	}

	return slack.WebhookMessage{
		Blocks: &slack.Blocks{BlockSet: blocks},
	}
}
