package dispatch

import (
	"context"

	"github.com/slack-go/slack/slackevents"
	"go.uber.org/zap"

	"github.com/ghabxph/starship/internal/slackapi"
)

const tabMessages = "messages"

// homeOpenedTask refreshes the App Home and sends the onboarding DM the
// first time a user opens the app. The onboarding mark is recorded before
// the DM is sent, so a failed send is not retried.
func (d *Dispatcher) homeOpenedTask(teamID string, ev *slackevents.AppHomeOpenedEvent) Task {
	return func(ctx context.Context) error {
		authURL := d.opts.AuthURL(teamID)

		var publishErr error
		if ev.Tab != tabMessages {
			if publishErr = d.Chat.PublishHomeView(ctx, ev.User, slackapi.HomeViewBlocks(authURL)); publishErr != nil {
				d.Logger.Error("Failed to publish home view",
					zap.String("user_id", ev.User),
					zap.Error(publishErr))
			}
		}

		first, err := d.Onboarding.MarkOnboarded(ctx, ev.User)
		if err != nil {
			d.Logger.Error("Failed to record onboarding",
				zap.String("user_id", ev.User),
				zap.Error(err))
			return err
		}
		if !first {
			return publishErr
		}

		if err := d.Chat.SendDirectMessage(ctx, ev.User, slackapi.OnboardingText, slackapi.OnboardingBlocks(authURL)); err != nil {
			d.Logger.Error("Failed to send onboarding message",
				zap.String("user_id", ev.User),
				zap.Error(err))
			return err
		}
		d.Logger.Info("Sent onboarding message", zap.String("user_id", ev.User), zap.String("team_id", teamID))
		return publishErr
	}
}
