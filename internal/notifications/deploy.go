package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ghabxph/starship/internal/version"
)

// Poster posts a plain message to a set of channels and returns the
// number of channels that failed
type Poster interface {
	PostToChannels(ctx context.Context, channels []string, text string) int
}

// DeploymentNotifier announces a new Starship instance in the configured
// channels
type DeploymentNotifier struct {
	poster   Poster
	channels []string
	logger   *zap.Logger
	now      func() time.Time
}

func NewDeploymentNotifier(poster Poster, channels []string, logger *zap.Logger) *DeploymentNotifier {
	return &DeploymentNotifier{
		poster:   poster,
		channels: channels,
		logger:   logger,
		now:      time.Now,
	}
}

// NotifyDeployment posts the startup message. transport and store name
// how this instance receives Slack traffic and where it keeps workspaces.
func (n *DeploymentNotifier) NotifyDeployment(ctx context.Context, transport, store string) error {
	if len(n.channels) == 0 {
		n.logger.Info("No notification channels configured, skipping deployment notification")
		return nil
	}

	message := n.FormatDeploymentMessage(version.GetVersion(), transport, store)
	if failed := n.poster.PostToChannels(ctx, n.channels, message); failed > 0 {
		return fmt.Errorf("failed to send notifications to %d channels", failed)
	}

	n.logger.Info("Deployment notifications sent successfully",
		zap.Int("channels", len(n.channels)))
	return nil
}

func (n *DeploymentNotifier) FormatDeploymentMessage(ver, transport, store string) string {
	var b strings.Builder
	fmt.Fprintf(&b, ":rocket: *Starship is online* - v%s\n", ver)
	fmt.Fprintf(&b, "Started at: %s\n", n.now().UTC().Format("2006-01-02 15:04:05 UTC"))
	if transport != "" {
		fmt.Fprintf(&b, "Transport: %s\n", transport)
	}
	if store != "" {
		fmt.Fprintf(&b, "Workspace store: %s\n", store)
	}
	b.WriteString("Use `/ticket <summary>` or mention me in a thread to file a ticket.")
	return b.String()
}
