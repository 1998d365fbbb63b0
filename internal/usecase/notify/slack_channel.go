package notify

import (
	"context"

	"newspulse/internal/domain/entity"
	"newspulse/internal/infra/notifier"
)

// SlackChannel adapts the infra-layer Slack notifier to the Channel
// interface so it can participate in multi-channel alert dispatch.
type SlackChannel struct {
	notifier notifier.Notifier
	enabled  bool
}

// NewSlackChannel builds a Slack channel. A disabled config yields a no-op
// notifier so the Channel contract is satisfied either way.
func NewSlackChannel(config notifier.SlackConfig) *SlackChannel {
	var n notifier.Notifier
	if config.Enabled {
		n = notifier.NewSlackNotifier(config)
	} else {
		n = notifier.NewNoOpNotifier()
	}
	return &SlackChannel{notifier: n, enabled: config.Enabled}
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) IsEnabled() bool { return c.enabled }

func (c *SlackChannel) Send(ctx context.Context, alert *entity.OperationalAlert) error {
	if !c.enabled {
		return ErrChannelDisabled
	}
	if alert == nil {
		return ErrInvalidAlert
	}
	return c.notifier.NotifyAlert(ctx, alert)
}
