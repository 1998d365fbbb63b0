package notify

import (
	"context"

	"newspulse/internal/domain/entity"
	"newspulse/internal/infra/notifier"
)

// DiscordChannel adapts the infra-layer Discord notifier to the Channel
// interface so it can participate in multi-channel alert dispatch.
type DiscordChannel struct {
	notifier notifier.Notifier
	enabled  bool
}

// NewDiscordChannel builds a Discord channel. A disabled config yields a
// no-op notifier so the Channel contract is satisfied either way.
func NewDiscordChannel(config notifier.DiscordConfig) *DiscordChannel {
	var n notifier.Notifier
	if config.Enabled {
		n = notifier.NewDiscordNotifier(config)
	} else {
		n = notifier.NewNoOpNotifier()
	}
	return &DiscordChannel{notifier: n, enabled: config.Enabled}
}

func (c *DiscordChannel) Name() string { return "discord" }

func (c *DiscordChannel) IsEnabled() bool { return c.enabled }

func (c *DiscordChannel) Send(ctx context.Context, alert *entity.OperationalAlert) error {
	if !c.enabled {
		return ErrChannelDisabled
	}
	if alert == nil {
		return ErrInvalidAlert
	}
	return c.notifier.NotifyAlert(ctx, alert)
}
