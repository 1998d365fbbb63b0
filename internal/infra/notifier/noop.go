package notifier

import (
	"context"

	"newspulse/internal/domain/entity"
)

// NoOpNotifier is the Null Object implementation of Notifier, used when a
// channel is configured disabled so callers never need a nil check.
type NoOpNotifier struct{}

func NewNoOpNotifier() *NoOpNotifier { return &NoOpNotifier{} }

func (n *NoOpNotifier) NotifyAlert(ctx context.Context, alert *entity.OperationalAlert) error {
	return nil
}
