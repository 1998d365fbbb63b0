// Package notifier sends operational alerts (circuit breaker transitions,
// emergency-stop activation) to webhook-based chat destinations. It defines
// the Notifier interface so Discord, Slack, and a no-op implementation are
// interchangeable behind dependency injection.
package notifier

import (
	"context"

	"newspulse/internal/domain/entity"
)

// Notifier sends a single operational alert. Implementations handle rate
// limiting, retries, and error logging internally.
type Notifier interface {
	NotifyAlert(ctx context.Context, alert *entity.OperationalAlert) error
}
