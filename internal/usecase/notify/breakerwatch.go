package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"newspulse/internal/domain/entity"
	"newspulse/internal/resilience/circuitbreaker"
)

// PollInterval is how often BreakerWatcher checks breaker and
// emergency-stop state for changes. A var, not a const, so tests can shrink
// it instead of waiting out the production interval.
var PollInterval = 15 * time.Second

// EmergencyStopSource reports whether the admission controller currently has
// its emergency stop engaged; satisfied by admission.Controller.
type EmergencyStopSource interface {
	IsEmergencyStopped() bool
}

// BreakerWatcher polls a fixed set of circuit breakers and an
// EmergencyStopSource, firing an operational alert through notify.Service
// whenever a breaker changes state or the emergency stop is toggled. State()
// is poll-only by design (see circuitbreaker.New's doc comment), so this
// watcher — not a hook on the breaker itself — is what turns transitions into
// alerts.
type BreakerWatcher struct {
	breakers  []*circuitbreaker.CircuitBreaker
	emergency EmergencyStopSource
	notifier  Service

	lastState     map[string]gobreaker.State
	lastEmergency bool
}

// NewBreakerWatcher constructs a watcher over breakers, polling emergency's
// emergency-stop flag alongside them, dispatching through notifier.
func NewBreakerWatcher(breakers []*circuitbreaker.CircuitBreaker, emergency EmergencyStopSource, notifier Service) *BreakerWatcher {
	return &BreakerWatcher{
		breakers:  breakers,
		emergency: emergency,
		notifier:  notifier,
		lastState: make(map[string]gobreaker.State, len(breakers)),
	}
}

// Run polls every PollInterval until ctx is canceled.
func (w *BreakerWatcher) Run(ctx context.Context) {
	for _, b := range w.breakers {
		w.lastState[b.Name()] = b.State()
	}
	if w.emergency != nil {
		w.lastEmergency = w.emergency.IsEmergencyStopped()
	}

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *BreakerWatcher) poll(ctx context.Context) {
	for _, b := range w.breakers {
		current := b.State()
		prior, seen := w.lastState[b.Name()]
		if seen && prior == current {
			continue
		}
		w.lastState[b.Name()] = current

		severity := entity.AlertSeverityInfo
		if current == gobreaker.StateOpen {
			severity = entity.AlertSeverityCritical
		} else if current == gobreaker.StateHalfOpen {
			severity = entity.AlertSeverityWarning
		}

		alert := &entity.OperationalAlert{
			Severity:   severity,
			Component:  b.Name(),
			Title:      fmt.Sprintf("circuit breaker %s -> %s", b.Name(), current),
			Message:    fmt.Sprintf("circuit breaker %q transitioned to %s", b.Name(), current),
			OccurredAt: time.Now(),
		}
		slog.Info("circuit breaker transition detected", slog.String("breaker", b.Name()), slog.String("state", current.String()))
		if err := w.notifier.NotifyAlert(ctx, alert); err != nil {
			slog.Warn("failed to dispatch breaker transition alert", slog.String("breaker", b.Name()), slog.Any("error", err))
		}
	}

	if w.emergency == nil {
		return
	}
	current := w.emergency.IsEmergencyStopped()
	if current == w.lastEmergency {
		return
	}
	w.lastEmergency = current

	alert := &entity.OperationalAlert{
		Component:  "admission_controller",
		OccurredAt: time.Now(),
	}
	if current {
		alert.Severity = entity.AlertSeverityCritical
		alert.Title = "admission controller emergency stop engaged"
		alert.Message = "all new analysis run admissions are being rejected"
	} else {
		alert.Severity = entity.AlertSeverityInfo
		alert.Title = "admission controller resumed"
		alert.Message = "analysis run admissions have resumed"
	}
	if err := w.notifier.NotifyAlert(ctx, alert); err != nil {
		slog.Warn("failed to dispatch emergency-stop alert", slog.Any("error", err))
	}
}
