package notify

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"newspulse/internal/domain/entity"

	"github.com/google/uuid"
)

type contextKey string

const requestIDKey contextKey = "request_id"

const (
	circuitBreakerThreshold = 5                // consecutive failures before a channel trips open
	circuitBreakerTimeout   = 5 * time.Minute  // how long a tripped channel stays open
	workerPoolTimeout       = 5 * time.Second  // timeout acquiring a worker slot
	notificationTimeout     = 30 * time.Second // timeout for a single channel send
)

// Service dispatches operational alerts to every enabled Channel without
// blocking the caller — sends happen in background goroutines, and a
// failing channel never holds up the scheduler/admission/orchestrator code
// that raised the alert.
type Service interface {
	// NotifyAlert fans alert out to all enabled channels. Always returns nil;
	// per-channel failures are logged and reflected in GetChannelHealth.
	NotifyAlert(ctx context.Context, alert *entity.OperationalAlert) error

	// GetChannelHealth reports each channel's circuit breaker state, for
	// health check endpoints.
	GetChannelHealth() []ChannelHealthStatus

	// Shutdown waits for in-flight sends to finish or ctx to expire.
	Shutdown(ctx context.Context) error
}

// ChannelHealthStatus is one channel's current circuit breaker status.
type ChannelHealthStatus struct {
	Name               string
	Enabled            bool
	CircuitBreakerOpen bool
	DisabledUntil      *time.Time
}

type service struct {
	channels       []Channel
	workerPool     chan struct{}
	channelHealth  map[string]*channelHealth
	healthMu       sync.RWMutex
	wg             sync.WaitGroup
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
}

type channelHealth struct {
	consecutiveFailures int
	disabledUntil       time.Time
	mu                  sync.Mutex
}

// NewService constructs a Service dispatching across channels, bounding
// concurrent sends to maxConcurrent.
func NewService(channels []Channel, maxConcurrent int) Service {
	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())

	svc := &service{
		channels:       channels,
		workerPool:     make(chan struct{}, maxConcurrent),
		channelHealth:  make(map[string]*channelHealth),
		shutdownCtx:    shutdownCtx,
		shutdownCancel: shutdownCancel,
	}

	for _, ch := range channels {
		svc.channelHealth[ch.Name()] = &channelHealth{}
	}

	return svc
}

func (s *service) NotifyAlert(ctx context.Context, alert *entity.OperationalAlert) error {
	if alert == nil {
		slog.Warn("nil operational alert, not dispatching")
		return nil
	}

	requestID, ok := ctx.Value(requestIDKey).(string)
	if !ok || requestID == "" {
		requestID = uuid.New().String()
	}

	enabledCount := 0
	for _, ch := range s.channels {
		if ch.IsEnabled() {
			enabledCount++
		}
	}
	SetChannelsEnabled(float64(enabledCount))

	if enabledCount == 0 {
		slog.Debug("no alert channels enabled",
			slog.String("request_id", requestID),
			slog.String("component", alert.Component))
		return nil
	}

	slog.Info("dispatching operational alert",
		slog.String("request_id", requestID),
		slog.String("component", alert.Component),
		slog.String("severity", string(alert.Severity)),
		slog.Int("enabled_channels", enabledCount))

	for _, ch := range s.channels {
		if ch.IsEnabled() {
			channel := ch
			s.wg.Add(1)
			go s.notifyChannel(requestID, channel, alert)
		}
	}

	return nil
}

func (s *service) notifyChannel(requestID string, channel Channel, alert *entity.OperationalAlert) {
	defer s.wg.Done()

	IncrementActiveGoroutines()
	defer DecrementActiveGoroutines()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in alert channel",
				slog.String("request_id", requestID),
				slog.String("channel", channel.Name()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	select {
	case s.workerPool <- struct{}{}:
		defer func() { <-s.workerPool }()
	case <-time.After(workerPoolTimeout):
		slog.Warn("alert dropped: worker pool full",
			slog.String("request_id", requestID),
			slog.String("channel", channel.Name()))
		RecordDropped(channel.Name(), "pool_full")
		return
	}

	health := s.getChannelHealth(channel.Name())
	health.mu.Lock()
	if time.Now().Before(health.disabledUntil) {
		health.mu.Unlock()
		slog.Warn("channel temporarily disabled due to circuit breaker",
			slog.String("request_id", requestID),
			slog.String("channel", channel.Name()))
		RecordDropped(channel.Name(), "circuit_open")
		return
	}
	health.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.shutdownCtx, notificationTimeout)
	defer cancel()
	ctx = context.WithValue(ctx, requestIDKey, requestID)

	start := time.Now()
	RecordDispatch(channel.Name())

	err := channel.Send(ctx, alert)
	duration := time.Since(start)

	health.mu.Lock()
	if err != nil {
		health.consecutiveFailures++
		if health.consecutiveFailures >= circuitBreakerThreshold {
			health.disabledUntil = time.Now().Add(circuitBreakerTimeout)
			slog.Error("circuit breaker opened for alert channel",
				slog.String("channel", channel.Name()),
				slog.Int("consecutive_failures", health.consecutiveFailures))
			RecordCircuitBreakerOpen(channel.Name())
		}
	} else {
		health.consecutiveFailures = 0
	}
	health.mu.Unlock()

	if err != nil {
		RecordFailure(channel.Name(), duration)
		slog.Warn("alert channel send failed",
			slog.String("request_id", requestID),
			slog.String("channel", channel.Name()),
			slog.String("component", alert.Component),
			slog.Duration("duration", duration),
			slog.Any("error", err))
		return
	}
	RecordSuccess(channel.Name(), duration)
	slog.Info("alert channel send succeeded",
		slog.String("request_id", requestID),
		slog.String("channel", channel.Name()),
		slog.String("component", alert.Component),
		slog.Duration("duration", duration))
}

func (s *service) getChannelHealth(name string) *channelHealth {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	return s.channelHealth[name]
}

func (s *service) GetChannelHealth() []ChannelHealthStatus {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()

	statuses := make([]ChannelHealthStatus, 0, len(s.channels))
	for _, ch := range s.channels {
		health := s.channelHealth[ch.Name()]

		health.mu.Lock()
		var disabledUntil *time.Time
		open := false
		if time.Now().Before(health.disabledUntil) {
			open = true
			disabledUntil = &health.disabledUntil
		}
		health.mu.Unlock()

		statuses = append(statuses, ChannelHealthStatus{
			Name:               ch.Name(),
			Enabled:            ch.IsEnabled(),
			CircuitBreakerOpen: open,
			DisabledUntil:      disabledUntil,
		})
	}
	return statuses
}

func (s *service) Shutdown(ctx context.Context) error {
	slog.Info("shutting down alert dispatch service")
	s.shutdownCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		slog.Warn("alert dispatch service shutdown timed out")
		return ctx.Err()
	}
}
