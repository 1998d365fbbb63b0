package notify_test

import (
	"context"
	"sync"
	"sync/atomic"

	"newspulse/internal/domain/entity"
	"newspulse/internal/usecase/notify"
)

// fakeChannel is a Channel whose Send behavior is controlled by the test:
// sendErr is returned on every Send call unless sendFunc is set, in which
// case sendFunc takes priority.
type fakeChannel struct {
	name    string
	enabled bool

	mu       sync.Mutex
	sendErr  error
	sendFunc func(ctx context.Context, alert *entity.OperationalAlert) error

	calls int32
}

func (f *fakeChannel) Name() string    { return f.name }
func (f *fakeChannel) IsEnabled() bool { return f.enabled }

func (f *fakeChannel) Send(ctx context.Context, alert *entity.OperationalAlert) error {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	fn := f.sendFunc
	err := f.sendErr
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, alert)
	}
	return err
}

func (f *fakeChannel) setSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeChannel) callCount() int32 {
	return atomic.LoadInt32(&f.calls)
}

// fakeEmergencySource lets tests flip the emergency-stop flag BreakerWatcher
// observes without pulling in the real admission.Controller.
type fakeEmergencySource struct {
	stopped atomic.Bool
}

func (f *fakeEmergencySource) IsEmergencyStopped() bool { return f.stopped.Load() }

// recordingNotifier captures every alert NotifyAlert receives so tests can
// assert on what BreakerWatcher dispatched.
type recordingNotifier struct {
	mu     sync.Mutex
	alerts []*entity.OperationalAlert
}

func (r *recordingNotifier) NotifyAlert(_ context.Context, alert *entity.OperationalAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return nil
}

func (r *recordingNotifier) GetChannelHealth() []notify.ChannelHealthStatus { return nil }

func (r *recordingNotifier) Shutdown(_ context.Context) error { return nil }

func (r *recordingNotifier) snapshot() []*entity.OperationalAlert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.OperationalAlert, len(r.alerts))
	copy(out, r.alerts)
	return out
}
