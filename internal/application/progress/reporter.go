package progress

import (
	"context"
	"sync"

	"github.com/bryanwahyu/vendor-compliance/internal/application"
	"github.com/bryanwahyu/vendor-compliance/internal/domain/progress"
)

// Publisher delivers events to the live subscribers of a session.
// Delivery is best effort; implementations drop what they cannot send.
type Publisher interface {
	SendToSession(ctx context.Context, sessionID string, ev progress.Event)
}

// Reporter turns pipeline milestones into progress events for one session.
type Reporter struct {
	pub       Publisher
	sessionID string
	clock     application.Clock

	mu      sync.Mutex
	total   int
	current int
}

func NewReporter(pub Publisher, sessionID string, totalSteps int, clock application.Clock) *Reporter {
	if totalSteps < 1 {
		totalSteps = 1
	}
	if clock == nil {
		clock = application.SystemClock{}
	}
	return &Reporter{pub: pub, sessionID: sessionID, total: totalSteps, clock: clock}
}

// Emit sends an event whose progress is current/total.
func (r *Reporter) Emit(ctx context.Context, t progress.EventType, message string, data map[string]any) {
	r.send(ctx, t, message, data, r.Progress())
}

// EmitAt sends an event with an explicit progress value, clamped to [0,100].
func (r *Reporter) EmitAt(ctx context.Context, t progress.EventType, message string, data map[string]any, pct float64) {
	r.send(ctx, t, message, data, clamp(pct))
}

// Increment advances the step counter, never past the total.
func (r *Reporter) Increment(steps int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current += steps
	if r.current > r.total {
		r.current = r.total
	}
	if r.current < 0 {
		r.current = 0
	}
}

// SetProgress recomputes the step counter from a percentage.
func (r *Reporter) SetProgress(pct float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = int(clamp(pct) / 100 * float64(r.total))
}

// Progress is the current percentage.
func (r *Reporter) Progress() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return float64(r.current) / float64(r.total) * 100
}

func (r *Reporter) send(ctx context.Context, t progress.EventType, message string, data map[string]any, pct float64) {
	if r.pub == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	msg := message
	p := pct
	r.pub.SendToSession(ctx, r.sessionID, progress.Event{
		EventType:          t,
		Timestamp:          r.clock.Now().UTC(),
		Data:               data,
		ProgressPercentage: &p,
		Message:            &msg,
	})
}

func clamp(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
