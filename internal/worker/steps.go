package worker

import (
	"context"

	"github.com/hackgods/telemedicine-scheduling/internal/observability/metrics"
	"github.com/hackgods/telemedicine-scheduling/internal/recurring"
	"github.com/hackgods/telemedicine-scheduling/internal/waitlist"
)

// Relayer delivers pending outbox events; *events.Relay satisfies it.
type Relayer interface {
	RunOnce(ctx context.Context) (int, error)
}

// SchedulingSteps returns the standard pass. Expiry runs before matching so
// stale entries are never offered a slot. A nil relay leaves events in the
// outbox.
func SchedulingSteps(m *waitlist.Matcher, g *recurring.Generator, relay Relayer, sm *metrics.SchedulingMetrics) []Step {
	steps := []Step{
		{Name: "waitlist_expiry", Run: m.ExpireEntries},
		{Name: "waitlist", Run: func(ctx context.Context) (int, error) {
			rep, err := m.Sweep(ctx)
			return rep.Matched, err
		}},
		{Name: "recurring", Run: func(ctx context.Context) (int, error) {
			rep, err := g.Sweep(ctx)
			return rep.Processed, err
		}},
	}
	if relay != nil {
		steps = append(steps, Step{Name: "outbox", Run: func(ctx context.Context) (int, error) {
			n, err := relay.RunOnce(ctx)
			sm.ObserveRelayed(n)
			return n, err
		}})
	}
	return steps
}
