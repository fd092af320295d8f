package waitlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/telemedicine-scheduling/internal/scheduling"
)

const (
	matchSweep  = "waitlist"
	expirySweep = "waitlist_expiry"
)

type SweepReport struct {
	Attempted int
	Matched   int
	Failed    int
	// Order lists entry ids in the order they were attempted.
	Order []uuid.UUID
}

// Sweep attempts a match for the highest-priority batch of waiting entries,
// ordered across every waiting entry by the store. Each attempt is
// independent; an entry that loses a race or finds nothing stays waiting for
// the next sweep.
func (m *Matcher) Sweep(ctx context.Context) (SweepReport, error) {
	ctx, span := matcherTracer.Start(ctx, "waitlist.sweep")
	defer span.End()

	started := time.Now()
	defer func() { m.cfg.Metrics.ObserveSweep(matchSweep, time.Since(started).Seconds()) }()

	var report SweepReport
	now := m.clock.Now()
	entries, err := m.store.ListWaitlistEntries(ctx, scheduling.WaitlistFilter{
		Status:     scheduling.WaitlistWaiting,
		PriorityAt: now,
		Limit:      m.cfg.BatchSize,
	})
	if err != nil {
		return report, fmt.Errorf("list waiting entries: %w", err)
	}

	for _, e := range Prioritize(entries, now) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if e.Expired(now) {
			continue
		}
		report.Attempted++
		report.Order = append(report.Order, e.ID)

		b, err := m.AttemptMatch(ctx, e.ID)
		switch {
		case err != nil:
			report.Failed++
			m.cfg.Metrics.ObserveSweepItem(matchSweep, "error")
			m.logger.Error().Err(err).Str("entry_id", e.ID.String()).Msg("waitlist match failed")
		case b != nil:
			report.Matched++
			m.cfg.Metrics.ObserveSweepItem(matchSweep, "matched")
		default:
			m.cfg.Metrics.ObserveSweepItem(matchSweep, "unmatched")
		}
	}

	span.SetAttributes(
		attribute.Int("attempted", report.Attempted),
		attribute.Int("matched", report.Matched),
	)
	m.logger.Info().
		Int("attempted", report.Attempted).
		Int("matched", report.Matched).
		Int("failed", report.Failed).
		Msg("waitlist sweep finished")
	return report, nil
}

// ExpireEntries moves waiting entries past their expiry or date range to
// expired and returns how many it moved.
func (m *Matcher) ExpireEntries(ctx context.Context) (int, error) {
	started := time.Now()
	defer func() { m.cfg.Metrics.ObserveSweep(expirySweep, time.Since(started).Seconds()) }()

	now := m.clock.Now()
	entries, err := m.store.ListWaitlistEntries(ctx, scheduling.WaitlistFilter{
		Status:    scheduling.WaitlistWaiting,
		ExpiredAt: now,
		Limit:     m.cfg.BatchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("list expired entries: %w", err)
	}

	expired := 0
	for _, e := range entries {
		if !e.Expired(now) {
			continue
		}
		err := m.store.InTx(ctx, func(ctx context.Context, tx scheduling.Tx) error {
			_, err := tx.UpdateWaitlistStatus(ctx, e.ID, scheduling.WaitlistWaiting, scheduling.WaitlistExpired, nil, now)
			return err
		})
		switch {
		case err == nil:
			expired++
			m.cfg.Metrics.ObserveSweepItem(expirySweep, "expired")
		case errors.Is(err, scheduling.ErrStatusConflict):
			// Matched or cancelled since the listing.
		default:
			m.cfg.Metrics.ObserveSweepItem(expirySweep, "error")
			return expired, fmt.Errorf("expire entry %s: %w", e.ID, err)
		}
	}

	if expired > 0 {
		m.logger.Info().Int("expired", expired).Msg("waitlist entries expired")
	}
	return expired, nil
}
