package waitlist

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/telemedicine-scheduling/internal/clock"
	"github.com/hackgods/telemedicine-scheduling/internal/events"
	"github.com/hackgods/telemedicine-scheduling/internal/observability/metrics"
	redisclient "github.com/hackgods/telemedicine-scheduling/internal/redis"
	"github.com/hackgods/telemedicine-scheduling/internal/scheduling"
)

const (
	DefaultResponseWindow = 24 * time.Hour
	DefaultEntryTTL       = 30 * 24 * time.Hour
	DefaultBatchSize      = 200
	DefaultCandidateLimit = 5
)

var matcherTracer = otel.Tracer("telemed.internal.waitlist")

type Config struct {
	// ResponseWindow is how long a matched beneficiary has to confirm
	// before the match may be treated as abandoned downstream.
	ResponseWindow time.Duration
	DefaultTTL     time.Duration
	BatchSize      int
	CandidateLimit int
	Metrics        *metrics.SchedulingMetrics
}

// Matcher books waitlisted beneficiaries into slots that satisfy their
// preferences.
type Matcher struct {
	ctrl   *scheduling.Controller
	store  scheduling.Store
	slots  *scheduling.SlotStore
	clock  clock.Clock
	locker redisclient.Locker
	logger zerolog.Logger
	cfg    Config
}

func NewMatcher(ctrl *scheduling.Controller, locker redisclient.Locker, logger zerolog.Logger, cfg Config) *Matcher {
	if cfg.ResponseWindow <= 0 {
		cfg.ResponseWindow = DefaultResponseWindow
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultEntryTTL
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = DefaultCandidateLimit
	}
	if locker == nil {
		locker = redisclient.NewLocalLocker()
	}
	return &Matcher{
		ctrl:   ctrl,
		store:  ctrl.Store(),
		slots:  ctrl.Slots(),
		clock:  ctrl.Clock(),
		locker: locker,
		logger: logger.With().Str("component", "waitlist").Logger(),
		cfg:    cfg,
	}
}

type CreateEntryRequest struct {
	BeneficiaryID       uuid.UUID
	AppointmentType     string
	Telemedicine        bool
	PreferredWindows    []scheduling.TimeWindow
	PreferredDays       []time.Weekday
	EarliestDate        civil.Date
	LatestDate          civil.Date
	PreferredProviderID *uuid.UUID
	AcceptsAnyProvider  bool
	Urgency             scheduling.Urgency
	// ExpiresAt defaults to DefaultTTL from now, capped at the end of
	// LatestDate.
	ExpiresAt time.Time
}

func (r CreateEntryRequest) validate(today civil.Date) error {
	switch {
	case r.BeneficiaryID == uuid.Nil:
		return errors.New("beneficiary is required")
	case !r.Urgency.Valid():
		return fmt.Errorf("unknown urgency %q", r.Urgency)
	case !r.EarliestDate.IsValid() || !r.LatestDate.IsValid():
		return errors.New("date range is required")
	case r.LatestDate.Before(r.EarliestDate):
		return errors.New("latest date precedes earliest date")
	case r.LatestDate.Before(today):
		return errors.New("date range is in the past")
	case !r.AcceptsAnyProvider && r.PreferredProviderID == nil:
		return errors.New("preferred provider is required unless any provider is accepted")
	}
	for _, w := range r.PreferredWindows {
		if !w.Valid() {
			return fmt.Errorf("invalid window %s-%s", w.Start, w.End)
		}
	}
	return nil
}

func (m *Matcher) CreateEntry(ctx context.Context, req CreateEntryRequest) (*scheduling.WaitlistEntry, error) {
	if req.Urgency == "" {
		req.Urgency = scheduling.UrgencyRoutine
	}
	now := m.clock.Now()
	if err := req.validate(civil.DateOf(now)); err != nil {
		return nil, fmt.Errorf("%w: %s", scheduling.ErrInvalidRequest, err)
	}

	expiresAt := req.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(m.cfg.DefaultTTL)
		if endOfRange := req.LatestDate.AddDays(1).In(time.UTC); endOfRange.Before(expiresAt) {
			expiresAt = endOfRange
		}
	}

	e := &scheduling.WaitlistEntry{
		ID:                  uuid.New(),
		BeneficiaryID:       req.BeneficiaryID,
		AppointmentType:     req.AppointmentType,
		Telemedicine:        req.Telemedicine,
		PreferredWindows:    req.PreferredWindows,
		PreferredDays:       req.PreferredDays,
		EarliestDate:        req.EarliestDate,
		LatestDate:          req.LatestDate,
		PreferredProviderID: req.PreferredProviderID,
		AcceptsAnyProvider:  req.AcceptsAnyProvider,
		Urgency:             req.Urgency,
		Status:              scheduling.WaitlistWaiting,
		ExpiresAt:           expiresAt,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	err := m.store.InTx(ctx, func(ctx context.Context, tx scheduling.Tx) error {
		return tx.InsertWaitlistEntry(ctx, e)
	})
	if err != nil {
		return nil, fmt.Errorf("create waitlist entry: %w", err)
	}

	m.logger.Info().
		Str("entry_id", e.ID.String()).
		Str("urgency", string(e.Urgency)).
		Time("expires_at", e.ExpiresAt).
		Msg("waitlist entry created")
	return e, nil
}

func (m *Matcher) Get(ctx context.Context, id uuid.UUID) (*scheduling.WaitlistEntry, error) {
	e, err := m.store.GetWaitlistEntry(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get waitlist entry: %w", err)
	}
	return e, nil
}

// CancelEntry withdraws a waiting entry.
func (m *Matcher) CancelEntry(ctx context.Context, id uuid.UUID) (*scheduling.WaitlistEntry, error) {
	var out *scheduling.WaitlistEntry
	err := m.store.InTx(ctx, func(ctx context.Context, tx scheduling.Tx) error {
		var err error
		out, err = tx.UpdateWaitlistStatus(ctx, id, scheduling.WaitlistWaiting, scheduling.WaitlistCancelled, nil, m.clock.Now())
		if errors.Is(err, scheduling.ErrStatusConflict) {
			return fmt.Errorf("%w: entry is no longer waiting", scheduling.ErrInvalidTransition)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("cancel waitlist entry: %w", err)
	}
	m.logger.Info().Str("entry_id", id.String()).Msg("waitlist entry cancelled")
	return out, nil
}

// Matches reports whether slot satisfies every preference of e. Capacity
// and deadlines are left to reservation.
func Matches(e scheduling.WaitlistEntry, slot scheduling.Slot) bool {
	d := slot.LocalDate()
	if d.Before(e.EarliestDate) || d.After(e.LatestDate) {
		return false
	}
	if len(e.PreferredDays) > 0 && !slices.Contains(e.PreferredDays, slot.Weekday()) {
		return false
	}
	if len(e.PreferredWindows) > 0 {
		start, end := slot.LocalStart(), slot.LocalEnd()
		if !slices.ContainsFunc(e.PreferredWindows, func(w scheduling.TimeWindow) bool { return w.Overlaps(start, end) }) {
			return false
		}
	}
	if !e.AcceptsAnyProvider && (e.PreferredProviderID == nil || *e.PreferredProviderID != slot.ProviderID) {
		return false
	}
	if e.Telemedicine && !slot.TelemedicineEnabled {
		return false
	}
	return slot.Supports(e.AppointmentType)
}

// FindMatchingSlots returns up to limit bookable slots matching e, earliest
// first.
func (m *Matcher) FindMatchingSlots(ctx context.Context, e scheduling.WaitlistEntry, limit int) ([]scheduling.Slot, error) {
	if limit <= 0 {
		limit = m.cfg.CandidateLimit
	}
	var out []scheduling.Slot
	for slot, err := range m.matchingSlots(ctx, e, m.clock.Now()) {
		if err != nil {
			return nil, fmt.Errorf("find slots: %w", err)
		}
		out = append(out, slot)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// matchingSlots lazily yields open slots that satisfy e and can still be
// booked at now.
func (m *Matcher) matchingSlots(ctx context.Context, e scheduling.WaitlistEntry, now time.Time) iter.Seq2[scheduling.Slot, error] {
	filter := scheduling.SlotFilter{
		FromDate:        e.EarliestDate,
		ToDate:          e.LatestDate,
		AppointmentType: e.AppointmentType,
		Telemedicine:    e.Telemedicine,
		OnlyAvailable:   true,
		BookableAt:      now,
	}
	if !e.AcceptsAnyProvider {
		filter.ProviderID = e.PreferredProviderID
	}
	return func(yield func(scheduling.Slot, error) bool) {
		for slot, err := range m.slots.FindCandidates(ctx, m.store, filter) {
			if err != nil {
				yield(scheduling.Slot{}, err)
				return
			}
			if !Matches(e, slot) {
				continue
			}
			if !yield(slot, nil) {
				return
			}
		}
	}
}

// AttemptMatch books the entry into the first matching slot it can reserve.
// It returns nil without error when the entry is not waiting, has expired,
// or nothing could be reserved.
func (m *Matcher) AttemptMatch(ctx context.Context, id uuid.UUID) (*scheduling.Booking, error) {
	ctx, span := matcherTracer.Start(ctx, "waitlist.attempt_match", trace.WithAttributes(
		attribute.String("entry_id", id.String()),
	))
	defer span.End()

	var booked *scheduling.Booking
	err := m.locker.WithLock(ctx, redisclient.WaitlistLockKey(id), func(ctx context.Context) error {
		var err error
		booked, err = m.attempt(ctx, id)
		return err
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("attempt match: %w", err)
	}
	span.SetAttributes(attribute.Bool("matched", booked != nil))
	return booked, nil
}

func (m *Matcher) attempt(ctx context.Context, id uuid.UUID) (*scheduling.Booking, error) {
	e, err := m.store.GetWaitlistEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	if e.Status != scheduling.WaitlistWaiting || e.Expired(now) {
		return nil, nil
	}

	// Slots that turn out full are skipped; the scan moves on to the next
	// match until one books or the entry's range is exhausted.
	for slot, err := range m.matchingSlots(ctx, *e, now) {
		if err != nil {
			return nil, err
		}
		b, err := m.ctrl.Book(ctx, scheduling.BookRequest{
			BeneficiaryID:   e.BeneficiaryID,
			SlotID:          slot.ID,
			AppointmentType: e.AppointmentType,
			Telemedicine:    e.Telemedicine,
			WaitlistEntryID: &e.ID,
			InTx: func(ctx context.Context, tx scheduling.Tx, b *scheduling.Booking) error {
				if _, err := tx.UpdateWaitlistStatus(ctx, e.ID, scheduling.WaitlistWaiting, scheduling.WaitlistMatched, &b.ID, now); err != nil {
					return err
				}
				ev := events.New(events.WaitlistMatched, b.ID, b.BeneficiaryID, b.ProviderID, now, map[string]any{
					"waitlist_entry_id": e.ID.String(),
					"slot_id":           b.SlotID.String(),
					"scheduled_at":      b.ScheduledAt,
					"respond_by":        now.Add(m.cfg.ResponseWindow),
					"urgency":           string(e.Urgency),
				})
				return tx.AppendEvent(ctx, ev)
			},
		})
		switch {
		case err == nil:
			m.logger.Info().
				Str("entry_id", e.ID.String()).
				Str("booking_id", b.ID.String()).
				Str("slot_id", slot.ID.String()).
				Msg("waitlist entry matched")
			return b, nil
		case errors.Is(err, scheduling.ErrStatusConflict):
			// Cancelled or matched elsewhere meanwhile.
			return nil, nil
		case errors.Is(err, scheduling.ErrSlotUnavailable):
			continue
		default:
			return nil, err
		}
	}
	return nil, nil
}

// PriorityScore orders entries for a sweep; lower goes first.
func PriorityScore(e scheduling.WaitlistEntry, now time.Time) int {
	return e.PriorityScore(now)
}

// Prioritize sorts entries by PriorityScore, oldest first on ties.
func Prioritize(entries []scheduling.WaitlistEntry, now time.Time) []scheduling.WaitlistEntry {
	out := slices.Clone(entries)
	slices.SortStableFunc(out, func(a, b scheduling.WaitlistEntry) int {
		return scheduling.ComparePriority(a, b, now)
	})
	return out
}
