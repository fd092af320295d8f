package recurring

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/telemedicine-scheduling/internal/clock"
	"github.com/hackgods/telemedicine-scheduling/internal/observability/metrics"
	redisclient "github.com/hackgods/telemedicine-scheduling/internal/redis"
	"github.com/hackgods/telemedicine-scheduling/internal/scheduling"
)

const (
	DefaultMaxSkipRetries = 8
	DefaultHorizonDays    = 60
	CancelReason          = "series_cancelled"

	sweepName = "recurring"
	// Bounds how many past occurrences a resumed series fast-forwards over.
	catchUpLimit = 1000
)

var generatorTracer = otel.Tracer("telemed.internal.recurring")

type Outcome string

const (
	OutcomeBooked        Outcome = "booked"
	OutcomePending       Outcome = "pending"
	OutcomeExhausted     Outcome = "exhausted"
	OutcomeSkipLimit     Outcome = "skip_limit"
	OutcomeBeyondHorizon Outcome = "beyond_horizon"
	OutcomeInactive      Outcome = "inactive"
	OutcomeConflict      Outcome = "conflict"
	OutcomeLocked        Outcome = "locked"
)

// Result describes what one generation attempt did for a series.
type Result struct {
	SeriesID uuid.UUID
	Outcome  Outcome
	Date     civil.Date
	Booking  *scheduling.Booking
}

type Config struct {
	MaxSkipRetries int
	// HorizonDays stops generation from booking further ahead than this.
	HorizonDays int
	Metrics     *metrics.SchedulingMetrics
}

// Generator turns recurring series into bookings. Each run re-derives the
// next date from the series' persisted bookings, so sweeps can be repeated
// or restarted freely.
type Generator struct {
	ctrl   *scheduling.Controller
	store  scheduling.Store
	slots  *scheduling.SlotStore
	clock  clock.Clock
	locker redisclient.Locker
	logger zerolog.Logger
	cfg    Config
}

func NewGenerator(ctrl *scheduling.Controller, locker redisclient.Locker, logger zerolog.Logger, cfg Config) *Generator {
	if cfg.MaxSkipRetries <= 0 {
		cfg.MaxSkipRetries = DefaultMaxSkipRetries
	}
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = DefaultHorizonDays
	}
	if locker == nil {
		locker = redisclient.NewLocalLocker()
	}
	return &Generator{
		ctrl:   ctrl,
		store:  ctrl.Store(),
		slots:  ctrl.Slots(),
		clock:  ctrl.Clock(),
		locker: locker,
		logger: logger.With().Str("component", "recurring").Logger(),
		cfg:    cfg,
	}
}

type CreateSeriesRequest struct {
	BeneficiaryID   uuid.UUID
	ProviderID      uuid.UUID
	AppointmentType string
	Telemedicine    bool
	Pattern         scheduling.Pattern
	Interval        int
	PreferredDays   []time.Weekday
	PreferredWindow *scheduling.TimeWindow
	StartDate       civil.Date
	EndDate         *civil.Date
	MaxOccurrences  int
	SkipDates       []civil.Date
}

func (r CreateSeriesRequest) validate() error {
	switch {
	case r.BeneficiaryID == uuid.Nil || r.ProviderID == uuid.Nil:
		return errors.New("beneficiary and provider are required")
	case !r.Pattern.Valid():
		return fmt.Errorf("unknown pattern %q", r.Pattern)
	case r.Interval < 0:
		return errors.New("interval must be positive")
	case !r.StartDate.IsValid():
		return errors.New("start date is required")
	case r.EndDate != nil && r.EndDate.Before(r.StartDate):
		return errors.New("end date precedes start date")
	case r.MaxOccurrences < 0:
		return errors.New("max occurrences must not be negative")
	case r.PreferredWindow != nil && !r.PreferredWindow.Valid():
		return errors.New("preferred window is empty")
	case len(r.PreferredDays) > 0 && r.Pattern != scheduling.PatternWeekly && r.Pattern != scheduling.PatternBiweekly:
		return errors.New("preferred days only apply to weekly and biweekly series")
	}
	for _, d := range r.PreferredDays {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("invalid weekday %d", d)
		}
	}
	return nil
}

func (g *Generator) CreateSeries(ctx context.Context, req CreateSeriesRequest) (*scheduling.Series, error) {
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", scheduling.ErrInvalidRequest, err)
	}

	now := g.clock.Now()
	s := &scheduling.Series{
		ID:              uuid.New(),
		BeneficiaryID:   req.BeneficiaryID,
		ProviderID:      req.ProviderID,
		AppointmentType: req.AppointmentType,
		Telemedicine:    req.Telemedicine,
		Pattern:         req.Pattern,
		Interval:        max(req.Interval, 1),
		PreferredDays:   req.PreferredDays,
		PreferredWindow: req.PreferredWindow,
		StartDate:       req.StartDate,
		EndDate:         req.EndDate,
		MaxOccurrences:  req.MaxOccurrences,
		SkipDates:       req.SkipDates,
		Status:          scheduling.SeriesActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err := g.store.InTx(ctx, func(ctx context.Context, tx scheduling.Tx) error {
		return tx.InsertSeries(ctx, s)
	})
	if err != nil {
		return nil, fmt.Errorf("create series: %w", err)
	}

	g.logger.Info().
		Str("series_id", s.ID.String()).
		Str("pattern", string(s.Pattern)).
		Int("interval", s.Interval).
		Msg("series created")
	return s, nil
}

// Get returns a series with every booking it has produced.
func (g *Generator) Get(ctx context.Context, id uuid.UUID) (*scheduling.Series, []scheduling.Booking, error) {
	s, err := g.store.GetSeries(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("get series: %w", err)
	}
	bookings, err := g.store.ListSeriesBookings(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("list series bookings: %w", err)
	}
	return s, bookings, nil
}

func (g *Generator) Pause(ctx context.Context, id uuid.UUID) (*scheduling.Series, error) {
	return g.setStatus(ctx, id, scheduling.SeriesActive, scheduling.SeriesPaused)
}

func (g *Generator) Resume(ctx context.Context, id uuid.UUID) (*scheduling.Series, error) {
	return g.setStatus(ctx, id, scheduling.SeriesPaused, scheduling.SeriesActive)
}

func (g *Generator) setStatus(ctx context.Context, id uuid.UUID, from, to scheduling.SeriesStatus) (*scheduling.Series, error) {
	var out *scheduling.Series
	err := g.store.InTx(ctx, func(ctx context.Context, tx scheduling.Tx) error {
		var err error
		out, err = tx.UpdateSeriesStatus(ctx, id, from, to)
		if errors.Is(err, scheduling.ErrStatusConflict) {
			return fmt.Errorf("%w: series is not %s", scheduling.ErrInvalidTransition, from)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s -> %s: %w", from, to, err)
	}
	g.logger.Info().Str("series_id", id.String()).Str("status", string(to)).Msg("series status changed")
	return out, nil
}

// Cancel ends the series and cancels its bookings that have not started
// yet. Past and in-progress bookings are left alone.
func (g *Generator) Cancel(ctx context.Context, id uuid.UUID) (*scheduling.Series, int, error) {
	var out *scheduling.Series
	err := g.locker.WithLock(ctx, redisclient.SeriesLockKey(id), func(ctx context.Context) error {
		return g.store.InTx(ctx, func(ctx context.Context, tx scheduling.Tx) error {
			s, err := tx.GetSeries(ctx, id)
			if err != nil {
				return err
			}
			if s.Status == scheduling.SeriesCancelled {
				return fmt.Errorf("%w: series already cancelled", scheduling.ErrInvalidTransition)
			}
			out, err = tx.UpdateSeriesStatus(ctx, id, s.Status, scheduling.SeriesCancelled)
			if errors.Is(err, scheduling.ErrStatusConflict) {
				return fmt.Errorf("%w: %w", scheduling.ErrInvalidTransition, err)
			}
			return err
		})
	})
	if err != nil {
		return nil, 0, fmt.Errorf("cancel series: %w", err)
	}

	bookings, err := g.store.ListSeriesBookings(ctx, id)
	if err != nil {
		return out, 0, fmt.Errorf("list series bookings: %w", err)
	}

	now := g.clock.Now()
	var (
		cancelled int
		errs      []error
	)
	for _, b := range bookings {
		if b.Status != scheduling.StatusScheduled || !b.ScheduledAt.After(now) {
			continue
		}
		_, err := g.ctrl.Cancel(ctx, scheduling.CancelRequest{
			BookingID:  b.ID,
			Reason:     CancelReason,
			ByProvider: true,
		})
		switch {
		case err == nil:
			cancelled++
		case errors.Is(err, scheduling.ErrInvalidTransition):
			// Started or cancelled since we listed it.
		default:
			errs = append(errs, fmt.Errorf("booking %s: %w", b.ID, err))
		}
	}

	g.logger.Info().
		Str("series_id", id.String()).
		Int("bookings_cancelled", cancelled).
		Msg("series cancelled")
	return out, cancelled, errors.Join(errs...)
}

// AddSkipDate excludes d from future generation.
func (g *Generator) AddSkipDate(ctx context.Context, id uuid.UUID, d civil.Date) (*scheduling.Series, error) {
	if !d.IsValid() {
		return nil, fmt.Errorf("%w: invalid skip date", scheduling.ErrInvalidRequest)
	}
	var out *scheduling.Series
	err := g.store.InTx(ctx, func(ctx context.Context, tx scheduling.Tx) error {
		if err := tx.AddSeriesSkipDate(ctx, id, d); err != nil {
			return err
		}
		var err error
		out, err = tx.GetSeries(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("add skip date: %w", err)
	}
	return out, nil
}

// GenerateNext books the series' next occurrence if a slot is available.
// Not finding a slot is a normal outcome and returns no error.
func (g *Generator) GenerateNext(ctx context.Context, id uuid.UUID) (Result, error) {
	ctx, span := generatorTracer.Start(ctx, "recurring.generate_next", trace.WithAttributes(
		attribute.String("series_id", id.String()),
	))
	defer span.End()

	res := Result{SeriesID: id}
	err := g.locker.WithLock(ctx, redisclient.SeriesLockKey(id), func(ctx context.Context) error {
		var err error
		res, err = g.generate(ctx, id)
		return err
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return Result{SeriesID: id, Outcome: OutcomeLocked}, nil
	}
	if err != nil {
		span.RecordError(err)
		return res, err
	}
	span.SetAttributes(attribute.String("outcome", string(res.Outcome)))
	return res, nil
}

func (g *Generator) generate(ctx context.Context, id uuid.UUID) (Result, error) {
	res := Result{SeriesID: id}

	s, err := g.store.GetSeries(ctx, id)
	if err != nil {
		return res, fmt.Errorf("load series: %w", err)
	}
	if s.Status != scheduling.SeriesActive {
		res.Outcome = OutcomeInactive
		return res, nil
	}

	today := civil.DateOf(g.clock.Now())
	if s.Exhausted(today) {
		res.Outcome = OutcomeExhausted
		return res, nil
	}

	date, outcome, err := g.nextDate(ctx, s, today)
	if err != nil {
		return res, err
	}
	res.Date = date
	if outcome != "" {
		res.Outcome = outcome
		return res, nil
	}

	b, err := g.bookOn(ctx, s, date)
	switch {
	case errors.Is(err, scheduling.ErrStatusConflict):
		res.Outcome = OutcomeConflict
		return res, nil
	case err != nil:
		return res, err
	case b == nil:
		res.Outcome = OutcomePending
		return res, nil
	}

	res.Outcome = OutcomeBooked
	res.Booking = b
	g.logger.Info().
		Str("series_id", s.ID.String()).
		Str("booking_id", b.ID.String()).
		Str("date", date.String()).
		Msg("series occurrence booked")
	return res, nil
}

// nextDate computes the candidate date. A non-empty outcome means there is
// nothing to book this run.
func (g *Generator) nextDate(ctx context.Context, s *scheduling.Series, today civil.Date) (civil.Date, Outcome, error) {
	bookings, err := g.store.ListSeriesBookings(ctx, s.ID)
	if err != nil {
		return civil.Date{}, "", fmt.Errorf("list series bookings: %w", err)
	}

	var date civil.Date
	if len(bookings) == 0 {
		date = First(*s)
	} else {
		last, err := g.bookingDate(ctx, bookings[len(bookings)-1])
		if err != nil {
			return civil.Date{}, "", err
		}
		date = Next(*s, last)
	}

	for i := 0; date.Before(today) && i < catchUpLimit; i++ {
		date = Next(*s, date)
	}

	for retries := 0; s.Skips(date); retries++ {
		if retries == g.cfg.MaxSkipRetries {
			g.logger.Warn().
				Str("series_id", s.ID.String()).
				Str("date", date.String()).
				Msg("skip retry limit reached")
			return date, OutcomeSkipLimit, nil
		}
		date = Next(*s, date)
	}

	if s.EndDate != nil && date.After(*s.EndDate) {
		return date, OutcomeExhausted, nil
	}
	if date.After(today.AddDays(g.cfg.HorizonDays)) {
		return date, OutcomeBeyondHorizon, nil
	}
	return date, "", nil
}

// bookingDate is the booking's date in its slot's timezone.
func (g *Generator) bookingDate(ctx context.Context, b scheduling.Booking) (civil.Date, error) {
	slot, err := g.store.GetSlot(ctx, b.SlotID)
	if errors.Is(err, scheduling.ErrSlotNotFound) {
		return civil.DateOf(b.ScheduledAt), nil
	}
	if err != nil {
		return civil.Date{}, fmt.Errorf("load slot: %w", err)
	}
	return civil.DateOf(b.ScheduledAt.In(slot.Location())), nil
}

// bookOn books the first suitable slot on date. It returns a nil booking
// when no slot could be reserved.
func (g *Generator) bookOn(ctx context.Context, s *scheduling.Series, date civil.Date) (*scheduling.Booking, error) {
	filter := scheduling.SlotFilter{
		ProviderID:      &s.ProviderID,
		FromDate:        date,
		ToDate:          date,
		AppointmentType: s.AppointmentType,
		Telemedicine:    s.Telemedicine,
		OnlyAvailable:   true,
	}
	for slot, err := range g.slots.FindCandidates(ctx, g.store, filter) {
		if err != nil {
			return nil, fmt.Errorf("find slots: %w", err)
		}
		if s.PreferredWindow != nil && !s.PreferredWindow.Overlaps(slot.LocalStart(), slot.LocalEnd()) {
			continue
		}

		expected := s.OccurrencesCreated
		b, err := g.ctrl.Book(ctx, scheduling.BookRequest{
			BeneficiaryID:   s.BeneficiaryID,
			SlotID:          slot.ID,
			AppointmentType: s.AppointmentType,
			Telemedicine:    s.Telemedicine,
			SeriesID:        &s.ID,
			InTx: func(ctx context.Context, tx scheduling.Tx, _ *scheduling.Booking) error {
				_, err := tx.RecordSeriesOccurrence(ctx, s.ID, expected)
				return err
			},
		})
		switch {
		case err == nil:
			return b, nil
		case errors.Is(err, scheduling.ErrSlotUnavailable):
			// Taken or past its deadline since the scan; try the next one.
			continue
		default:
			return nil, err
		}
	}
	return nil, nil
}

type SweepReport struct {
	Processed int
	Failed    int
	Outcomes  map[Outcome]int
}

// Sweep runs GenerateNext once for every active series. A failing series is
// logged and counted; the sweep carries on with the rest.
func (g *Generator) Sweep(ctx context.Context) (SweepReport, error) {
	ctx, span := generatorTracer.Start(ctx, "recurring.sweep")
	defer span.End()

	started := time.Now()
	defer func() { g.cfg.Metrics.ObserveSweep(sweepName, time.Since(started).Seconds()) }()

	report := SweepReport{Outcomes: map[Outcome]int{}}
	series, err := g.store.ListSeries(ctx, scheduling.SeriesActive)
	if err != nil {
		return report, fmt.Errorf("list active series: %w", err)
	}
	slices.SortFunc(series, func(a, b scheduling.Series) int { return a.CreatedAt.Compare(b.CreatedAt) })

	for _, s := range series {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Processed++
		res, err := g.GenerateNext(ctx, s.ID)
		if err != nil {
			report.Failed++
			g.cfg.Metrics.ObserveSweepItem(sweepName, "error")
			g.logger.Error().Err(err).Str("series_id", s.ID.String()).Msg("series generation failed")
			continue
		}
		report.Outcomes[res.Outcome]++
		g.cfg.Metrics.ObserveSweepItem(sweepName, string(res.Outcome))
	}

	span.SetAttributes(
		attribute.Int("processed", report.Processed),
		attribute.Int("failed", report.Failed),
	)
	g.logger.Info().
		Int("processed", report.Processed).
		Int("booked", report.Outcomes[OutcomeBooked]).
		Int("failed", report.Failed).
		Msg("recurring sweep finished")
	return report, nil
}
