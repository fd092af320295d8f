package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/civil"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/telemedicine-scheduling/internal/app"
	"github.com/hackgods/telemedicine-scheduling/internal/config"
	"github.com/hackgods/telemedicine-scheduling/internal/logging"
	"github.com/hackgods/telemedicine-scheduling/internal/recurring"
	"github.com/hackgods/telemedicine-scheduling/internal/scheduling"
	"github.com/hackgods/telemedicine-scheduling/internal/waitlist"
)

type seedOptions struct {
	providers int
	days      int
	waitlist  int
	series    int
	seed      uint64
}

var (
	timezones        = []string{"America/New_York", "America/Chicago", "America/Los_Angeles", "Europe/London", "Asia/Kolkata"}
	appointmentTypes = []string{"consultation", "follow_up", "therapy", "lab_review"}
)

func main() {
	var opts seedOptions
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Populate slots, recurring series and waitlist entries with fake data",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.LogLevel, cfg.Env).With().Str("service", "seed").Logger()
			return run(cmd.Context(), cfg, logger, opts)
		},
	}
	cmd.Flags().IntVar(&opts.providers, "providers", 50, "number of providers")
	cmd.Flags().IntVar(&opts.days, "days", 14, "days of availability per provider")
	cmd.Flags().IntVar(&opts.waitlist, "waitlist", 200, "waitlist entries")
	cmd.Flags().IntVar(&opts.series, "series", 50, "recurring series")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 0, "random seed, 0 picks one")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger, opts seedOptions) error {
	if opts.providers <= 0 || opts.days <= 0 {
		return fmt.Errorf("providers and days must be positive")
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.seed == 0 {
		opts.seed = uint64(time.Now().UnixNano())
	}
	faker := gofakeit.New(opts.seed)
	logger.Info().Uint64("seed", opts.seed).Msg("seed starting")

	providers := make([]uuid.UUID, opts.providers)
	for i := range providers {
		providers[i] = uuid.New()
	}

	slots, err := seedSlots(ctx, a.Store, faker, providers, opts.days)
	if err != nil {
		return fmt.Errorf("seed slots: %w", err)
	}
	logger.Info().Int("slots", slots).Msg("slots seeded")

	series, err := seedSeries(ctx, a.Generator, faker, providers, opts.series)
	if err != nil {
		return fmt.Errorf("seed series: %w", err)
	}
	logger.Info().Int("series", series).Msg("series seeded")

	entries, err := seedWaitlist(ctx, a.Matcher, faker, providers, opts.days, opts.waitlist)
	if err != nil {
		return fmt.Errorf("seed waitlist: %w", err)
	}
	logger.Info().Int("entries", entries).Msg("waitlist seeded")

	logger.Info().Msg("seed complete")
	return nil
}

// seedSlots lays out weekday office hours, 09:00 to 17:00 local, in half-hour
// slots. One provider's day is written per transaction.
func seedSlots(ctx context.Context, store scheduling.Store, faker *gofakeit.Faker, providers []uuid.UUID, days int) (int, error) {
	today := civil.DateOf(time.Now())
	count := 0
	for _, provider := range providers {
		loc, err := time.LoadLocation(timezones[faker.IntRange(0, len(timezones)-1)])
		if err != nil {
			return count, err
		}
		capacity := 1
		if faker.Float64() < 0.2 {
			capacity = faker.IntRange(2, 6)
		}
		types := pick(faker, appointmentTypes)

		for d := 1; d <= days; d++ {
			date := today.AddDays(d)
			if wd := date.In(time.UTC).Weekday(); wd == time.Saturday || wd == time.Sunday {
				continue
			}
			err := store.InTx(ctx, func(ctx context.Context, tx scheduling.Tx) error {
				for minute := 9 * 60; minute < 17*60; minute += 30 {
					start := time.Date(date.Year, date.Month, date.Day, minute/60, minute%60, 0, 0, loc)
					err := tx.InsertSlot(ctx, &scheduling.Slot{
						ID:                        uuid.New(),
						ProviderID:                provider,
						StartAt:                   start.UTC(),
						EndAt:                     start.Add(30 * time.Minute).UTC(),
						Timezone:                  loc.String(),
						MaxCapacity:               capacity,
						TelemedicineEnabled:       faker.Float64() < 0.8,
						AppointmentTypes:          types,
						CancellationDeadlineHours: 24,
						RescheduleDeadlineHours:   12,
					})
					if err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return count, err
			}
			count += 16
		}
	}
	return count, nil
}

func seedSeries(ctx context.Context, g *recurring.Generator, faker *gofakeit.Faker, providers []uuid.UUID, n int) (int, error) {
	patterns := []scheduling.Pattern{scheduling.PatternWeekly, scheduling.PatternBiweekly, scheduling.PatternMonthly}
	today := civil.DateOf(time.Now())
	for i := range n {
		req := recurring.CreateSeriesRequest{
			BeneficiaryID:   uuid.New(),
			ProviderID:      providers[faker.IntRange(0, len(providers)-1)],
			AppointmentType: appointmentTypes[faker.IntRange(0, len(appointmentTypes)-1)],
			Pattern:         patterns[faker.IntRange(0, len(patterns)-1)],
			Interval:        1,
			StartDate:       today.AddDays(faker.IntRange(1, 7)),
			MaxOccurrences:  faker.IntRange(4, 12),
		}
		if req.Pattern != scheduling.PatternMonthly && faker.Bool() {
			req.PreferredDays = []time.Weekday{time.Weekday(faker.IntRange(1, 5))}
		}
		if _, err := g.CreateSeries(ctx, req); err != nil {
			return i, err
		}
	}
	return n, nil
}

func seedWaitlist(ctx context.Context, m *waitlist.Matcher, faker *gofakeit.Faker, providers []uuid.UUID, days, n int) (int, error) {
	urgencies := []scheduling.Urgency{scheduling.UrgencyRoutine, scheduling.UrgencyRoutine, scheduling.UrgencyUrgent, scheduling.UrgencyEmergency}
	today := civil.DateOf(time.Now())
	for i := range n {
		earliest := today.AddDays(faker.IntRange(0, max(days-1, 0)))
		req := waitlist.CreateEntryRequest{
			BeneficiaryID:   uuid.New(),
			AppointmentType: appointmentTypes[faker.IntRange(0, len(appointmentTypes)-1)],
			Telemedicine:    faker.Bool(),
			EarliestDate:    earliest,
			LatestDate:      earliest.AddDays(faker.IntRange(1, 10)),
			Urgency:         urgencies[faker.IntRange(0, len(urgencies)-1)],
		}
		if faker.Float64() < 0.6 {
			p := providers[faker.IntRange(0, len(providers)-1)]
			req.PreferredProviderID = &p
		} else {
			req.AcceptsAnyProvider = true
		}
		if faker.Bool() {
			startHour := faker.IntRange(9, 14)
			req.PreferredWindows = []scheduling.TimeWindow{{
				Start: civil.Time{Hour: startHour},
				End:   civil.Time{Hour: startHour + 3},
			}}
		}
		if _, err := m.CreateEntry(ctx, req); err != nil {
			return i, err
		}
	}
	return n, nil
}

// pick returns a random non-empty subset of options.
func pick(faker *gofakeit.Faker, options []string) []string {
	var out []string
	for _, o := range options {
		if faker.Bool() {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		out = append(out, options[faker.IntRange(0, len(options)-1)])
	}
	return out
}
