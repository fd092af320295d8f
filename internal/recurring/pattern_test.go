package recurring

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"

	"github.com/hackgods/telemedicine-scheduling/internal/scheduling"
)

func date(y int, m time.Month, d int) civil.Date {
	return civil.Date{Year: y, Month: m, Day: d}
}

func walk(s scheduling.Series, n int) []civil.Date {
	out := []civil.Date{First(s)}
	for len(out) < n {
		out = append(out, Next(s, out[len(out)-1]))
	}
	return out
}

func TestMonthlyClampsToMonthLength(t *testing.T) {
	s := scheduling.Series{Pattern: scheduling.PatternMonthly, Interval: 1, StartDate: date(2025, 1, 31)}

	assert.Equal(t, []civil.Date{
		date(2025, 1, 31),
		date(2025, 2, 28),
		date(2025, 3, 31),
		date(2025, 4, 30),
		date(2025, 5, 31),
	}, walk(s, 5))
}

func TestMonthlyLeapYear(t *testing.T) {
	s := scheduling.Series{Pattern: scheduling.PatternMonthly, Interval: 1, StartDate: date(2024, 1, 30)}
	assert.Equal(t, date(2024, 2, 29), Next(s, date(2024, 1, 30)))
}

func TestQuarterlyCrossesYear(t *testing.T) {
	s := scheduling.Series{Pattern: scheduling.PatternQuarterly, Interval: 1, StartDate: date(2025, 8, 31)}

	assert.Equal(t, []civil.Date{
		date(2025, 8, 31),
		date(2025, 11, 30),
		date(2026, 2, 28),
		date(2026, 5, 31),
	}, walk(s, 4))
}

func TestMonthlyInterval(t *testing.T) {
	s := scheduling.Series{Pattern: scheduling.PatternMonthly, Interval: 2, StartDate: date(2025, 12, 15)}
	assert.Equal(t, date(2026, 2, 15), Next(s, date(2025, 12, 15)))
}

func TestWeeklyWithoutDays(t *testing.T) {
	weekly := scheduling.Series{Pattern: scheduling.PatternWeekly, Interval: 1, StartDate: date(2025, 6, 4)}
	assert.Equal(t, date(2025, 6, 11), Next(weekly, date(2025, 6, 4)))

	biweekly := scheduling.Series{Pattern: scheduling.PatternBiweekly, Interval: 1, StartDate: date(2025, 6, 4)}
	assert.Equal(t, date(2025, 6, 18), Next(biweekly, date(2025, 6, 4)))

	everyThird := scheduling.Series{Pattern: scheduling.PatternWeekly, Interval: 3, StartDate: date(2025, 6, 4)}
	assert.Equal(t, date(2025, 6, 25), Next(everyThird, date(2025, 6, 4)))
}

func TestWeeklyPreferredDays(t *testing.T) {
	// 2025-06-04 is a Wednesday.
	s := scheduling.Series{
		Pattern:       scheduling.PatternWeekly,
		Interval:      1,
		StartDate:     date(2025, 6, 4),
		PreferredDays: []time.Weekday{time.Friday, time.Monday},
	}

	assert.Equal(t, []civil.Date{
		date(2025, 6, 6),
		date(2025, 6, 9),
		date(2025, 6, 13),
		date(2025, 6, 16),
	}, walk(s, 4))
}

func TestBiweeklyPreferredDaysSkipsWholeWeeks(t *testing.T) {
	s := scheduling.Series{
		Pattern:       scheduling.PatternBiweekly,
		Interval:      1,
		StartDate:     date(2025, 6, 2),
		PreferredDays: []time.Weekday{time.Tuesday, time.Thursday},
	}

	assert.Equal(t, []civil.Date{
		date(2025, 6, 3),
		date(2025, 6, 5),
		date(2025, 6, 17),
		date(2025, 6, 19),
		date(2025, 7, 1),
	}, walk(s, 5))
}

func TestFirstRollsToNextCycleWhenWeekIsOver(t *testing.T) {
	// Saturday start with only Monday preferred.
	s := scheduling.Series{
		Pattern:       scheduling.PatternWeekly,
		Interval:      1,
		StartDate:     date(2025, 6, 7),
		PreferredDays: []time.Weekday{time.Monday},
	}
	assert.Equal(t, date(2025, 6, 9), First(s))
}

func TestSundayBelongsToEndOfWeek(t *testing.T) {
	s := scheduling.Series{
		Pattern:       scheduling.PatternWeekly,
		Interval:      1,
		StartDate:     date(2025, 6, 2),
		PreferredDays: []time.Weekday{time.Sunday, time.Wednesday},
	}
	assert.Equal(t, []civil.Date{date(2025, 6, 4), date(2025, 6, 8), date(2025, 6, 11)}, walk(s, 3))
}
