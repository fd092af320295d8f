package recurring

import (
	"slices"
	"time"

	"cloud.google.com/go/civil"

	"github.com/hackgods/telemedicine-scheduling/internal/scheduling"
)

// Occurrence dates follow these rules:
//
//   - weekly/biweekly without preferred days advance by 7 (or 14) days times
//     the interval.
//   - weekly/biweekly with preferred days walk the remaining preferred days of
//     the current Monday-based week, then jump to the first preferred day of
//     the week interval (or 2x interval) weeks later.
//   - monthly/quarterly are anchored on the start date's day of month and
//     clamped to the target month's length, so a series starting on the 31st
//     runs Jan 31, Feb 28, Mar 31, Apr 30.

// First returns the series' first occurrence on or after its start date.
func First(s scheduling.Series) civil.Date {
	if weekBased(s.Pattern) && len(s.PreferredDays) > 0 {
		days := sortedDays(s.PreferredDays)
		if d, ok := preferredFrom(days, s.StartDate, true); ok {
			return d
		}
		return weekStart(s.StartDate).AddDays(7*weekStep(s) + mondayIndex(days[0]))
	}
	return s.StartDate
}

// Next returns the occurrence following prev.
func Next(s scheduling.Series, prev civil.Date) civil.Date {
	switch s.Pattern {
	case scheduling.PatternMonthly, scheduling.PatternQuarterly:
		elapsed := (prev.Year-s.StartDate.Year)*12 + int(prev.Month) - int(s.StartDate.Month)
		return addMonthsClamped(s.StartDate, elapsed+monthStep(s))
	default:
		if len(s.PreferredDays) == 0 {
			return prev.AddDays(7 * weekStep(s))
		}
		days := sortedDays(s.PreferredDays)
		if d, ok := preferredFrom(days, prev, false); ok {
			return d
		}
		return weekStart(prev).AddDays(7*weekStep(s) + mondayIndex(days[0]))
	}
}

func interval(s scheduling.Series) int {
	return max(s.Interval, 1)
}

func weekBased(p scheduling.Pattern) bool {
	return p == scheduling.PatternWeekly || p == scheduling.PatternBiweekly
}

func weekStep(s scheduling.Series) int {
	if s.Pattern == scheduling.PatternBiweekly {
		return 2 * interval(s)
	}
	return interval(s)
}

func monthStep(s scheduling.Series) int {
	if s.Pattern == scheduling.PatternQuarterly {
		return 3 * interval(s)
	}
	return interval(s)
}

func addMonthsClamped(anchor civil.Date, months int) civil.Date {
	total := anchor.Year*12 + int(anchor.Month) - 1 + months
	year, month := total/12, time.Month(total%12+1)
	return civil.Date{Year: year, Month: month, Day: min(anchor.Day, daysIn(year, month))}
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func weekday(d civil.Date) time.Weekday {
	return d.In(time.UTC).Weekday()
}

// mondayIndex numbers weekdays from Monday (0) to Sunday (6).
func mondayIndex(w time.Weekday) int {
	return (int(w) + 6) % 7
}

func weekStart(d civil.Date) civil.Date {
	return d.AddDays(-mondayIndex(weekday(d)))
}

func sortedDays(days []time.Weekday) []time.Weekday {
	out := slices.Clone(days)
	slices.SortFunc(out, func(a, b time.Weekday) int { return mondayIndex(a) - mondayIndex(b) })
	return slices.Compact(out)
}

// preferredFrom finds the next preferred day in d's week, after d or, when
// inclusive, on d itself.
func preferredFrom(days []time.Weekday, d civil.Date, inclusive bool) (civil.Date, bool) {
	cur := mondayIndex(weekday(d))
	for _, w := range days {
		idx := mondayIndex(w)
		if idx > cur || (inclusive && idx == cur) {
			return weekStart(d).AddDays(idx), true
		}
	}
	return civil.Date{}, false
}
