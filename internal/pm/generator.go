package pm

import (
	"time"

	"facilitypm/internal/types"
)

// DefaultHorizonDays is the rolling generation window. "Six months" is taken
// as a fixed 180 days from the anchor day rather than six calendar months.
const DefaultHorizonDays = 180

// maxGeneratedDates bounds a single generation pass.
const maxGeneratedDates = 5000

// DateOnly truncates t to midnight UTC of its UTC calendar day. Occurrences
// are scheduled per day; time of day carries no meaning.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// HorizonFrom returns the exclusive generation boundary for an anchor day.
// A non-positive days value uses DefaultHorizonDays.
func HorizonFrom(anchor time.Time, days int) time.Time {
	if days <= 0 {
		days = DefaultHorizonDays
	}
	return DateOnly(anchor).AddDate(0, 0, days)
}

// NextDate advances t by one step of freq. Calendar steps use AddDate, so a
// day that does not exist in the target month rolls into the next one
// (Jan 31 + 1 month is Mar 2 or Mar 3). Unknown frequencies step monthly.
func NextDate(freq types.Frequency, t time.Time) time.Time {
	switch freq {
	case types.FrequencyDaily:
		return t.AddDate(0, 0, 1)
	case types.FrequencyWeekly:
		return t.AddDate(0, 0, 7)
	case types.FrequencyMonthly:
		return t.AddDate(0, 1, 0)
	case types.FrequencyQuarterly:
		return t.AddDate(0, 3, 0)
	case types.FrequencySemiAnnual:
		return t.AddDate(0, 6, 0)
	case types.FrequencyAnnual:
		return t.AddDate(1, 0, 0)
	default:
		return t.AddDate(0, 1, 0)
	}
}

// GenerateDates returns the scheduled dates produced by repeatedly stepping
// anchor by freq, in ascending order. Every date is after the anchor day and
// strictly before the horizon day. The result is empty when the first step
// already reaches the horizon.
func GenerateDates(freq types.Frequency, anchor, horizon time.Time) []time.Time {
	current := DateOnly(anchor)
	end := DateOnly(horizon)

	var dates []time.Time
	for len(dates) < maxGeneratedDates {
		current = NextDate(freq, current)
		if !current.Before(end) {
			break
		}
		dates = append(dates, current)
	}
	return dates
}

// AnchorBefore advances latest by whole steps of freq while the following
// step would still fall before today, so generating from the result yields
// dates from today onward on the same cadence. A latest date on or after
// today is returned unchanged.
func AnchorBefore(freq types.Frequency, latest, today time.Time) time.Time {
	anchor := DateOnly(latest)
	end := DateOnly(today)
	for i := 0; i < maxGeneratedDates; i++ {
		next := NextDate(freq, anchor)
		if !next.Before(end) {
			break
		}
		anchor = next
	}
	return anchor
}
