package ledger

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe names a rolling reporting window ending now.
type Timeframe string

const (
	TimeframeToday Timeframe = "today"
	TimeframeWeek  Timeframe = "week"
	TimeframeMonth Timeframe = "month"
	TimeframeYear  Timeframe = "year"
)

// Granularity is the bucket width of a time series.
type Granularity string

const (
	GranularityHour Granularity = "hour"
	GranularityDay  Granularity = "day"
)

// ParseTimeframe accepts a timeframe name in any case. An empty string means
// month.
func ParseTimeframe(s string) (Timeframe, error) {
	switch tf := Timeframe(strings.ToLower(strings.TrimSpace(s))); tf {
	case "":
		return TimeframeMonth, nil
	case TimeframeToday, TimeframeWeek, TimeframeMonth, TimeframeYear:
		return tf, nil
	default:
		return "", invalid(FieldViolation{Field: "timeframe", Message: fmt.Sprintf("unknown timeframe %q", s)})
	}
}

// Window resolves tf to [start, now]. today starts at local midnight, week is
// seven fixed days, month and year use calendar subtraction in loc.
func (tf Timeframe) Window(now time.Time, loc *time.Location) (time.Time, time.Time, Granularity, error) {
	local := now.In(loc)
	switch tf {
	case TimeframeToday:
		return startOfDay(local), now, GranularityHour, nil
	case TimeframeWeek:
		return now.Add(-7 * 24 * time.Hour), now, GranularityDay, nil
	case TimeframeMonth:
		return local.AddDate(0, -1, 0), now, GranularityDay, nil
	case TimeframeYear:
		return local.AddDate(-1, 0, 0), now, GranularityDay, nil
	default:
		return time.Time{}, time.Time{}, "", invalid(FieldViolation{Field: "timeframe", Message: fmt.Sprintf("unknown timeframe %q", tf)})
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// dashboardWindows are the fixed windows of the dashboard. Unlike insights,
// its month is exactly thirty days.
type dashboardWindows struct {
	today time.Time
	week  time.Time
	month time.Time
}

func dashboardWindowsAt(now time.Time, loc *time.Location) dashboardWindows {
	return dashboardWindows{
		today: startOfDay(now.In(loc)),
		week:  now.Add(-7 * 24 * time.Hour),
		month: now.Add(-30 * 24 * time.Hour),
	}
}
