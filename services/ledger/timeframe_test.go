package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeframeWindow(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	now := time.Date(2024, time.March, 31, 15, 30, 0, 0, loc)

	tests := []struct {
		tf        Timeframe
		wantStart time.Time
		wantGran  Granularity
	}{
		{TimeframeToday, time.Date(2024, time.March, 31, 0, 0, 0, 0, loc), GranularityHour},
		{TimeframeWeek, now.Add(-7 * 24 * time.Hour), GranularityDay},
		{TimeframeMonth, time.Date(2024, time.March, 2, 15, 30, 0, 0, loc), GranularityDay},
		{TimeframeYear, time.Date(2023, time.March, 31, 15, 30, 0, 0, loc), GranularityDay},
	}

	for _, tt := range tests {
		t.Run(string(tt.tf), func(t *testing.T) {
			start, end, gran, err := tt.tf.Window(now, loc)
			require.NoError(t, err)
			assert.True(t, tt.wantStart.Equal(start), "start = %v, want %v", start, tt.wantStart)
			assert.True(t, now.Equal(end))
			assert.Equal(t, tt.wantGran, gran)
		})
	}
}

func TestTodayWindowsAcrossMidnightAreDisjoint(t *testing.T) {
	loc := time.UTC
	before := time.Date(2024, time.June, 10, 23, 59, 59, 0, loc)
	after := time.Date(2024, time.June, 11, 0, 0, 1, 0, loc)

	s1, e1, _, err := TimeframeToday.Window(before, loc)
	require.NoError(t, err)
	s2, e2, _, err := TimeframeToday.Window(after, loc)
	require.NoError(t, err)

	assert.True(t, e1.Before(s2), "first window [%v, %v] overlaps second starting %v", s1, e1, s2)
	assert.True(t, s2.Before(e2))
}

func TestDashboardMonthIsFixedThirtyDays(t *testing.T) {
	now := time.Date(2024, time.March, 31, 12, 0, 0, 0, time.UTC)

	w := dashboardWindowsAt(now, time.UTC)
	assert.Equal(t, 30*24*time.Hour, now.Sub(w.month))

	insightsStart, _, _, err := TimeframeMonth.Window(now, time.UTC)
	require.NoError(t, err)
	assert.False(t, insightsStart.Equal(w.month), "insights month and dashboard month must stay distinct windows")
}

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe(" Week ")
	require.NoError(t, err)
	assert.Equal(t, TimeframeWeek, tf)

	tf, err = ParseTimeframe("")
	require.NoError(t, err)
	assert.Equal(t, TimeframeMonth, tf)

	_, err = ParseTimeframe("decade")
	assert.ErrorIs(t, err, ErrValidation)
}
