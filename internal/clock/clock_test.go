package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHHMM(t *testing.T) {
	tests := []struct {
		in      string
		want    MinuteOfDay
		wantErr bool
	}{
		{"00:00", 0, false},
		{"10:30", 630, false},
		{"23:59", 1439, false},
		{"07:05", 425, false},
		{"24:00", 0, true},
		{"12:60", 0, true},
		{"12", 0, true},
		{"", 0, true},
		{"ab:cd", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseHHMM(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

func TestMinuteOfDayString(t *testing.T) {
	assert.Equal(t, "00:00", MinuteOfDay(0).String())
	assert.Equal(t, "10:30", MinuteOfDay(630).String())
	assert.Equal(t, "23:59", MinuteOfDay(1439).String())
}

func TestToUTC_Jerusalem(t *testing.T) {
	// 10:30 local at UTC+3 (browser offset -180) stores as 07:30 UTC.
	local, err := ParseHHMM("10:30")
	require.NoError(t, err)

	utc := ToUTC(local, -180)
	assert.Equal(t, "07:30", utc.String())
}

func TestToUTC_LosAngeles(t *testing.T) {
	// 07:00 local at UTC-7 (browser offset +420) stores as 14:00 UTC.
	local, err := ParseHHMM("07:00")
	require.NoError(t, err)

	utc := ToUTC(local, 420)
	assert.Equal(t, "14:00", utc.String())
}

func TestToUTC_OffsetChange(t *testing.T) {
	// 02:30 local at UTC+1 (browser offset -60) stores as 01:30 UTC; after a
	// DST change moves the offset to 0, the same local time stores as 02:30.
	local, err := ParseHHMM("02:30")
	require.NoError(t, err)

	assert.Equal(t, "01:30", ToUTC(local, -60).String())
	assert.Equal(t, "02:30", ToUTC(local, 0).String())
}

func TestToUTC_WrapsMidnight(t *testing.T) {
	// 23:30 local at UTC+2 (offset -120) is 21:30 UTC.
	assert.Equal(t, MinuteOfDay(21*60+30), ToUTC(MinuteOfDay(23*60+30), -120))

	// 01:00 local at UTC+3 (offset -180) is 22:00 UTC the previous day.
	assert.Equal(t, MinuteOfDay(22*60), ToUTC(MinuteOfDay(60), -180))

	// 23:00 local at UTC-5 (offset +300) is 04:00 UTC the next day.
	assert.Equal(t, MinuteOfDay(4*60), ToUTC(MinuteOfDay(23*60), 300))
}

// TestRoundTrip exercises ToLocal(ToUTC(x, o), o) == x over the full
// offset range in 15-minute steps.
func TestRoundTrip(t *testing.T) {
	for offset := -780; offset <= 780; offset += 15 {
		for minute := 0; minute < MinutesPerDay; minute += 7 {
			x := MinuteOfDay(minute)
			got := ToLocal(ToUTC(x, offset), offset)
			if got != x {
				t.Fatalf("round trip failed: x=%v offset=%d got=%v", x, offset, got)
			}
		}
	}
}

func TestLocalDate(t *testing.T) {
	// 2026-08-28 01:30 UTC is still 2026-08-27 in Los Angeles (offset +420).
	now := time.Date(2026, 8, 28, 1, 30, 0, 0, time.UTC)
	got := LocalDate(now, 420)
	assert.Equal(t, time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC), got)

	// The same instant is already 2026-08-28 in Jerusalem (offset -180).
	got = LocalDate(now, -180)
	assert.Equal(t, time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC), got)
}

func TestFixedClock(t *testing.T) {
	instant := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	c := FixedClock{Instant: instant}
	assert.Equal(t, instant.UTC(), c.NowUTC())
	assert.Equal(t, time.UTC, c.NowUTC().Location())
}
