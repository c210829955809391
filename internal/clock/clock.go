// Package clock supplies the pipeline's notion of time: the current UTC
// instant and the conversion between a client's local HH:MM and its UTC
// equivalent.
//
// Offsets follow the browser convention (JavaScript getTimezoneOffset):
// minutes to ADD to local time to reach UTC, so positive offsets lie west of
// UTC and negative offsets east. Jerusalem in summer (UTC+3) reports -180;
// Los Angeles in summer (UTC-7) reports +420.
//
// All services receive a Clock rather than calling time.Now so tests can pin
// the instant, matching how the scheduled jobs take an injected now.
package clock

import (
	"fmt"
	"time"
)

// MinutesPerDay is the size of the HH:MM value space.
const MinutesPerDay = 24 * 60

// MinuteOfDay is a time-of-day expressed as minutes after midnight [0, 1440).
type MinuteOfDay int

// String renders the value as zero-padded "HH:MM".
func (m MinuteOfDay) String() string {
	mm := normalize(int(m))
	return fmt.Sprintf("%02d:%02d", mm/60, mm%60)
}

// Valid reports whether the value lies in [0, 1440).
func (m MinuteOfDay) Valid() bool {
	return m >= 0 && int(m) < MinutesPerDay
}

// ParseHHMM parses a "HH:MM" string into a MinuteOfDay.
func ParseHHMM(s string) (MinuteOfDay, error) {
	var h, mm int
	if _, err := fmt.Sscanf(s, "%02d:%02d", &h, &mm); err != nil {
		return 0, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	if h < 0 || h > 23 || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("invalid time %q: hour or minute out of range", s)
	}
	return MinuteOfDay(h*60 + mm), nil
}

// ToUTC converts a local time-of-day to its UTC equivalent given the client's
// browser offset: utc = (local + offset) mod 1440.
//
// A Jerusalem client (offset -180) entering 10:30 local yields 07:30 UTC; a
// Los Angeles client (offset +420) entering 07:00 local yields 14:00 UTC.
func ToUTC(local MinuteOfDay, offsetMinutes int) MinuteOfDay {
	return MinuteOfDay(normalize(int(local) + offsetMinutes))
}

// ToLocal is the inverse of ToUTC: local = (utc - offset) mod 1440.
// ToLocal(ToUTC(x, o), o) == x for all x, o.
func ToLocal(utc MinuteOfDay, offsetMinutes int) MinuteOfDay {
	return MinuteOfDay(normalize(int(utc) - offsetMinutes))
}

// LocalDate resolves the client's local calendar date for a UTC instant given
// the browser offset. Used to decide whether today's check-in already exists.
func LocalDate(nowUTC time.Time, offsetMinutes int) time.Time {
	local := nowUTC.UTC().Add(-time.Duration(offsetMinutes) * time.Minute)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// normalize wraps a minute count into [0, MinutesPerDay).
func normalize(minutes int) int {
	m := minutes % MinutesPerDay
	if m < 0 {
		m += MinutesPerDay
	}
	return m
}

// Clock supplies the current UTC instant.
type Clock interface {
	NowUTC() time.Time
}

// SystemClock is the production Clock backed by the wall clock.
type SystemClock struct{}

// NowUTC returns time.Now in UTC.
func (SystemClock) NowUTC() time.Time {
	return time.Now().UTC()
}

// FixedClock is a Clock pinned to a single instant, for tests and for the
// dispatch-now operator command which evaluates a window at a chosen time.
type FixedClock struct {
	Instant time.Time
}

// NowUTC returns the pinned instant in UTC.
func (c FixedClock) NowUTC() time.Time {
	return c.Instant.UTC()
}
