package tzconv

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustConverter(t *testing.T, name string) *Converter {
	t.Helper()
	c, err := New(name)
	require.NoError(t, err)
	return c
}

func mustDate(t *testing.T, s string) Date {
	t.Helper()
	d, err := ParseDate(s)
	require.NoError(t, err)
	return d
}

func mustClock(t *testing.T, s string) Clock {
	t.Helper()
	c, err := ParseClock(s)
	require.NoError(t, err)
	return c
}

func TestToUTC_RegularDay(t *testing.T) {
	london := mustConverter(t, "Europe/London")

	winter, err := london.ToUTC(mustDate(t, "2026-01-14"), mustClock(t, "09:30"))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 14, 9, 30, 0, 0, time.UTC), winter)

	summer, err := london.ToUTC(mustDate(t, "2026-07-14"), mustClock(t, "09:30"))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 7, 14, 8, 30, 0, 0, time.UTC), summer)
}

func TestToUTC_SpringForwardGapRejected(t *testing.T) {
	london := mustConverter(t, "Europe/London")
	day := mustDate(t, "2026-03-29")

	for _, clock := range []string{"01:00", "01:30", "01:59"} {
		_, err := london.ToUTC(day, mustClock(t, clock))
		require.Error(t, err, clock)
		assert.True(t, errors.Is(err, ErrNonexistentLocalTime), clock)
		assert.False(t, london.IsValidLocalInstant(day, mustClock(t, clock)), clock)
	}

	before, err := london.ToUTC(day, mustClock(t, "00:59"))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 29, 0, 59, 0, 0, time.UTC), before)

	after, err := london.ToUTC(day, mustClock(t, "02:00"))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 29, 1, 0, 0, 0, time.UTC), after)
}

func TestToUTC_FallBackResolvesToEarlierInstant(t *testing.T) {
	london := mustConverter(t, "Europe/London")
	day := mustDate(t, "2026-10-25")
	clock := mustClock(t, "01:30")

	assert.True(t, london.IsAmbiguous(day, clock))
	got, err := london.ToUTC(day, clock)
	require.NoError(t, err)
	// 01:30 BST (UTC+1) comes before 01:30 GMT.
	assert.Equal(t, time.Date(2026, 10, 25, 0, 30, 0, 0, time.UTC), got)
}

func TestDayBoundsUTC(t *testing.T) {
	tests := []struct {
		name      string
		zone      string
		date      string
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "new york summer",
			zone:      "America/New_York",
			date:      "2026-07-01",
			wantStart: time.Date(2026, 7, 1, 4, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 7, 2, 4, 0, 0, 0, time.UTC),
		},
		{
			name:      "london spring forward day is 23h",
			zone:      "Europe/London",
			date:      "2026-03-29",
			wantStart: time.Date(2026, 3, 29, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 3, 29, 23, 0, 0, 0, time.UTC),
		},
		{
			name:      "london fall back day is 25h",
			zone:      "Europe/London",
			date:      "2026-10-25",
			wantStart: time.Date(2026, 10, 24, 23, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 10, 26, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "tokyo",
			zone:      "Asia/Tokyo",
			date:      "2026-05-10",
			wantStart: time.Date(2026, 5, 9, 15, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 5, 10, 15, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := mustConverter(t, tt.zone)
			start, end := c.DayBoundsUTC(mustDate(t, tt.date))
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}
}

func TestDayBoundsUTC_LateEveningFallsInsideLocalDay(t *testing.T) {
	ny := mustConverter(t, "America/New_York")
	day := mustDate(t, "2026-07-01")

	late, err := ny.ToUTC(day, mustClock(t, "23:45"))
	require.NoError(t, err)
	assert.Equal(t, 2, late.Day(), "UTC calendar day is D+1")

	start, end := ny.DayBoundsUTC(day)
	assert.False(t, late.Before(start))
	assert.True(t, late.Before(end))
}

func TestDayBoundsUTC_SkippedMidnight(t *testing.T) {
	// Santiago moved clocks from 00:00 to 01:00 on 2022-09-11.
	santiago := mustConverter(t, "America/Santiago")
	day := mustDate(t, "2022-09-11")

	require.False(t, santiago.IsValidLocalInstant(day, 0))
	start, _ := santiago.DayBoundsUTC(day)
	gotDate, gotClock := santiago.ToLocal(start)
	assert.Equal(t, day, gotDate)
	assert.Equal(t, mustClock(t, "01:00"), gotClock)
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    Clock
		wantErr bool
	}{
		{in: "00:00", want: 0},
		{in: "09:30", want: 570},
		{in: "23:59", want: 1439},
		{in: "24:00", want: EndOfDay},
		{in: "24:01", wantErr: true},
		{in: "9:30", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "ab:cd", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseClock(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidClock, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.in, got.String())
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2026-10-14")
	require.NoError(t, err)
	assert.Equal(t, time.Wednesday, d.Weekday())
	assert.Equal(t, "2026-10-15", d.AddDays(1).String())
	assert.Equal(t, "2027-01-01", mustDate(t, "2026-12-31").AddDays(1).String())
	assert.True(t, d.Before(d.AddDays(1)))

	for _, bad := range []string{"2026-02-30", "2026-13-01", "14/10/2026", ""} {
		_, err := ParseDate(bad)
		assert.ErrorIs(t, err, ErrInvalidDate, bad)
	}
}

func TestNew_UnknownZone(t *testing.T) {
	_, err := New("Mars/Olympus_Mons")
	assert.ErrorIs(t, err, ErrUnknownTimeZone)
}
