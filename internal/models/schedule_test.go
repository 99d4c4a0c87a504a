package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustClock(t *testing.T, raw string) ClockMinutes {
	t.Helper()
	clock, err := ParseClock(raw)
	require.NoError(t, err)
	return clock
}

func schedule(t *testing.T, days []string, start, end string) Schedule {
	t.Helper()
	return Schedule{Days: DayList(days), Start: mustClock(t, start), End: mustClock(t, end)}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		raw     string
		minutes int
		wantErr bool
	}{
		{raw: "00:00", minutes: 0},
		{raw: "09:00", minutes: 540},
		{raw: "23:59", minutes: 1439},
		{raw: " 10:30 ", minutes: 630},
		{raw: "24:00", wantErr: true},
		{raw: "12:60", wantErr: true},
		{raw: "noon", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tc := range tests {
		clock, err := ParseClock(tc.raw)
		if tc.wantErr {
			assert.Error(t, err, tc.raw)
			continue
		}
		require.NoError(t, err, tc.raw)
		assert.Equal(t, ClockMinutes(tc.minutes), clock, tc.raw)
	}
}

func TestClockMinutesJSONRoundTrip(t *testing.T) {
	payload, err := json.Marshal(mustClock(t, "09:05"))
	require.NoError(t, err)
	assert.Equal(t, `"09:05"`, string(payload))

	var clock ClockMinutes
	require.NoError(t, json.Unmarshal([]byte(`"14:30"`), &clock))
	assert.Equal(t, ClockMinutes(870), clock)

	assert.Error(t, json.Unmarshal([]byte(`"25:00"`), &clock))
}

func TestDayListScanValue(t *testing.T) {
	value, err := DayList{"Monday", "Wednesday"}.Value()
	require.NoError(t, err)
	assert.Equal(t, "Monday,Wednesday", value)

	var days DayList
	require.NoError(t, days.Scan("Tuesday,Thursday"))
	assert.Equal(t, DayList{"Tuesday", "Thursday"}, days)

	require.NoError(t, days.Scan(""))
	assert.Nil(t, days)
}

func TestScheduleValidate(t *testing.T) {
	assert.NoError(t, schedule(t, []string{"Monday", "Wednesday"}, "09:00", "10:30").Validate())

	assert.Error(t, Schedule{Start: 540, End: 600}.Validate(), "no days")
	assert.Error(t, schedule(t, []string{"Funday"}, "09:00", "10:00").Validate(), "unknown day")
	assert.Error(t, schedule(t, []string{"Monday", "Monday"}, "09:00", "10:00").Validate(), "duplicate day")
	assert.Error(t, schedule(t, []string{"Monday"}, "10:00", "10:00").Validate(), "empty interval")
	assert.Error(t, schedule(t, []string{"Monday"}, "11:00", "10:00").Validate(), "inverted interval")
}

func TestOverlaps(t *testing.T) {
	a := schedule(t, []string{"Monday", "Wednesday"}, "09:00", "10:30")
	b := schedule(t, []string{"Wednesday", "Friday"}, "10:00", "11:00")
	c := schedule(t, []string{"Wednesday"}, "10:30", "11:30")
	d := schedule(t, []string{"Tuesday"}, "09:00", "10:30")

	assert.True(t, Overlaps(a, b), "shared Wednesday with overlapping interval")
	assert.True(t, Overlaps(b, a), "symmetry")

	assert.False(t, Overlaps(a, c), "boundary touch is not a conflict")
	assert.False(t, Overlaps(c, a), "boundary touch symmetry")

	assert.False(t, Overlaps(a, d), "no shared day")

	assert.True(t, Overlaps(a, a), "identical schedule conflicts with itself")
}

func TestConflictsWithAny(t *testing.T) {
	existing := []Course{
		{ID: "CS101", Schedule: schedule(t, []string{"Monday", "Wednesday"}, "09:00", "10:30")},
		{ID: "MATH201", Schedule: schedule(t, []string{"Tuesday", "Thursday"}, "11:00", "12:30")},
	}

	clash := ConflictsWithAny(schedule(t, []string{"Wednesday"}, "10:00", "11:00"), existing)
	require.NotNil(t, clash)
	assert.Equal(t, "CS101", clash.ID)

	assert.Nil(t, ConflictsWithAny(schedule(t, []string{"Wednesday"}, "10:30", "11:30"), existing))
	assert.Nil(t, ConflictsWithAny(schedule(t, []string{"Friday"}, "09:00", "17:00"), existing))
	assert.Nil(t, ConflictsWithAny(schedule(t, []string{"Friday"}, "09:00", "17:00"), nil))
}

func TestConflictPairs(t *testing.T) {
	courses := []Course{
		{ID: "A", Schedule: schedule(t, []string{"Monday"}, "09:00", "11:00")},
		{ID: "B", Schedule: schedule(t, []string{"Monday"}, "10:00", "12:00")},
		{ID: "C", Schedule: schedule(t, []string{"Monday"}, "11:00", "12:00")},
		{ID: "D", Schedule: schedule(t, []string{"Friday"}, "09:00", "11:00")},
	}

	pairs := ConflictPairs(courses)
	require.Len(t, pairs, 2)
	assert.Contains(t, pairs, ConflictPair{CourseID: "A", OtherCourseID: "B"})
	assert.Contains(t, pairs, ConflictPair{CourseID: "B", OtherCourseID: "C"})

	assert.Empty(t, ConflictPairs(courses[3:]))
}
