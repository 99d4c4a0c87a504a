package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Weekday names accepted in course schedules.
var weekdayNames = map[string]struct{}{
	"Monday":    {},
	"Tuesday":   {},
	"Wednesday": {},
	"Thursday":  {},
	"Friday":    {},
	"Saturday":  {},
	"Sunday":    {},
}

// DayList holds the weekdays a course meets. Stored as a comma-joined string.
type DayList []string

// Value implements driver.Valuer.
func (d DayList) Value() (driver.Value, error) {
	return strings.Join(d, ","), nil
}

// Scan implements sql.Scanner.
func (d *DayList) Scan(src interface{}) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	case nil:
		*d = nil
		return nil
	default:
		return fmt.Errorf("unsupported day list type %T", src)
	}
	if raw == "" {
		*d = nil
		return nil
	}
	*d = strings.Split(raw, ",")
	return nil
}

// Contains reports whether the list includes the given weekday.
func (d DayList) Contains(day string) bool {
	for _, existing := range d {
		if existing == day {
			return true
		}
	}
	return false
}

// ClockMinutes is a time of day expressed as minutes since midnight. It
// marshals as "HH:MM" on the wire and as an integer in the database.
type ClockMinutes int

// ParseClock converts "HH:MM" into minutes since midnight.
func ParseClock(raw string) (ClockMinutes, error) {
	var hours, minutes int
	if _, err := fmt.Sscanf(strings.TrimSpace(raw), "%d:%d", &hours, &minutes); err != nil {
		return 0, fmt.Errorf("invalid clock value %q", raw)
	}
	if hours < 0 || hours > 23 || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("clock value %q out of range", raw)
	}
	return ClockMinutes(hours*60 + minutes), nil
}

// String renders the clock as "HH:MM".
func (m ClockMinutes) String() string {
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}

// MarshalJSON implements json.Marshaler.
func (m ClockMinutes) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *ClockMinutes) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseClock(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Value implements driver.Valuer.
func (m ClockMinutes) Value() (driver.Value, error) {
	return int64(m), nil
}

// Scan implements sql.Scanner.
func (m *ClockMinutes) Scan(src interface{}) error {
	switch v := src.(type) {
	case int64:
		*m = ClockMinutes(v)
		return nil
	case nil:
		*m = 0
		return nil
	default:
		return fmt.Errorf("unsupported clock type %T", src)
	}
}

// Schedule describes when a course meets: a set of weekdays and a half-open
// time interval [Start, End).
type Schedule struct {
	Days  DayList      `db:"schedule_days" json:"days"`
	Start ClockMinutes `db:"start_minutes" json:"start_time"`
	End   ClockMinutes `db:"end_minutes" json:"end_time"`
}

// Validate checks the schedule is well-formed: at least one known weekday,
// no repeats, and a non-empty interval.
func (s Schedule) Validate() error {
	if len(s.Days) == 0 {
		return fmt.Errorf("schedule requires at least one day")
	}
	seen := make(map[string]struct{}, len(s.Days))
	for _, day := range s.Days {
		if _, ok := weekdayNames[day]; !ok {
			return fmt.Errorf("unknown weekday %q", day)
		}
		if _, dup := seen[day]; dup {
			return fmt.Errorf("duplicate weekday %q", day)
		}
		seen[day] = struct{}{}
	}
	if s.Start >= s.End {
		return fmt.Errorf("schedule start %s must be before end %s", s.Start, s.End)
	}
	return nil
}

// Overlaps reports whether two schedules conflict: they share a weekday and
// their half-open intervals intersect. Equal boundaries (one ends exactly
// when the other starts) are not a conflict.
func Overlaps(a, b Schedule) bool {
	shared := false
	for _, day := range a.Days {
		if b.Days.Contains(day) {
			shared = true
			break
		}
	}
	if !shared {
		return false
	}
	return a.Start < b.End && b.Start < a.End
}

// ConflictPair identifies two courses whose schedules overlap.
type ConflictPair struct {
	CourseID      string `json:"course_id"`
	OtherCourseID string `json:"other_course_id"`
}

// ConflictPairs runs the O(n²) all-pairs diagnostic over a course set. It is
// a batch report for admin views, never part of the enroll path.
func ConflictPairs(courses []Course) []ConflictPair {
	var pairs []ConflictPair
	for i := 0; i < len(courses); i++ {
		for j := i + 1; j < len(courses); j++ {
			if Overlaps(courses[i].Schedule, courses[j].Schedule) {
				pairs = append(pairs, ConflictPair{CourseID: courses[i].ID, OtherCourseID: courses[j].ID})
			}
		}
	}
	return pairs
}

// ConflictsWithAny reports the first existing course the candidate clashes
// with, or nil. O(k) in the student's active course count.
func ConflictsWithAny(candidate Schedule, existing []Course) *Course {
	for i := range existing {
		if Overlaps(candidate, existing[i].Schedule) {
			return &existing[i]
		}
	}
	return nil
}
