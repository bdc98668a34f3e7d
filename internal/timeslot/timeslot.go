// Package timeslot maps grid coordinates to canonical slot times and dates to week buckets.
package timeslot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sysu-ecnc-dev/teaching-schedule/backend/internal/domain"
)

const (
	// FirstHour is the hour of slot index 0.
	FirstHour = 8
	// SlotCount is the number of 1-hour start slots, 08:00 through 20:00.
	SlotCount = 13
	// DaysPerWeek bounds dayOfWeek to 0..6.
	DaysPerWeek = 7
)

// SlotIndexToTime returns "HH:00" for i in 0..SlotCount. Index SlotCount is
// the end-of-day boundary (21:00) and is only meaningful as an end time.
func SlotIndexToTime(i int) string {
	return fmt.Sprintf("%02d:00", FirstHour+i)
}

// CanonicalSlots returns every valid start slot in order.
func CanonicalSlots() []string {
	slots := make([]string, SlotCount)
	for i := range slots {
		slots[i] = SlotIndexToTime(i)
	}
	return slots
}

// NormalizeTime left-pads the hour of "H:MM" or "HH:MM" to two digits and
// drops a trailing ":SS". Inputs that are not time-like are returned trimmed
// and otherwise unchanged so that comparisons against them fail.
func NormalizeTime(s string) string {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return s
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 || len(parts[1]) != 2 {
		return s
	}
	return fmt.Sprintf("%02d:%s", hour, parts[1])
}

// SlotIndex locates a time among the canonical start slots.
func SlotIndex(s string) (int, bool) {
	n := NormalizeTime(s)
	for i := 0; i < SlotCount; i++ {
		if SlotIndexToTime(i) == n {
			return i, true
		}
	}
	return 0, false
}

// EndIndex locates an end time among the slot boundaries 09:00 through 21:00.
func EndIndex(s string) (int, bool) {
	n := NormalizeTime(s)
	for i := 1; i <= SlotCount; i++ {
		if SlotIndexToTime(i) == n {
			return i, true
		}
	}
	return 0, false
}

// SameSlot compares two slot times after normalization.
func SameSlot(a, b string) bool {
	return NormalizeTime(a) == NormalizeTime(b)
}

// ValidDay reports whether day is a dayOfWeek of the grid.
func ValidDay(day int) bool {
	return day >= 0 && day < DaysPerWeek
}

// EndTime returns the end of a block of duration slots starting at start.
func EndTime(start, duration int) (string, error) {
	if start < 0 || start >= SlotCount {
		return "", fmt.Errorf("%w: slot index %d", domain.ErrOutOfRange, start)
	}
	if duration < 1 || start+duration > SlotCount {
		return "", fmt.Errorf("%w: duration %d from slot %d", domain.ErrOutOfRange, duration, start)
	}
	return SlotIndexToTime(start + duration), nil
}

// TruncateToDay returns t with its clock set to midnight.
func TruncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// WeekStart returns the Monday of the ISO week containing t.
func WeekStart(t time.Time) time.Time {
	t = TruncateToDay(t)
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday is day 7 in ISO weeks
	}
	return t.AddDate(0, 0, -(weekday - 1))
}

// ISOWeekNumber returns the 1-based ISO week number of t.
func ISOWeekNumber(t time.Time) int {
	_, week := t.ISOWeek()
	return week
}

// WeekOf returns the week bucket of t. The year is the ISO year, which
// differs from the calendar year around New Year.
func WeekOf(t time.Time) domain.Week {
	year, week := t.ISOWeek()
	return domain.Week{Year: year, Number: week}
}

// DateOf returns the calendar date of a day index within a week bucket.
func DateOf(w domain.Week, day int) time.Time {
	// January 4th is always in week 1
	jan4 := time.Date(w.Year, time.January, 4, 0, 0, 0, 0, time.UTC)
	return WeekStart(jan4).AddDate(0, 0, (w.Number-1)*7+day)
}
