package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DateLayout is the persisted calendar date format.
	DateLayout = "2006-01-02"
	// TimeLayout is the persisted slot format.
	TimeLayout = "15:04"
)

// Date is a calendar date in YYYY-MM-DD form with no zone attached.
type Date string

// ParseDate validates s and returns it as a Date.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if _, err := time.Parse(DateLayout, s); err != nil {
		return "", fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date(s), nil
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	return Date(t.Format(DateLayout))
}

// String implements fmt.Stringer.
func (d Date) String() string { return string(d) }

// Time returns midnight of d in loc.
func (d Date) Time(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(DateLayout, string(d), loc)
}

// Before reports whether d is strictly earlier than other.
// YYYY-MM-DD compares correctly as a string.
func (d Date) Before(other Date) bool { return d < other }

// ParseSlotTime validates an "HH:MM" slot label.
func ParseSlotTime(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, 0, fmt.Errorf("invalid time format: %s", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour: %s", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute: %s", s)
	}
	return hour, minute, nil
}

// Appointment is a stored booking.
type Appointment struct {
	ID    string `json:"id"`
	Date  Date   `json:"date"`
	Time  string `json:"time"` // HH:MM
	Name  string `json:"name"`
	Email string `json:"email"`
	Notes string `json:"notes,omitempty"`
}

// Draft holds caller-supplied fields before an ID is assigned.
type Draft struct {
	Date  Date
	Time  string
	Name  string
	Email string
	Notes string
}

// Validate checks the date and slot formats. Contact fields are optional here;
// the booking workflow enforces them.
func (d Draft) Validate() error {
	if _, err := ParseDate(string(d.Date)); err != nil {
		return err
	}
	if _, _, err := ParseSlotTime(d.Time); err != nil {
		return err
	}
	return nil
}

// StartsAt returns the start instant of the appointment in loc.
func (a *Appointment) StartsAt(loc *time.Location) (time.Time, error) {
	day, err := a.Date.Time(loc)
	if err != nil {
		return time.Time{}, err
	}
	hour, minute, err := ParseSlotTime(a.Time)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location()), nil
}

// IsPast reports whether the appointment does not start strictly after now.
// Unparseable records count as past so they never show up as upcoming.
func (a *Appointment) IsPast(now time.Time) bool {
	start, err := a.StartsAt(now.Location())
	if err != nil {
		return true
	}
	return !start.After(now)
}

// Occupies reports whether the appointment holds the given slot.
func (a *Appointment) Occupies(date Date, slot string) bool {
	return a.Date == date && a.Time == slot
}

// SortKey orders appointments by date then time.
func (a *Appointment) SortKey() string {
	return string(a.Date) + "T" + a.Time
}
