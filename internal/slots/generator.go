package slots

import (
	"context"
	"fmt"
	"time"

	"slotbook/internal/config"
	"slotbook/internal/models"
)

// Slot represents a time slot.
type Slot struct {
	StartTime time.Time
	EndTime   time.Time
	Booked    bool
	Past      bool
	Available bool
}

// Label returns the "HH:MM" start of the slot.
func (s Slot) Label() string { return s.StartTime.Format(models.TimeLayout) }

// SlotInfo is a simplified representation for UI.
type SlotInfo struct {
	Start     string `json:"start"` // "10:00"
	End       string `json:"end"`   // "10:30"
	Available bool   `json:"available"`
}

// Schedule contains the bookable hours of a day.
type Schedule struct {
	StartTime    string // "09:00"
	EndTime      string // "17:00", exclusive
	LunchStart   string // optional
	LunchEnd     string // optional
	SlotDuration int    // minutes
	IsClosed     bool
}

// ScheduleFromConfig maps the configured business hours to a Schedule.
func ScheduleFromConfig(c config.ScheduleConfig) Schedule {
	return Schedule{
		StartTime:    c.StartTime,
		EndTime:      c.EndTime,
		LunchStart:   c.LunchStart,
		LunchEnd:     c.LunchEnd,
		SlotDuration: c.SlotDuration,
	}
}

// SlotChecker reports whether a slot is still free.
type SlotChecker interface {
	IsSlotFree(date models.Date, slot string) bool
}

// Generator generates slots for a date.
type Generator struct {
	checker SlotChecker
	now     func() time.Time
}

// NewGenerator creates a new slot generator. A nil clock means time.Now.
func NewGenerator(checker SlotChecker, now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{checker: checker, now: now}
}

// GenerateSlots generates all slots for a date based on schedule.
// Booked slots and slots that already started are returned unavailable.
func (g *Generator) GenerateSlots(ctx context.Context, date models.Date, schedule Schedule) ([]Slot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if schedule.IsClosed {
		return nil, nil
	}

	now := g.now()
	day, err := date.Time(now.Location())
	if err != nil {
		return nil, err
	}

	grid, err := buildGrid(day, schedule)
	if err != nil {
		return nil, err
	}

	for i := range grid {
		if g.checker != nil {
			grid[i].Booked = !g.checker.IsSlotFree(date, grid[i].Label())
		}
		grid[i].Past = grid[i].StartTime.Before(now)
		grid[i].Available = !grid[i].Booked && !grid[i].Past
	}
	return grid, nil
}

func buildGrid(day time.Time, schedule Schedule) ([]Slot, error) {
	if schedule.SlotDuration <= 0 {
		schedule.SlotDuration = 30
	}

	startTime, err := parseTimeOnDate(day, schedule.StartTime)
	if err != nil {
		return nil, fmt.Errorf("parse start time: %w", err)
	}

	endTime, err := parseTimeOnDate(day, schedule.EndTime)
	if err != nil {
		return nil, fmt.Errorf("parse end time: %w", err)
	}

	var lunchStart, lunchEnd time.Time
	hasLunch := schedule.LunchStart != "" && schedule.LunchEnd != ""
	if hasLunch {
		if lunchStart, err = parseTimeOnDate(day, schedule.LunchStart); err != nil {
			return nil, fmt.Errorf("parse lunch start: %w", err)
		}
		if lunchEnd, err = parseTimeOnDate(day, schedule.LunchEnd); err != nil {
			return nil, fmt.Errorf("parse lunch end: %w", err)
		}
	}

	slotDuration := time.Duration(schedule.SlotDuration) * time.Minute
	var slots []Slot

	for cursor := startTime; !cursor.Add(slotDuration).After(endTime); cursor = cursor.Add(slotDuration) {
		slotEnd := cursor.Add(slotDuration)

		// Skip lunch break
		if hasLunch && isOverlapping(cursor, slotEnd, lunchStart, lunchEnd) {
			continue
		}

		slots = append(slots, Slot{StartTime: cursor, EndTime: slotEnd})
	}

	return slots, nil
}

// Labels returns the "HH:MM" grid of schedule regardless of bookings.
func Labels(schedule Schedule) ([]string, error) {
	if schedule.IsClosed {
		return nil, nil
	}
	grid, err := buildGrid(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), schedule)
	if err != nil {
		return nil, err
	}
	labels := make([]string, len(grid))
	for i, s := range grid {
		labels[i] = s.Label()
	}
	return labels, nil
}

// IsOnGrid reports whether slot is one of the schedule's start times.
func IsOnGrid(schedule Schedule, slot string) bool {
	labels, err := Labels(schedule)
	if err != nil {
		return false
	}
	for _, l := range labels {
		if l == slot {
			return true
		}
	}
	return false
}

// ToSlotInfo converts slots to SlotInfo for UI.
func ToSlotInfo(slots []Slot) []SlotInfo {
	result := make([]SlotInfo, len(slots))
	for i, s := range slots {
		result[i] = SlotInfo{
			Start:     s.StartTime.Format(models.TimeLayout),
			End:       s.EndTime.Format(models.TimeLayout),
			Available: s.Available,
		}
	}
	return result
}

// GetAvailableSlots returns only available slots.
func GetAvailableSlots(slots []Slot) []Slot {
	var available []Slot
	for _, s := range slots {
		if s.Available {
			available = append(available, s)
		}
	}
	return available
}

func parseTimeOnDate(date time.Time, timeStr string) (time.Time, error) {
	hour, minute, err := models.ParseSlotTime(timeStr)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, date.Location()), nil
}

func isOverlapping(start1, end1, start2, end2 time.Time) bool {
	return start1.Before(end2) && start2.Before(end1)
}
