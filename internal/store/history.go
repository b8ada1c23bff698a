package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"slotbook/internal/events"
	"slotbook/internal/models"
)

// Filter selects a subset of the appointment history.
type Filter string

const (
	FilterAll      Filter = "all"
	FilterUpcoming Filter = "upcoming"
	FilterPast     Filter = "past"
)

// ParseFilter maps a query value to a Filter. Empty means FilterAll.
func ParseFilter(s string) (Filter, error) {
	switch Filter(s) {
	case "", FilterAll:
		return FilterAll, nil
	case FilterUpcoming, FilterPast:
		return Filter(s), nil
	}
	return "", fmt.Errorf("unknown history filter %q", s)
}

// History returns appointments matching f sorted by date and time ascending.
func (s *Store) History(now time.Time, f Filter) []models.Appointment {
	all := s.List()
	out := make([]models.Appointment, 0, len(all))
	for i := range all {
		past := all[i].IsPast(now)
		switch {
		case f == FilterUpcoming && past:
			continue
		case f == FilterPast && !past:
			continue
		}
		out = append(out, all[i])
	}
	sortByStart(out)
	return out
}

// Upcoming returns at most limit appointments that start after now, soonest first.
func (s *Store) Upcoming(now time.Time, limit int) []models.Appointment {
	if limit <= 0 {
		limit = 3
	}
	out := s.History(now, FilterUpcoming)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Cancel removes an appointment that has not started yet.
func (s *Store) Cancel(ctx context.Context, id string, now time.Time) (models.Appointment, error) {
	s.mu.Lock()
	appt, ok := s.findLocked(id)
	if !ok {
		s.mu.Unlock()
		return models.Appointment{}, ErrNotFound
	}
	if appt.IsPast(now) {
		s.mu.Unlock()
		return models.Appointment{}, ErrPastAppointment
	}
	removed, _, err := s.removeLocked(ctx, id)
	s.mu.Unlock()
	if err != nil {
		return models.Appointment{}, err
	}

	s.logger.Info().
		Str("id", removed.ID).
		Str("date", removed.Date.String()).
		Str("time", removed.Time).
		Msg("appointment cancelled")
	s.publish(pendingEvent{events.AppointmentRemoved, removed})
	return removed, nil
}

func (s *Store) findLocked(id string) (models.Appointment, bool) {
	for _, a := range s.appointments {
		if a.ID == id {
			return a, true
		}
	}
	return models.Appointment{}, false
}

func sortByStart(appts []models.Appointment) {
	sort.SliceStable(appts, func(i, j int) bool {
		return appts[i].SortKey() < appts[j].SortKey()
	})
}
