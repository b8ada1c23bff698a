// Package store owns appointments and blocked dates and mirrors both to local storage.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"slotbook/internal/events"
	"slotbook/internal/models"
	"slotbook/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Storage keys of the persisted collections.
const (
	KeyAppointments = "appointments"
	KeyBlockedDates = "blockedDates"
)

var (
	ErrSlotTaken       = errors.New("slot already booked")
	ErrDateBlocked     = errors.New("date is blocked")
	ErrInvalidDraft    = errors.New("invalid appointment draft")
	ErrNotFound        = errors.New("appointment not found")
	ErrPastAppointment = errors.New("cannot cancel a past appointment")
)

// StorageError reports a failed durable write. In-memory state is left unchanged.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Publisher receives store events after they are persisted.
type Publisher interface {
	PublishJSON(eventType string, payload any) error
}

// Option configures a Store.
type Option func(*Store)

// WithPublisher sets the event publisher.
func WithPublisher(p Publisher) Option {
	return func(s *Store) { s.publisher = p }
}

// WithIDGenerator overrides uuid-based identifiers.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// Store is the single source of truth for appointments and blocked dates.
type Store struct {
	mu           sync.RWMutex
	storage      repository.Storage
	logger       *zerolog.Logger
	publisher    Publisher
	newID        func() string
	appointments []models.Appointment
	blocked      []models.Date
}

type pendingEvent struct {
	typ     string
	payload any
}

type datePayload struct {
	Date models.Date `json:"date"`
}

// Open loads both collections from storage. Missing, unreadable or malformed records
// are treated as empty.
func Open(ctx context.Context, storage repository.Storage, logger *zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		storage:      storage,
		logger:       logger,
		newID:        uuid.NewString,
		appointments: []models.Appointment{},
		blocked:      []models.Date{},
	}
	for _, opt := range opts {
		opt(s)
	}

	var appts []models.Appointment
	if s.load(ctx, KeyAppointments, &appts) && appts != nil {
		s.appointments = appts
	}

	var blocked []models.Date
	if s.load(ctx, KeyBlockedDates, &blocked) {
		for _, d := range blocked {
			if !slices.Contains(s.blocked, d) {
				s.blocked = append(s.blocked, d)
			}
		}
	}

	logger.Debug().
		Int("appointments", len(s.appointments)).
		Int("blocked_dates", len(s.blocked)).
		Msg("appointment store loaded")
	return s
}

func (s *Store) load(ctx context.Context, key string, out any) bool {
	raw, ok, err := s.storage.Get(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("failed to read stored state, starting empty")
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("malformed stored state, starting empty")
		return false
	}
	return true
}

// persist writes both full collections in one atomic call.
func (s *Store) persist(ctx context.Context, op string, appts []models.Appointment, blocked []models.Date) error {
	apptJSON, err := json.Marshal(appts)
	if err != nil {
		return &StorageError{Op: op, Err: err}
	}
	blockedJSON, err := json.Marshal(blocked)
	if err != nil {
		return &StorageError{Op: op, Err: err}
	}
	err = s.storage.SetMulti(ctx, map[string]string{
		KeyAppointments: string(apptJSON),
		KeyBlockedDates: string(blockedJSON),
	})
	if err != nil {
		s.logger.Error().Err(err).Str("op", op).Msg("failed to persist appointment store")
		return &StorageError{Op: op, Err: err}
	}
	return nil
}

func (s *Store) publish(evs ...pendingEvent) {
	if s.publisher == nil {
		return
	}
	for _, ev := range evs {
		if err := s.publisher.PublishJSON(ev.typ, ev.payload); err != nil {
			s.logger.Warn().Err(err).Str("event", ev.typ).Msg("failed to publish event")
		}
	}
}

// List returns all appointments in stored order.
func (s *Store) List() []models.Appointment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.appointments)
}

// Get returns the appointment with id.
func (s *Store) Get(id string) (models.Appointment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findLocked(id)
}

// Add stores a new appointment without checking for double-booking.
func (s *Store) Add(ctx context.Context, d models.Draft) (models.Appointment, error) {
	if err := d.Validate(); err != nil {
		return models.Appointment{}, fmt.Errorf("%w: %v", ErrInvalidDraft, err)
	}
	s.mu.Lock()
	appt, err := s.insertLocked(ctx, "add", d)
	s.mu.Unlock()
	if err != nil {
		return models.Appointment{}, err
	}
	s.publish(pendingEvent{events.AppointmentCreated, appt})
	return appt, nil
}

// Reserve stores a new appointment only if its date is not blocked and its
// (date, time) slot is free. The checks and the write happen under one lock.
func (s *Store) Reserve(ctx context.Context, d models.Draft) (models.Appointment, error) {
	if err := d.Validate(); err != nil {
		return models.Appointment{}, fmt.Errorf("%w: %v", ErrInvalidDraft, err)
	}
	s.mu.Lock()
	if slices.Contains(s.blocked, d.Date) {
		s.mu.Unlock()
		return models.Appointment{}, ErrDateBlocked
	}
	if !s.isSlotFreeLocked(d.Date, d.Time) {
		s.mu.Unlock()
		return models.Appointment{}, ErrSlotTaken
	}
	appt, err := s.insertLocked(ctx, "reserve", d)
	s.mu.Unlock()
	if err != nil {
		return models.Appointment{}, err
	}
	s.publish(pendingEvent{events.AppointmentCreated, appt})
	return appt, nil
}

func (s *Store) insertLocked(ctx context.Context, op string, d models.Draft) (models.Appointment, error) {
	appt := models.Appointment{
		ID:    s.newID(),
		Date:  d.Date,
		Time:  d.Time,
		Name:  d.Name,
		Email: d.Email,
		Notes: d.Notes,
	}
	next := append(slices.Clone(s.appointments), appt)
	if err := s.persist(ctx, op, next, s.blocked); err != nil {
		return models.Appointment{}, err
	}
	s.appointments = next
	return appt, nil
}

// Remove deletes the appointment with id. An unknown id is a no-op.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	removed, ok, err := s.removeLocked(ctx, id)
	s.mu.Unlock()
	if err != nil || !ok {
		return err
	}
	s.publish(pendingEvent{events.AppointmentRemoved, removed})
	return nil
}

func (s *Store) removeLocked(ctx context.Context, id string) (models.Appointment, bool, error) {
	idx := slices.IndexFunc(s.appointments, func(a models.Appointment) bool { return a.ID == id })
	if idx < 0 {
		return models.Appointment{}, false, nil
	}
	removed := s.appointments[idx]
	next := slices.Delete(slices.Clone(s.appointments), idx, idx+1)
	if err := s.persist(ctx, "remove", next, s.blocked); err != nil {
		return models.Appointment{}, false, err
	}
	s.appointments = next
	return removed, true, nil
}

// AppointmentsOn returns all appointments on date.
func (s *Store) AppointmentsOn(date models.Date) []models.Appointment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Appointment
	for _, a := range s.appointments {
		if a.Date == date {
			out = append(out, a)
		}
	}
	return out
}

// IsSlotFree reports whether no appointment occupies (date, slot). The answer is a
// snapshot; use Reserve to book.
func (s *Store) IsSlotFree(date models.Date, slot string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isSlotFreeLocked(date, slot)
}

func (s *Store) isSlotFreeLocked(date models.Date, slot string) bool {
	for i := range s.appointments {
		if s.appointments[i].Occupies(date, slot) {
			return false
		}
	}
	return true
}

// BlockDate marks date unavailable. Blocking an already blocked date does nothing.
func (s *Store) BlockDate(ctx context.Context, date models.Date) error {
	s.mu.Lock()
	changed, err := s.setBlockedLocked(ctx, date, true)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if changed {
		s.publish(pendingEvent{events.DateBlocked, datePayload{date}})
	}
	return nil
}

// UnblockDate clears the blocked mark. Unblocking a free date does nothing.
func (s *Store) UnblockDate(ctx context.Context, date models.Date) error {
	s.mu.Lock()
	changed, err := s.setBlockedLocked(ctx, date, false)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if changed {
		s.publish(pendingEvent{events.DateUnblocked, datePayload{date}})
	}
	return nil
}

// ToggleBlocked flips the blocked status of date and returns the new status.
func (s *Store) ToggleBlocked(ctx context.Context, date models.Date) (bool, error) {
	s.mu.Lock()
	block := !slices.Contains(s.blocked, date)
	_, err := s.setBlockedLocked(ctx, date, block)
	s.mu.Unlock()
	if err != nil {
		return !block, err
	}
	typ := events.DateUnblocked
	if block {
		typ = events.DateBlocked
	}
	s.publish(pendingEvent{typ, datePayload{date}})
	return block, nil
}

func (s *Store) setBlockedLocked(ctx context.Context, date models.Date, block bool) (bool, error) {
	idx := slices.Index(s.blocked, date)
	var next []models.Date
	switch {
	case block && idx < 0:
		next = append(slices.Clone(s.blocked), date)
	case !block && idx >= 0:
		next = slices.Delete(slices.Clone(s.blocked), idx, idx+1)
	default:
		return false, nil
	}

	op := "unblock"
	if block {
		op = "block"
	}
	if err := s.persist(ctx, op, s.appointments, next); err != nil {
		return false, err
	}
	s.blocked = next
	return true, nil
}

// IsBlocked reports whether date is blocked.
func (s *Store) IsBlocked(date models.Date) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.blocked, date)
}

// BlockedDates returns the blocked dates in insertion order.
func (s *Store) BlockedDates() []models.Date {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.blocked)
}
