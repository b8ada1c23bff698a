// Package reminder announces appointments that fall inside the profile's reminder window.
package reminder

import (
	"context"
	"sync"
	"time"

	"slotbook/internal/events"
	"slotbook/internal/models"
	"slotbook/internal/profile"
	"slotbook/internal/repository"
	"slotbook/internal/store"

	"github.com/rs/zerolog"
)

// Source lists appointments; *store.Store satisfies it.
type Source interface {
	History(now time.Time, f store.Filter) []models.Appointment
}

type Publisher interface {
	PublishJSON(eventType string, payload any) error
}

// Due is the payload of an events.ReminderDue event.
type Due struct {
	ID       string      `json:"id"`
	Date     models.Date `json:"date"`
	Time     string      `json:"time"`
	Name     string      `json:"name"`
	Email    string      `json:"email"`
	StartsAt time.Time   `json:"startsAt"`
}

type Service struct {
	source  Source
	storage repository.Storage
	pub     Publisher
	logger  *zerolog.Logger
	now     func() time.Time

	mu   sync.Mutex
	sent map[string]struct{}
}

func NewService(source Source, storage repository.Storage, pub Publisher, logger *zerolog.Logger) *Service {
	return &Service{
		source:  source,
		storage: storage,
		pub:     pub,
		logger:  logger,
		now:     time.Now,
		sent:    make(map[string]struct{}),
	}
}

// LeadTime converts a reminderTime preference ("24h", "3h", "1h") to a duration.
func LeadTime(pref string) time.Duration {
	d, err := time.ParseDuration(pref)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// Start checks for due reminders every interval until ctx is done.
func (s *Service) Start(ctx context.Context, interval time.Duration) {
	if s == nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.CheckOnce(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("reminder: check failed")
			}
		}
	}
}

// CheckOnce publishes a reminder for every upcoming appointment that starts within
// the lead time and has not been announced yet. It returns how many were published.
func (s *Service) CheckOnce(ctx context.Context) (int, error) {
	p, err := profile.Load(ctx, s.storage)
	if err != nil {
		return 0, err
	}
	if !p.EmailNotifications {
		return 0, nil
	}

	now := s.now()
	horizon := now.Add(LeadTime(p.ReminderTime))
	upcoming := s.source.History(now, store.FilterUpcoming)

	s.mu.Lock()
	defer s.mu.Unlock()

	live := make(map[string]struct{}, len(upcoming))
	for i := range upcoming {
		live[upcoming[i].ID] = struct{}{}
	}

	sent := 0
	for i := range upcoming {
		a := &upcoming[i]
		start, err := a.StartsAt(now.Location())
		if err != nil {
			continue
		}
		if start.After(horizon) {
			break
		}
		if _, done := s.sent[a.ID]; done {
			continue
		}

		due := Due{ID: a.ID, Date: a.Date, Time: a.Time, Name: a.Name, Email: a.Email, StartsAt: start}
		if err := s.pub.PublishJSON(events.ReminderDue, due); err != nil {
			s.logger.Warn().Err(err).Str("id", a.ID).Msg("reminder: publish failed")
			continue
		}
		s.sent[a.ID] = struct{}{}
		sent++

		s.logger.Info().
			Str("id", a.ID).
			Str("date", a.Date.String()).
			Str("time", a.Time).
			Str("email", a.Email).
			Msg("reminder due")
	}

	// Forget appointments that were removed or have started.
	for id := range s.sent {
		if _, ok := live[id]; !ok {
			delete(s.sent, id)
		}
	}
	return sent, nil
}
