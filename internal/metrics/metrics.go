package metrics

import (
	"sync"

	"slotbook/internal/events"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	appointmentsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "slotbook",
			Name:      "appointments_created_total",
			Help:      "Count of appointments stored.",
		},
	)

	appointmentsRemoved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "slotbook",
			Name:      "appointments_removed_total",
			Help:      "Count of appointments removed or cancelled.",
		},
	)

	blockedDatesChanged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotbook",
			Name:      "blocked_dates_changed_total",
			Help:      "Count of blocked date changes by action.",
		},
		[]string{"action"},
	)

	bookingSubmit = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotbook",
			Name:      "booking_submit_total",
			Help:      "Count of booking submissions by result.",
		},
		[]string{"result"},
	)

	remindersDue = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "slotbook",
			Name:      "reminders_due_total",
			Help:      "Count of appointment reminders that fell due.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotbook",
			Name:      "http_requests_total",
			Help:      "Count of API requests by route pattern.",
		},
		[]string{"route"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(appointmentsCreated, appointmentsRemoved, blockedDatesChanged, bookingSubmit, remindersDue, httpRequests)
	})
}

// Subscribe feeds the store counters from bus events.
func Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.AppointmentCreated, func(events.Event) error {
		appointmentsCreated.Inc()
		return nil
	})
	bus.Subscribe(events.AppointmentRemoved, func(events.Event) error {
		appointmentsRemoved.Inc()
		return nil
	})
	bus.Subscribe(events.DateBlocked, func(events.Event) error {
		blockedDatesChanged.WithLabelValues("block").Inc()
		return nil
	})
	bus.Subscribe(events.DateUnblocked, func(events.Event) error {
		blockedDatesChanged.WithLabelValues("unblock").Inc()
		return nil
	})
	bus.Subscribe(events.ReminderDue, func(events.Event) error {
		remindersDue.Inc()
		return nil
	})
}

func IncBookingSubmit(result string) {
	bookingSubmit.WithLabelValues(result).Inc()
}

func IncHTTPRequest(route string) {
	httpRequests.WithLabelValues(route).Inc()
}
