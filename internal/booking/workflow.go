package booking

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"slotbook/internal/models"
	"slotbook/internal/profile"
	"slotbook/internal/slots"
	"slotbook/internal/store"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Store is the part of the appointment store the workflow depends on.
type Store interface {
	slots.SlotChecker
	IsBlocked(date models.Date) bool
	Reserve(ctx context.Context, d models.Draft) (models.Appointment, error)
	ToggleBlocked(ctx context.Context, date models.Date) (bool, error)
}

// Submit outcomes reported to Config.OnSubmit.
const (
	SubmitSuccess    = "success"
	SubmitValidation = "validation"
	SubmitStale      = "stale"
	SubmitStorage    = "storage"
	SubmitAbandoned  = "abandoned"
	SubmitError      = "error"
)

// Config tunes a Workflow.
type Config struct {
	Schedule          slots.Schedule
	SubmitDelay       time.Duration
	ConfirmationDwell time.Duration
	Now               func() time.Time
	OnSubmit          func(result string)
}

// Details are the contact fields of the booking form.
type Details struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Notes string `json:"notes,omitempty"`
}

// DateChoice describes the effect of ChooseDate.
type DateChoice struct {
	Date    models.Date `json:"date"`
	Toggled bool        `json:"toggled"` // admin mode
	Blocked bool        `json:"blocked"`
}

// Snapshot is a consistent copy of the workflow for rendering.
type Snapshot struct {
	State       State               `json:"state"`
	Mode        Mode                `json:"mode"`
	Date        models.Date         `json:"date,omitempty"`
	Time        string              `json:"time,omitempty"`
	Details     Details             `json:"details"`
	Submitting  bool                `json:"submitting"`
	LastBooking *models.Appointment `json:"last_booking,omitempty"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Workflow drives one user through date, time and contact details to a stored booking.
// Methods are safe for concurrent use.
type Workflow struct {
	mu       sync.Mutex
	fsm      *FSM
	store    Store
	slots    *slots.Generator
	validate *validator.Validate
	cfg      Config
	logger   *zerolog.Logger

	// lifetime of the workflow; delayed tasks derive from it
	ctx        context.Context
	cancel     context.CancelFunc
	taskCancel context.CancelFunc
	gen        uint64
	closed     bool

	mode       Mode
	state      State
	date       models.Date
	time       string
	details    Details
	submitting bool
	lastBooked *models.Appointment
	updatedAt  time.Time
}

// NewWorkflow creates a workflow in StateSelectingDate and user mode.
func NewWorkflow(st Store, cfg Config, logger *zerolog.Logger) *Workflow {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Workflow{
		fsm:       NewFSM(),
		store:     st,
		slots:     slots.NewGenerator(st, cfg.Now),
		validate:  newValidator(),
		cfg:       cfg,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		mode:      ModeUser,
		state:     StateSelectingDate,
		updatedAt: cfg.Now(),
	}
}

func (w *Workflow) transitionLocked(to State) error {
	if !w.fsm.CanTransition(w.state, to) {
		return ErrInvalidTransition
	}
	if w.state != to {
		w.logger.Debug().Str("from", string(w.state)).Str("to", string(to)).Msg("workflow transition")
	}
	w.state = to
	return nil
}

func (w *Workflow) touchLocked() { w.updatedAt = w.cfg.Now() }

func (w *Workflow) guardLocked() error {
	if w.closed {
		return ErrWorkflowClosed
	}
	if w.submitting {
		return ErrSubmitInProgress
	}
	return nil
}

// ChooseDate selects a date in user mode and toggles its blocked status in admin mode.
func (w *Workflow) ChooseDate(ctx context.Context, date models.Date) (DateChoice, error) {
	date, err := models.ParseDate(string(date))
	if err != nil {
		return DateChoice{}, &ValidationError{Field: "date", Err: err}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.guardLocked(); err != nil {
		return DateChoice{}, err
	}
	w.touchLocked()

	if w.mode == ModeAdmin {
		blocked, err := w.store.ToggleBlocked(ctx, date)
		if err != nil {
			return DateChoice{}, err
		}
		w.logger.Info().Str("date", date.String()).Bool("blocked", blocked).Msg("date availability toggled")
		return DateChoice{Date: date, Toggled: true, Blocked: blocked}, nil
	}

	if date.Before(models.DateOf(w.cfg.Now())) {
		return DateChoice{}, &ValidationError{Field: "date", Err: ErrDateInPast}
	}
	if w.store.IsBlocked(date) {
		return DateChoice{}, &ValidationError{Field: "date", Err: ErrDateBlocked}
	}
	if err := w.transitionLocked(StateSelectingTime); err != nil {
		return DateChoice{}, err
	}
	w.date = date
	w.time = ""
	return DateChoice{Date: date}, nil
}

// Slots returns the grid for the chosen date with availability filled in.
func (w *Workflow) Slots(ctx context.Context) ([]slots.Slot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.date == "" {
		return nil, &ValidationError{Field: "date", Err: ErrDateRequired}
	}
	return w.slots.GenerateSlots(ctx, w.date, w.cfg.Schedule)
}

// ChooseTime selects a free slot on the chosen date.
func (w *Workflow) ChooseTime(ctx context.Context, slot string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.guardLocked(); err != nil {
		return err
	}
	if w.date == "" || !w.fsm.CanTransition(w.state, StateEnteringDetails) {
		return ErrInvalidTransition
	}
	if !slots.IsOnGrid(w.cfg.Schedule, slot) {
		return &ValidationError{Field: "time", Err: ErrTimeNotOnGrid}
	}

	grid, err := w.slots.GenerateSlots(ctx, w.date, w.cfg.Schedule)
	if err != nil {
		return err
	}
	var found *slots.Slot
	for i := range grid {
		if grid[i].Label() == slot {
			found = &grid[i]
			break
		}
	}
	switch {
	case found == nil:
		return &ValidationError{Field: "time", Err: ErrTimeNotOnGrid}
	case found.Booked:
		return &ValidationError{Field: "time", Err: ErrSlotUnavailable}
	case found.Past:
		return &ValidationError{Field: "time", Err: ErrTimeInPast}
	}

	if err := w.transitionLocked(StateEnteringDetails); err != nil {
		return err
	}
	w.time = slot
	w.touchLocked()
	return nil
}

// SetDetails replaces the contact fields. It is allowed in every state.
func (w *Workflow) SetDetails(d Details) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.guardLocked(); err != nil {
		return err
	}
	w.details = d
	w.touchLocked()
	return nil
}

// Prefill copies name and email from the saved profile into empty contact fields.
func (w *Workflow) Prefill(p profile.Profile) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.details.Name == "" {
		w.details.Name = p.Name
	}
	if w.details.Email == "" {
		w.details.Email = p.Email
	}
}

// Submit books the selected slot after the configured delay.
//
// On a stale selection or a storage failure the workflow stays in
// StateEnteringDetails so the caller may retry. On success it enters
// StateConfirmed and returns to StateSelectingDate once the dwell elapses.
func (w *Workflow) Submit(ctx context.Context) (models.Appointment, error) {
	w.mu.Lock()
	if err := w.guardLocked(); err != nil {
		w.mu.Unlock()
		return models.Appointment{}, err
	}
	if w.state != StateEnteringDetails || w.date == "" || w.time == "" {
		w.mu.Unlock()
		return models.Appointment{}, ErrInvalidTransition
	}
	if err := validateContact(w.validate, w.details); err != nil {
		w.mu.Unlock()
		w.observe(SubmitValidation)
		return models.Appointment{}, err
	}

	draft := models.Draft{
		Date:  w.date,
		Time:  w.time,
		Name:  strings.TrimSpace(w.details.Name),
		Email: strings.TrimSpace(w.details.Email),
		Notes: w.details.Notes,
	}
	w.submitting = true
	w.touchLocked()
	taskCtx := w.startTaskLocked()
	gen := w.gen
	delay := w.cfg.SubmitDelay
	w.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-taskCtx.Done():
			w.observe(SubmitAbandoned)
			return models.Appointment{}, ErrSubmitAbandoned
		case <-ctx.Done():
			w.abandonSubmit(gen)
			w.observe(SubmitAbandoned)
			return models.Appointment{}, ctx.Err()
		}
	}

	appt, result, err := w.finishSubmit(ctx, gen, draft)
	w.observe(result)
	return appt, err
}

func (w *Workflow) finishSubmit(ctx context.Context, gen uint64, draft models.Draft) (models.Appointment, string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.gen != gen {
		return models.Appointment{}, SubmitAbandoned, ErrSubmitAbandoned
	}
	w.submitting = false
	w.cancelTaskLocked()
	w.touchLocked()

	appt, err := w.store.Reserve(ctx, draft)
	if err != nil {
		if errors.Is(err, store.ErrSlotTaken) {
			w.logger.Info().Str("date", draft.Date.String()).Str("time", draft.Time).Msg("selected slot was taken before submit")
			return models.Appointment{}, SubmitStale, &StaleSelectionError{Date: draft.Date, Time: draft.Time}
		}
		if errors.Is(err, store.ErrDateBlocked) {
			return models.Appointment{}, SubmitValidation, &ValidationError{Field: "date", Err: ErrDateBlocked}
		}
		var storageErr *store.StorageError
		if errors.As(err, &storageErr) {
			return models.Appointment{}, SubmitStorage, err
		}
		return models.Appointment{}, SubmitError, err
	}

	if err := w.transitionLocked(StateConfirmed); err != nil {
		return appt, SubmitError, err
	}
	w.lastBooked = &appt
	w.details.Name = ""
	w.details.Email = ""
	w.logger.Info().
		Str("id", appt.ID).
		Str("date", appt.Date.String()).
		Str("time", appt.Time).
		Msg("appointment booked")

	w.scheduleDwellLocked()
	return appt, SubmitSuccess, nil
}

func (w *Workflow) abandonSubmit(gen uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.gen == gen {
		w.submitting = false
		w.cancelTaskLocked()
	}
}

func (w *Workflow) observe(result string) {
	if w.cfg.OnSubmit != nil {
		w.cfg.OnSubmit(result)
	}
}

// startTaskLocked replaces the pending task context.
func (w *Workflow) startTaskLocked() context.Context {
	w.cancelTaskLocked()
	ctx, cancel := context.WithCancel(w.ctx)
	w.taskCancel = cancel
	return ctx
}

func (w *Workflow) cancelTaskLocked() {
	if w.taskCancel != nil {
		w.taskCancel()
		w.taskCancel = nil
	}
}

func (w *Workflow) scheduleDwellLocked() {
	ctx := w.startTaskLocked()
	gen := w.gen
	dwell := w.cfg.ConfirmationDwell

	go func() {
		timer := time.NewTimer(dwell)
		defer timer.Stop()
		select {
		case <-timer.C:
			w.completeConfirmation(gen)
		case <-ctx.Done():
		}
	}()
}

// completeConfirmation resets a confirmed workflow unless it moved on since gen.
func (w *Workflow) completeConfirmation(gen uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.gen != gen || w.state != StateConfirmed {
		return
	}
	w.resetLocked()
}

// Reset returns to StateSelectingDate and clears date and time. Contact fields are kept.
// A pending submit delay or confirmation dwell is cancelled.
func (w *Workflow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.resetLocked()
}

func (w *Workflow) resetLocked() {
	w.gen++
	w.cancelTaskLocked()
	w.submitting = false
	w.date = ""
	w.time = ""
	// Every state may return to selecting a date.
	_ = w.transitionLocked(StateSelectingDate)
	w.touchLocked()
}

// SetMode switches between user and admin mode. Selections are kept.
func (w *Workflow) SetMode(mode Mode) error {
	if _, err := ParseMode(string(mode)); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWorkflowClosed
	}
	w.mode = mode
	w.touchLocked()
	return nil
}

// Close cancels pending tasks for good. Later calls return ErrWorkflowClosed.
func (w *Workflow) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.gen++
	w.cancelTaskLocked()
	w.cancel()
}

// Snapshot returns a copy of the current workflow state.
func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Snapshot{
		State:      w.state,
		Mode:       w.mode,
		Date:       w.date,
		Time:       w.time,
		Details:    w.details,
		Submitting: w.submitting,
		UpdatedAt:  w.updatedAt,
	}
	if w.lastBooked != nil {
		appt := *w.lastBooked
		s.LastBooking = &appt
	}
	return s
}

// LastActivity returns the time of the last mutating call.
func (w *Workflow) LastActivity() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.updatedAt
}
