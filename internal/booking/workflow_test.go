package booking

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"slotbook/internal/models"
	"slotbook/internal/profile"
	"slotbook/internal/repository"
	"slotbook/internal/slots"
	"slotbook/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testNow is a week before the dates used below.
var testNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.Local)

type failingStorage struct {
	*repository.MemoryStorage
	mu   sync.Mutex
	fail bool
}

func (f *failingStorage) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *failingStorage) SetMulti(ctx context.Context, entries map[string]string) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errors.New("quota exceeded")
	}
	return f.MemoryStorage.SetMulti(ctx, entries)
}

type fixture struct {
	wf      *Workflow
	store   *store.Store
	storage *failingStorage

	mu      sync.Mutex
	results []string
}

func (f *fixture) submitResults() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.results...)
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()
	logger := zerolog.New(io.Discard)
	f := &fixture{storage: &failingStorage{MemoryStorage: repository.NewMemoryStorage()}}
	f.store = store.Open(context.Background(), f.storage, &logger)

	cfg := Config{
		Schedule:          slots.Schedule{StartTime: "09:00", EndTime: "17:00", SlotDuration: 30},
		ConfirmationDwell: time.Hour,
		Now:               func() time.Time { return testNow },
		OnSubmit: func(result string) {
			f.mu.Lock()
			f.results = append(f.results, result)
			f.mu.Unlock()
		},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	f.wf = NewWorkflow(f.store, cfg, &logger)
	t.Cleanup(f.wf.Close)
	return f
}

func (f *fixture) toDetails(t *testing.T, date models.Date, slot string) {
	t.Helper()
	_, err := f.wf.ChooseDate(context.Background(), date)
	require.NoError(t, err)
	require.NoError(t, f.wf.ChooseTime(context.Background(), slot))
	require.NoError(t, f.wf.SetDetails(Details{Name: "Ann", Email: "a@x.com", Notes: "checkup"}))
}

func TestWorkflow_HappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	choice, err := f.wf.ChooseDate(ctx, "2025-06-10")
	require.NoError(t, err)
	assert.False(t, choice.Toggled)

	snap := f.wf.Snapshot()
	assert.Equal(t, StateSelectingTime, snap.State)
	assert.Equal(t, models.Date("2025-06-10"), snap.Date)
	assert.Empty(t, snap.Time)

	require.NoError(t, f.wf.ChooseTime(ctx, "09:00"))
	assert.Equal(t, StateEnteringDetails, f.wf.Snapshot().State)

	require.NoError(t, f.wf.SetDetails(Details{Name: " Ann ", Email: "a@x.com", Notes: "checkup"}))
	appt, err := f.wf.Submit(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, appt.ID)
	assert.Equal(t, "Ann", appt.Name)

	snap = f.wf.Snapshot()
	assert.Equal(t, StateConfirmed, snap.State)
	assert.False(t, snap.Submitting)
	assert.Empty(t, snap.Details.Name)
	assert.Empty(t, snap.Details.Email)
	assert.Equal(t, "checkup", snap.Details.Notes)
	require.NotNil(t, snap.LastBooking)
	assert.Equal(t, appt.ID, snap.LastBooking.ID)

	assert.False(t, f.store.IsSlotFree("2025-06-10", "09:00"))
	assert.Equal(t, []string{SubmitSuccess}, f.submitResults())

	// Confirmed only allows a reset.
	_, err = f.wf.ChooseDate(ctx, "2025-06-11")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	f.wf.Reset()
	assert.Equal(t, StateSelectingDate, f.wf.Snapshot().State)
}

func TestWorkflow_ConfirmationDwellResets(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.ConfirmationDwell = 10 * time.Millisecond })
	f.toDetails(t, "2025-06-10", "10:00")

	_, err := f.wf.Submit(context.Background())
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		s := f.wf.Snapshot()
		return s.State == StateSelectingDate && s.Date == "" && s.Time == ""
	}, time.Second, 5*time.Millisecond)
}

func TestWorkflow_StaleDwellIsIgnoredAfterReset(t *testing.T) {
	f := newFixture(t)
	f.toDetails(t, "2025-06-10", "10:00")
	_, err := f.wf.Submit(context.Background())
	require.NoError(t, err)

	f.wf.mu.Lock()
	confirmedGen := f.wf.gen
	f.wf.mu.Unlock()

	f.wf.Reset()
	_, err = f.wf.ChooseDate(context.Background(), "2025-06-11")
	require.NoError(t, err)

	f.wf.completeConfirmation(confirmedGen)

	snap := f.wf.Snapshot()
	assert.Equal(t, StateSelectingTime, snap.State)
	assert.Equal(t, models.Date("2025-06-11"), snap.Date)
}

func TestWorkflow_RechoosingDateClearsTime(t *testing.T) {
	f := newFixture(t)
	f.toDetails(t, "2025-06-10", "09:00")

	_, err := f.wf.ChooseDate(context.Background(), "2025-06-12")
	require.NoError(t, err)

	snap := f.wf.Snapshot()
	assert.Equal(t, StateSelectingTime, snap.State)
	assert.Equal(t, models.Date("2025-06-12"), snap.Date)
	assert.Empty(t, snap.Time)
}

func TestWorkflow_ResetFromEveryState(t *testing.T) {
	steps := map[State]func(t *testing.T, f *fixture){
		StateSelectingDate: func(*testing.T, *fixture) {},
		StateSelectingTime: func(t *testing.T, f *fixture) {
			_, err := f.wf.ChooseDate(context.Background(), "2025-06-10")
			require.NoError(t, err)
		},
		StateEnteringDetails: func(t *testing.T, f *fixture) {
			f.toDetails(t, "2025-06-10", "09:00")
		},
		StateConfirmed: func(t *testing.T, f *fixture) {
			f.toDetails(t, "2025-06-10", "09:00")
			_, err := f.wf.Submit(context.Background())
			require.NoError(t, err)
		},
	}

	for state, reach := range steps {
		t.Run(string(state), func(t *testing.T) {
			f := newFixture(t)
			reach(t, f)
			require.Equal(t, state, f.wf.Snapshot().State)
			require.NoError(t, f.wf.SetDetails(Details{Name: "Kept", Email: "k@x.com"}))

			f.wf.Reset()

			snap := f.wf.Snapshot()
			assert.Equal(t, StateSelectingDate, snap.State)
			assert.Empty(t, snap.Date)
			assert.Empty(t, snap.Time)
			assert.Equal(t, "Kept", snap.Details.Name)
		})
	}
}

func TestWorkflow_UserModeDateRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.BlockDate(ctx, "2025-06-10"))

	tests := []struct {
		name string
		date models.Date
		want error
	}{
		{"yesterday", "2025-05-31", ErrDateInPast},
		{"blocked", "2025-06-10", ErrDateBlocked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.wf.ChooseDate(ctx, tt.date)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, "date", verr.Field)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, StateSelectingDate, f.wf.Snapshot().State)
		})
	}

	_, err := f.wf.ChooseDate(ctx, "June 10")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = f.wf.ChooseDate(ctx, "2025-06-01")
	assert.NoError(t, err, "today is selectable")
}

func TestWorkflow_AdminModeToggles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.wf.SetMode(ModeAdmin))

	choice, err := f.wf.ChooseDate(ctx, "2025-06-10")
	require.NoError(t, err)
	assert.True(t, choice.Toggled)
	assert.True(t, choice.Blocked)
	assert.True(t, f.store.IsBlocked("2025-06-10"))

	choice, err = f.wf.ChooseDate(ctx, "2025-06-10")
	require.NoError(t, err)
	assert.False(t, choice.Blocked)
	assert.False(t, f.store.IsBlocked("2025-06-10"))

	// Past dates are toggle targets too.
	choice, err = f.wf.ChooseDate(ctx, "2025-05-01")
	require.NoError(t, err)
	assert.True(t, choice.Blocked)

	snap := f.wf.Snapshot()
	assert.Equal(t, StateSelectingDate, snap.State)
	assert.Equal(t, ModeAdmin, snap.Mode)
	assert.Empty(t, snap.Date)

	assert.ErrorIs(t, f.wf.SetMode("root"), ErrUnknownMode)
}

func TestWorkflow_BlockedDateEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.BlockDate(ctx, "2025-06-10"))

	_, err := f.wf.ChooseDate(ctx, "2025-06-10")
	assert.ErrorIs(t, err, ErrDateBlocked)

	require.NoError(t, f.wf.SetMode(ModeAdmin))
	choice, err := f.wf.ChooseDate(ctx, "2025-06-10")
	require.NoError(t, err)
	assert.False(t, choice.Blocked)
	assert.False(t, f.store.IsBlocked("2025-06-10"))

	require.NoError(t, f.wf.SetMode(ModeUser))
	_, err = f.wf.ChooseDate(ctx, "2025-06-10")
	assert.NoError(t, err)
}

func TestWorkflow_ChooseTimeRules(t *testing.T) {
	ctx := context.Background()

	t.Run("NoDate", func(t *testing.T) {
		f := newFixture(t)
		assert.ErrorIs(t, f.wf.ChooseTime(ctx, "09:00"), ErrInvalidTransition)
	})

	t.Run("OffGrid", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.wf.ChooseDate(ctx, "2025-06-10")
		require.NoError(t, err)
		for _, slot := range []string{"09:15", "17:00", "08:30", "nine"} {
			assert.ErrorIs(t, f.wf.ChooseTime(ctx, slot), ErrTimeNotOnGrid, slot)
		}
		assert.Equal(t, StateSelectingTime, f.wf.Snapshot().State)
	})

	t.Run("Booked", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.store.Add(ctx, models.Draft{Date: "2025-06-10", Time: "11:00", Name: "B", Email: "b@x.com"})
		require.NoError(t, err)
		_, err = f.wf.ChooseDate(ctx, "2025-06-10")
		require.NoError(t, err)
		assert.ErrorIs(t, f.wf.ChooseTime(ctx, "11:00"), ErrSlotUnavailable)
	})

	t.Run("AlreadyStarted", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.wf.ChooseDate(ctx, "2025-06-01")
		require.NoError(t, err)
		assert.ErrorIs(t, f.wf.ChooseTime(ctx, "08:30"), ErrTimeNotOnGrid)
		assert.NoError(t, f.wf.ChooseTime(ctx, "09:00"), "a slot starting now has not started yet")
	})

	t.Run("PastSlotToday", func(t *testing.T) {
		f := newFixture(t, func(c *Config) {
			c.Now = func() time.Time { return testNow.Add(90 * time.Minute) }
		})
		_, err := f.wf.ChooseDate(ctx, "2025-06-01")
		require.NoError(t, err)
		assert.ErrorIs(t, f.wf.ChooseTime(ctx, "10:00"), ErrTimeInPast)
		assert.NoError(t, f.wf.ChooseTime(ctx, "10:30"))
	})
}

func TestWorkflow_Slots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.wf.Slots(ctx)
	assert.ErrorIs(t, err, ErrDateRequired)

	_, err = f.store.Add(ctx, models.Draft{Date: "2025-06-10", Time: "09:30", Name: "B", Email: "b@x.com"})
	require.NoError(t, err)
	_, err = f.wf.ChooseDate(ctx, "2025-06-10")
	require.NoError(t, err)

	grid, err := f.wf.Slots(ctx)
	require.NoError(t, err)
	require.Len(t, grid, 16)
	assert.True(t, grid[0].Available)
	assert.False(t, grid[1].Available)
	assert.Len(t, slots.GetAvailableSlots(grid), 15)

	// Same answer every time.
	again, err := f.wf.Slots(ctx)
	require.NoError(t, err)
	assert.Equal(t, grid, again)
}

func TestWorkflow_SubmitValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("WrongState", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.wf.Submit(ctx)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	tests := []struct {
		name    string
		details Details
		field   string
		want    error
	}{
		{"missing name", Details{Name: "  ", Email: "a@x.com"}, "name", ErrNameRequired},
		{"missing email", Details{Name: "Ann"}, "email", ErrEmailRequired},
		{"bad email", Details{Name: "Ann", Email: "ann-at-example"}, "email", ErrEmailInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.toDetails(t, "2025-06-10", "09:00")
			require.NoError(t, f.wf.SetDetails(tt.details))

			_, err := f.wf.Submit(ctx)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.ErrorIs(t, err, tt.want)

			snap := f.wf.Snapshot()
			assert.Equal(t, StateEnteringDetails, snap.State)
			assert.False(t, snap.Submitting)
			assert.Empty(t, f.store.List())
			assert.Equal(t, []string{SubmitValidation}, f.submitResults())
		})
	}
}

func TestWorkflow_StaleSelection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.toDetails(t, "2025-06-10", "09:00")

	// Someone else books the slot while the form is open.
	_, err := f.store.Add(ctx, models.Draft{Date: "2025-06-10", Time: "09:00", Name: "B", Email: "b@x.com"})
	require.NoError(t, err)

	_, err = f.wf.Submit(ctx)
	var stale *StaleSelectionError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, "09:00", stale.Time)
	assert.ErrorIs(t, err, store.ErrSlotTaken)

	snap := f.wf.Snapshot()
	assert.Equal(t, StateEnteringDetails, snap.State)
	assert.Equal(t, "Ann", snap.Details.Name)
	assert.Len(t, f.store.List(), 1)

	// Retry with another slot.
	require.NoError(t, f.wf.ChooseTime(ctx, "09:30"))
	_, err = f.wf.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{SubmitStale, SubmitSuccess}, f.submitResults())
}

func TestWorkflow_DateBlockedAfterSelection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.toDetails(t, "2025-06-10", "09:00")

	require.NoError(t, f.store.BlockDate(ctx, "2025-06-10"))

	_, err := f.wf.Submit(ctx)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "date", verr.Field)
	assert.ErrorIs(t, err, ErrDateBlocked)

	snap := f.wf.Snapshot()
	assert.Equal(t, StateEnteringDetails, snap.State)
	assert.False(t, snap.Submitting)
	assert.Empty(t, f.store.List())
	assert.Equal(t, []string{SubmitValidation}, f.submitResults())

	// Unblocking lets the same selection go through.
	require.NoError(t, f.store.UnblockDate(ctx, "2025-06-10"))
	_, err = f.wf.Submit(ctx)
	require.NoError(t, err)
}

func TestWorkflow_StorageFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.toDetails(t, "2025-06-10", "09:00")

	f.storage.setFail(true)
	_, err := f.wf.Submit(ctx)
	var storageErr *store.StorageError
	require.ErrorAs(t, err, &storageErr)

	snap := f.wf.Snapshot()
	assert.Equal(t, StateEnteringDetails, snap.State)
	assert.False(t, snap.Submitting)
	assert.Empty(t, f.store.List())

	f.storage.setFail(false)
	_, err = f.wf.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{SubmitStorage, SubmitSuccess}, f.submitResults())
}

func startSubmit(ctx context.Context, f *fixture) <-chan error {
	done := make(chan error, 1)
	go func() {
		_, err := f.wf.Submit(ctx)
		done <- err
	}()
	return done
}

func waitSubmitting(t *testing.T, f *fixture) {
	t.Helper()
	require.Eventually(t, func() bool { return f.wf.Snapshot().Submitting }, time.Second, time.Millisecond)
}

func TestWorkflow_ResetAbandonsPendingSubmit(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.SubmitDelay = time.Hour })
	f.toDetails(t, "2025-06-10", "09:00")

	done := startSubmit(context.Background(), f)
	waitSubmitting(t, f)

	assert.ErrorIs(t, f.wf.SetDetails(Details{Name: "X"}), ErrSubmitInProgress)
	_, err := f.wf.Submit(context.Background())
	assert.ErrorIs(t, err, ErrSubmitInProgress)

	f.wf.Reset()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSubmitAbandoned)
	case <-time.After(time.Second):
		t.Fatal("submit did not return after reset")
	}

	snap := f.wf.Snapshot()
	assert.Equal(t, StateSelectingDate, snap.State)
	assert.False(t, snap.Submitting)
	assert.Empty(t, f.store.List())
}

func TestWorkflow_CallerCancelDuringDelay(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.SubmitDelay = time.Hour })
	f.toDetails(t, "2025-06-10", "09:00")

	ctx, cancel := context.WithCancel(context.Background())
	done := startSubmit(ctx, f)
	waitSubmitting(t, f)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("submit did not return after cancel")
	}

	snap := f.wf.Snapshot()
	assert.Equal(t, StateEnteringDetails, snap.State)
	assert.False(t, snap.Submitting)
	assert.Empty(t, f.store.List())
	assert.Equal(t, []string{SubmitAbandoned}, f.submitResults())
}

func TestWorkflow_SubmitAfterDelay(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.SubmitDelay = 20 * time.Millisecond })
	f.toDetails(t, "2025-06-10", "09:00")

	start := time.Now()
	_, err := f.wf.Submit(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, StateConfirmed, f.wf.Snapshot().State)
}

func TestWorkflow_Close(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.SubmitDelay = time.Hour })
	f.toDetails(t, "2025-06-10", "09:00")

	done := startSubmit(context.Background(), f)
	waitSubmitting(t, f)
	f.wf.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSubmitAbandoned)
	case <-time.After(time.Second):
		t.Fatal("submit did not return after close")
	}

	_, err := f.wf.ChooseDate(context.Background(), "2025-06-10")
	assert.ErrorIs(t, err, ErrWorkflowClosed)
	assert.ErrorIs(t, f.wf.SetMode(ModeAdmin), ErrWorkflowClosed)
	assert.Empty(t, f.store.List())
}

func TestWorkflow_Prefill(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.wf.SetDetails(Details{Name: "Typed"}))

	f.wf.Prefill(profile.Profile{Name: "Saved", Email: "saved@x.com"})

	snap := f.wf.Snapshot()
	assert.Equal(t, "Typed", snap.Details.Name)
	assert.Equal(t, "saved@x.com", snap.Details.Email)
}
