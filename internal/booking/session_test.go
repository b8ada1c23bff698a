package booking

import (
	"context"
	"io"
	"testing"
	"time"

	"slotbook/internal/repository"
	"slotbook/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionStore(t *testing.T, clock *time.Time) *SessionStore {
	t.Helper()
	logger := zerolog.New(io.Discard)
	st := store.Open(context.Background(), repository.NewMemoryStorage(), &logger)
	now := func() time.Time { return *clock }

	ss := NewSessionStore(30*time.Minute, func() *Workflow {
		return NewWorkflow(st, Config{Now: now}, &logger)
	})
	ss.now = now
	t.Cleanup(ss.CloseAll)
	return ss
}

func TestSessionStore(t *testing.T) {
	clock := testNow
	ss := newTestSessionStore(t, &clock)

	_, ok := ss.Get("missing")
	assert.False(t, ok)

	created := ss.Create()
	require.NotNil(t, created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, StateSelectingDate, created.Workflow.Snapshot().State)

	got, ok := ss.Get(created.ID)
	require.True(t, ok)
	assert.Same(t, created, got)

	other := ss.Create()
	assert.NotEqual(t, created.ID, other.ID)
	assert.Equal(t, 2, ss.Len())

	assert.True(t, ss.Delete(created.ID))
	assert.False(t, ss.Delete(created.ID))
	_, ok = ss.Get(created.ID)
	assert.False(t, ok)

	_, err := created.Workflow.ChooseDate(context.Background(), "2025-06-10")
	assert.ErrorIs(t, err, ErrWorkflowClosed, "deleted sessions close their workflow")
}

func TestSessionStore_Expiry(t *testing.T) {
	clock := testNow
	ss := newTestSessionStore(t, &clock)

	idle := ss.Create()
	active := ss.Create()

	clock = clock.Add(20 * time.Minute)
	_, ok := ss.Get(active.ID)
	require.True(t, ok)

	clock = clock.Add(15 * time.Minute)
	assert.Equal(t, 1, ss.Cleanup())
	assert.Equal(t, 1, ss.Len())

	_, ok = ss.Get(idle.ID)
	assert.False(t, ok)
	assert.Equal(t, ErrWorkflowClosed, idle.Workflow.SetMode(ModeAdmin))

	clock = clock.Add(31 * time.Minute)
	_, ok = ss.Get(active.ID)
	assert.False(t, ok, "expired sessions are dropped on access")
	assert.Equal(t, 0, ss.Len())
}

func TestSession_WorkflowActivityKeepsAlive(t *testing.T) {
	clock := testNow
	ss := newTestSessionStore(t, &clock)
	s := ss.Create()

	clock = clock.Add(25 * time.Minute)
	_, err := s.Workflow.ChooseDate(context.Background(), "2025-06-10")
	require.NoError(t, err)

	clock = clock.Add(25 * time.Minute)
	assert.False(t, s.IsExpired(clock, 30*time.Minute))
	assert.Equal(t, 0, ss.Cleanup())
}

func TestSessionStore_BusyWorkflowDoesNotBlockLookups(t *testing.T) {
	clock := testNow
	ss := newTestSessionStore(t, &clock)
	busy := ss.Create()
	other := ss.Create()

	// Hold the workflow lock the way a submit waiting on storage does.
	busy.Workflow.mu.Lock()
	cleaned := make(chan int, 1)
	go func() { cleaned <- ss.Cleanup() }()

	lookedUp := make(chan bool, 1)
	go func() {
		_, ok := ss.Get(other.ID)
		lookedUp <- ok
	}()

	select {
	case ok := <-lookedUp:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Get blocked behind a busy workflow")
	}
	assert.Equal(t, 2, ss.Len())

	busy.Workflow.mu.Unlock()
	select {
	case n := <-cleaned:
		assert.Zero(t, n)
	case <-time.After(time.Second):
		t.Fatal("Cleanup did not finish")
	}
}
