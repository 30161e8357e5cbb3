package timer

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFire(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case id := <-ch:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for deadline to fire")
		return ""
	}
}

func TestScheduler_Fires(t *testing.T) {
	s := NewScheduler(zerolog.Nop())
	defer s.Shutdown()

	fired := make(chan string, 1)
	s.Schedule("sess-1", time.Now().Add(10*time.Millisecond), func(id string) { fired <- id })

	assert.Equal(t, "sess-1", waitFire(t, fired))
	assert.False(t, s.Pending("sess-1"))
}

func TestScheduler_PastDeadlineFiresImmediately(t *testing.T) {
	s := NewScheduler(zerolog.Nop())
	defer s.Shutdown()

	fired := make(chan string, 1)
	s.Schedule("sess-1", time.Now().Add(-time.Hour), func(id string) { fired <- id })

	assert.Equal(t, "sess-1", waitFire(t, fired))
}

func TestScheduler_Cancel(t *testing.T) {
	s := NewScheduler(zerolog.Nop())
	defer s.Shutdown()

	fired := make(chan string, 1)
	s.Schedule("sess-1", time.Now().Add(50*time.Millisecond), func(id string) { fired <- id })
	require.True(t, s.Pending("sess-1"))

	s.Cancel("sess-1")
	assert.False(t, s.Pending("sess-1"))

	select {
	case <-fired:
		t.Fatal("cancelled deadline fired")
	case <-time.After(150 * time.Millisecond):
	}

	// Cancelling again is a no-op.
	s.Cancel("sess-1")
	s.Cancel("unknown")
}

func TestScheduler_RescheduleReplaces(t *testing.T) {
	s := NewScheduler(zerolog.Nop())
	defer s.Shutdown()

	fired := make(chan string, 2)
	s.Schedule("sess-1", time.Now().Add(time.Hour), func(id string) { fired <- "old:" + id })
	s.Schedule("sess-1", time.Now().Add(10*time.Millisecond), func(id string) { fired <- "new:" + id })

	assert.Equal(t, "new:sess-1", waitFire(t, fired))

	select {
	case got := <-fired:
		t.Fatalf("replaced deadline fired: %s", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestScheduler_Shutdown(t *testing.T) {
	s := NewScheduler(zerolog.Nop())

	fired := make(chan string, 2)
	s.Schedule("sess-1", time.Now().Add(50*time.Millisecond), func(id string) { fired <- id })
	s.Schedule("sess-2", time.Now().Add(50*time.Millisecond), func(id string) { fired <- id })

	s.Shutdown()
	assert.False(t, s.Pending("sess-1"))
	assert.False(t, s.Pending("sess-2"))

	select {
	case id := <-fired:
		t.Fatalf("deadline fired after shutdown: %s", id)
	case <-time.After(150 * time.Millisecond):
	}
}
