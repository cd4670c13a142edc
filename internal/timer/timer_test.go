package timer

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestService_ScheduleFires(t *testing.T) {
	s := New()
	fired := make(chan struct{})

	s.Schedule(1, 10*time.Millisecond, func() { close(fired) })
	_, ok := s.Pending(1)
	assert.True(t, ok)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestService_ReplaceCancelsPrevious(t *testing.T) {
	s := New()
	var first, second atomic.Int32

	s.Schedule(7, 20*time.Millisecond, func() { first.Add(1) })
	s.Schedule(7, 40*time.Millisecond, func() { second.Add(1) })
	assert.Equal(t, 1, s.Len(), "only one handle per key")

	assert.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), first.Load(), "replaced handle must never run")
}

func TestService_Cancel(t *testing.T) {
	s := New()
	var fired atomic.Bool

	s.Schedule(3, 20*time.Millisecond, func() { fired.Store(true) })
	assert.True(t, s.Cancel(3))
	assert.False(t, s.Cancel(3), "second cancel finds nothing")

	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired.Load())
	assert.Equal(t, 0, s.Len())
}

func TestService_CallbackMayReschedule(t *testing.T) {
	s := New()
	var runs atomic.Int32
	done := make(chan struct{})

	var again func()
	again = func() {
		if runs.Add(1) == 2 {
			close(done)
			return
		}
		s.Schedule(5, 5*time.Millisecond, again)
	}
	s.Schedule(5, 5*time.Millisecond, again)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("rescheduled timer did not fire")
	}
	assert.Equal(t, int32(2), runs.Load())
}

func TestService_AtMostOneHandlePerKey(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Schedule(9, time.Hour, func() {})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, s.Len())
	s.Stop()
	assert.Equal(t, 0, s.Len())
}

func TestService_StopRejectsSchedule(t *testing.T) {
	s := New()
	s.Stop()
	s.Schedule(1, time.Millisecond, func() { t.Error("must not run after Stop") })
	assert.Equal(t, 0, s.Len())
	time.Sleep(10 * time.Millisecond)
}
