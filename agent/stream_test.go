package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(s *Stream) []Event {
	var out []Event
	for ev := range s.Events() {
		out = append(out, ev)
	}
	return out
}

func TestStreamDropsEventsAfterTerminal(t *testing.T) {
	s := NewStream(4)
	assert.True(t, s.Emit(contentEvent("hi")))
	assert.True(t, s.Emit(doneEvent("hi", "m1", nil)))
	assert.False(t, s.Emit(ErrorEvent("late")))
	assert.False(t, s.Emit(contentEvent("later")))
	s.Close()

	events := drain(s)
	require.Len(t, events, 2)
	assert.Equal(t, EventContent, events[0].Type)
	assert.Equal(t, EventDone, events[1].Type)
}

func TestStreamDetachUnblocksProducer(t *testing.T) {
	s := NewStream(1)
	require.True(t, s.Emit(contentEvent("fills the buffer")))

	result := make(chan bool, 1)
	go func() { result <- s.Emit(contentEvent("blocked")) }()

	select {
	case <-result:
		t.Fatal("Emit should block while the buffer is full")
	case <-time.After(20 * time.Millisecond):
	}

	s.Detach()
	select {
	case ok := <-result:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Emit did not return after Detach")
	}

	assert.False(t, s.Emit(doneEvent("", "", nil)))
	s.Detach()
	s.Close()
	s.Close()

	select {
	case <-s.Detached():
	default:
		t.Fatal("Detached channel should be closed")
	}
}

func TestNewStreamDefaultBuffer(t *testing.T) {
	s := NewStream(0)
	assert.Equal(t, DefaultStreamBuffer, cap(s.ch))
}
