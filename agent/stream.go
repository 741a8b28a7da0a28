package agent

import "sync"

// DefaultStreamBuffer is the channel capacity used by NewStream when size <= 0.
const DefaultStreamBuffer = 32

// Stream is a bounded event channel between one producing orchestrator and
// one consumer. Emit blocks while the buffer is full. After Detach, or after
// a terminal event has been emitted, Emit drops events and returns false.
//
// Emit and Close must be called from the producer goroutine only; Detach may
// be called from anywhere, any number of times.
type Stream struct {
	ch         chan Event
	detached   chan struct{}
	detachOnce sync.Once
	closeOnce  sync.Once
	terminated bool
}

func NewStream(size int) *Stream {
	if size <= 0 {
		size = DefaultStreamBuffer
	}
	return &Stream{
		ch:       make(chan Event, size),
		detached: make(chan struct{}),
	}
}

func (s *Stream) Emit(ev Event) bool {
	if s.terminated {
		return false
	}
	select {
	case <-s.detached:
		return false
	default:
	}
	if ev.Terminal() {
		s.terminated = true
	}
	select {
	case s.ch <- ev:
		return true
	case <-s.detached:
		return false
	}
}

// Events is drained by the consumer until it is closed.
func (s *Stream) Events() <-chan Event {
	return s.ch
}

// Detach tells the producer the consumer has gone away.
func (s *Stream) Detach() {
	s.detachOnce.Do(func() { close(s.detached) })
}

// Detached is closed once Detach has been called.
func (s *Stream) Detached() <-chan struct{} {
	return s.detached
}

// Close ends the event channel. The producer calls it when the turn is over.
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.ch) })
}
