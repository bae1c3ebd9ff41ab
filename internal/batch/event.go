package batch

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/rotisserie/eris"
)

// EventType identifies a progress event kind.
type EventType string

const (
	EventStarted  EventType = "started"
	EventPage     EventType = "page"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one progress notification. Page events carry the index of the
// URL they report on, so consumers can pair results with their input
// positions even when payloads are identical.
type Event struct {
	Type  EventType `json:"type"`
	Total int       `json:"total,omitempty"`

	// Page fields
	Index  int    `json:"index,omitempty"`
	URL    string `json:"url,omitempty"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`

	// Complete payload
	Summary *Summary `json:"summary,omitempty"`
}

// Sink receives progress events. Implementations must tolerate concurrent
// Emit calls.
type Sink interface {
	Emit(event Event) error
}

// NullSink discards all events.
type NullSink struct{}

func (NullSink) Emit(Event) error { return nil }

// WriterSink writes events as JSON lines, one per event. Safe for
// concurrent use.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a WriterSink over w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Emit(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	enc := json.NewEncoder(s.w)
	if err := enc.Encode(event); err != nil {
		return eris.Wrap(err, "batch: emit event")
	}
	return nil
}

// ChannelSink delivers events to a channel, dropping none: Emit blocks
// until the consumer reads. Used by streaming HTTP handlers.
type ChannelSink struct {
	ch chan Event
}

// NewChannelSink creates a ChannelSink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// Events returns the receive side of the sink.
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

func (s *ChannelSink) Emit(event Event) error {
	s.ch <- event
	return nil
}

// Close signals consumers that no further events will arrive.
func (s *ChannelSink) Close() {
	close(s.ch)
}
