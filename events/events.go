// Package events defines the notification surface of the core.
// The presentation layer (TUI, tray, GUI) implements Sink; the
// session controller and retry scheduler only ever talk to this
// interface, never to a concrete display.
package events

// Sink receives core notifications. Implementations must not block:
// calls are made from the controller's session goroutine and from
// retry workers.
type Sink interface {
	// TranscriptionDelta is one streamed transcript fragment, in
	// arrival order.
	TranscriptionDelta(text string)
	// TranscriptionComplete carries the final text of a delivered
	// session or replayed queue item. The consumer owns clipboard
	// placement.
	TranscriptionComplete(text string)
	RecordingError(msg string)
	QueueUpdated(count int)
	// QueueFull signals that capture succeeded but the offline queue
	// rejected the item; delivery is blocked until the user frees
	// queue capacity.
	QueueFull()
	QueueItemCompleted(id int64, text string)
	HistoryUpdated()
}

// Nop discards all events. Useful as a default and in tests that do
// not care about notifications.
type Nop struct{}

func (Nop) TranscriptionDelta(string)        {}
func (Nop) TranscriptionComplete(string)     {}
func (Nop) RecordingError(string)            {}
func (Nop) QueueUpdated(int)                 {}
func (Nop) QueueFull()                       {}
func (Nop) QueueItemCompleted(int64, string) {}
func (Nop) HistoryUpdated()                  {}

// Multi fans every event out to all sinks in order.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

type multi []Sink

func (m multi) TranscriptionDelta(text string) {
	for _, s := range m {
		s.TranscriptionDelta(text)
	}
}

func (m multi) TranscriptionComplete(text string) {
	for _, s := range m {
		s.TranscriptionComplete(text)
	}
}

func (m multi) RecordingError(msg string) {
	for _, s := range m {
		s.RecordingError(msg)
	}
}

func (m multi) QueueUpdated(count int) {
	for _, s := range m {
		s.QueueUpdated(count)
	}
}

func (m multi) QueueFull() {
	for _, s := range m {
		s.QueueFull()
	}
}

func (m multi) QueueItemCompleted(id int64, text string) {
	for _, s := range m {
		s.QueueItemCompleted(id, text)
	}
}

func (m multi) HistoryUpdated() {
	for _, s := range m {
		s.HistoryUpdated()
	}
}
