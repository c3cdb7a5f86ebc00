package main

import (
	"fmt"

	"dicta/clipboard"
	"dicta/log"
)

// consoleSink is the presentation layer: it prints what the core
// emits and owns clipboard delivery of final text.
type consoleSink struct {
	clip bool
}

func (s *consoleSink) TranscriptionDelta(text string) {
	fmt.Print(text)
}

func (s *consoleSink) TranscriptionComplete(text string) {
	fmt.Printf("\n» %s\n", text)
	if s.clip {
		if err := clipboard.Deliver(text); err != nil {
			fmt.Printf("clipboard delivery failed: %v\n", err)
		}
	}
}

func (s *consoleSink) RecordingError(msg string) {
	fmt.Printf("error: %s\n", msg)
}

func (s *consoleSink) QueueUpdated(count int) {
	fmt.Printf("queue: %d item(s)\n", count)
}

func (s *consoleSink) QueueFull() {
	fmt.Println("queue full — 'queue' to inspect, 'delete <id>' to free a slot")
}

func (s *consoleSink) QueueItemCompleted(id int64, _ string) {
	fmt.Printf("queued item #%d delivered\n", id)
}

func (s *consoleSink) HistoryUpdated() {}

// logSink mirrors core events into the diagnostics log.
type logSink struct{}

func (logSink) TranscriptionDelta(string) {}

func (logSink) TranscriptionComplete(text string) {
	log.Info("transcription complete")
}

func (logSink) RecordingError(msg string) {
	log.Error("recording error: " + msg)
}

func (logSink) QueueUpdated(count int) {}

func (logSink) QueueFull() {
	log.Warn("queue full, enqueue rejected")
}

func (logSink) QueueItemCompleted(id int64, _ string) {}

func (logSink) HistoryUpdated() {}
