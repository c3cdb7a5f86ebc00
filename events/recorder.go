package events

import "sync"

// Recorder is a Sink that remembers everything it saw. Test helper,
// in the spirit of the package-level fakes elsewhere in this repo.
type Recorder struct {
	mu sync.Mutex

	Deltas      []string
	Completed   []string
	Errors      []string
	QueueCounts []int
	FullCount   int
	ItemsDone   []int64
	HistoryHits int
}

func (r *Recorder) TranscriptionDelta(text string) {
	r.mu.Lock()
	r.Deltas = append(r.Deltas, text)
	r.mu.Unlock()
}

func (r *Recorder) TranscriptionComplete(text string) {
	r.mu.Lock()
	r.Completed = append(r.Completed, text)
	r.mu.Unlock()
}

func (r *Recorder) RecordingError(msg string) {
	r.mu.Lock()
	r.Errors = append(r.Errors, msg)
	r.mu.Unlock()
}

func (r *Recorder) QueueUpdated(count int) {
	r.mu.Lock()
	r.QueueCounts = append(r.QueueCounts, count)
	r.mu.Unlock()
}

func (r *Recorder) QueueFull() {
	r.mu.Lock()
	r.FullCount++
	r.mu.Unlock()
}

func (r *Recorder) QueueItemCompleted(id int64, _ string) {
	r.mu.Lock()
	r.ItemsDone = append(r.ItemsDone, id)
	r.mu.Unlock()
}

func (r *Recorder) HistoryUpdated() {
	r.mu.Lock()
	r.HistoryHits++
	r.mu.Unlock()
}

// Snapshot returns copies of the recorded slices, safe to inspect
// while the sink may still receive events.
func (r *Recorder) Snapshot() (deltas, completed, errors []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.Deltas...),
		append([]string(nil), r.Completed...),
		append([]string(nil), r.Errors...)
}
