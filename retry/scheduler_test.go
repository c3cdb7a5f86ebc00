package retry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"dicta/assistant"
	"dicta/encoder"
	"dicta/events"
	"dicta/session"
	"dicta/store"
	"dicta/transcriber"
)

type fixture struct {
	sched *Scheduler
	st    *store.Store
	asr   *transcriber.FakeTranscriber
	llm   *assistant.Fake
	sink  *events.Recorder
	dir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "dicta.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	f := &fixture{
		st:   st,
		asr:  transcriber.NewFake("replayed text", nil),
		llm:  assistant.NewFake("replayed answer", nil),
		sink: &events.Recorder{},
		dir:  dir,
	}
	f.sched = New(Config{
		Store:  st,
		ASR:    f.asr,
		LLM:    f.llm,
		Events: f.sink,
	})
	f.sched.online = func() bool { return true }
	return f
}

// enqueueAudio persists a small WAV and queues it, the way a failed
// live session would.
func (f *fixture) enqueueAudio(t *testing.T, mode session.Mode) *store.QueueItem {
	t.Helper()
	pcm := make([]byte, 3200) // 100ms at 16kHz
	path := filepath.Join(f.dir, time.Now().Format("150405.000000")+".wav")
	if err := encoder.WriteWAVFile(path, pcm); err != nil {
		t.Fatalf("writing WAV: %v", err)
	}
	item := &store.QueueItem{
		Mode:      mode.String(),
		AudioPath: path,
		Model:     "gpt-4o-mini",
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := f.st.Enqueue(item); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return item
}

func (f *fixture) enqueuePrompt(t *testing.T, mode session.Mode, text string) *store.QueueItem {
	t.Helper()
	item := &store.QueueItem{
		Mode:       mode.String(),
		PromptText: text,
		Model:      "gpt-4o-mini",
		CreatedAt:  time.Now().UnixMilli(),
	}
	if err := f.st.Enqueue(item); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return item
}

func TestRetryAllMixedOutcomes(t *testing.T) {
	f := newFixture(t)
	i1 := f.enqueueAudio(t, session.ModeWhisperTranscribe)
	i2 := f.enqueueAudio(t, session.ModeWhisperTranscribe)
	i3 := f.enqueueAudio(t, session.ModeWhisperTranscribe)

	f.asr.Enqueue("", syscall.ECONNRESET) // item 1
	f.asr.Enqueue("second came back", nil) // item 2
	f.asr.Enqueue("", syscall.ECONNRESET) // item 3

	if err := f.sched.RetryAll(context.Background()); err != nil {
		t.Fatalf("RetryAll: %v", err)
	}

	items, _ := f.st.Queue()
	if len(items) != 2 {
		t.Fatalf("queue = %d items, want 2", len(items))
	}
	if items[0].ID != i1.ID || items[1].ID != i3.ID {
		t.Errorf("remaining ids = %d,%d, want %d,%d", items[0].ID, items[1].ID, i1.ID, i3.ID)
	}
	for _, it := range items {
		if it.RetryCount != 1 {
			t.Errorf("item %d RetryCount = %d, want 1", it.ID, it.RetryCount)
		}
		if it.LastAttempt == 0 {
			t.Errorf("item %d LastAttempt not stamped", it.ID)
		}
	}

	recs, _ := f.st.History()
	if len(recs) != 1 || recs[0].Text != "second came back" {
		t.Fatalf("history = %+v, want one replayed record", recs)
	}
	if len(f.sink.ItemsDone) != 1 || f.sink.ItemsDone[0] != i2.ID {
		t.Errorf("ItemsDone = %v", f.sink.ItemsDone)
	}
	if _, err := os.Stat(i2.AudioPath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("delivered item's WAV should be deleted, stat err = %v", err)
	}
}

func TestRetrySingleSuccessRemovesItem(t *testing.T) {
	f := newFixture(t)
	item := f.enqueueAudio(t, session.ModeWhisperTranscribe)

	if err := f.sched.RetrySingle(context.Background(), item.ID); err != nil {
		t.Fatalf("RetrySingle: %v", err)
	}
	if count, _ := f.st.QueueCount(); count != 0 {
		t.Errorf("queue count = %d, want 0", count)
	}
	recs, _ := f.st.History()
	if len(recs) != 1 {
		t.Fatalf("history = %d records, want 1", len(recs))
	}
	if recs[0].Mode != session.ModeWhisperTranscribe.String() {
		t.Errorf("mode = %q", recs[0].Mode)
	}
	_, completed, _ := f.sink.Snapshot()
	if len(completed) != 1 || completed[0] != "replayed text" {
		t.Errorf("completed = %v", completed)
	}
}

func TestRetrySingleFailureIncrementsOnce(t *testing.T) {
	f := newFixture(t)
	item := f.enqueueAudio(t, session.ModeWhisperTranscribe)
	f.asr.Enqueue("", syscall.ETIMEDOUT)

	if err := f.sched.RetrySingle(context.Background(), item.ID); err == nil {
		t.Fatal("RetrySingle should return the replay error")
	}
	got, err := f.st.QueueItemByID(item.ID)
	if err != nil {
		t.Fatalf("item should still be queued: %v", err)
	}
	if got.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", got.RetryCount)
	}
	if _, err := os.Stat(item.AudioPath); err != nil {
		t.Errorf("failed item's WAV must survive: %v", err)
	}
}

func TestCorruptQueuedWAVFailsCleanly(t *testing.T) {
	f := newFixture(t)
	item := f.enqueueAudio(t, session.ModeWhisperTranscribe)

	// Zero the header's sample rate field, like a write cut short.
	data, err := os.ReadFile(item.AudioPath)
	if err != nil {
		t.Fatal(err)
	}
	data[24], data[25], data[26], data[27] = 0, 0, 0, 0
	if err := os.WriteFile(item.AudioPath, data, 0644); err != nil {
		t.Fatal(err)
	}

	if err := f.sched.RetrySingle(context.Background(), item.ID); err == nil {
		t.Fatal("RetrySingle should report the corrupt file")
	}
	got, err := f.st.QueueItemByID(item.ID)
	if err != nil {
		t.Fatalf("item should still be queued: %v", err)
	}
	if got.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", got.RetryCount)
	}
	if f.asr.SessionCount() != 0 {
		t.Errorf("sessions = %d, want 0: unreadable audio never reaches the provider", f.asr.SessionCount())
	}
}

func TestInFlightDuplicateSuppressed(t *testing.T) {
	f := newFixture(t)
	item := f.enqueueAudio(t, session.ModeWhisperTranscribe)

	if !f.sched.claim(item.ID) {
		t.Fatal("claim failed")
	}
	defer f.sched.release(item.ID)

	if err := f.sched.RetrySingle(context.Background(), item.ID); err != nil {
		t.Fatalf("RetrySingle: %v", err)
	}
	if f.asr.SessionCount() != 0 {
		t.Errorf("ASR sessions = %d, want 0 (item already in flight)", f.asr.SessionCount())
	}
	if count, _ := f.st.QueueCount(); count != 1 {
		t.Errorf("queue count = %d, want 1", count)
	}
}

func TestBackoffSkipsRecentFailure(t *testing.T) {
	f := newFixture(t)
	item := f.enqueueAudio(t, session.ModeWhisperTranscribe)
	f.st.IncrementRetry(item.ID) // stamps LastAttempt with now

	if err := f.sched.RetryAll(context.Background()); err != nil {
		t.Fatalf("RetryAll: %v", err)
	}
	if f.asr.SessionCount() != 0 {
		t.Errorf("ASR sessions = %d, want 0 (inside backoff window)", f.asr.SessionCount())
	}
	got, _ := f.st.QueueItemByID(item.ID)
	if got.RetryCount != 1 {
		t.Errorf("RetryCount = %d, backoff skip must not touch it", got.RetryCount)
	}

	// A forced single retry bypasses the window.
	if err := f.sched.RetrySingle(context.Background(), item.ID); err != nil {
		t.Fatalf("RetrySingle: %v", err)
	}
	if f.asr.SessionCount() != 1 {
		t.Errorf("ASR sessions = %d, want 1", f.asr.SessionCount())
	}
}

func TestBackoffWindow(t *testing.T) {
	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 30 * time.Second},
		{1, time.Minute},
		{2, 2 * time.Minute},
		{6, 30 * time.Minute},
		{20, 30 * time.Minute},
	}
	for _, tt := range tests {
		if got := backoffWindow(tt.retryCount); got != tt.want {
			t.Errorf("backoffWindow(%d) = %v, want %v", tt.retryCount, got, tt.want)
		}
	}
}

func TestOfflineSkipsEverything(t *testing.T) {
	f := newFixture(t)
	item := f.enqueueAudio(t, session.ModeWhisperTranscribe)
	f.sched.online = func() bool { return false }

	if err := f.sched.RetryAll(context.Background()); !errors.Is(err, ErrOffline) {
		t.Fatalf("RetryAll = %v, want ErrOffline", err)
	}
	got, _ := f.st.QueueItemByID(item.ID)
	if got.RetryCount != 0 {
		t.Errorf("RetryCount = %d, offline pass must not touch items", got.RetryCount)
	}
	if f.asr.SessionCount() != 0 {
		t.Errorf("ASR sessions = %d, want 0", f.asr.SessionCount())
	}
}

func TestPromptOnlyItemReplaysPromptOnly(t *testing.T) {
	f := newFixture(t)
	item := f.enqueuePrompt(t, session.ModeWhisperPrompt, "what is the answer")

	if err := f.sched.RetryAll(context.Background()); err != nil {
		t.Fatalf("RetryAll: %v", err)
	}
	if f.asr.SessionCount() != 0 {
		t.Errorf("ASR sessions = %d, want 0 (transcription already done)", f.asr.SessionCount())
	}
	if f.llm.Calls() != 1 {
		t.Errorf("llm calls = %d, want 1", f.llm.Calls())
	}
	if count, _ := f.st.QueueCount(); count != 0 {
		t.Errorf("queue count = %d, want 0", count)
	}
	recs, _ := f.st.History()
	if len(recs) != 1 || recs[0].Text != "replayed answer" {
		t.Fatalf("history = %+v", recs)
	}
	history, _ := f.st.ConversationHistory(4)
	if len(history) != 2 {
		t.Errorf("conversation = %d messages, want 2", len(history))
	}
	_ = item
}

func TestReplayedPromptAudioItem(t *testing.T) {
	f := newFixture(t)
	f.enqueueAudio(t, session.ModeRealtimePrompt)

	if err := f.sched.RetryAll(context.Background()); err != nil {
		t.Fatalf("RetryAll: %v", err)
	}
	// Replay transcribes via batch then prompts: the delivered text is
	// the language model's answer.
	recs, _ := f.st.History()
	if len(recs) != 1 || recs[0].Text != "replayed answer" {
		t.Fatalf("history = %+v", recs)
	}
	if f.asr.SessionCount() != 1 || f.llm.Calls() != 1 {
		t.Errorf("asr=%d llm=%d, want 1/1", f.asr.SessionCount(), f.llm.Calls())
	}
}
