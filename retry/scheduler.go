// Package retry drains the offline queue on explicit user triggers,
// replaying each item through the same clients a live session uses.
package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"dicta/assistant"
	"dicta/encoder"
	"dicta/events"
	"dicta/log"
	"dicta/session"
	"dicta/store"
	"dicta/transcriber"
)

// Backoff window inside a retry-all pass. A single forced retry
// bypasses it.
const (
	backoffBase = 30 * time.Second
	backoffMax  = 30 * time.Minute
)

// ErrOffline means the connectivity probe failed; nothing was
// attempted and no retry counts changed.
var ErrOffline = errors.New("offline, retry skipped")

type Config struct {
	Store  *store.Store
	ASR    transcriber.Transcriber
	LLM    assistant.Client
	Events events.Sink

	Format       string // batch upload format for audio replay
	Language     string
	HistoryPairs int
}

// Scheduler replays queued items. Items are processed independently:
// one failure never aborts the pass. A per-id in-flight set makes
// concurrent retries of the same item a no-op.
type Scheduler struct {
	cfg    Config
	online func() bool

	mu       sync.Mutex
	inflight map[int64]struct{}
}

func New(cfg Config) *Scheduler {
	if cfg.Events == nil {
		cfg.Events = events.Nop{}
	}
	if cfg.Format == "" {
		cfg.Format = "wav"
	}
	if cfg.HistoryPairs <= 0 {
		cfg.HistoryPairs = 8
	}
	return &Scheduler{
		cfg:      cfg,
		online:   Online,
		inflight: make(map[int64]struct{}),
	}
}

// RetryAll walks a snapshot of the queue oldest-first. Items still
// inside their backoff window are left untouched.
func (s *Scheduler) RetryAll(ctx context.Context) error {
	if !s.online() {
		log.Info("retry_all skipped: offline")
		return ErrOffline
	}

	items, err := s.cfg.Store.Queue()
	if err != nil {
		return fmt.Errorf("reading queue: %w", err)
	}
	for i := range items {
		item := items[i]
		if item.LastAttempt > 0 &&
			time.Since(time.UnixMilli(item.LastAttempt)) < backoffWindow(item.RetryCount) {
			log.QueueEvent("backoff_skip", item.ID, len(items))
			continue
		}
		s.retryItem(ctx, item)
	}
	return nil
}

// RetrySingle forces one item, bypassing the backoff window.
func (s *Scheduler) RetrySingle(ctx context.Context, id int64) error {
	item, err := s.cfg.Store.QueueItemByID(id)
	if err != nil {
		return err
	}
	return s.retryItem(ctx, *item)
}

func backoffWindow(retryCount int) time.Duration {
	shift := retryCount
	if shift > 6 {
		shift = 6
	}
	d := backoffBase << uint(shift)
	if d > backoffMax {
		d = backoffMax
	}
	return d
}

func (s *Scheduler) claim(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[id]; busy {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id int64) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

func (s *Scheduler) retryItem(ctx context.Context, item store.QueueItem) error {
	if !s.claim(item.ID) {
		log.QueueEvent("already_in_flight", item.ID, 0)
		return nil
	}
	defer s.release(item.ID)

	text, durationMs, err := s.replay(ctx, item)
	if err != nil {
		log.RetryEvent(item.ID, item.Mode, item.RetryCount+1, err)
		if ierr := s.cfg.Store.IncrementRetry(item.ID); ierr != nil {
			log.Errorf("incrementing retry count: %v", ierr)
		}
		return err
	}
	log.RetryEvent(item.ID, item.Mode, item.RetryCount, nil)

	if text != "" {
		rec := &store.UsageRecord{
			Text:       text,
			Mode:       item.Mode,
			Model:      item.Model,
			WordCount:  len(strings.Fields(text)),
			DurationMs: durationMs,
			CostCents:  replayCost(item.Mode, durationMs),
			Timestamp:  time.Now().UnixMilli(),
		}
		if err := s.cfg.Store.AppendUsage(rec); err != nil {
			log.Errorf("recording replayed usage: %v", err)
		}
	} else {
		log.Info("replay produced no speech, dropping item")
	}

	if err := s.cfg.Store.RemoveQueueItem(item.ID); err != nil {
		log.Errorf("removing queue item %d: %v", item.ID, err)
	}
	count, _ := s.cfg.Store.QueueCount()
	s.cfg.Events.QueueItemCompleted(item.ID, text)
	s.cfg.Events.QueueUpdated(count)
	if text != "" {
		log.TranscriptionText(text)
		s.cfg.Events.TranscriptionComplete(text)
		s.cfg.Events.HistoryUpdated()
	}
	return nil
}

// replay performs exactly the work the item carries. Audio items go
// through the batch client from the persisted WAV; the live microphone
// is never involved. Prompt-only items redo just the language-model
// call.
func (s *Scheduler) replay(ctx context.Context, item store.QueueItem) (string, int64, error) {
	mode, err := session.ParseMode(item.Mode)
	if err != nil {
		return "", 0, err
	}

	if item.AudioPath == "" {
		text, perr := s.postProcess(ctx, mode, item.PromptText, item.Model)
		if perr != nil {
			return "", 0, perr
		}
		s.saveConversation(mode, item.PromptText, text)
		return text, 0, nil
	}

	pcm, sampleRate, err := encoder.ReadWAVFile(item.AudioPath)
	if err != nil {
		return "", 0, fmt.Errorf("reading queued audio: %w", err)
	}
	durationMs := int64(len(pcm)) / 2 * 1000 / int64(sampleRate)

	sess, err := s.cfg.ASR.NewSession(ctx, transcriber.SessionConfig{
		Stream:   false,
		Format:   s.cfg.Format,
		Language: s.cfg.Language,
	})
	if err != nil {
		return "", 0, err
	}
	go func() {
		for range sess.Updates() {
		}
	}()
	sess.Feed(pcm)
	result, err := sess.Close()
	if err != nil {
		return "", 0, err
	}
	if result.NoSpeech {
		return "", durationMs, nil
	}

	text := result.Text
	if mode.Prompts() {
		answer, perr := s.postProcess(ctx, mode, text, item.Model)
		if perr != nil {
			return "", 0, perr
		}
		s.saveConversation(mode, text, answer)
		text = answer
	}
	return text, durationMs, nil
}

func (s *Scheduler) postProcess(ctx context.Context, mode session.Mode, text, model string) (string, error) {
	if !mode.Prompts() {
		// A queued prompt on a transcribe mode is a pending cleanup.
		return s.cfg.LLM.CleanTranscript(ctx, text)
	}
	history, err := s.cfg.Store.ConversationHistory(s.cfg.HistoryPairs)
	if err != nil {
		log.Warnf("loading conversation history: %v", err)
	}
	msgs := make([]assistant.Message, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, assistant.Message{Role: m.Role, Content: m.Content})
	}
	return s.cfg.LLM.SendPrompt(ctx, text, model, msgs)
}

func (s *Scheduler) saveConversation(mode session.Mode, prompt, answer string) {
	if !mode.Prompts() {
		return
	}
	if err := s.cfg.Store.AppendConversation("user", prompt); err != nil {
		log.Warnf("saving conversation: %v", err)
	}
	if err := s.cfg.Store.AppendConversation("assistant", answer); err != nil {
		log.Warnf("saving conversation: %v", err)
	}
}

func replayCost(mode string, durationMs int64) int64 {
	m, err := session.ParseMode(mode)
	if err != nil {
		return 0
	}
	return session.EstimateCents(m, durationMs)
}
