package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dicta/assistant"
	"dicta/audio"
	"dicta/encoder"
	"dicta/events"
	"dicta/log"
	"dicta/store"
	"dicta/transcriber"
)

type Config struct {
	Store  *store.Store
	ASR    transcriber.Transcriber
	LLM    assistant.Client
	Audio  audio.Context
	Events events.Sink

	// AudioDir holds WAV payloads of queued items.
	AudioDir string

	Device   string // capture device name, "" for system default
	Model    string // language model for prompt modes
	Language string
	Format   string // batch upload format: "wav" or "flac"

	// Cleanup passes transcribe-mode results through the language
	// model for punctuation fixes before delivery.
	Cleanup bool

	// HistoryPairs bounds how many prior exchanges prompt calls carry.
	HistoryPairs int

	// MaxDuration overrides the recording ceiling; zero means
	// MaxRecordingTime. Tests shrink it.
	MaxDuration time.Duration
}

// Controller serializes all session triggers through its state guards.
// Exactly one of its sessions may hold the microphone at a time.
type Controller struct {
	cfg Config

	mu              sync.Mutex
	state           State
	active          *recordingSession
	cancelRequested bool
}

type recordingSession struct {
	id        string
	mode      Mode
	startedAt time.Time
	capture   audio.CaptureDevice
	ts        transcriber.Session

	stopTimer   *time.Timer
	updatesDone chan struct{}

	pcmMu   sync.Mutex
	pcm     []byte // raw capture kept for the queue fallback
	frames  uint64
	stopped bool
}

func New(cfg Config) *Controller {
	if cfg.Events == nil {
		cfg.Events = events.Nop{}
	}
	if cfg.Format == "" {
		cfg.Format = "wav"
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = MaxRecordingTime
	}
	if cfg.HistoryPairs <= 0 {
		cfg.HistoryPairs = 8
	}
	return &Controller{cfg: cfg}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start begins a recording session. Duplicate triggers while a session
// is active return ErrBusy and do nothing.
func (c *Controller) Start(mode Mode) error {
	if !mode.UsesAudio() {
		return fmt.Errorf("mode %s carries no audio, use StartPrompt", mode)
	}

	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		log.Warnf("start dropped, session in state %s", c.state)
		return ErrBusy
	}
	c.state = Starting
	c.cancelRequested = false
	c.mu.Unlock()

	id := uuid.NewString()[:8]
	log.SessionStart(id, mode.String(), c.cfg.Model)
	log.StateChange(id, "idle", "starting")

	ts, err := c.cfg.ASR.NewSession(context.Background(), transcriber.SessionConfig{
		Stream:   mode.Streams(),
		Format:   c.cfg.Format,
		Language: c.cfg.Language,
	})
	if err != nil {
		return c.failStart(id, fmt.Errorf("opening transcription session: %w", err))
	}

	dev, err := audio.FindDevice(c.cfg.Audio, c.cfg.Device)
	if err != nil {
		go ts.Close()
		return c.failStart(id, err)
	}
	capture, err := c.cfg.Audio.NewCapture(dev, audio.CaptureConfig{
		SampleRate: encoder.SampleRate,
		Channels:   encoder.Channels,
	})
	if err != nil {
		go ts.Close()
		return c.failStart(id, fmt.Errorf("opening capture device: %w", err))
	}

	rs := &recordingSession{
		id:          id,
		mode:        mode,
		startedAt:   time.Now(),
		capture:     capture,
		ts:          ts,
		updatesDone: make(chan struct{}),
	}

	capture.SetCallback(func(data []byte, frameCount uint32) {
		if len(data) == 0 {
			return
		}
		pcm := make([]byte, len(data))
		copy(pcm, data)

		rs.pcmMu.Lock()
		if rs.stopped {
			rs.pcmMu.Unlock()
			return
		}
		rs.pcm = append(rs.pcm, pcm...)
		rs.frames += uint64(frameCount)
		rs.pcmMu.Unlock()

		ts.Feed(pcm)
	})

	if err := capture.Start(); err != nil {
		capture.ClearCallback()
		capture.Close()
		go ts.Close()
		return c.failStart(id, fmt.Errorf("starting capture: %w", err))
	}

	go func() {
		defer close(rs.updatesDone)
		for text := range ts.Updates() {
			c.cfg.Events.TranscriptionDelta(text)
		}
	}()

	rs.stopTimer = time.AfterFunc(c.cfg.MaxDuration, func() {
		log.Warnf("session %s hit the recording ceiling, stopping", id)
		c.Stop()
	})

	c.mu.Lock()
	if c.cancelRequested {
		// Cancel arrived while we were acquiring; tear down without
		// queueing or recording anything.
		c.cancelRequested = false
		c.state = Idle
		c.mu.Unlock()
		c.teardown(rs)
		log.StateChange(id, "starting", "idle")
		return nil
	}
	c.active = rs
	c.state = Recording
	c.mu.Unlock()
	log.StateChange(id, "starting", "recording")
	return nil
}

// StartPrompt runs a text-prompt session: no audio, straight to the
// language model.
func (c *Controller) StartPrompt(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("empty prompt")
	}

	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		log.Warnf("prompt dropped, session in state %s", c.state)
		return ErrBusy
	}
	c.state = Finalizing
	c.mu.Unlock()

	id := uuid.NewString()[:8]
	log.SessionStart(id, ModeTextPrompt.String(), c.cfg.Model)
	log.StateChange(id, "idle", "finalizing")

	defer func() {
		c.mu.Lock()
		c.state = Idle
		c.mu.Unlock()
		log.StateChange(id, "finalizing", "idle")
	}()

	answer, err := c.prompt(text)
	if err != nil {
		c.routePromptFailure(ModeTextPrompt, text, err)
		return nil
	}
	c.deliver(id, ModeTextPrompt, text, answer, 0)
	return nil
}

// Stop ends the active recording and drives it to a terminal state:
// delivered, queued, or failed. Blocks on the network finalize.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if c.state != Recording {
		c.mu.Unlock()
		return ErrNotRecording
	}
	rs := c.active
	c.state = Stopping
	c.mu.Unlock()
	log.StateChange(rs.id, "recording", "stopping")

	rs.stopTimer.Stop()
	rs.capture.Stop()
	rs.capture.ClearCallback()
	rs.capture.Close()

	rs.pcmMu.Lock()
	rs.stopped = true
	pcm := rs.pcm
	frames := rs.frames
	rs.pcmMu.Unlock()

	c.mu.Lock()
	c.state = Finalizing
	c.mu.Unlock()
	log.StateChange(rs.id, "stopping", "finalizing")

	c.finalize(rs, pcm, frames)

	c.mu.Lock()
	c.state = Idle
	c.active = nil
	c.mu.Unlock()
	log.StateChange(rs.id, "finalizing", "idle")
	return nil
}

// Cancel discards the active session: the capture is dropped, no queue
// item and no usage record are written.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	if c.state == Starting {
		c.cancelRequested = true
		c.mu.Unlock()
		return nil
	}
	if c.state != Recording {
		c.mu.Unlock()
		return ErrNotRecording
	}
	rs := c.active
	c.state = Idle
	c.active = nil
	c.mu.Unlock()

	c.teardown(rs)
	log.StateChange(rs.id, "recording", "idle")
	log.Info("session cancelled, capture discarded")
	return nil
}

func (c *Controller) failStart(id string, err error) error {
	log.Errorf("session %s failed to start: %v", id, err)
	c.cfg.Events.RecordingError(err.Error())
	c.mu.Lock()
	c.state = Idle
	c.cancelRequested = false
	c.mu.Unlock()
	log.StateChange(id, "starting", "idle")
	return err
}

func (c *Controller) teardown(rs *recordingSession) {
	if rs.stopTimer != nil {
		rs.stopTimer.Stop()
	}
	rs.capture.Stop()
	rs.capture.ClearCallback()
	rs.capture.Close()
	rs.pcmMu.Lock()
	rs.stopped = true
	rs.pcmMu.Unlock()
	go rs.ts.Close() // abort the stream, result discarded
}

func (c *Controller) finalize(rs *recordingSession, pcm []byte, frames uint64) {
	result, err := rs.ts.Close()
	<-rs.updatesDone

	durationMs := int64(float64(frames) / float64(encoder.SampleRate) * 1000)

	if err != nil {
		if transcriber.Retryable(err) {
			log.Errorf("session %s transcription failed, queueing: %v", rs.id, err)
			c.enqueueAudio(rs.mode, pcm)
		} else {
			log.Errorf("session %s failed: %v", rs.id, err)
			c.cfg.Events.RecordingError(err.Error())
		}
		return
	}

	c.logMetrics(result)

	if result.NoSpeech {
		log.Info("no_speech")
		c.cfg.Events.RecordingError("no speech detected")
		return
	}

	transcript := result.Text
	final := transcript
	if rs.mode.Prompts() {
		answer, perr := c.prompt(transcript)
		if perr != nil {
			c.routePromptFailure(rs.mode, transcript, perr)
			return
		}
		final = answer
	} else if c.cfg.Cleanup {
		cleaned, perr := c.cfg.LLM.CleanTranscript(context.Background(), transcript)
		if perr != nil {
			c.routePromptFailure(rs.mode, transcript, perr)
			return
		}
		final = cleaned
	}

	c.deliver(rs.id, rs.mode, transcript, final, durationMs)
}

// prompt sends text to the language model with recent conversation
// context.
func (c *Controller) prompt(text string) (string, error) {
	history, err := c.cfg.Store.ConversationHistory(c.cfg.HistoryPairs)
	if err != nil {
		log.Warnf("loading conversation history: %v", err)
	}
	msgs := make([]assistant.Message, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, assistant.Message{Role: m.Role, Content: m.Content})
	}
	return c.cfg.LLM.SendPrompt(context.Background(), text, c.cfg.Model, msgs)
}

// routePromptFailure handles a language-model failure after the
// transcript already exists: retryable goes to the queue carrying only
// the remaining prompt work, fatal surfaces.
func (c *Controller) routePromptFailure(mode Mode, promptText string, err error) {
	if transcriber.Retryable(err) {
		log.Errorf("prompt call failed, queueing: %v", err)
		c.enqueuePrompt(mode, promptText)
		return
	}
	log.Errorf("prompt call failed: %v", err)
	c.cfg.Events.RecordingError(err.Error())
}

func (c *Controller) deliver(id string, mode Mode, prompt, final string, durationMs int64) {
	words := len(strings.Fields(final))
	cost := EstimateCents(mode, durationMs)

	rec := &store.UsageRecord{
		Text:       final,
		Mode:       mode.String(),
		Model:      c.cfg.Model,
		WordCount:  words,
		DurationMs: durationMs,
		CostCents:  cost,
		Timestamp:  time.Now().UnixMilli(),
	}
	if err := c.cfg.Store.AppendUsage(rec); err != nil {
		log.Errorf("recording usage: %v", err)
	}

	if mode.Prompts() {
		if err := c.cfg.Store.AppendConversation("user", prompt); err != nil {
			log.Warnf("saving conversation: %v", err)
		}
		if err := c.cfg.Store.AppendConversation("assistant", final); err != nil {
			log.Warnf("saving conversation: %v", err)
		}
	}

	log.SessionDelivered(id, words, durationMs, cost)
	log.TranscriptionText(final)
	c.cfg.Events.TranscriptionComplete(final)
	c.cfg.Events.HistoryUpdated()
}

// enqueueAudio persists the raw capture as WAV and queues the full
// remaining work: transcription plus whatever the mode does after it.
func (c *Controller) enqueueAudio(mode Mode, pcm []byte) {
	if len(pcm) == 0 {
		c.cfg.Events.RecordingError("transcription failed and no audio was captured")
		return
	}

	path := filepath.Join(c.cfg.AudioDir, fmt.Sprintf("queue_%d.wav", time.Now().UnixMilli()))
	if err := encoder.WriteWAVFile(path, pcm); err != nil {
		log.Errorf("persisting queued audio: %v", err)
		c.cfg.Events.RecordingError("could not persist recording: " + err.Error())
		return
	}

	c.enqueue(&store.QueueItem{
		Mode:      mode.String(),
		AudioPath: path,
		Model:     c.cfg.Model,
		CreatedAt: time.Now().UnixMilli(),
	})
}

// enqueuePrompt queues only the unfinished language-model call; the
// transcription already succeeded and is never redone.
func (c *Controller) enqueuePrompt(mode Mode, promptText string) {
	c.enqueue(&store.QueueItem{
		Mode:       mode.String(),
		PromptText: promptText,
		Model:      c.cfg.Model,
		CreatedAt:  time.Now().UnixMilli(),
	})
}

func (c *Controller) enqueue(item *store.QueueItem) {
	err := c.cfg.Store.Enqueue(item)
	if errors.Is(err, store.ErrQueueFull) {
		if item.AudioPath != "" {
			os.Remove(item.AudioPath)
		}
		log.QueueEvent("rejected", 0, store.MaxQueueItems)
		c.cfg.Events.QueueFull()
		c.cfg.Events.RecordingError("offline queue is full, free a slot and retry")
		return
	}
	if err != nil {
		log.Errorf("enqueue failed: %v", err)
		c.cfg.Events.RecordingError("could not queue recording: " + err.Error())
		return
	}
	count, _ := c.cfg.Store.QueueCount()
	log.QueueEvent("enqueued", item.ID, count)
	c.cfg.Events.QueueUpdated(count)
}

func (c *Controller) logMetrics(result transcriber.SessionResult) {
	if result.Batch != nil {
		log.BatchMetrics(log.BatchMetricsData{
			AudioLengthS:     result.Batch.AudioLengthS,
			RawSizeKB:        result.Batch.RawSizeKB,
			CompressedSizeKB: result.Batch.CompressedSizeKB,
			TTFBMs:           result.Batch.TTFBMs,
			TotalTimeMs:      result.Batch.TotalTimeMs,
		}, c.cfg.Format, c.cfg.Model)
	}
	if result.Stream != nil {
		log.StreamMetrics(log.StreamMetricsData{
			ConnectMs:  result.Stream.ConnectMs,
			FinalizeMs: result.Stream.FinalizeMs,
			TotalMs:    result.Stream.TotalMs,
			AudioS:     result.Stream.AudioS,
			SentChunks: result.Stream.SentChunks,
			SentKB:     result.Stream.SentKB,
			RecvDeltas: result.Stream.RecvDeltas,
		})
	}
}
