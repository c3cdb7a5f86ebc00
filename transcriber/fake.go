package transcriber

import (
	"context"
	"sync"
	"time"
)

// FakeTranscriber serves canned results for tests. Each NewSession
// consumes the next scripted outcome; once the script is exhausted it
// falls back to the default text/err pair.
type FakeTranscriber struct {
	mu         sync.Mutex
	text       string
	err        error
	connectErr error
	deltas     []string
	script     []fakeOutcome
	sessions   int
}

type fakeOutcome struct {
	text string
	err  error
}

func NewFake(text string, err error) *FakeTranscriber {
	return &FakeTranscriber{text: text, err: err}
}

func (f *FakeTranscriber) Name() string           { return "fake" }
func (f *FakeTranscriber) SetLanguage(lang string) {}
func (f *FakeTranscriber) GetLanguage() string     { return "" }

// Enqueue adds a scripted outcome consumed by the next NewSession.
func (f *FakeTranscriber) Enqueue(text string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append(f.script, fakeOutcome{text: text, err: err})
}

// FailConnect makes the next NewSession fail before a session exists,
// like a refused dial or a rejected handshake.
func (f *FakeTranscriber) FailConnect(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErr = err
}

// SetDeltas makes stream sessions emit these fragments on Updates
// before Close returns.
func (f *FakeTranscriber) SetDeltas(deltas ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deltas = deltas
}

// SessionCount reports how many sessions were opened.
func (f *FakeTranscriber) SessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions
}

func (f *FakeTranscriber) NewSession(_ context.Context, cfg SessionConfig) (Session, error) {
	f.mu.Lock()
	if f.connectErr != nil {
		err := f.connectErr
		f.connectErr = nil
		f.mu.Unlock()
		return nil, err
	}
	f.sessions++
	text, err := f.text, f.err
	if len(f.script) > 0 {
		text, err = f.script[0].text, f.script[0].err
		f.script = f.script[1:]
	}
	deltas := f.deltas
	f.mu.Unlock()

	updates := make(chan string, len(deltas)+1)
	if cfg.Stream && len(deltas) > 0 {
		// Deltas arrive before any scripted failure, like fragments
		// received before a connection drop.
		go func() {
			for _, d := range deltas {
				time.Sleep(time.Millisecond)
				updates <- d
			}
			close(updates)
		}()
	} else {
		close(updates)
	}
	return &fakeSession{text: text, err: err, stream: cfg.Stream, updates: updates}, nil
}

type fakeSession struct {
	text    string
	err     error
	stream  bool
	updates chan string
	fedMu   sync.Mutex
	fed     int
}

func (s *fakeSession) Feed(pcm []byte) {
	s.fedMu.Lock()
	s.fed += len(pcm)
	s.fedMu.Unlock()
}

func (s *fakeSession) Updates() <-chan string { return s.updates }

func (s *fakeSession) Close() (SessionResult, error) {
	if s.err != nil {
		return SessionResult{}, s.err
	}
	sr := SessionResult{
		Text:     s.text,
		HasText:  s.text != "",
		NoSpeech: s.text == "",
	}
	if s.stream {
		sr.Stream = &StreamStats{TotalMs: 10}
	} else {
		sr.Batch = &BatchStats{AudioLengthS: 1.0, TotalTimeMs: 10}
	}
	return sr, nil
}
