package transcriber

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"syscall"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"dicta/encoder"
)

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", &APIError{Provider: "openai", Status: 429, Body: "slow down"}, true},
		{"timeout status", &APIError{Provider: "openai", Status: 408}, true},
		{"server error", &APIError{Provider: "openai", Status: 503}, true},
		{"bad request", &APIError{Provider: "openai", Status: 400, Body: "bad audio"}, false},
		{"auth rejected", &APIError{Provider: "openai", Status: 401}, false},
		{"wrapped api error", fmt.Errorf("close: %w", &APIError{Status: 500}), true},
		{"deadline", context.DeadlineExceeded, true},
		{"conn refused", syscall.ECONNREFUSED, true},
		{"conn reset", fmt.Errorf("send: %w", syscall.ECONNRESET), true},
		{"eof", io.EOF, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"abnormal ws close", websocket.CloseError{Code: websocket.StatusAbnormalClosure}, true},
		{"normal ws close", websocket.CloseError{Code: websocket.StatusNormalClosure}, false},
		{"plain error", errors.New("something else"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestFirstNonEmpty(t *testing.T) {
	h := http.Header{}
	h.Set("X-Rate-Limit", "100")

	if got := firstNonEmpty(h, "X-Missing", "X-Rate-Limit"); got != "100" {
		t.Errorf("got %q, want %q", got, "100")
	}
	if got := firstNonEmpty(h, "X-A", "X-B"); got != "?" {
		t.Errorf("got %q, want %q", got, "?")
	}
}

func TestNewEncoder(t *testing.T) {
	for _, format := range []string{"wav", "flac"} {
		t.Run(format, func(t *testing.T) {
			enc, err := newEncoder(format)
			if err != nil {
				t.Fatalf("newEncoder(%q): %v", format, err)
			}
			if enc == nil {
				t.Fatalf("newEncoder(%q) returned nil", format)
			}
		})
	}
	t.Run("unknown", func(t *testing.T) {
		if _, err := newEncoder("ogg"); err == nil {
			t.Error("expected error for unknown format")
		}
	})
}

func TestBatchSessionFeedAndClose(t *testing.T) {
	var gotFormat string
	fakeFn := func(audio []byte, format string) (*Result, error) {
		gotFormat = format
		if len(audio) == 0 {
			t.Error("transcribe called with empty audio")
		}
		return &Result{
			Text:    "hello world",
			Metrics: &NetworkMetrics{TTFB: 10 * time.Millisecond, Total: 40 * time.Millisecond},
		}, nil
	}

	bs, err := newBatchSession(SessionConfig{Format: "wav"}, fakeFn)
	if err != nil {
		t.Fatalf("newBatchSession: %v", err)
	}

	go func() {
		for range bs.Updates() {
		}
	}()

	nSamples := encoder.BlockSize + encoder.BlockSize/2
	pcm := make([]byte, nSamples*2)
	for i := 0; i < nSamples; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(i%1000))
	}
	bs.Feed(pcm)

	result, err := bs.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if result.Text != "hello world" {
		t.Errorf("Text = %q, want %q", result.Text, "hello world")
	}
	if !result.HasText {
		t.Error("HasText should be true")
	}
	if gotFormat != "wav" {
		t.Errorf("format = %q, want wav", gotFormat)
	}
	if result.Batch == nil {
		t.Fatal("Batch should be non-nil")
	}
	if result.Batch.AudioLengthS <= 0 {
		t.Error("AudioLengthS should be positive")
	}
}

func TestBatchSessionTranscribeError(t *testing.T) {
	apiErr := &APIError{Provider: "openai", Status: 500, Body: "boom"}
	fakeFn := func([]byte, string) (*Result, error) { return nil, apiErr }

	bs, err := newBatchSession(SessionConfig{Format: "wav"}, fakeFn)
	if err != nil {
		t.Fatalf("newBatchSession: %v", err)
	}
	go func() {
		for range bs.Updates() {
		}
	}()
	bs.Feed(make([]byte, 1000))

	_, err = bs.Close()
	if err == nil {
		t.Fatal("Close should return the transcribe error")
	}
	if !Retryable(err) {
		t.Error("500 should classify retryable")
	}
}

// scriptedStream drives streamSession without a network.
type scriptedStream struct {
	updates []streamUpdate
	idx     int
	closed  chan struct{}
	once    sync.Once

	mu       sync.Mutex
	sent     int
	sendErr  error
	finished bool
}

func (s *scriptedStream) Send(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent += len(pcm)
	return nil
}

func (s *scriptedStream) CloseSend() error {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
	return nil
}

func (s *scriptedStream) Recv() (streamUpdate, error) {
	for {
		s.mu.Lock()
		finished := s.finished
		ready := s.idx < len(s.updates)
		s.mu.Unlock()
		if ready && finished {
			s.mu.Lock()
			u := s.updates[s.idx]
			s.idx++
			s.mu.Unlock()
			return u, nil
		}
		select {
		case <-s.closed:
			return streamUpdate{}, websocket.CloseError{Code: websocket.StatusNormalClosure}
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (s *scriptedStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func TestStreamSessionCommitsCompletedUtterances(t *testing.T) {
	raw := &scriptedStream{
		closed: make(chan struct{}),
		updates: []streamUpdate{
			{Delta: "Hel"},
			{Delta: "lo "},
			{Text: "Hello world", Completed: true},
		},
	}

	ss, err := newStreamSession(func() (rawStreamSession, error) { return raw, nil })
	if err != nil {
		t.Fatalf("newStreamSession: %v", err)
	}

	go func() {
		for range ss.Updates() {
		}
	}()

	pcm := make([]byte, streamChunkBytes*2)
	ss.Feed(pcm)

	result, err := ss.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if result.Text != "Hello world" {
		t.Errorf("Text = %q, want %q", result.Text, "Hello world")
	}
	if result.Stream == nil {
		t.Fatal("Stream stats should be non-nil")
	}
	if result.Stream.SentChunks != 2 {
		t.Errorf("SentChunks = %d, want 2", result.Stream.SentChunks)
	}
}

func TestStreamSessionDialFailure(t *testing.T) {
	dialErr := syscall.ECONNREFUSED
	ss, err := newStreamSession(func() (rawStreamSession, error) { return nil, dialErr })
	if err == nil {
		t.Fatal("constructor should surface the dial error, not hand out a session")
	}
	if ss != nil {
		t.Error("no session should exist for a failed dial")
	}
	if !errors.Is(err, dialErr) {
		t.Errorf("err = %v, want %v", err, dialErr)
	}
	if !Retryable(err) {
		t.Error("refused connection should classify retryable")
	}
}

func TestFakeScript(t *testing.T) {
	f := NewFake("default", nil)
	f.Enqueue("", errors.New("first fails"))
	f.Enqueue("second works", nil)

	s1, _ := f.NewSession(context.Background(), SessionConfig{})
	if _, err := s1.Close(); err == nil {
		t.Error("first scripted session should fail")
	}

	s2, _ := f.NewSession(context.Background(), SessionConfig{})
	r, err := s2.Close()
	if err != nil {
		t.Fatalf("second session: %v", err)
	}
	if r.Text != "second works" {
		t.Errorf("Text = %q", r.Text)
	}

	s3, _ := f.NewSession(context.Background(), SessionConfig{})
	r, _ = s3.Close()
	if r.Text != "default" {
		t.Errorf("exhausted script should fall back, got %q", r.Text)
	}
	if f.SessionCount() != 3 {
		t.Errorf("SessionCount = %d, want 3", f.SessionCount())
	}
}
