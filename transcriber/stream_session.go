package transcriber

import (
	"strings"
	"sync"
	"time"

	"dicta/encoder"
	"dicta/log"
)

const (
	streamChunkMs      = 200
	streamChunkBytes   = encoder.SampleRate * encoder.Channels * (encoder.BitsPerSample / 8) * streamChunkMs / 1000
	streamFinalizeIdle = 200 * time.Millisecond
	streamFinalizeMax  = 2 * time.Second
)

type rawStreamSession interface {
	Send(pcm []byte) error
	CloseSend() error
	Recv() (streamUpdate, error)
	Close() error
}

type streamUpdate struct {
	Delta     string // incremental fragment
	Text      string // full utterance text, set when Completed
	Completed bool
}

type streamSession struct {
	ws        rawStreamSession
	committed string
	audioCh   chan []byte
	updates   chan string
	startedAt time.Time

	sendDone      chan struct{}
	recvDone      chan struct{}
	finalized     chan struct{}
	finalizedOnce sync.Once

	feedBuf []byte
	feedMu  sync.Mutex

	mu      sync.Mutex
	err     error
	errOnce sync.Once
	closing bool
	stats   streamStats
}

type streamStats struct {
	ConnectDur   time.Duration
	SentChunks   int
	SentBytes    uint64
	RecvDeltas   int
	FinalizeWait time.Duration
	SessionDur   time.Duration
}

func (s streamStats) audioDuration() float64 {
	return float64(s.SentBytes) / float64(encoder.SampleRate*encoder.Channels*(encoder.BitsPerSample/8))
}

// newStreamSession dials before returning: the caller only gets a
// session once the socket is live, so a refused or rejected handshake
// surfaces as a start failure instead of minutes later at Close.
func newStreamSession(dial func() (rawStreamSession, error)) (*streamSession, error) {
	ss := &streamSession{
		audioCh:   make(chan []byte, 128),
		updates:   make(chan string, 16),
		startedAt: time.Now(),
		sendDone:  make(chan struct{}),
		recvDone:  make(chan struct{}),
		finalized: make(chan struct{}),
	}

	connectStart := time.Now()
	ws, err := dial()
	ss.stats.ConnectDur = time.Since(connectStart)
	if err != nil {
		return nil, err
	}

	ss.ws = ws
	go ss.runSender()
	go ss.runReceiver()
	return ss, nil
}

func (s *streamSession) Feed(pcm []byte) {
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.feedMu.Lock()
	s.feedBuf = append(s.feedBuf, pcm...)
	var chunks [][]byte
	for len(s.feedBuf) >= streamChunkBytes {
		chunk := make([]byte, streamChunkBytes)
		copy(chunk, s.feedBuf[:streamChunkBytes])
		s.feedBuf = s.feedBuf[streamChunkBytes:]
		chunks = append(chunks, chunk)
	}
	s.feedMu.Unlock()

	for _, chunk := range chunks {
		s.audioCh <- chunk
	}
}

func (s *streamSession) Updates() <-chan string {
	return s.updates
}

func (s *streamSession) Close() (SessionResult, error) {
	// Flush remaining buffered PCM
	s.feedMu.Lock()
	if len(s.feedBuf) > 0 {
		tail := make([]byte, len(s.feedBuf))
		copy(tail, s.feedBuf)
		s.feedBuf = nil
		s.audioCh <- tail
	}
	s.feedMu.Unlock()
	close(s.audioCh)
	finalizeStart := time.Now()

	<-s.sendDone

	// Wait for the provider to deliver the committed transcript,
	// then a brief quiet period for trailing utterances.
	select {
	case <-s.finalized:
		time.Sleep(streamFinalizeIdle)
	case <-time.After(streamFinalizeMax):
	}

	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.ws.Close()
	select {
	case <-s.recvDone:
	case <-time.After(2 * time.Second):
		log.Warn("stream receiver drain timeout")
	}

	close(s.updates)

	s.mu.Lock()
	text := s.committed
	stats := s.stats
	stats.FinalizeWait = time.Since(finalizeStart)
	stats.SessionDur = time.Since(s.startedAt)
	sessionErr := s.err
	s.mu.Unlock()

	cleanText := strings.TrimSpace(text)
	noSpeech := cleanText == ""

	return SessionResult{
		Text:     cleanText,
		HasText:  !noSpeech,
		NoSpeech: noSpeech,
		Stream: &StreamStats{
			ConnectMs:  float64(stats.ConnectDur.Milliseconds()),
			SentChunks: stats.SentChunks,
			SentKB:     float64(stats.SentBytes) / 1024,
			RecvDeltas: stats.RecvDeltas,
			FinalizeMs: float64(stats.FinalizeWait.Milliseconds()),
			TotalMs:    float64(stats.SessionDur.Milliseconds()),
			AudioS:     stats.audioDuration(),
		},
	}, sessionErr
}

func (s *streamSession) runSender() {
	defer close(s.sendDone)
	for chunk := range s.audioCh {
		if err := s.ws.Send(chunk); err != nil {
			s.setErr(err)
			return
		}
		s.mu.Lock()
		s.stats.SentChunks++
		s.stats.SentBytes += uint64(len(chunk))
		s.mu.Unlock()
	}
	if err := s.ws.CloseSend(); err != nil {
		s.setErr(err)
	}
}

func (s *streamSession) runReceiver() {
	defer close(s.recvDone)
	for {
		update, err := s.ws.Recv()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return
			}
			s.setErr(err)
			return
		}

		if update.Delta != "" {
			s.mu.Lock()
			s.stats.RecvDeltas++
			s.mu.Unlock()
			// Display-only fragment; the final text comes from the
			// completed utterances, so a dropped send loses nothing.
			select {
			case s.updates <- update.Delta:
			default:
			}
			continue
		}

		if !update.Completed {
			continue
		}

		transcript := strings.TrimSpace(update.Text)
		s.finalizedOnce.Do(func() { close(s.finalized) })
		if transcript == "" {
			continue
		}

		s.mu.Lock()
		if s.committed != "" {
			s.committed += " " + transcript
		} else {
			s.committed = transcript
		}
		s.mu.Unlock()
	}
}

func (s *streamSession) setErr(err error) {
	if err == nil {
		return
	}
	s.errOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		if s.ws != nil {
			s.ws.Close()
		}
	})
}
