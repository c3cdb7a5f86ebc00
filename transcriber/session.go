package transcriber

type SessionConfig struct {
	Stream   bool
	Format   string // "wav"|"flac" (batch only; ignored for streaming)
	Language string
}

type BatchStats struct {
	AudioLengthS     float64
	RawSizeKB        float64
	CompressedSizeKB float64
	EncodeTimeMs     float64
	TTFBMs           float64
	TotalTimeMs      float64
}

type StreamStats struct {
	ConnectMs  float64
	SentChunks int
	SentKB     float64
	RecvDeltas int
	FinalizeMs float64
	TotalMs    float64
	AudioS     float64
}

type SessionResult struct {
	Text      string
	HasText   bool
	NoSpeech  bool
	RateLimit string       // "remaining/limit" or empty
	Batch     *BatchStats  // non-nil for batch sessions
	Stream    *StreamStats // non-nil for stream sessions
}

// Session is one transcription attempt. Feed never blocks on the
// network; Updates delivers transcript fragments in arrival order;
// Close flushes, waits for the provider to finish and returns the
// final text.
type Session interface {
	Feed(pcm []byte)
	Updates() <-chan string
	Close() (SessionResult, error)
}
