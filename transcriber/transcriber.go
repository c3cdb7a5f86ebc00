package transcriber

import (
	"context"
	"fmt"
	"net/http"
	"os"
)

func firstNonEmpty(h http.Header, keys ...string) string {
	for _, k := range keys {
		if v := h.Get(k); v != "" {
			return v
		}
	}
	return "?"
}

// Result is one batch transcription response.
type Result struct {
	Text      string
	Metrics   *NetworkMetrics
	RateLimit string
}

// Transcriber creates transcription sessions against one ASR
// provider. Implementations: OpenAI (batch Whisper + realtime
// streaming) and Fake for tests.
type Transcriber interface {
	Name() string
	SetLanguage(lang string)
	GetLanguage() string
	NewSession(ctx context.Context, cfg SessionConfig) (Session, error)
}

type baseTranscriber struct {
	client *TracedClient
	apiURL string
	lang   string
}

func (b *baseTranscriber) SetLanguage(lang string) { b.lang = lang }

func (b *baseTranscriber) GetLanguage() string { return b.lang }

// New builds the transcriber from the environment.
func New() (Transcriber, error) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("set OPENAI_API_KEY environment variable")
	}
	return NewOpenAI(key), nil
}
