// Package assistant is the post-processing client: one-shot language
// model calls over transcripts, with optional conversation history.
package assistant

import (
	"context"
	"fmt"
	"os"
)

// Message is one prior conversation turn sent along with a prompt.
type Message struct {
	Role    string // "user" | "assistant"
	Content string
}

// Client sends prompts to a language model. Implementations: OpenAI
// and Fake for tests.
type Client interface {
	Name() string
	// CleanTranscript rewrites a raw transcript into clean prose
	// without answering it.
	CleanTranscript(ctx context.Context, raw string) (string, error)
	// SendPrompt answers the prompt with the given model, carrying
	// prior conversation turns for context.
	SendPrompt(ctx context.Context, prompt, model string, history []Message) (string, error)
}

// New builds the client from the environment.
func New() (Client, error) {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("set OPENAI_API_KEY environment variable")
	}
	return NewOpenAI(key), nil
}
