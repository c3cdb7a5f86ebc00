package assistant

import (
	"context"
	"sync"
)

// Fake serves canned completions for tests. Each call consumes the
// next scripted outcome, falling back to the default reply/err pair.
type Fake struct {
	mu      sync.Mutex
	reply   string
	err     error
	script  []fakeOutcome
	Prompts []string // prompts received, in call order
}

type fakeOutcome struct {
	reply string
	err   error
}

func NewFake(reply string, err error) *Fake {
	return &Fake{reply: reply, err: err}
}

func (f *Fake) Name() string { return "fake" }

// Enqueue adds a scripted outcome consumed by the next call.
func (f *Fake) Enqueue(reply string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append(f.script, fakeOutcome{reply: reply, err: err})
}

func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Prompts)
}

func (f *Fake) CleanTranscript(_ context.Context, raw string) (string, error) {
	return f.next(raw)
}

func (f *Fake) SendPrompt(_ context.Context, prompt, _ string, _ []Message) (string, error) {
	return f.next(prompt)
}

func (f *Fake) next(prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Prompts = append(f.Prompts, prompt)
	reply, err := f.reply, f.err
	if len(f.script) > 0 {
		reply, err = f.script[0].reply, f.script[0].err
		f.script = f.script[1:]
	}
	return reply, err
}
