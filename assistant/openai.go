package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"dicta/transcriber"
)

const (
	openaiChatURL = "https://api.openai.com/v1/chat/completions"

	// DefaultModel answers prompt-mode sessions when no model was
	// picked in settings.
	DefaultModel = "gpt-4o-mini"

	cleanupModel  = "gpt-4o-mini"
	cleanupSystem = "You clean up voice dictation transcripts. Fix punctuation, " +
		"casing and obvious transcription mistakes. Do not answer, summarize " +
		"or expand the text. Reply with the corrected text only."
)

type OpenAI struct {
	client *transcriber.TracedClient
	apiURL string
	apiKey string
}

func NewOpenAI(apiKey string) *OpenAI {
	return &OpenAI{
		client: transcriber.NewTracedClient(openaiChatURL),
		apiURL: openaiChatURL,
		apiKey: apiKey,
	}
}

func (o *OpenAI) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (o *OpenAI) CleanTranscript(ctx context.Context, raw string) (string, error) {
	return o.complete(ctx, cleanupModel, []chatMessage{
		{Role: "system", Content: cleanupSystem},
		{Role: "user", Content: raw},
	})
}

func (o *OpenAI) SendPrompt(ctx context.Context, prompt, model string, history []Message) (string, error) {
	if model == "" {
		model = DefaultModel
	}
	msgs := make([]chatMessage, 0, len(history)+1)
	for _, m := range history {
		msgs = append(msgs, chatMessage{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: prompt})
	return o.complete(ctx, model, msgs)
}

func (o *OpenAI) complete(ctx context.Context, model string, msgs []chatMessage) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"model":    model,
		"messages": msgs,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.apiURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != 200 {
		return "", &transcriber.APIError{Provider: "openai-chat", Status: resp.StatusCode, Body: string(resp.Body)}
	}

	var cResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(resp.Body, &cResp); err != nil {
		return "", &transcriber.APIError{Provider: "openai-chat", Status: resp.StatusCode, Body: "unparseable response: " + string(resp.Body)}
	}
	if len(cResp.Choices) == 0 {
		return "", &transcriber.APIError{Provider: "openai-chat", Status: resp.StatusCode, Body: "empty choices"}
	}
	return cResp.Choices[0].Message.Content, nil
}
