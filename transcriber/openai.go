package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
)

const (
	openaiBatchURL    = "https://api.openai.com/v1/audio/transcriptions"
	openaiRealtimeURL = "wss://api.openai.com/v1/realtime?intent=transcription"
	openaiBatchModel  = "whisper-1"
	openaiStreamModel = "gpt-4o-transcribe"
)

type OpenAI struct {
	baseTranscriber
	apiKey string
}

func NewOpenAI(apiKey string) *OpenAI {
	return &OpenAI{
		baseTranscriber: baseTranscriber{
			client: NewTracedClient(openaiBatchURL),
			apiURL: openaiBatchURL,
		},
		apiKey: apiKey,
	}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) NewSession(ctx context.Context, cfg SessionConfig) (Session, error) {
	if cfg.Language != "" {
		o.SetLanguage(cfg.Language)
	}
	if cfg.Stream {
		ss, err := newStreamSession(func() (rawStreamSession, error) {
			return o.startRealtime(ctx, o.lang)
		})
		if err != nil {
			return nil, err
		}
		return ss, nil
	}
	go o.client.Warm()
	return newBatchSession(cfg, o.transcribe)
}

func (o *OpenAI) transcribe(audioData []byte, format string) (*Result, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio."+format)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(audioData); err != nil {
		return nil, err
	}

	writer.WriteField("model", openaiBatchModel)
	writer.WriteField("response_format", "json")
	if o.lang != "" {
		writer.WriteField("language", o.lang)
	}
	writer.Close()

	req, err := http.NewRequest("POST", o.apiURL, &body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != 200 {
		return nil, &APIError{Provider: "openai", Status: resp.StatusCode, Body: string(resp.Body)}
	}

	var oResp struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(resp.Body, &oResp); err != nil {
		return nil, &APIError{Provider: "openai", Status: resp.StatusCode, Body: "unparseable response: " + string(resp.Body)}
	}

	remaining := firstNonEmpty(resp.Header, "x-ratelimit-remaining-requests")
	limit := firstNonEmpty(resp.Header, "x-ratelimit-limit-requests")

	return &Result{
		Text:      oResp.Text,
		Metrics:   resp.Metrics,
		RateLimit: remaining + "/" + limit,
	}, nil
}
