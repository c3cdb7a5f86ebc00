package transcriber

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"nhooyr.io/websocket"
)

type realtimeEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Error      struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type openaiRealtimeSession struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

func (o *OpenAI) startRealtime(ctx context.Context, lang string) (rawStreamSession, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+o.apiKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	streamCtx, cancel := context.WithCancel(ctx)
	conn, _, err := websocket.Dial(streamCtx, openaiRealtimeURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		cancel()
		return nil, err
	}
	conn.SetReadLimit(1 << 20)

	transcription := map[string]any{"model": openaiStreamModel}
	if lang != "" {
		transcription["language"] = lang
	}
	setup := map[string]any{
		"type": "transcription_session.update",
		"session": map[string]any{
			"input_audio_format":        "pcm16",
			"input_audio_transcription": transcription,
			"turn_detection": map[string]any{
				"type":              "server_vad",
				"silence_duration_ms": 500,
			},
		},
	}
	data, err := json.Marshal(setup)
	if err != nil {
		cancel()
		conn.Close(websocket.StatusInternalError, "")
		return nil, err
	}
	if err := conn.Write(streamCtx, websocket.MessageText, data); err != nil {
		cancel()
		conn.Close(websocket.StatusInternalError, "")
		return nil, err
	}

	return &openaiRealtimeSession{conn: conn, ctx: streamCtx, cancel: cancel}, nil
}

func (s *openaiRealtimeSession) Send(pcm []byte) error {
	msg, err := json.Marshal(map[string]string{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(pcm),
	})
	if err != nil {
		return err
	}
	return s.conn.Write(s.ctx, websocket.MessageText, msg)
}

func (s *openaiRealtimeSession) CloseSend() error {
	msg := []byte(`{"type":"input_audio_buffer.commit"}`)
	return s.conn.Write(s.ctx, websocket.MessageText, msg)
}

func (s *openaiRealtimeSession) Recv() (streamUpdate, error) {
	_, data, err := s.conn.Read(s.ctx)
	if err != nil {
		return streamUpdate{}, err
	}

	var ev realtimeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return streamUpdate{}, err
	}

	switch ev.Type {
	case "conversation.item.input_audio_transcription.delta":
		return streamUpdate{Delta: ev.Delta}, nil
	case "conversation.item.input_audio_transcription.completed":
		return streamUpdate{Text: ev.Transcript, Completed: true}, nil
	case "error":
		status := 500
		if ev.Error.Type == "invalid_request_error" {
			status = 400
		}
		return streamUpdate{}, &APIError{Provider: "openai-realtime", Status: status, Body: ev.Error.Message}
	}
	return streamUpdate{}, nil
}

func (s *openaiRealtimeSession) Close() error {
	s.cancel()
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
