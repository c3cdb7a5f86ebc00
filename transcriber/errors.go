package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"nhooyr.io/websocket"
)

// APIError is a non-2xx provider response.
type APIError struct {
	Provider string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.Status, e.Body)
}

// Retryable classifies a failure that happened after audio was
// already captured. Retryable failures become queue items; everything
// else (bad payloads, auth rejection) surfaces to the user directly.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		// Rate limiting and server-side failures pass on retry;
		// 4xx means the request itself is bad.
		return apiErr.Status == 408 || apiErr.Status == 429 || apiErr.Status >= 500
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	// A WebSocket that closed for any reason other than a normal
	// goodbye is a dropped connection.
	if status := websocket.CloseStatus(err); status != -1 {
		return status != websocket.StatusNormalClosure
	}
	var wsErr websocket.CloseError
	if errors.As(err, &wsErr) {
		return wsErr.Code != websocket.StatusNormalClosure
	}

	return false
}
