package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog        zerolog.Logger
	diagFile       *os.File
	transcribeFile *os.File
	logMu          sync.Mutex
	logReady       bool
	pid            int
	dir            string
)

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		if !filepath.IsAbs(flagPath) {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			return filepath.Join(wd, flagPath), nil
		}
		return flagPath, nil
	}

	// Priority 2: DICTA_LOG_PATH environment variable
	envPath := os.Getenv("DICTA_LOG_PATH")
	if envPath != "" {
		if !filepath.IsAbs(envPath) {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			return filepath.Join(wd, envPath), nil
		}
		return envPath, nil
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	transcribePath := filepath.Join(dir, "transcribe_log.txt")
	transcribeFile, err = os.OpenFile(transcribePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if transcribeFile != nil {
		transcribeFile.Close()
		transcribeFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

// StateChange records a session controller transition.
func StateChange(sessionID, from, to string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session", sessionID).
		Str("from", from).
		Str("to", to).
		Msg("state_change")
}

// SessionStart records the beginning of a recording session.
func SessionStart(sessionID, mode, model string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session", sessionID).
		Str("mode", mode).
		Str("model", model).
		Msg("session_start")
}

// SessionDelivered records a session that reached the ledger.
func SessionDelivered(sessionID string, words int, durationMs, costCents int64) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session", sessionID).
		Int("words", words).
		Int64("duration_ms", durationMs).
		Int64("cost_cents", costCents).
		Msg("session_delivered")
}

// QueueEvent records a mutation of the offline queue.
// action is one of: enqueued, rejected_full, removed, retry_failed.
func QueueEvent(action string, itemID int64, count int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("action", action).
		Int64("item", itemID).
		Int("count", count).
		Msg("queue")
}

// RetryEvent records one replay attempt of a queued item.
func RetryEvent(itemID int64, mode string, retryCount int, err error) {
	if !logReady {
		return
	}
	ev := diagLog.Info()
	outcome := "delivered"
	if err != nil {
		ev = diagLog.Warn().Str("error", err.Error())
		outcome = "failed"
	}
	ev.Int64("item", itemID).
		Str("mode", mode).
		Int("retry_count", retryCount).
		Str("outcome", outcome).
		Msg("retry")
}

// TranscriptionText appends the delivered text to the transcript file.
func TranscriptionText(text string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	line := fmt.Sprintf("%s\t[%d]\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, text)
	transcribeFile.WriteString(line)
}

// StreamMetricsData summarizes one realtime streaming session.
type StreamMetricsData struct {
	ConnectMs  float64
	FinalizeMs float64
	TotalMs    float64
	AudioS     float64
	SentChunks int
	SentKB     float64
	RecvDeltas int
}

func StreamMetrics(m StreamMetricsData) {
	if !logReady {
		return
	}
	diagLog.Info().
		Float64("connect_ms", m.ConnectMs).
		Float64("finalize_ms", m.FinalizeMs).
		Float64("total_ms", m.TotalMs).
		Float64("audio_s", m.AudioS).
		Int("sent_chunks", m.SentChunks).
		Float64("sent_kb", m.SentKB).
		Int("recv_deltas", m.RecvDeltas).
		Msg("stream_transcription")
}

// BatchMetricsData summarizes one batch transcription call.
type BatchMetricsData struct {
	AudioLengthS     float64
	RawSizeKB        float64
	CompressedSizeKB float64
	TTFBMs           float64
	TotalTimeMs      float64
}

func BatchMetrics(m BatchMetricsData, format, model string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("format", format).
		Str("model", model).
		Float64("audio_s", m.AudioLengthS).
		Float64("raw_kb", m.RawSizeKB).
		Float64("compressed_kb", m.CompressedSizeKB).
		Float64("ttfb_ms", m.TTFBMs).
		Float64("total_ms", m.TotalTimeMs).
		Msg("batch_transcription")
}

func SessionEnd(count int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("count", count).
		Msg("session_end")
}
