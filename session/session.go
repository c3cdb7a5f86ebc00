// Package session owns the recording session lifecycle: at most one
// active session, explicit state transitions, and the routing of every
// post-capture failure into either the offline queue or a user-facing
// error.
package session

import (
	"errors"
	"fmt"
	"time"
)

// MaxRecordingTime is the hard recording ceiling. Bounds provider cost
// and memory for a forgotten open mic.
const MaxRecordingTime = 6 * time.Minute

type State int

const (
	Idle State = iota
	Starting
	Recording
	Stopping
	Finalizing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Recording:
		return "recording"
	case Stopping:
		return "stopping"
	case Finalizing:
		return "finalizing"
	}
	return "unknown"
}

// Mode selects which clients a session drives and in what order.
type Mode string

const (
	ModeRealtimeAudio     Mode = "realtime-audio"
	ModeWhisperTranscribe Mode = "whisper-transcribe"
	ModeWhisperPrompt     Mode = "whisper-prompt"
	ModeRealtimePrompt    Mode = "realtime-prompt"
	ModeTextPrompt        Mode = "text-prompt"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeRealtimeAudio, ModeWhisperTranscribe, ModeWhisperPrompt,
		ModeRealtimePrompt, ModeTextPrompt:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

func (m Mode) String() string { return string(m) }

// UsesAudio reports whether the mode records from the microphone.
func (m Mode) UsesAudio() bool { return m != ModeTextPrompt }

// Streams reports whether the mode transcribes over the realtime
// WebSocket instead of a batch upload.
func (m Mode) Streams() bool {
	return m == ModeRealtimeAudio || m == ModeRealtimePrompt
}

// Prompts reports whether the transcript is sent to the language model
// and the answer delivered instead of the transcript itself.
func (m Mode) Prompts() bool {
	return m == ModeWhisperPrompt || m == ModeRealtimePrompt || m == ModeTextPrompt
}

var (
	// ErrBusy means a session is already active; the duplicate
	// trigger is dropped, not buffered.
	ErrBusy = errors.New("a session is already active")
	// ErrNotRecording means stop/cancel arrived with nothing to act on.
	ErrNotRecording = errors.New("no active recording session")
)
