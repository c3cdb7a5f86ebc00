package session

import "math"

// Provider rates in hundredths of a cent, so a 10-second utterance
// still gets a non-zero estimate.
const (
	// Audio transcription, per minute of audio.
	transcribeCentsPerMinute = 60 // $0.006/min
	realtimeCentsPerMinute   = 60
	// Flat per language-model call; prompt payloads are small.
	promptFlatCents = 15
)

// EstimateCents estimates the provider cost of one delivered session
// in hundredths of a cent.
func EstimateCents(mode Mode, durationMs int64) int64 {
	minutes := float64(durationMs) / 60000.0
	var cents float64
	if mode.UsesAudio() {
		if mode.Streams() {
			cents = minutes * realtimeCentsPerMinute
		} else {
			cents = minutes * transcribeCentsPerMinute
		}
	}
	if mode.Prompts() {
		cents += promptFlatCents
	}
	return int64(math.Round(cents))
}
