// Package audio holds the PCM frame type and format conversion helpers shared
// by the capture pipeline, the voice-activity gate, and the clip transcriber.
package audio

import "time"

// AudioFrame represents a single frame of audio data flowing through the
// capture pipeline. Frames are the atomic unit of audio transport: captured
// from a device stream, gated by VAD, and accumulated into recall clips.
type AudioFrame struct {
	// PCM audio data. Sample rate and channel count are determined by the pipeline config.
	Data []byte

	// SampleRate in Hz (e.g., 44100 from a device, 16000 for STT and fingerprinting).
	SampleRate int

	// Channels: 1 for mono (STT and fingerprint input), 2 for stereo device capture.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}
