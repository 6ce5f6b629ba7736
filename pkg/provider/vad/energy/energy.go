// Package energy provides a dependency-free VAD engine based on short-term
// RMS energy with hangover smoothing.
//
// It is not a neural detector: probability is a normalised energy score, and
// accuracy in noisy environments is limited. It is the default engine for
// development and for deployments that cannot ship model files.
package energy

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/tonearm/tonearm/pkg/provider/vad"
)

// Compile-time interface checks.
var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*session)(nil)
)

// hangoverFrames is the number of consecutive sub-threshold frames required
// before an active segment is declared ended. Smooths over short intra-word
// pauses.
const hangoverFrames = 8

// referenceRMS is the RMS amplitude (of int16 samples) mapped to probability
// 1.0. Roughly -22 dBFS.
const referenceRMS = 2500.0

// Engine creates energy-based VAD sessions.
type Engine struct{}

// New creates an energy VAD engine.
func New() *Engine { return &Engine{} }

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy vad: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy vad: frame size must be positive, got %dms", cfg.FrameSizeMs)
	}
	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy vad: speech threshold %v out of range [0,1]", cfg.SpeechThreshold)
	}
	if cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy vad: silence threshold %v above speech threshold %v",
			cfg.SilenceThreshold, cfg.SpeechThreshold)
	}
	frameBytes := cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2 // 16-bit mono
	return &session{cfg: cfg, frameBytes: frameBytes}, nil
}

type session struct {
	mu         sync.Mutex
	cfg        vad.Config
	frameBytes int

	inSpeech bool
	silent   int // consecutive sub-threshold frames while inSpeech
	closed   bool
}

// ProcessFrame implements [vad.SessionHandle].
func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return vad.Event{}, fmt.Errorf("energy vad: session closed")
	}
	if len(frame) != s.frameBytes {
		return vad.Event{}, fmt.Errorf("energy vad: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}

	prob := s.probability(frame)
	ev := vad.Event{Probability: prob}

	switch {
	case !s.inSpeech && prob >= s.cfg.SpeechThreshold:
		s.inSpeech = true
		s.silent = 0
		ev.Type = vad.SpeechStart
	case s.inSpeech && prob < s.cfg.SilenceThreshold:
		s.silent++
		if s.silent >= hangoverFrames {
			s.inSpeech = false
			s.silent = 0
			ev.Type = vad.SpeechEnd
		} else {
			ev.Type = vad.SpeechContinue
		}
	case s.inSpeech:
		s.silent = 0
		ev.Type = vad.SpeechContinue
	default:
		ev.Type = vad.Silence
	}
	return ev, nil
}

// probability maps the frame's RMS amplitude onto [0,1].
func (s *session) probability(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(frame[i*2:]))
		sum += float64(sample) * float64(sample)
	}
	rms := math.Sqrt(sum / float64(n))
	return math.Min(rms/referenceRMS, 1)
}

// Reset implements [vad.SessionHandle].
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inSpeech = false
	s.silent = 0
}

// Close implements [vad.SessionHandle].
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
