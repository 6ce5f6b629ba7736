// Package capture owns the audio input device for the client pipeline. A
// [Session] acquires a [Device], streams its frames through voice-activity
// detection, buffers one utterance between speech boundaries, and reports
// everything that happens as orchestrator events through an [EventSink].
//
// The session never talks to the state machine directly: boundary events
// carry the epoch the session was started with, so results from a stopped
// session are discarded by the reducer instead of corrupting the next
// capture.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tonearm/tonearm/internal/resilience"
	"github.com/tonearm/tonearm/internal/voice"
	"github.com/tonearm/tonearm/pkg/audio"
	"github.com/tonearm/tonearm/pkg/provider/vad"
)

// ErrAlreadyStarted is returned by [Session.Start] while a capture is running.
var ErrAlreadyStarted = errors.New("capture: session already started")

const (
	defaultSampleRate  = 16000
	defaultFrameSizeMs = 30
	defaultMaxDuration = 15 * time.Second
)

// Device is the hardware boundary. Implementations wrap a microphone or any
// other audio source and must release the underlying device mode when the
// returned stream is closed, even on error paths.
type Device interface {
	// Open acquires the device and starts delivering frames. The frames
	// channel is closed when the device is released or fails; a device
	// failure (e.g. a competing audio session taking priority) is reported
	// through the stream's Err method after the channel closes.
	Open(ctx context.Context) (Stream, error)
}

// Stream is an open device capture.
type Stream interface {
	// Frames delivers captured audio. Closed on release or device failure.
	Frames() <-chan audio.AudioFrame

	// Err reports why the frame channel closed. Nil after a clean Close.
	Err() error

	// Close releases the device. Closing twice is a no-op.
	Close() error
}

// EventSink receives orchestrator events from the session.
// [voice.Loop.Dispatch] satisfies this signature.
type EventSink func(ctx context.Context, e voice.Event) error

// Config tunes a [Session]. Zero values select the defaults.
type Config struct {
	// SampleRate is the pipeline sample rate in Hz. Device frames are
	// converted to this rate, mono. Default 16000.
	SampleRate int

	// FrameSizeMs is the VAD analysis frame length. Default 30.
	FrameSizeMs int

	// MaxDuration hard-caps a single utterance; the session forces a
	// speech-end boundary when it elapses. Default 15s.
	MaxDuration time.Duration

	// Retry is the device activation retry policy. Zero value uses
	// [resilience.DefaultRetry].
	Retry resilience.RetryConfig
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = defaultSampleRate
	}
	if c.FrameSizeMs <= 0 {
		c.FrameSizeMs = defaultFrameSizeMs
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = defaultMaxDuration
	}
	if c.Retry.Attempts < 1 {
		c.Retry = resilience.DefaultRetry
	}
	return c
}

// Session coordinates one device capture at a time. All exported methods are
// safe for concurrent use; Stop and TakeUtterance may race with the pump
// goroutine freely.
type Session struct {
	device Device
	engine vad.Engine
	sink   EventSink
	cfg    Config
	logger *slog.Logger

	level atomic.Uint64 // math.Float64bits of the last frame's level

	mu       sync.Mutex
	stream   Stream
	cancel   context.CancelFunc
	done     chan struct{}
	inSpeech bool // speech boundary open
	buffer   []byte
	clip     []byte // finished utterance, consumed by TakeUtterance
}

// Option configures a [Session].
type Option func(*Session)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSession creates a session around the given device and VAD engine.
func NewSession(device Device, engine vad.Engine, sink EventSink, cfg Config, opts ...Option) *Session {
	s := &Session{
		device: device,
		engine: engine,
		sink:   sink,
		cfg:    cfg.withDefaults(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start acquires the device and begins streaming. Device activation is
// retried with backoff; transient failures (the usual outcome of a device
// mode switch racing another audio session) do not surface to the caller
// unless all attempts fail. Events emitted by this capture carry epoch.
func (s *Session) Start(ctx context.Context, epoch uint64) error {
	s.mu.Lock()
	if s.stream != nil {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.mu.Unlock()

	var stream Stream
	err := resilience.Retry(ctx, s.cfg.Retry, func(ctx context.Context) error {
		var openErr error
		stream, openErr = s.device.Open(ctx)
		return openErr
	})
	if err != nil {
		return fmt.Errorf("capture: activate device: %w", err)
	}

	vadSession, err := s.engine.NewSession(vad.Config{
		SampleRate:  s.cfg.SampleRate,
		FrameSizeMs: s.cfg.FrameSizeMs,
	})
	if err != nil {
		stream.Close()
		return fmt.Errorf("capture: vad session: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.stream = stream
	s.cancel = cancel
	s.done = done
	s.inSpeech = false
	s.buffer = nil
	s.mu.Unlock()

	go s.pump(pumpCtx, stream, vadSession, epoch, done)
	return nil
}

// Stop releases the device and ends the capture. Stopping twice is a no-op.
// Stop never fails; a close error is logged, not returned, because the
// device mode must be considered released either way.
func (s *Session) Stop() {
	s.mu.Lock()
	stream := s.stream
	cancel := s.cancel
	done := s.done
	s.stream = nil
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if stream == nil {
		return
	}
	cancel()
	if err := stream.Close(); err != nil {
		s.logger.Warn("capture: close stream", "err", err)
	}
	<-done
	s.level.Store(0)
}

// CurrentLevel returns the most recent signal level in [0, 1] for UI
// feedback.
func (s *Session) CurrentLevel() float64 {
	return math.Float64frombits(s.level.Load())
}

// TakeUtterance returns the most recently completed utterance clip and
// clears it. Returns nil if no utterance has completed since the last call.
func (s *Session) TakeUtterance() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	clip := s.clip
	s.clip = nil
	return clip
}

// pump drains device frames, runs VAD, and emits boundary events. It owns
// the utterance buffer for the duration of the capture.
func (s *Session) pump(ctx context.Context, stream Stream, vs vad.SessionHandle, epoch uint64, done chan struct{}) {
	defer close(done)
	defer vs.Close()

	conv := audio.FormatConverter{Target: audio.Format{SampleRate: s.cfg.SampleRate, Channels: 1}}
	var speechStarted time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-stream.Frames():
			if !ok {
				// Device failure mid-capture surfaces as an error event;
				// a clean close after Stop just ends the pump.
				if err := stream.Err(); err != nil {
					s.emit(ctx, voice.ErrorOccurred(fmt.Errorf("capture: device: %w", err), epoch))
				}
				return
			}

			frame = conv.Convert(frame)
			if len(frame.Data) == 0 {
				continue
			}
			s.level.Store(math.Float64bits(frameLevel(frame.Data)))

			ev, err := vs.ProcessFrame(frame.Data)
			if err != nil {
				s.logger.Debug("capture: vad frame skipped", "err", err)
				continue
			}

			s.mu.Lock()
			inSpeech := s.inSpeech
			s.mu.Unlock()

			switch ev.Type {
			case vad.SpeechStart:
				speechStarted = time.Now()
				s.mu.Lock()
				s.inSpeech = true
				s.buffer = append(s.buffer[:0], frame.Data...)
				s.mu.Unlock()
				s.emit(ctx, voice.VADSpeechStart(epoch))

			case vad.SpeechContinue:
				if !inSpeech {
					continue
				}
				s.mu.Lock()
				s.buffer = append(s.buffer, frame.Data...)
				s.mu.Unlock()
				if time.Since(speechStarted) >= s.cfg.MaxDuration {
					s.finishUtterance(ctx, epoch)
				}

			case vad.SpeechEnd:
				if !inSpeech {
					continue
				}
				s.mu.Lock()
				s.buffer = append(s.buffer, frame.Data...)
				s.mu.Unlock()
				s.finishUtterance(ctx, epoch)
			}
		}
	}
}

// finishUtterance seals the buffered clip and emits the speech-end boundary.
func (s *Session) finishUtterance(ctx context.Context, epoch uint64) {
	s.mu.Lock()
	s.clip = s.buffer
	s.buffer = nil
	s.inSpeech = false
	s.mu.Unlock()
	s.emit(ctx, voice.VADSpeechEnd(epoch))
}

func (s *Session) emit(ctx context.Context, e voice.Event) {
	if err := s.sink(ctx, e); err != nil {
		s.logger.Warn("capture: event dropped", "event", e.Type, "err", err)
	}
}

// frameLevel computes the normalized RMS level of little-endian int16 PCM.
func frameLevel(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}
	var sum float64
	n := len(pcm) / 2
	for i := 0; i < n; i++ {
		sample := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		sum += sample * sample
	}
	rms := math.Sqrt(sum / float64(n))
	level := rms / 32768
	if level > 1 {
		level = 1
	}
	return level
}
