package capture_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tonearm/tonearm/internal/capture"
	capmock "github.com/tonearm/tonearm/internal/capture/mock"
	"github.com/tonearm/tonearm/internal/resilience"
	"github.com/tonearm/tonearm/internal/voice"
	"github.com/tonearm/tonearm/pkg/audio"
	"github.com/tonearm/tonearm/pkg/provider/vad"
	vadmock "github.com/tonearm/tonearm/pkg/provider/vad/mock"
)

// eventRecorder is an EventSink that records dispatched events.
type eventRecorder struct {
	mu     sync.Mutex
	events []voice.Event
}

func (r *eventRecorder) sink(_ context.Context, e voice.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) snapshot() []voice.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]voice.Event, len(r.events))
	copy(out, r.events)
	return out
}

// waitForEvents polls until the recorder holds at least n events.
func (r *eventRecorder) waitForEvents(t *testing.T, n int) []voice.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		events := r.snapshot()
		if len(events) >= n {
			return events
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d events, have %d: %v", n, len(events), events)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func pcmFrame(value int16, samples int) audio.AudioFrame {
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		data[i*2] = byte(value)
		data[i*2+1] = byte(value >> 8)
	}
	return audio.AudioFrame{Data: data, SampleRate: 16000, Channels: 1}
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{Attempts: 3, InitialBackoff: time.Millisecond}
}

func TestSessionEmitsUtteranceBoundaries(t *testing.T) {
	t.Parallel()

	device := &capmock.Device{}
	vadSession := &vadmock.Session{
		Events: []vad.Event{
			{Type: vad.Silence},
			{Type: vad.SpeechStart, Probability: 0.9},
			{Type: vad.SpeechContinue, Probability: 0.9},
			{Type: vad.SpeechEnd, Probability: 0.2},
		},
		EventResult: vad.Event{Type: vad.Silence},
	}
	rec := &eventRecorder{}

	s := capture.NewSession(device, &vadmock.Engine{Session: vadSession}, rec.sink, capture.Config{Retry: fastRetry()})
	if err := s.Start(context.Background(), 7); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	stream := device.Streams[0]
	for i := 0; i < 4; i++ {
		stream.Push(pcmFrame(3000, 480))
	}

	events := rec.waitForEvents(t, 2)
	if events[0].Type != voice.EventVADSpeechStart || events[0].Epoch != 7 {
		t.Errorf("first event = %+v, want speech start epoch 7", events[0])
	}
	if events[1].Type != voice.EventVADSpeechEnd || events[1].Epoch != 7 {
		t.Errorf("second event = %+v, want speech end epoch 7", events[1])
	}

	clip := s.TakeUtterance()
	if len(clip) != 3*480*2 {
		t.Errorf("clip = %d bytes, want %d (start + continue + end frames)", len(clip), 3*480*2)
	}
	if s.TakeUtterance() != nil {
		t.Error("TakeUtterance must clear the clip")
	}
}

func TestSessionRetriesActivation(t *testing.T) {
	t.Parallel()

	device := &capmock.Device{
		OpenErrs: []error{errors.New("device busy"), errors.New("device busy")},
	}
	s := capture.NewSession(device, &vadmock.Engine{}, (&eventRecorder{}).sink, capture.Config{Retry: fastRetry()})

	if err := s.Start(context.Background(), 1); err != nil {
		t.Fatalf("Start should succeed on the third attempt: %v", err)
	}
	defer s.Stop()

	if device.OpenCalls != 3 {
		t.Errorf("open calls = %d, want 3", device.OpenCalls)
	}
}

func TestSessionActivationExhausted(t *testing.T) {
	t.Parallel()

	busy := errors.New("device busy")
	device := &capmock.Device{OpenErrs: []error{busy, busy, busy}}
	s := capture.NewSession(device, &vadmock.Engine{}, (&eventRecorder{}).sink, capture.Config{Retry: fastRetry()})

	if err := s.Start(context.Background(), 1); !errors.Is(err, busy) {
		t.Fatalf("err = %v, want wrapped activation failure", err)
	}
}

func TestSessionStartWhileRunning(t *testing.T) {
	t.Parallel()

	device := &capmock.Device{}
	s := capture.NewSession(device, &vadmock.Engine{}, (&eventRecorder{}).sink, capture.Config{Retry: fastRetry()})
	if err := s.Start(context.Background(), 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if err := s.Start(context.Background(), 2); !errors.Is(err, capture.ErrAlreadyStarted) {
		t.Errorf("err = %v, want capture.ErrAlreadyStarted", err)
	}
}

func TestSessionStopIsIdempotentAndReleasesDevice(t *testing.T) {
	t.Parallel()

	device := &capmock.Device{}
	s := capture.NewSession(device, &vadmock.Engine{}, (&eventRecorder{}).sink, capture.Config{Retry: fastRetry()})
	if err := s.Start(context.Background(), 1); err != nil {
		t.Fatalf("Start: %v", err)
	}

	s.Stop()
	if !device.Streams[0].Closed() {
		t.Error("stream must be closed on stop")
	}
	if lvl := s.CurrentLevel(); lvl != 0 {
		t.Errorf("level = %v after stop, want 0", lvl)
	}

	// Stopping twice must not panic or block.
	s.Stop()
}

func TestSessionDeviceInterruption(t *testing.T) {
	t.Parallel()

	device := &capmock.Device{}
	rec := &eventRecorder{}
	s := capture.NewSession(device, &vadmock.Engine{}, rec.sink, capture.Config{Retry: fastRetry()})
	if err := s.Start(context.Background(), 4); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	device.Streams[0].Fail(errors.New("audio route lost"))

	events := rec.waitForEvents(t, 1)
	if events[0].Type != voice.EventErrorOccurred || events[0].Epoch != 4 {
		t.Errorf("event = %+v, want error_occurred epoch 4", events[0])
	}
	if events[0].Err == nil {
		t.Error("error event must carry the device failure")
	}
}

func TestSessionLevelMetering(t *testing.T) {
	t.Parallel()

	device := &capmock.Device{}
	s := capture.NewSession(device, &vadmock.Engine{}, (&eventRecorder{}).sink, capture.Config{Retry: fastRetry()})
	if err := s.Start(context.Background(), 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	device.Streams[0].Push(pcmFrame(16384, 480))

	deadline := time.After(2 * time.Second)
	for {
		if lvl := s.CurrentLevel(); lvl > 0.4 && lvl <= 1 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("level never rose, got %v", s.CurrentLevel())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSessionMaxDurationForcesBoundary(t *testing.T) {
	t.Parallel()

	device := &capmock.Device{}
	vadSession := &vadmock.Session{
		Events:      []vad.Event{{Type: vad.SpeechStart, Probability: 0.9}},
		EventResult: vad.Event{Type: vad.SpeechContinue, Probability: 0.9},
	}
	rec := &eventRecorder{}
	s := capture.NewSession(device, &vadmock.Engine{Session: vadSession}, rec.sink,
		capture.Config{Retry: fastRetry(), MaxDuration: 10 * time.Millisecond})
	if err := s.Start(context.Background(), 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	stream := device.Streams[0]
	go func() {
		for i := 0; i < 50; i++ {
			stream.Push(pcmFrame(3000, 480))
			time.Sleep(time.Millisecond)
		}
	}()

	events := rec.waitForEvents(t, 2)
	if events[1].Type != voice.EventVADSpeechEnd {
		t.Errorf("second event = %+v, want forced speech end", events[1])
	}
}
