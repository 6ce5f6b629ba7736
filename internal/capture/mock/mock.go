// Package mock provides an in-memory [capture.Device] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/tonearm/tonearm/internal/capture"
	"github.com/tonearm/tonearm/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ capture.Device = (*Device)(nil)
	_ capture.Stream = (*Stream)(nil)
)

// Device is a scriptable capture device. Configure OpenErrs to fail the
// first N activation attempts; every later Open returns a fresh [Stream].
type Device struct {
	mu sync.Mutex

	// OpenErrs is consumed one error per Open call before opens succeed.
	OpenErrs []error

	// OpenCalls counts Open invocations.
	OpenCalls int

	// Streams records every stream handed out.
	Streams []*Stream
}

// Open implements [capture.Device].
func (d *Device) Open(_ context.Context) (capture.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls++
	if len(d.OpenErrs) > 0 {
		err := d.OpenErrs[0]
		d.OpenErrs = d.OpenErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	s := &Stream{frames: make(chan audio.AudioFrame, 64)}
	d.Streams = append(d.Streams, s)
	return s, nil
}

// Stream is the mock device capture. Push frames with [Stream.Push] and end
// the stream with [Stream.Fail] or Close.
type Stream struct {
	mu     sync.Mutex
	frames chan audio.AudioFrame
	err    error
	closed bool
}

// Push delivers a frame to the consumer.
func (s *Stream) Push(frame audio.AudioFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.frames <- frame
}

// Fail simulates a device interruption: the frame channel closes and Err
// reports err afterwards.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.err = err
	s.closed = true
	close(s.frames)
}

// Frames implements [capture.Stream].
func (s *Stream) Frames() <-chan audio.AudioFrame { return s.frames }

// Err implements [capture.Stream].
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements [capture.Stream]. Closing twice is a no-op.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.frames)
	return nil
}

// Closed reports whether the stream has been closed or failed.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
