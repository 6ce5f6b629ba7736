// Package heuristic provides a dependency-free audio classifier built on
// short-term energy and zero-crossing rate statistics.
//
// The rules of thumb: speech alternates voiced and unvoiced segments, so its
// energy variance and zero-crossing variance are both high; recorded music
// keeps energy steadier across frames; humming is tonal, with a low, stable
// zero-crossing rate; near-silent clips are noise. A neural classifier can
// replace this behind the same interface without touching callers.
package heuristic

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/tonearm/tonearm/pkg/provider/audioclass"
)

// Compile-time interface check.
var _ audioclass.Classifier = (*Classifier)(nil)

const (
	// frameMs is the analysis window length.
	frameMs = 25

	// noiseRMS is the RMS amplitude below which a clip is noise.
	noiseRMS = 120.0

	// hummingZCR is the per-sample zero-crossing rate below which a tonal
	// clip is treated as humming rather than speech.
	hummingZCR = 0.04

	// speechEnergyCV is the coefficient of variation of frame energy above
	// which a clip is treated as speech rather than music.
	speechEnergyCV = 0.55
)

// Classifier implements audioclass.Classifier with frame statistics.
type Classifier struct{}

// New creates a heuristic classifier.
func New() *Classifier { return &Classifier{} }

// Classify implements [audioclass.Classifier].
func (c *Classifier) Classify(ctx context.Context, clip audioclass.Clip) (audioclass.Result, error) {
	if err := ctx.Err(); err != nil {
		return audioclass.Result{}, err
	}
	if clip.SampleRate <= 0 {
		return audioclass.Result{}, fmt.Errorf("heuristic classify: sample rate must be positive, got %d", clip.SampleRate)
	}
	if len(clip.PCM) < 2 {
		return audioclass.Result{}, fmt.Errorf("heuristic classify: clip too short (%d bytes)", len(clip.PCM))
	}

	samples := decode(clip.PCM)
	frameLen := clip.SampleRate * frameMs / 1000
	if frameLen == 0 || len(samples) < frameLen {
		frameLen = len(samples)
	}

	var (
		energies []float64
		zcrs     []float64
	)
	for off := 0; off+frameLen <= len(samples); off += frameLen {
		frame := samples[off : off+frameLen]
		energies = append(energies, rms(frame))
		zcrs = append(zcrs, zcr(frame))
	}

	meanEnergy, cvEnergy := meanAndCV(energies)
	meanZCR, _ := meanAndCV(zcrs)

	switch {
	case meanEnergy < noiseRMS:
		return audioclass.Result{Class: audioclass.ClassNoise, Confidence: 0.9}, nil
	case meanZCR < hummingZCR:
		return audioclass.Result{Class: audioclass.ClassHumming, Confidence: 0.6}, nil
	case cvEnergy > speechEnergyCV:
		return audioclass.Result{Class: audioclass.ClassSpeech, Confidence: 0.7}, nil
	default:
		return audioclass.Result{Class: audioclass.ClassMusic, Confidence: 0.6}, nil
	}
}

func decode(pcm []byte) []float64 {
	n := len(pcm) / 2
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return out
}

func rms(frame []float64) float64 {
	var sum float64
	for _, s := range frame {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// zcr returns the per-sample zero-crossing rate of the frame.
func zcr(frame []float64) float64 {
	var crossings int
	for i := 1; i < len(frame); i++ {
		if (frame[i-1] >= 0) != (frame[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(frame))
}

// meanAndCV returns the mean and the coefficient of variation (stddev/mean)
// of xs. A zero mean yields CV 0.
func meanAndCV(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	if mean == 0 {
		return 0, 0
	}
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq/float64(len(xs))) / mean
}
