// Command tonearm-client runs the client-side capture pipeline against a
// tonearm server. It replays a WAV file through voice-activity detection,
// classification, and the tool router as if the file were a live microphone,
// submits the routed utterance as a recall, and waits for the verdict.
//
// With a Deepgram API key, speech utterances are transcribed locally and
// submitted as voice queries; without one, only music and humming clips can
// be routed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tonearm/tonearm/internal/capture"
	"github.com/tonearm/tonearm/internal/voice"
	"github.com/tonearm/tonearm/pkg/audio"
	"github.com/tonearm/tonearm/pkg/client"
	"github.com/tonearm/tonearm/pkg/provider/audioclass"
	"github.com/tonearm/tonearm/pkg/provider/audioclass/heuristic"
	"github.com/tonearm/tonearm/pkg/provider/stt"
	"github.com/tonearm/tonearm/pkg/provider/stt/deepgram"
	"github.com/tonearm/tonearm/pkg/provider/vad/energy"
)

const (
	sampleRate  = 16000
	frameSizeMs = 30
)

func main() {
	os.Exit(run())
}

func run() int {
	server := flag.String("server", "http://localhost:8080", "tonearm server base URL")
	token := flag.String("token", "", "bearer token for the recall API")
	wavPath := flag.String("wav", "", "WAV file replayed as the microphone (16 kHz mono s16le)")
	deepgramKey := flag.String("deepgram-key", os.Getenv("DEEPGRAM_API_KEY"), "Deepgram API key for transcribing speech utterances")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall deadline for capture, submission, and the recall result")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if *token == "" || *wavPath == "" {
		fmt.Fprintln(os.Stderr, "tonearm-client: -token and -wav are required")
		return 2
	}

	pcm, err := loadPCM(*wavPath)
	if err != nil {
		slog.Error("failed to load audio", "path", *wavPath, "err", err)
		return 1
	}

	var transcriber stt.Provider
	if *deepgramKey != "" {
		transcriber, err = deepgram.New(*deepgramKey)
		if err != nil {
			slog.Error("failed to build transcriber", "err", err)
			return 1
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	p := &pipeline{
		classifier:  heuristic.New(),
		transcriber: transcriber,
		api:         client.New(*server, *token),
		done:        make(chan recallOutcome, 1),
	}
	p.loop = voice.NewLoop(p)
	p.session = capture.NewSession(
		fileDevice{pcm: pcm},
		energy.New(),
		p.loop.Dispatch,
		capture.Config{SampleRate: sampleRate, FrameSizeMs: frameSizeMs},
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := p.loop.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if err := p.loop.Dispatch(ctx, voice.UserStart()); err != nil {
		slog.Error("failed to start capture", "err", err)
		return 1
	}

	var outcome recallOutcome
	select {
	case outcome = <-p.done:
	case <-ctx.Done():
		slog.Error("timed out waiting for a routed utterance")
		cancel()
		g.Wait() //nolint:errcheck
		return 1
	}
	cancel()
	if err := g.Wait(); err != nil {
		slog.Error("event loop error", "err", err)
		return 1
	}

	if outcome.err != nil {
		slog.Error("recall failed", "err", outcome.err)
		return 1
	}
	printRecall(outcome.recall)
	return 0
}

// recallOutcome is the single result the pipeline hands back to main.
type recallOutcome struct {
	recall *client.Recall
	err    error
}

// pipeline executes the effects requested by the voice state machine: it owns
// the capture session, classifies and transcribes finished utterances, and
// submits routed ones through the API client.
type pipeline struct {
	loop        *voice.Loop
	session     *capture.Session
	classifier  audioclass.Classifier
	transcriber stt.Provider
	api         *client.Client
	done        chan recallOutcome

	clip     []byte
	clipPath string
}

func (p *pipeline) HandleEffect(ctx context.Context, effect voice.Effect) {
	switch effect.Type {
	case voice.EffectStartCapture:
		if err := p.session.Start(ctx, effect.Epoch); err != nil {
			p.fail(ctx, err, effect.Epoch)
		}

	case voice.EffectStopCapture, voice.EffectStopAll:
		p.session.Stop()
		if effect.Type == voice.EffectStopAll {
			if lastErr := p.loop.Snapshot().LastError; lastErr != nil {
				p.finish(recallOutcome{err: lastErr})
			}
		}

	case voice.EffectBeginBuffering:
		// The session buffers between VAD boundaries on its own.

	case voice.EffectClassifyAudio:
		go p.classify(ctx, effect.Epoch)

	case voice.EffectTranscribe:
		go p.transcribe(ctx, effect.Epoch)

	case voice.EffectDiscardUtterance:
		p.clip = nil
		slog.Info("utterance discarded as noise; still listening")

	case voice.EffectRouteUtterance:
		go p.route(ctx, effect)
	}
}

// classify takes the finished utterance off the session, persists it for
// later submission, and reports the classifier verdict.
func (p *pipeline) classify(ctx context.Context, epoch uint64) {
	clip := p.session.TakeUtterance()
	if len(clip) == 0 {
		p.fail(ctx, errors.New("client: utterance buffer is empty"), epoch)
		return
	}
	p.clip = clip

	path, err := persistClip(clip)
	if err != nil {
		p.fail(ctx, err, epoch)
		return
	}
	p.clipPath = path

	res, err := p.classifier.Classify(ctx, audioclass.Clip{PCM: clip, SampleRate: sampleRate})
	if err != nil {
		p.fail(ctx, err, epoch)
		return
	}
	slog.Info("utterance classified", "class", res.Class, "confidence", res.Confidence)
	p.dispatch(ctx, voice.AudioClassified(res.Class, epoch))
}

// transcribe turns a speech utterance into its final transcript.
func (p *pipeline) transcribe(ctx context.Context, epoch uint64) {
	if p.transcriber == nil {
		p.fail(ctx, errors.New("client: speech detected but no transcriber is configured (set -deepgram-key)"), epoch)
		return
	}
	tr, err := stt.TranscribeClip(ctx, p.transcriber, stt.StreamConfig{
		SampleRate: sampleRate,
		Channels:   1,
	}, p.clip)
	if err != nil {
		p.fail(ctx, err, epoch)
		return
	}
	p.dispatch(ctx, voice.STTFinal(tr.Text, epoch))
}

// route validates the utterance, submits it, and waits for the verdict.
func (p *pipeline) route(ctx context.Context, effect voice.Effect) {
	sub, err := voice.RouteUtterance(voice.Utterance{
		Transcript: effect.Transcript,
		Class:      effect.Class,
		MediaPath:  p.clipPath,
	})
	if errors.Is(err, voice.ErrNoiseIgnored) {
		slog.Info("utterance dropped before submission", "reason", err)
		p.finish(recallOutcome{err: err})
		return
	}
	if err != nil {
		p.finish(recallOutcome{err: err})
		return
	}

	res, err := p.api.Submit(ctx, client.SubmitInput{
		RequestID: uuid.NewString(),
		InputType: string(sub.InputType),
		QueryText: sub.QueryText,
		AudioPath: sub.AudioPath,
	})
	if err != nil {
		p.finish(recallOutcome{err: err})
		return
	}
	slog.Info("recall submitted", "id", res.ID, "job_type", res.JobType, "intent", res.Intent)

	recall, err := p.api.WaitForResult(ctx, res.ID, time.Second)
	p.finish(recallOutcome{recall: recall, err: err})
}

func (p *pipeline) dispatch(ctx context.Context, e voice.Event) {
	if err := p.loop.Dispatch(ctx, e); err != nil {
		slog.Warn("event dropped", "event", e.Type, "err", err)
	}
}

func (p *pipeline) fail(ctx context.Context, err error, epoch uint64) {
	p.dispatch(ctx, voice.ErrorOccurred(err, epoch))
}

func (p *pipeline) finish(o recallOutcome) {
	select {
	case p.done <- o:
	default:
	}
}

// ── Audio file replay ─────────────────────────────────────────────────────────

// fileDevice replays a PCM buffer as if it were a capture device. Opening it
// twice streams the same audio again.
type fileDevice struct {
	pcm []byte
}

func (d fileDevice) Open(ctx context.Context) (capture.Stream, error) {
	frames := make(chan audio.AudioFrame)
	s := &fileStream{frames: frames, closed: make(chan struct{})}
	go s.feed(ctx, d.pcm)
	return s, nil
}

type fileStream struct {
	frames chan audio.AudioFrame
	closed chan struct{}
}

func (s *fileStream) feed(ctx context.Context, pcm []byte) {
	defer close(s.frames)
	frameBytes := sampleRate * frameSizeMs / 1000 * 2
	for off := 0; off < len(pcm); off += frameBytes {
		end := off + frameBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		frame := audio.AudioFrame{
			Data:       pcm[off:end],
			SampleRate: sampleRate,
			Channels:   1,
			Timestamp:  time.Duration(off/2) * time.Second / sampleRate,
		}
		select {
		case s.frames <- frame:
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		}
	}
}

func (s *fileStream) Frames() <-chan audio.AudioFrame { return s.frames }
func (s *fileStream) Err() error                      { return nil }

func (s *fileStream) Close() error {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return nil
}

// loadPCM reads the replay file and strips a RIFF/WAVE header when present;
// anything else is treated as raw 16 kHz mono s16le PCM.
func loadPCM(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	const headerLen = 44
	if len(data) > headerLen && string(data[:4]) == "RIFF" && string(data[8:12]) == "WAVE" {
		data = data[headerLen:]
	}
	if len(data) == 0 {
		return nil, errors.New("client: audio file holds no samples")
	}
	return data, nil
}

// persistClip writes the utterance to a temp file the server can read back.
func persistClip(clip []byte) (string, error) {
	f, err := os.CreateTemp("", "tonearm-clip-*.pcm")
	if err != nil {
		return "", fmt.Errorf("client: persist clip: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(clip); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("client: persist clip: %w", err)
	}
	return f.Name(), nil
}

func printRecall(r *client.Recall) {
	fmt.Printf("recall %s: %s\n", r.ID, r.Status)
	if r.Result != nil && r.Result.Title != "" {
		fmt.Printf("  %s — %s (confidence %.2f)\n", r.Result.Artist, r.Result.Title, r.Result.Confidence)
		if r.Result.URL != "" {
			fmt.Printf("  %s\n", r.Result.URL)
		}
	} else if r.Result != nil && r.Result.Note != "" {
		fmt.Printf("  %s\n", r.Result.Note)
	}
	for _, c := range r.Candidates {
		fmt.Printf("  #%d %s — %s (%.2f)\n", c.Rank, c.Artist, c.Title, c.Confidence)
	}
}
