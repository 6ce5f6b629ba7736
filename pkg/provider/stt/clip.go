package stt

import (
	"context"
	"fmt"
	"strings"
)

// clipChunkBytes is the chunk size used when replaying a recorded clip into a
// streaming session. 100ms of 16kHz mono 16-bit audio.
const clipChunkBytes = 3200

// TranscribeClip runs a recorded PCM clip through a streaming provider and
// returns the concatenated final transcripts with the minimum reported
// confidence. It is the batch entry point for already-captured audio, e.g.
// the lyric fallback re-transcribing a clip that fingerprinting could not
// place.
func TranscribeClip(ctx context.Context, p Provider, cfg StreamConfig, pcm []byte) (Transcript, error) {
	sess, err := p.StartStream(ctx, cfg)
	if err != nil {
		return Transcript{}, fmt.Errorf("stt: start clip stream: %w", err)
	}

	sendErr := make(chan error, 1)
	go func() {
		defer close(sendErr)
		for off := 0; off < len(pcm); off += clipChunkBytes {
			end := off + clipChunkBytes
			if end > len(pcm) {
				end = len(pcm)
			}
			if err := sess.SendAudio(pcm[off:end]); err != nil {
				sendErr <- fmt.Errorf("stt: send clip audio: %w", err)
				return
			}
		}
		// Close flushes buffered audio and ends the finals stream.
		sendErr <- sess.Close()
	}()

	var (
		parts   []string
		minConf = -1.0
		finals  = sess.Finals()
	)
	for {
		select {
		case t, ok := <-finals:
			if !ok {
				finals = nil
			} else if t.Text != "" {
				parts = append(parts, t.Text)
				if minConf < 0 || t.Confidence < minConf {
					minConf = t.Confidence
				}
			}
		case <-ctx.Done():
			_ = sess.Close()
			return Transcript{}, ctx.Err()
		}
		if finals == nil {
			break
		}
	}

	if err := <-sendErr; err != nil {
		return Transcript{}, err
	}
	if minConf < 0 {
		minConf = 0
	}
	return Transcript{
		Text:       strings.Join(parts, " "),
		IsFinal:    true,
		Confidence: minConf,
	}, nil
}
