package voice

import (
	"errors"
	"testing"

	"github.com/tonearm/tonearm/pkg/ledger"
	"github.com/tonearm/tonearm/pkg/provider/audioclass"
)

func TestRouteUtterance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      Utterance
		want    Submission
		wantErr error
	}{
		{
			name: "speech with transcript",
			in:   Utterance{Transcript: "play that song about the lighthouse", Class: audioclass.ClassSpeech},
			want: Submission{InputType: ledger.InputVoice, QueryText: "play that song about the lighthouse"},
		},
		{
			name: "speech transcript is trimmed",
			in:   Utterance{Transcript: "  who sings this  ", Class: audioclass.ClassSpeech},
			want: Submission{InputType: ledger.InputVoice, QueryText: "who sings this"},
		},
		{
			name:    "whitespace-only transcript",
			in:      Utterance{Transcript: "   ", Class: audioclass.ClassSpeech},
			wantErr: ErrEmptyTranscript,
		},
		{
			name:    "empty transcript",
			in:      Utterance{Class: audioclass.ClassSpeech},
			wantErr: ErrEmptyTranscript,
		},
		{
			name: "music with media path",
			in:   Utterance{Class: audioclass.ClassMusic, MediaPath: "/tmp/clip.wav"},
			want: Submission{InputType: ledger.InputBackground, AudioPath: "/tmp/clip.wav"},
		},
		{
			name:    "music without media path",
			in:      Utterance{Class: audioclass.ClassMusic},
			wantErr: ErrMissingMediaPath,
		},
		{
			name: "humming with media path",
			in:   Utterance{Class: audioclass.ClassHumming, MediaPath: "/tmp/hum.wav"},
			want: Submission{InputType: ledger.InputHum, AudioPath: "/tmp/hum.wav"},
		},
		{
			name:    "humming without media path",
			in:      Utterance{Class: audioclass.ClassHumming},
			wantErr: ErrMissingMediaPath,
		},
		{
			name:    "noise is dropped",
			in:      Utterance{Transcript: "irrelevant", Class: audioclass.ClassNoise, MediaPath: "/tmp/clip.wav"},
			wantErr: ErrNoiseIgnored,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := RouteUtterance(tc.in)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("RouteUtterance: %v", err)
			}
			if got != tc.want {
				t.Errorf("submission = %+v, want %+v", got, tc.want)
			}
		})
	}
}
