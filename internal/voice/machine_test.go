package voice

import (
	"errors"
	"reflect"
	"testing"

	"github.com/tonearm/tonearm/pkg/provider/audioclass"
)

// run applies events in order and returns the final machine plus every
// effect emitted along the way.
func run(t *testing.T, m Machine, events ...Event) (Machine, []Effect) {
	t.Helper()
	var all []Effect
	for _, e := range events {
		var effects []Effect
		m, effects = Apply(m, e)
		all = append(all, effects...)
	}
	return m, all
}

func effectTypes(effects []Effect) []EffectType {
	out := make([]EffectType, len(effects))
	for i, e := range effects {
		out[i] = e.Type
	}
	return out
}

func TestHappyPathSpeech(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	epoch := m.Epoch

	m, effects := run(t, m,
		UserStart(),
		VADSpeechStart(epoch),
		VADSpeechEnd(epoch),
		AudioClassified(audioclass.ClassSpeech, epoch),
		STTFinal("what song is this", epoch),
	)

	if m.State != StateThinking {
		t.Errorf("state = %q, want %q", m.State, StateThinking)
	}
	if m.FinalTranscript != "what song is this" {
		t.Errorf("final transcript = %q", m.FinalTranscript)
	}

	want := []EffectType{
		EffectStartCapture,
		EffectBeginBuffering,
		EffectClassifyAudio,
		EffectTranscribe,
		EffectRouteUtterance,
	}
	if got := effectTypes(effects); !reflect.DeepEqual(got, want) {
		t.Errorf("effects = %v, want %v", got, want)
	}

	last := effects[len(effects)-1]
	if last.Transcript != "what song is this" || last.Class != audioclass.ClassSpeech {
		t.Errorf("route effect = %+v", last)
	}
}

func TestMusicRoutesToFingerprinting(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	epoch := m.Epoch

	m, effects := run(t, m,
		UserStart(),
		VADSpeechStart(epoch),
		VADSpeechEnd(epoch),
		AudioClassified(audioclass.ClassMusic, epoch),
	)

	if m.State != StateThinking {
		t.Errorf("state = %q, want %q", m.State, StateThinking)
	}
	last := effects[len(effects)-1]
	if last.Type != EffectRouteUtterance || last.Class != audioclass.ClassMusic {
		t.Errorf("last effect = %+v, want route with music class", last)
	}
}

func TestNoiseReturnsToListening(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	epoch := m.Epoch

	m, effects := run(t, m,
		UserStart(),
		VADSpeechStart(epoch),
		VADSpeechEnd(epoch),
		AudioClassified(audioclass.ClassNoise, epoch),
	)

	if m.State != StateListening {
		t.Errorf("state = %q, want %q", m.State, StateListening)
	}
	last := effects[len(effects)-1]
	if last.Type != EffectDiscardUtterance {
		t.Errorf("last effect = %v, want discard", last.Type)
	}
}

func TestDeterminism(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	e := UserStart()

	m1, ef1 := Apply(m, e)
	m2, ef2 := Apply(m, e)

	if !reflect.DeepEqual(m1, m2) {
		t.Errorf("machines differ: %+v vs %+v", m1, m2)
	}
	if !reflect.DeepEqual(ef1, ef2) {
		t.Errorf("effects differ: %+v vs %+v", ef1, ef2)
	}
}

func TestUndefinedPairsAreNoOps(t *testing.T) {
	t.Parallel()

	// Every event applied in every state must never panic; undefined pairs
	// leave the state unchanged and emit nothing.
	states := []State{StateIdle, StateListening, StateCapturing, StateClassifying, StateThinking, StateError}
	events := []Event{
		UserStart(), UserStop(), UserMute(), UserUnmute(), Reset(),
		VADSpeechStart(1), VADSpeechEnd(1),
		STTPartial("p", 1), STTFinal("f", 1),
		AudioClassified(audioclass.ClassSpeech, 1),
		AudioClassified(audioclass.ClassMusic, 1),
		AudioClassified(audioclass.ClassNoise, 1),
		AudioClassified("bogus", 1),
		ErrorOccurred(errors.New("boom"), 1),
		Recovered(),
		{Type: "unknown_event"},
	}

	for _, s := range states {
		for _, e := range events {
			m := NewMachine()
			m.State = s
			func() {
				defer func() {
					if r := recover(); r != nil {
						t.Errorf("Apply(%q, %q) panicked: %v", s, e.Type, r)
					}
				}()
				Apply(m, e)
			}()
		}
	}

	// A concrete undefined pair: final transcript while idle.
	m := NewMachine()
	next, effects := Apply(m, STTFinal("ghost", m.Epoch))
	if next.State != StateIdle || len(effects) != 0 {
		t.Errorf("undefined pair changed state: %+v effects %v", next, effects)
	}
}

func TestMuteIsOrthogonal(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	m, _ = run(t, m, UserStart(), UserMute())

	if m.State != StateListening {
		t.Errorf("state = %q, mute must not change state", m.State)
	}
	if !m.IsMuted {
		t.Error("IsMuted should be true")
	}

	m, _ = Apply(m, UserUnmute())
	if m.IsMuted {
		t.Error("IsMuted should be false after unmute")
	}
}

func TestPartialUpdatesLiveTranscriptOnly(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	epoch := m.Epoch
	m, _ = run(t, m, UserStart(), VADSpeechStart(epoch), VADSpeechEnd(epoch),
		AudioClassified(audioclass.ClassSpeech, epoch))

	m, effects := Apply(m, STTPartial("what so", epoch))
	if m.State != StateClassifying {
		t.Errorf("state = %q, partial must not transition", m.State)
	}
	if m.LiveTranscript != "what so" {
		t.Errorf("live transcript = %q", m.LiveTranscript)
	}
	if len(effects) != 0 {
		t.Errorf("partial emitted effects: %v", effects)
	}

	// The latest partial is authoritative; it overwrites, never merges.
	m, _ = Apply(m, STTPartial("what song is", epoch))
	if m.LiveTranscript != "what song is" {
		t.Errorf("live transcript = %q", m.LiveTranscript)
	}
}

func TestErrorAndRecovery(t *testing.T) {
	t.Parallel()

	boom := errors.New("device lost")
	m := NewMachine()
	epoch := m.Epoch
	m, effects := run(t, m, UserStart(), ErrorOccurred(boom, epoch))

	if m.State != StateError {
		t.Errorf("state = %q, want %q", m.State, StateError)
	}
	if !errors.Is(m.LastError, boom) {
		t.Errorf("LastError = %v", m.LastError)
	}
	last := effects[len(effects)-1]
	if last.Type != EffectStopAll {
		t.Errorf("last effect = %v, want stop_all", last.Type)
	}

	m, _ = Apply(m, Recovered())
	if m.State != StateIdle {
		t.Errorf("state = %q, want idle after recovery", m.State)
	}
	if m.LastError != nil {
		t.Errorf("LastError = %v, want nil", m.LastError)
	}
}

func TestRecoveryIsNeverAutomatic(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	m, _ = run(t, m, UserStart(), ErrorOccurred(errors.New("boom"), m.Epoch))
	epoch := m.Epoch

	// Nothing but Recovered or Reset may leave the error state.
	for _, e := range []Event{UserStart(), VADSpeechStart(epoch), STTFinal("x", epoch)} {
		next, _ := Apply(m, e)
		if next.State != StateError {
			t.Errorf("event %q left error state", e.Type)
		}
	}
}

func TestResetClearsEverything(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	epoch := m.Epoch
	m, _ = run(t, m, UserStart(), VADSpeechStart(epoch), VADSpeechEnd(epoch),
		AudioClassified(audioclass.ClassSpeech, epoch),
		STTPartial("some text", epoch),
		STTFinal("some text", epoch),
	)

	m, effects := Apply(m, Reset())
	if m.State != StateIdle {
		t.Errorf("state = %q, want idle", m.State)
	}
	if m.LiveTranscript != "" || m.FinalTranscript != "" || m.LastError != nil {
		t.Errorf("reset left residue: %+v", m)
	}
	if len(effects) != 1 || effects[0].Type != EffectStopAll {
		t.Errorf("effects = %v, want single stop_all", effects)
	}
}

func TestStaleEpochEventsAreDiscarded(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	oldEpoch := m.Epoch
	m, _ = run(t, m, UserStart(), VADSpeechStart(oldEpoch), VADSpeechEnd(oldEpoch))

	// Reset invalidates the outstanding classification.
	m, _ = Apply(m, Reset())
	m, _ = Apply(m, UserStart())

	// The old classification result lands after the reset.
	next, effects := Apply(m, AudioClassified(audioclass.ClassMusic, oldEpoch))
	if next.State != StateListening {
		t.Errorf("state = %q, stale event must be ignored", next.State)
	}
	if len(effects) != 0 {
		t.Errorf("stale event emitted effects: %v", effects)
	}

	// A stale error must not move the machine to the error state either.
	next, _ = Apply(m, ErrorOccurred(errors.New("late"), oldEpoch))
	if next.State == StateError {
		t.Error("stale error event moved the machine to error")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	m, _ = run(t, m, UserStart(), UserStop())
	if m.State != StateIdle {
		t.Fatalf("state = %q, want idle", m.State)
	}

	// Stopping again is a no-op, not a crash.
	next, effects := Apply(m, UserStop())
	if next.State != StateIdle || len(effects) != 0 {
		t.Errorf("second stop: state %q effects %v", next.State, effects)
	}
}
