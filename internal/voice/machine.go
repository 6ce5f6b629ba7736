// Package voice implements the client-side capture orchestration state
// machine and the tool router that pre-filters finalized utterances before
// submission.
//
// The machine is a pure reducer: [Apply] maps (machine, event) to a new
// machine value plus a list of requested side effects. The reducer itself
// performs no I/O; a [Loop] feeds it events from a single channel and hands
// the effects to an [EffectHandler]. Undefined (state, event) pairs are
// deliberate no-ops — malformed event ordering must never panic the
// orchestrator, only fail to progress.
package voice

import "github.com/tonearm/tonearm/pkg/provider/audioclass"

// State is the orchestrator's lifecycle position. Exactly one state is
// active at a time.
type State string

const (
	StateIdle        State = "idle"
	StateListening   State = "listening"
	StateCapturing   State = "capturing_utterance"
	StateClassifying State = "classifying_audio"
	StateThinking    State = "thinking"
	StateError       State = "error"
)

// EffectType discriminates the side effects a transition requests.
type EffectType string

const (
	// EffectStartCapture asks the capture session to acquire the device and
	// begin streaming frames.
	EffectStartCapture EffectType = "start_capture"

	// EffectStopCapture asks the capture session to release the device.
	EffectStopCapture EffectType = "stop_capture"

	// EffectBeginBuffering asks the capture session to start retaining
	// frames for the current utterance.
	EffectBeginBuffering EffectType = "begin_buffering"

	// EffectClassifyAudio asks for the buffered utterance to be classified.
	EffectClassifyAudio EffectType = "classify_audio"

	// EffectTranscribe asks for the buffered utterance to be forwarded to
	// the transcription adapter.
	EffectTranscribe EffectType = "transcribe"

	// EffectRouteUtterance asks for the finalized utterance to be handed to
	// the tool router. Transcript carries the final text, Class the verdict.
	EffectRouteUtterance EffectType = "route_utterance"

	// EffectDiscardUtterance drops the buffered utterance without routing.
	EffectDiscardUtterance EffectType = "discard_utterance"

	// EffectStopAll tears down all active I/O after an error or reset.
	EffectStopAll EffectType = "stop_all"
)

// Effect is a side-effect request emitted by [Apply]. The reducer never
// performs the work itself; the [EffectHandler] does, and background results
// flow back as events echoing Epoch.
type Effect struct {
	Type       EffectType
	Transcript string
	Class      audioclass.Class

	// Epoch identifies the capture generation the effect belongs to.
	Epoch uint64
}

// Machine is the orchestrator's complete state. It is a value type; [Apply]
// returns a new Machine rather than mutating the receiver, which keeps the
// reducer trivially testable.
type Machine struct {
	State State

	// IsMuted is orthogonal to State and toggled only by mute/unmute events.
	IsMuted bool

	// LiveTranscript is the latest partial transcript, for UI feedback only.
	LiveTranscript string

	// FinalTranscript is the finalized utterance text, set on STT final.
	FinalTranscript string

	// Class is the classifier verdict for the current utterance.
	Class audioclass.Class

	// LastError is the failure that moved the machine to StateError.
	LastError error

	// Epoch is the current capture generation. Incremented whenever
	// outstanding background work must be invalidated (stop, reset, error).
	Epoch uint64
}

// NewMachine returns a machine in the idle state with epoch 1, so that a
// zero-valued stale event can never match the first capture generation.
func NewMachine() Machine {
	return Machine{State: StateIdle, Epoch: 1}
}

// Apply is the orchestrator's transition function. It is pure and total:
// identical inputs yield identical outputs, and undefined (state, event)
// pairs return the machine unchanged with no effects.
func Apply(m Machine, e Event) (Machine, []Effect) {
	// Results from a previous capture generation are dropped wholesale.
	if e.async() && e.Epoch != m.Epoch {
		return m, nil
	}

	switch e.Type {
	case EventUserMute:
		m.IsMuted = true
		return m, nil
	case EventUserUnmute:
		m.IsMuted = false
		return m, nil

	case EventReset:
		wasActive := m.State != StateIdle
		muted := m.IsMuted
		next := NewMachine()
		next.Epoch = m.Epoch + 1
		next.IsMuted = muted
		if wasActive {
			return next, []Effect{{Type: EffectStopAll, Epoch: next.Epoch}}
		}
		return next, nil

	case EventErrorOccurred:
		m.State = StateError
		m.LastError = e.Err
		m.Epoch++
		return m, []Effect{{Type: EffectStopAll, Epoch: m.Epoch}}

	case EventSTTPartial:
		// UI feedback only; no transition.
		m.LiveTranscript = e.Text
		return m, nil
	}

	switch m.State {
	case StateIdle:
		if e.Type == EventUserStart {
			m.State = StateListening
			m.LiveTranscript = ""
			m.FinalTranscript = ""
			m.Class = ""
			return m, []Effect{{Type: EffectStartCapture, Epoch: m.Epoch}}
		}

	case StateListening:
		switch e.Type {
		case EventVADSpeechStart:
			m.State = StateCapturing
			return m, []Effect{{Type: EffectBeginBuffering, Epoch: m.Epoch}}
		case EventUserStop:
			m.State = StateIdle
			m.Epoch++
			return m, []Effect{{Type: EffectStopCapture, Epoch: m.Epoch}}
		}

	case StateCapturing:
		switch e.Type {
		case EventVADSpeechEnd:
			m.State = StateClassifying
			return m, []Effect{{Type: EffectClassifyAudio, Epoch: m.Epoch}}
		case EventUserStop:
			m.State = StateIdle
			m.Epoch++
			return m, []Effect{{Type: EffectStopCapture, Epoch: m.Epoch}}
		}

	case StateClassifying:
		switch e.Type {
		case EventAudioClassified:
			return applyClassification(m, e.Class)
		case EventSTTFinal:
			m.State = StateThinking
			m.FinalTranscript = e.Text
			m.LiveTranscript = ""
			return m, []Effect{{
				Type:       EffectRouteUtterance,
				Transcript: e.Text,
				Class:      m.Class,
				Epoch:      m.Epoch,
			}}
		}

	case StateThinking, StateError:
		if m.State == StateError && e.Type == EventRecovered {
			m.State = StateIdle
			m.LastError = nil
			return m, nil
		}
	}

	return m, nil
}

// applyClassification routes the buffered utterance by classifier verdict:
// speech goes to transcription and stays in classifying until the final
// transcript arrives; music and humming go straight to the tool router for
// fingerprint submission; noise is discarded and the machine resumes
// listening.
func applyClassification(m Machine, class audioclass.Class) (Machine, []Effect) {
	m.Class = class
	switch class {
	case audioclass.ClassSpeech:
		return m, []Effect{{Type: EffectTranscribe, Epoch: m.Epoch}}
	case audioclass.ClassMusic, audioclass.ClassHumming:
		m.State = StateThinking
		return m, []Effect{{Type: EffectRouteUtterance, Class: class, Epoch: m.Epoch}}
	case audioclass.ClassNoise:
		m.State = StateListening
		return m, []Effect{{Type: EffectDiscardUtterance, Epoch: m.Epoch}}
	}
	return m, nil
}
