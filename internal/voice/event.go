package voice

import "github.com/tonearm/tonearm/pkg/provider/audioclass"

// EventType discriminates the events consumed by the orchestrator.
type EventType string

const (
	// User/UI events. These are always current and carry no epoch.
	EventUserStart  EventType = "user_start"
	EventUserStop   EventType = "user_stop"
	EventUserMute   EventType = "user_mute"
	EventUserUnmute EventType = "user_unmute"
	EventReset      EventType = "reset"

	// Events produced by background capture, classification, and
	// transcription tasks. They echo the epoch of the effect that started
	// the work; stale epochs are discarded by the reducer.
	EventVADSpeechStart  EventType = "vad_speech_start"
	EventVADSpeechEnd    EventType = "vad_speech_end"
	EventSTTPartial      EventType = "stt_partial"
	EventSTTFinal        EventType = "stt_final"
	EventAudioClassified EventType = "audio_classified"
	EventErrorOccurred   EventType = "error_occurred"
	EventRecovered       EventType = "recovered"
)

// Event is one input to the orchestrator's transition function. Events are
// immutable once created; producers build them with the constructor helpers
// below and never mutate them afterwards.
type Event struct {
	Type EventType

	// Text carries the transcript for EventSTTPartial and EventSTTFinal.
	Text string

	// Class carries the verdict for EventAudioClassified.
	Class audioclass.Class

	// Err carries the failure for EventErrorOccurred.
	Err error

	// Epoch is the capture generation the event belongs to. Zero on user/UI
	// events, which apply regardless of generation. Background tasks echo
	// the epoch of the [Effect] that started them so that results arriving
	// after a stop or reset are discarded instead of corrupting the next
	// capture.
	Epoch uint64
}

// async reports whether the event originates from a background task and is
// therefore subject to the epoch check.
func (e Event) async() bool {
	switch e.Type {
	case EventVADSpeechStart, EventVADSpeechEnd, EventSTTPartial,
		EventSTTFinal, EventAudioClassified, EventErrorOccurred:
		return true
	}
	return false
}

// UserStart is the user asking to begin listening.
func UserStart() Event { return Event{Type: EventUserStart} }

// UserStop is the user asking to stop listening.
func UserStop() Event { return Event{Type: EventUserStop} }

// UserMute toggles the microphone mute flag on.
func UserMute() Event { return Event{Type: EventUserMute} }

// UserUnmute toggles the microphone mute flag off.
func UserUnmute() Event { return Event{Type: EventUserUnmute} }

// Reset forces the machine back to idle and clears all transient fields.
func Reset() Event { return Event{Type: EventReset} }

// VADSpeechStart marks the beginning of an utterance within epoch.
func VADSpeechStart(epoch uint64) Event {
	return Event{Type: EventVADSpeechStart, Epoch: epoch}
}

// VADSpeechEnd marks the end of an utterance within epoch.
func VADSpeechEnd(epoch uint64) Event {
	return Event{Type: EventVADSpeechEnd, Epoch: epoch}
}

// STTPartial carries a revisable partial transcript. The latest partial is
// authoritative; the reducer overwrites, never merges.
func STTPartial(text string, epoch uint64) Event {
	return Event{Type: EventSTTPartial, Text: text, Epoch: epoch}
}

// STTFinal carries the single final transcript of the utterance.
func STTFinal(text string, epoch uint64) Event {
	return Event{Type: EventSTTFinal, Text: text, Epoch: epoch}
}

// AudioClassified carries the classifier verdict for the buffered utterance.
func AudioClassified(class audioclass.Class, epoch uint64) Event {
	return Event{Type: EventAudioClassified, Class: class, Epoch: epoch}
}

// ErrorOccurred reports a failure from capture, classification, or
// transcription.
func ErrorOccurred(err error, epoch uint64) Event {
	return Event{Type: EventErrorOccurred, Err: err, Epoch: epoch}
}

// Recovered signals that the UI has acknowledged the error and the machine
// may return to idle. Recovery is always explicit, never automatic.
func Recovered() Event { return Event{Type: EventRecovered} }
