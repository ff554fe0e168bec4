package voice

// State is the wake-word detector's current phase. Exactly one state is
// current at any time; transitions happen only on the processing loop.
type State int

const (
	// StateListening is the initial state: scanning the rolling buffer for
	// a wake phrase.
	StateListening State = iota
	// StateWakeDetected is the brief pause between a wake match and command
	// capture.
	StateWakeDetected
	// StateCommandMode is active command capture.
	StateCommandMode
	// StateProcessing is command transcription in flight.
	StateProcessing
	// StateSpeaking is response playback.
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateWakeDetected:
		return "wake_detected"
	case StateCommandMode:
		return "command_mode"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}
