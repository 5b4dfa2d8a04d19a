package pipeline

// State is the Sample Pipeline's transmit/receive state machine (§4.5),
// driven by PTT/unkey requests from the waveform's interlock-status
// handling. READY and RECEIVE both run the same RX path; they are kept
// distinct only to mirror the radio's interlock states. A new Pipeline
// starts in READY and leaves it only when an interlock update arrives.
type State int

const (
	StateReady State = iota
	StateReceive
	StatePTTRequested
	StateTransmitting
	StateUnkeyRequested
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateReceive:
		return "receive"
	case StatePTTRequested:
		return "ptt_requested"
	case StateTransmitting:
		return "transmitting"
	case StateUnkeyRequested:
		return "unkey_requested"
	default:
		return "unknown"
	}
}
