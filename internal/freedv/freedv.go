// Package freedv defines the black-box FreeDV modem contract the Sample
// Pipeline drives (§1, §4.5): open/close a mode, learn its fixed sample
// counts, push 8kHz speech in on TX and pull 8kHz speech out on RX, and
// push/pull the corresponding 8kHz modem waveform.
//
// The real implementation (freedv_cgo.go, build-tagged cgo) binds
// libcodec2's freedv_api.h. A second, pure-Go implementation (fake.go) lets
// internal/pipeline be unit tested without a C toolchain.
package freedv

// Mode identifies one of the digital voice modes the waveform exposes.
// Values are this package's own ordering, not libcodec2's FREEDV_MODE_*
// numbers; the cgo build maps them with cMode.
type Mode int

const (
	Mode1600 Mode = iota
	Mode700C
	Mode700D
	Mode700E
	Mode800XA
	Mode2020
)

// String renders the mode the way it appears in control-link text, e.g.
// "fdv-mode=700D".
func (m Mode) String() string {
	switch m {
	case Mode1600:
		return "1600"
	case Mode700C:
		return "700C"
	case Mode700D:
		return "700D"
	case Mode700E:
		return "700E"
	case Mode800XA:
		return "800XA"
	case Mode2020:
		return "2020"
	default:
		return "unknown"
	}
}

// AllModes is every mode the waveform exposes, in the order the radio
// should see them enumerated via "fdv-set-mode".
var AllModes = []Mode{Mode1600, Mode700C, Mode700D, Mode700E, Mode800XA, Mode2020}

// ParseMode looks up a mode by its control-link name (e.g. "700D"),
// matching String's rendering. Used by cmd/freedv-waveform to validate
// --default-mode and by the waveform package's "fdv-set-mode" handler.
func ParseMode(name string) (Mode, bool) {
	for _, m := range AllModes {
		if m.String() == name {
			return m, true
		}
	}
	return 0, false
}

// advancedModes is the set of modes that must be opened with
// freedv_open_advanced and interleave_frames=1 (§1): their COHPSK/OFDM
// frame structure spans more than one modem frame.
var advancedModes = map[Mode]bool{
	Mode700D: true,
	Mode2020: true,
}

// clipBandpassModes is the set of modes that run TX clipping and a
// transmit bandpass filter to manage peak-to-average power (§1).
var clipBandpassModes = map[Mode]bool{
	Mode700D: true,
	Mode700E: true,
}

// FilterEntry is one row of the mode->passband-filter table the waveform
// uses to tell the radio which audio band to admit, grounded on
// mode_table/set_mode_filter in the original api.c. Offset shifts the
// digital-mode carrier away from the slice's displayed center frequency.
type FilterEntry struct {
	Mode    Mode
	LowCut  int
	HighCut int
	Offset  int
}

// ModeTable is every mode's passband filter. The original only carried
// 700C/700D/800XA/1600; 700E and 2020 are added here using the same
// bandwidth the original used for their closest sibling mode, since the
// waveform now exposes all six FreeDV modes (§1, SPEC_FULL.md domain stack).
var ModeTable = []FilterEntry{
	{Mode: Mode700C, LowCut: 250, HighCut: 2750, Offset: 1500},
	{Mode: Mode700D, LowCut: 250, HighCut: 2750, Offset: 1500},
	{Mode: Mode700E, LowCut: 250, HighCut: 2750, Offset: 1500},
	{Mode: Mode800XA, LowCut: 250, HighCut: 2750, Offset: 1500},
	{Mode: Mode1600, LowCut: 250, HighCut: 2750, Offset: 1500},
	{Mode: Mode2020, LowCut: 250, HighCut: 2750, Offset: 1500},
}

// FilterFor returns the passband entry for mode and whether one was found.
func FilterFor(mode Mode) (FilterEntry, bool) {
	for _, e := range ModeTable {
		if e.Mode == mode {
			return e, true
		}
	}
	return FilterEntry{}, false
}

// Modem is the contract internal/pipeline drives. All sample buffers are
// 8kHz, the FreeDV-native rate; resampling to/from the radio's 24kHz lives
// in internal/resampler.
type Modem interface {
	// NSpeechSamples is the exact speech sample count TX expects per call
	// and RX yields whenever it decodes a frame.
	NSpeechSamples() int
	// NNomModemSamples is the usual modem-signal block size.
	NNomModemSamples() int
	// NMaxModemSamples is the largest legal modem-signal block size
	// (certain modes' RX path can return up to this many samples).
	NMaxModemSamples() int

	// TX encodes exactly NSpeechSamples() of 8kHz speech into a modem
	// waveform block of NNomModemSamples() samples.
	TX(speech []int16) []int16

	// RX decodes demodulated 8kHz modem samples, returning recovered
	// speech (0 or NSpeechSamples() samples: FreeDV may need more than
	// one modem block before it yields decoded speech). nin reports the
	// number of modem samples RX wants on the next call.
	RX(modem []int16) (speech []int16, nin int)

	// Nin is the number of 8kHz modem samples RX wants right now.
	Nin() int

	// SetSquelchLevel sets the SNR (dB) threshold below which recovered
	// speech is squelched to silence.
	SetSquelchLevel(db float32)
	// SetSquelchEnabled toggles squelch.
	SetSquelchEnabled(enabled bool)

	// Stats returns the current sync/SNR/offset/error telemetry for the
	// meter reporting path (§4.5, internal/meter).
	Stats() Stats

	// SetTextCallbacks wires FreeDV's embedded ASCII side channel:
	// txSource is polled for the next character to encode whenever the
	// modem needs one, rxSink is called with each character recovered
	// from the incoming modem signal. Either may be nil.
	SetTextCallbacks(txSource func() byte, rxSink func(byte))

	// Close releases the underlying modem instance.
	Close()
}

// Stats mirrors the fields the original reads via freedv_get_modem_stats()
// and the FreeDV bit-error accumulators, consumed once per RX frame by
// internal/meter.
type Stats struct {
	SNREstDB       float32
	FreqOffsetHz   float32
	ClockOffset    float32
	Sync           bool
	TotalBits      uint32
	TotalBitErrors uint32
}

// SyncQuality renders Sync as the 0/1 float the meter wire format expects.
func (s Stats) SyncQuality() float64 {
	if s.Sync {
		return 1
	}
	return 0
}
