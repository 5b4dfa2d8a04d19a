package freedv

// FakeModem is a deterministic, pure-Go stand-in for the cgo-backed modem,
// used to unit test internal/pipeline without a C toolchain. It treats the
// "modem waveform" as an identity transform of speech samples padded or
// trimmed to nominal block sizes, which is all the pipeline's buffering
// and state-machine logic needs to exercise.
type FakeModem struct {
	mode Mode

	speechSamples int
	nomModem      int
	maxModem      int
	nin           int

	squelchLevel   float32
	squelchEnabled bool

	stats Stats

	TXCalls int
	RXCalls int

	txSource func() byte
	rxSink   func(byte)

	// LastTXChar records whatever txSource produced on the most recent TX
	// call, for tests asserting on the text-channel wiring.
	LastTXChar byte
	// NextRXChar, if non-zero, is handed to rxSink once on the next RX
	// call, simulating FreeDV decoding an embedded character.
	NextRXChar byte
}

// NewFakeModem returns a FakeModem whose speech, nominal-modem and
// maximum-modem block sizes are all 320 samples, whatever mode is passed.
// The sizes live in unexported fields and cannot be changed by callers.
func NewFakeModem(mode Mode) *FakeModem {
	f := &FakeModem{
		mode:          mode,
		speechSamples: 320,
		nomModem:      320,
		maxModem:      320,
	}
	f.nin = f.nomModem
	return f
}

func (f *FakeModem) NSpeechSamples() int   { return f.speechSamples }
func (f *FakeModem) NNomModemSamples() int { return f.nomModem }
func (f *FakeModem) NMaxModemSamples() int { return f.maxModem }
func (f *FakeModem) Nin() int              { return f.nin }

// TX returns speech samples resized to NNomModemSamples(), simulating a
// modem that encodes 1:1 for test purposes.
func (f *FakeModem) TX(speech []int16) []int16 {
	f.TXCalls++
	if f.txSource != nil {
		f.LastTXChar = f.txSource()
	}
	out := make([]int16, f.nomModem)
	copy(out, speech)
	return out
}

// RX echoes back NSpeechSamples() of recovered speech derived from the
// modem block, simulating steady lock.
func (f *FakeModem) RX(modem []int16) ([]int16, int) {
	f.RXCalls++
	if f.NextRXChar != 0 && f.rxSink != nil {
		f.rxSink(f.NextRXChar)
		f.NextRXChar = 0
	}
	out := make([]int16, f.speechSamples)
	copy(out, modem)
	return out, f.nin
}

func (f *FakeModem) SetTextCallbacks(txSource func() byte, rxSink func(byte)) {
	f.txSource = txSource
	f.rxSink = rxSink
}

func (f *FakeModem) SetSquelchLevel(db float32)     { f.squelchLevel = db }
func (f *FakeModem) SetSquelchEnabled(enabled bool) { f.squelchEnabled = enabled }

// SquelchLevel and SquelchEnabled let tests assert on what the pipeline
// configured.
func (f *FakeModem) SquelchLevel() float32 { return f.squelchLevel }
func (f *FakeModem) SquelchEnabled() bool  { return f.squelchEnabled }

// SetStats lets a test script the telemetry the pipeline will read back
// via Stats().
func (f *FakeModem) SetStats(s Stats) { f.stats = s }

func (f *FakeModem) Stats() Stats { return f.stats }

func (f *FakeModem) Close() {}
