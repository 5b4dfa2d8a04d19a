//go:build !cgo

// Package resampler's !cgo build provides a pure-Go stand-in for the
// libcodec2 FDMDV decimator/interpolator pair so internal/pipeline (and
// everything above it) builds and runs under CGO_ENABLED=0, the same way
// internal/freedv's FakeModem stands in for the cgo-backed modem. It is a
// plain moving-average low-pass filter followed by decimation/linear
// interpolation, not a bit-exact port of fdmdv_24_to_8/fdmdv_8_to_24 — good
// enough to drive the pipeline's framing and state machine in tests, never
// built alongside the real thing.
package resampler

// Decimation is the fixed 24kHz:8kHz ratio every FreeDV mode runs at.
const Decimation = 3

// Taps24k is the history length (in 24kHz samples) carried across calls,
// matching the cgo build's FILTER_TAPS-derived constant so callers see the
// same latency regardless of which Downsampler they link against.
const Taps24k = 48

// Taps8k is the corresponding history length in 8kHz samples.
const Taps8k = Taps24k / Decimation

// Downsampler converts blocks of 24kHz float samples into 8kHz int16
// samples for the modem's speech/demod input.
type Downsampler struct {
	history []float32 // last Taps24k samples carried from the previous call
}

// NewDownsampler returns a Downsampler with zeroed filter history.
func NewDownsampler() *Downsampler {
	return &Downsampler{history: make([]float32, Taps24k)}
}

// Clear zeroes the filter history, matching the cgo build's reset-on-PTT
// behavior (§4.5).
func (d *Downsampler) Clear() {
	for i := range d.history {
		d.history[i] = 0
	}
}

// Process decimates a block of 24kHz samples (len(in) must be a multiple
// of Decimation) into len(in)/Decimation 8kHz samples.
func (d *Downsampler) Process(in []float32) []int16 {
	if len(in)%Decimation != 0 {
		panic("resampler: Downsampler.Process requires len(in) % Decimation == 0")
	}
	n := len(in) / Decimation

	buf := make([]float32, Taps24k+len(in))
	copy(buf, d.history)
	copy(buf[Taps24k:], in)

	out := make([]int16, n)
	for i := 0; i < n; i++ {
		end := Taps24k + i*Decimation + Decimation
		var sum float32
		for k := end - Decimation; k < end; k++ {
			sum += buf[k]
		}
		out[i] = floatToPCM16(sum / float32(Decimation))
	}

	copy(d.history, buf[len(buf)-Taps24k:])
	return out
}

// Upsampler converts blocks of 8kHz int16 samples (the modem's TX output)
// into 24kHz float samples for the VITA transmit path.
type Upsampler struct {
	history []int16 // last Taps8k samples carried from the previous call
}

// NewUpsampler returns an Upsampler with zeroed filter history.
func NewUpsampler() *Upsampler {
	return &Upsampler{history: make([]int16, Taps8k)}
}

// Clear zeroes the filter history (§4.5, §9).
func (u *Upsampler) Clear() {
	for i := range u.history {
		u.history[i] = 0
	}
}

// Process interpolates a block of 8kHz samples into len(in)*Decimation
// samples at 24kHz, linearly filling between consecutive input samples
// rather than zero-stuffing so the output carries no decimation images.
func (u *Upsampler) Process(in []int16) []float32 {
	n := len(in)

	buf := make([]int16, Taps8k+n)
	copy(buf, u.history)
	copy(buf[Taps8k:], in)

	out := make([]float32, n*Decimation)
	for i := 0; i < n; i++ {
		prev := pcm16ToFloat(buf[Taps8k+i-1])
		cur := pcm16ToFloat(buf[Taps8k+i])
		for j := 0; j < Decimation; j++ {
			frac := float32(j) / float32(Decimation)
			out[i*Decimation+j] = prev + (cur-prev)*frac
		}
	}

	copy(u.history, buf[len(buf)-Taps8k:])
	return out
}

func floatToPCM16(v float32) int16 {
	if v > 1.0 {
		v = 1.0
	}
	if v < -1.0 {
		v = -1.0
	}
	return int16(v * 32767)
}

func pcm16ToFloat(v int16) float32 {
	return float32(v) / 32767
}
