//go:build cgo

// Package resampler wraps libcodec2's FDMDV decimator/interpolator pair
// (fdmdv_24_to_8 / fdmdv_8_to_24), the same functions the original
// freedv-processor.c uses to bridge the radio's 24kHz audio to FreeDV's
// fixed 8kHz modem rate (§4.4). Unlike a general-purpose resampling
// library, these are stateless C functions over a caller-owned history
// prefix; Resampler's job is to own that prefix and keep it correct across
// calls, and to zero it on demand when the pipeline reverses direction
// (§9 design note: resampler state must be explicitly clearable).
package resampler

/*
#cgo pkg-config: codec2
#include <codec2/fdmdv.h>
*/
import "C"

import "unsafe"

// Decimation is the fixed 24kHz:8kHz ratio every FreeDV mode runs at.
const Decimation = 3

// Taps24k is the history length (in 24kHz samples) fdmdv_24_to_8 requires
// ahead of each new block, per FILTER_TAPS in the original sched_waveform.c.
const Taps24k = 48

// Taps8k is the corresponding history length in 8kHz samples, used by
// fdmdv_8_to_24 (FILTER_TAPS / DECIMATION_FACTOR in the original).
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

// Clear zeroes the filter history, matching the original's behavior of
// resetting the decimator across a PTT/unkey boundary rather than leaking
// tail energy from the previous transmission (§4.5).
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
	C.fdmdv_24_to_8(
		(*C.short)(unsafe.Pointer(&out[0])),
		(*C.float)(unsafe.Pointer(&buf[Taps24k])),
		C.int(n),
	)

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
// samples at 24kHz.
func (u *Upsampler) Process(in []int16) []float32 {
	n := len(in)

	buf := make([]int16, Taps8k+n)
	copy(buf, u.history)
	copy(buf[Taps8k:], in)

	out := make([]float32, n*Decimation)
	C.fdmdv_8_to_24(
		(*C.float)(unsafe.Pointer(&out[0])),
		(*C.short)(unsafe.Pointer(&buf[Taps8k])),
		C.int(n),
	)

	copy(u.history, buf[len(buf)-Taps8k:])
	return out
}
