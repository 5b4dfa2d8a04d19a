//go:build cgo

package freedv

/*
#cgo pkg-config: codec2
#include <stdlib.h>
#include <codec2/freedv_api.h>
#include <codec2/modem_stats.h>

extern void goRXCharCallback(char c);
extern char goTXCharCallback(void);

static void rx_trampoline(void *state, char c) { goRXCharCallback(c); }
static char tx_trampoline(void *state) { return goTXCharCallback(); }
*/
import "C"

import (
	"sync"
	"unsafe"
)

// textCallbacksMu guards the single active set of text-channel callbacks.
// Only one waveform slice is ever bound to this process at a time (§3),
// so a single package-level pair is simpler than threading a token
// through the C callback_state pointer.
var (
	textCallbacksMu sync.Mutex
	activeTXSource  func() byte
	activeRXSink    func(byte)
)

//export goRXCharCallback
func goRXCharCallback(c C.char) {
	textCallbacksMu.Lock()
	sink := activeRXSink
	textCallbacksMu.Unlock()
	if sink != nil {
		sink(byte(c))
	}
}

//export goTXCharCallback
func goTXCharCallback() C.char {
	textCallbacksMu.Lock()
	source := activeTXSource
	textCallbacksMu.Unlock()
	if source == nil {
		return 0
	}
	return C.char(source())
}

func cMode(m Mode) C.int {
	switch m {
	case Mode1600:
		return C.FREEDV_MODE_1600
	case Mode700C:
		return C.FREEDV_MODE_700C
	case Mode700D:
		return C.FREEDV_MODE_700D
	case Mode700E:
		return C.FREEDV_MODE_700E
	case Mode800XA:
		return C.FREEDV_MODE_800XA
	case Mode2020:
		return C.FREEDV_MODE_2020
	default:
		return C.FREEDV_MODE_1600
	}
}

// cgoModem implements Modem against libcodec2's freedv_api.h, following
// fdv_open/freedv_init in the original freedv-processor.c: advanced-open
// with interleave_frames=1 for 700D/2020, plain freedv_open otherwise, and
// transmit clipping/bandpass for 700D/700E.
type cgoModem struct {
	fdv *C.struct_freedv
	adv *C.struct_freedv_advanced // kept alive; freedv_open_advanced stores no copy
}

// Open opens mode, following the original's mode-dependent open path.
func Open(mode Mode) Modem {
	cm := cMode(mode)

	m := &cgoModem{}
	if advancedModes[mode] {
		m.adv = (*C.struct_freedv_advanced)(C.malloc(C.sizeof_struct_freedv_advanced))
		m.adv.interleave_frames = 1
		m.fdv = C.freedv_open_advanced(cm, m.adv)
	} else {
		m.fdv = C.freedv_open(cm)
	}
	if m.fdv == nil {
		panic("freedv: freedv_open failed")
	}

	if clipBandpassModes[mode] {
		C.freedv_set_clip(m.fdv, 1)
		C.freedv_set_tx_bpf(m.fdv, 1)
	}

	return m
}

func (m *cgoModem) NSpeechSamples() int   { return int(C.freedv_get_n_speech_samples(m.fdv)) }
func (m *cgoModem) NNomModemSamples() int { return int(C.freedv_get_n_nom_modem_samples(m.fdv)) }
func (m *cgoModem) NMaxModemSamples() int { return int(C.freedv_get_n_max_modem_samples(m.fdv)) }
func (m *cgoModem) Nin() int              { return int(C.freedv_nin(m.fdv)) }

func (m *cgoModem) TX(speech []int16) []int16 {
	out := make([]int16, m.NNomModemSamples())
	C.freedv_tx(
		m.fdv,
		(*C.short)(unsafe.Pointer(&out[0])),
		(*C.short)(unsafe.Pointer(&speech[0])),
	)
	return out
}

func (m *cgoModem) RX(modem []int16) ([]int16, int) {
	out := make([]int16, m.NMaxModemSamples())
	nout := C.freedv_rx(
		m.fdv,
		(*C.short)(unsafe.Pointer(&out[0])),
		(*C.short)(unsafe.Pointer(&modem[0])),
	)
	return out[:int(nout)], m.Nin()
}

func (m *cgoModem) SetSquelchLevel(db float32) {
	C.freedv_set_snr_squelch_thresh(m.fdv, C.float(db))
}

func (m *cgoModem) SetSquelchEnabled(enabled bool) {
	v := C.int(0)
	if enabled {
		v = 1
	}
	C.freedv_set_squelch_en(m.fdv, v)
}

func (m *cgoModem) Stats() Stats {
	var stats C.struct_MODEM_STATS
	C.freedv_get_modem_stats(m.fdv, &stats)

	totalBits := uint32(C.freedv_get_total_bits(m.fdv))
	totalErrors := uint32(C.freedv_get_total_bit_errors(m.fdv))

	return Stats{
		SNREstDB:       float32(stats.snr_est),
		FreqOffsetHz:   float32(stats.foff),
		ClockOffset:    float32(stats.clock_offset),
		Sync:           stats.sync != 0,
		TotalBits:      totalBits,
		TotalBitErrors: totalErrors,
	}
}

func (m *cgoModem) SetTextCallbacks(txSource func() byte, rxSink func(byte)) {
	textCallbacksMu.Lock()
	activeTXSource = txSource
	activeRXSink = rxSink
	textCallbacksMu.Unlock()

	C.freedv_set_callback_txt(
		m.fdv,
		(C.freedv_callback_rx)(C.rx_trampoline),
		(C.freedv_callback_tx)(C.tx_trampoline),
		nil,
	)
}

func (m *cgoModem) Close() {
	if m.fdv != nil {
		C.freedv_close(m.fdv)
		m.fdv = nil
	}
	if m.adv != nil {
		C.free(unsafe.Pointer(m.adv))
		m.adv = nil
	}
}
