package meter

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToFixedQ6(t *testing.T) {
	require.Equal(t, int16(64), ToFixed(1.0, 6))
	require.Equal(t, int16(-64), ToFixed(-1.0, 6))
	require.Equal(t, int16(32), ToFixed(0.5, 6))
}

func TestToFixedClamps(t *testing.T) {
	require.Equal(t, int16(32767), ToFixed(1e9, 6))
	require.Equal(t, int16(-32768), ToFixed(-1e9, 6))
}

func TestTableSetID(t *testing.T) {
	tbl := NewTable()
	require.True(t, tbl.SetID("fdv-snr", 42))
	require.False(t, tbl.SetID("not-a-meter", 1))

	defs := tbl.Defs()
	require.Equal(t, uint16(42), defs[0].ID)
}

func TestEncodePayloadLayout(t *testing.T) {
	tbl := NewTable()
	for i, d := range tbl.Defs() {
		tbl.SetID(d.Name, uint16(i+1))
	}

	payload := tbl.EncodePayload(Snapshot{
		SNR:            10,
		TotalBits:      0x00010002,
		TotalBitErrors: 3,
	})

	require.Len(t, payload, len(StandardTable)*4)

	// First pair is (id=1, snr fixed-point).
	id := binary.BigEndian.Uint16(payload[0:2])
	require.Equal(t, uint16(1), id)
	val := int16(binary.BigEndian.Uint16(payload[2:4]))
	require.Equal(t, ToFixed(10, FractionalBits), val)

	// total-bits-lsb/msb pair (split 32->16+16 per §9(c)).
	lsbVal := binary.BigEndian.Uint16(payload[4*4+2 : 4*4+4])
	msbVal := binary.BigEndian.Uint16(payload[5*4+2 : 5*4+4])
	require.Equal(t, uint16(0x0002), lsbVal)
	require.Equal(t, uint16(0x0001), msbVal)
}

func TestBERGuardsDivideByZero(t *testing.T) {
	s := Snapshot{}
	require.NotPanics(t, func() {
		_ = s.BER()
	})
}
