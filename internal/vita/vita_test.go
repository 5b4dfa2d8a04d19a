package vita

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func samplePacket() EncodeParams {
	return EncodeParams{
		PacketType:   PacketTypeIFDataWithStreamID,
		StreamID:     WaveformIn,
		ClassInfo:    AudioClassInfo,
		ClassCode:    AudioClassCode,
		Sequence:     3,
		TimestampInt: 1234,
		Payload:      DuplicateSamples([]uint32{1, 2, 3, 4}),
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := samplePacket()
	wire, err := Encode(p)
	require.NoError(t, err)

	got, err := Decode(wire)
	require.NoError(t, err)

	require.Equal(t, p.PacketType, got.PacketType)
	require.Equal(t, p.Sequence, got.Sequence)
	require.Equal(t, p.StreamID, got.StreamID)
	require.Equal(t, p.ClassInfo, got.ClassInfo)
	require.Equal(t, p.ClassCode, got.ClassCode)
	require.Equal(t, p.TimestampInt, got.TimestampInt)
	require.Equal(t, p.Payload, got.Payload)
}

func TestLengthWordInvariant(t *testing.T) {
	p := samplePacket()
	wire, err := Encode(p)
	require.NoError(t, err)

	length := int(wire[2])<<8 | int(wire[3])
	require.Equal(t, HeaderSize+len(p.Payload), length*4)
	require.Equal(t, 0, len(p.Payload)%4)
}

func TestSampleDuplication(t *testing.T) {
	samples := []uint32{0xdeadbeef, 0x12345678}
	payload := DuplicateSamples(samples)
	require.Len(t, payload, 16)
	require.Equal(t, payload[0:4], payload[4:8])
	require.Equal(t, payload[8:12], payload[12:16])

	undup := UndupSamples(payload)
	require.Equal(t, samples, undup)
}

func TestSequenceMonotonicity(t *testing.T) {
	var prev uint8
	for i := 0; i < 20; i++ {
		p := samplePacket()
		p.Sequence = uint8(i % 16)
		wire, err := Encode(p)
		require.NoError(t, err)
		got, err := Decode(wire)
		require.NoError(t, err)
		if i > 0 {
			require.Equal(t, (prev+1)%16, got.Sequence)
		}
		prev = got.Sequence
	}
}

func TestDecodeRejectsShortPacket(t *testing.T) {
	_, err := Decode(make([]byte, HeaderSize-1))
	require.ErrorIs(t, err, ErrTooShort)
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	p := samplePacket()
	wire, err := Encode(p)
	require.NoError(t, err)

	// Corrupt the length field so it disagrees with the datagram size.
	wire[2], wire[3] = 0, 3

	_, err = Decode(wire)
	require.ErrorIs(t, err, ErrLengthMismatch)
}

func TestDecodeRejectsWrongOUI(t *testing.T) {
	p := samplePacket()
	wire, err := Encode(p)
	require.NoError(t, err)

	wire[8] = 0xff
	wire[9] = 0xff
	wire[10] = 0xff

	_, err = Decode(wire)
	require.ErrorIs(t, err, ErrWrongOUI)
}

func TestCategoryMatchesWaveformIn(t *testing.T) {
	p := samplePacket()
	wire, err := Encode(p)
	require.NoError(t, err)
	got, err := Decode(wire)
	require.NoError(t, err)
	require.Equal(t, WaveformIn, got.Category())
}
