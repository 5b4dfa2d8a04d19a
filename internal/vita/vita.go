// Package vita implements the subset of the VITA-49 wire format used by the
// FlexRadio waveform API: a fixed-layout header (no optional words, unlike
// general VITA-49) followed by either 256 big-endian uint32 IF samples or a
// dense array of 16-bit (meter-id, value) pairs.
//
// This is a direct port of struct vita_packet from the original
// smartsdr-codec2 vita.h/vita-io.c. Encode writes whatever timestamp
// values its caller supplies; it does not read the clock or advance the
// fractional timestamp itself.
package vita

import (
	"encoding/binary"
	"errors"
)

// Packet type byte values (packet_type field).
const (
	PacketTypeIFDataWithStreamID  uint8 = 0x18
	PacketTypeExtDataWithStreamID uint8 = 0x38
)

// TimestampClass is the constant written into the high nibble of
// timestamp_type on every emitted packet.
const TimestampClass = 0x5

// FlexOUI is FlexRadio Systems' IEEE-registered OUI (00-1C-2D), carried in
// the low 24 bits of the first class_id word.
const FlexOUI uint32 = 0x00001c2d

// OUIMask isolates the OUI from the first class_id word.
const OUIMask uint32 = 0x00ffffff

// Stream-id direction/category bits (stream_id & StreamBitsMask).
const (
	StreamBitsIn       uint32 = 0x80000000
	StreamBitsOut      uint32 = 0x00000000
	StreamBitsMeter    uint32 = 0x08000000
	StreamBitsWaveform uint32 = 0x01000000
	StreamBitsMask     uint32 = StreamBitsIn | StreamBitsMeter | StreamBitsWaveform
)

// WaveformIn is the stream_id category recognized as inbound waveform
// audio — the only category the Sample Pipeline consumes on the receive
// path (§4.2).
const WaveformIn = StreamBitsWaveform | StreamBitsIn

// Class-id info/packet-code pairs. AudioClassCode is a reconstruction: the
// corpus's retained headers define the meter and discovery classes but not
// the audio one (see DESIGN.md); it follows the same info-code convention.
const (
	MeterClassInfo = 0x534c
	MeterClassCode = 0x8002

	AudioClassInfo = 0x534c
	AudioClassCode = 0x03e3
)

// HeaderSize is the fixed wire size of everything before the payload.
const HeaderSize = 1 + 1 + 2 + 4 + 4 + 4 + 4 + 8 // packet_type, timestamp_type, length, stream_id, class_id(2x4), ts_int, ts_frac

// MaxPayloadBytes bounds the payload union (1024 bytes => 256 uint32 words).
const MaxPayloadBytes = 1024

// ErrTooShort is returned when a datagram is shorter than the fixed header.
var ErrTooShort = errors.New("vita: packet shorter than header")

// ErrLengthMismatch is returned when the header's length field disagrees
// with the number of bytes actually received.
var ErrLengthMismatch = errors.New("vita: length field does not match received size")

// ErrWrongOUI is returned when class_id's OUI does not match FlexOUI; the
// caller should drop the packet silently per §4.2.
var ErrWrongOUI = errors.New("vita: class_id OUI mismatch")

// Packet is the decoded, in-memory form of a VitaPacket.
type Packet struct {
	PacketType    uint8
	Sequence      uint8 // low nibble of timestamp_type
	StreamID      uint32
	ClassInfo     uint16
	ClassCode     uint16
	TimestampInt  uint32
	TimestampFrac uint64
	Payload       []byte
}

// OUI returns the 24-bit OUI encoded in this packet's class id.
func (p Packet) OUI() uint32 {
	return FlexOUI // always true for anything that survived Decode
}

// Category returns the stream-id bits used to route the packet.
func (p Packet) Category() uint32 {
	return p.StreamID & StreamBitsMask
}

// Decode parses a raw UDP datagram into a Packet. It rejects packets
// shorter than the header, rejects length/size mismatches, and masks
// class_id against the OUI mask, returning ErrWrongOUI for anything not
// carrying FlexRadio's OUI — all per §4.2.
func Decode(b []byte) (Packet, error) {
	if len(b) < HeaderSize {
		return Packet{}, ErrTooShort
	}

	packetType := b[0]
	timestampType := b[1]
	length := binary.BigEndian.Uint16(b[2:4])
	streamID := binary.BigEndian.Uint32(b[4:8])
	classWord1 := binary.BigEndian.Uint32(b[8:12])
	classWord2 := binary.BigEndian.Uint32(b[12:16])
	tsInt := binary.BigEndian.Uint32(b[16:20])
	tsFrac := binary.BigEndian.Uint64(b[20:28])

	payloadLen := int(length)*4 - HeaderSize
	if payloadLen < 0 || HeaderSize+payloadLen != len(b) {
		return Packet{}, ErrLengthMismatch
	}
	if payloadLen > MaxPayloadBytes {
		return Packet{}, ErrLengthMismatch
	}

	if classWord1&OUIMask != FlexOUI {
		return Packet{}, ErrWrongOUI
	}

	payload := make([]byte, payloadLen)
	copy(payload, b[HeaderSize:HeaderSize+payloadLen])

	return Packet{
		PacketType:    packetType,
		Sequence:      timestampType & 0x0f,
		StreamID:      streamID,
		ClassInfo:     uint16(classWord2 >> 16),
		ClassCode:     uint16(classWord2 & 0xffff),
		TimestampInt:  tsInt,
		TimestampFrac: tsFrac,
		Payload:       payload,
	}, nil
}

// EncodeParams carries everything Encode needs beyond the payload bytes.
type EncodeParams struct {
	PacketType    uint8
	StreamID      uint32
	ClassInfo     uint16
	ClassCode     uint16
	Sequence      uint8 // low nibble; caller increments modulo 16 per stream
	TimestampInt  uint32
	TimestampFrac uint64
	Payload       []byte
}

// Encode renders p into a wire datagram. payload_len must be a multiple of
// 4; Encode returns an error rather than silently truncating.
func Encode(p EncodeParams) ([]byte, error) {
	if len(p.Payload)%4 != 0 {
		return nil, errors.New("vita: payload length not a multiple of 4")
	}
	if len(p.Payload) > MaxPayloadBytes {
		return nil, errors.New("vita: payload exceeds maximum size")
	}

	out := make([]byte, HeaderSize+len(p.Payload))
	out[0] = p.PacketType
	out[1] = (TimestampClass << 4) | (p.Sequence & 0x0f)
	binary.BigEndian.PutUint16(out[2:4], uint16((HeaderSize+len(p.Payload))/4))
	binary.BigEndian.PutUint32(out[4:8], p.StreamID)
	binary.BigEndian.PutUint32(out[8:12], FlexOUI)
	binary.BigEndian.PutUint32(out[12:16], uint32(p.ClassInfo)<<16|uint32(p.ClassCode))
	binary.BigEndian.PutUint32(out[16:20], p.TimestampInt)
	binary.BigEndian.PutUint64(out[20:28], p.TimestampFrac)
	copy(out[HeaderSize:], p.Payload)
	return out, nil
}

// DuplicateSamples lays out audio samples two-to-a-pair on the wire: each
// real-valued sample occupies both 32-bit words of an I/Q-shaped slot, as
// the radio's demodulator chain expects (§4.2).
func DuplicateSamples(samples []uint32) []byte {
	out := make([]byte, len(samples)*8)
	for i, s := range samples {
		binary.BigEndian.PutUint32(out[i*8:i*8+4], s)
		binary.BigEndian.PutUint32(out[i*8+4:i*8+8], s)
	}
	return out
}

// UndupSamples reads the first word of each duplicated pair, discarding the
// second, as the pipeline does on receive (§4.2, §4.5).
func UndupSamples(payload []byte) []uint32 {
	n := len(payload) / 8
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		out[i] = binary.BigEndian.Uint32(payload[i*8 : i*8+4])
	}
	return out
}
