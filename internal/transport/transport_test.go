package transport

import (
	"context"
	"math"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tmiw/smartsdr-codec2/internal/freedv"
	"github.com/tmiw/smartsdr-codec2/internal/pipeline"
	"github.com/tmiw/smartsdr-codec2/internal/vita"
)

// loopbackPair returns two UDP sockets connected to each other, standing in
// for the radio's VITA socket and the waveform's.
func loopbackPair(t *testing.T) (radio, waveform *net.UDPConn) {
	t.Helper()

	a, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	b, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)

	aAddr := a.LocalAddr().(*net.UDPAddr)
	bAddr := b.LocalAddr().(*net.UDPAddr)
	_ = a.Close()
	_ = b.Close()

	aConn, err := net.DialUDP("udp", aAddr, bAddr)
	require.NoError(t, err)
	bConn, err := net.DialUDP("udp", bAddr, aAddr)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = aConn.Close()
		_ = bConn.Close()
	})

	return bConn, aConn
}

func newTestTransport(t *testing.T) (*Transport, *net.UDPConn, *pipeline.Pipeline, *freedv.FakeModem) {
	t.Helper()
	radio, waveform := loopbackPair(t)

	modem := freedv.NewFakeModem(freedv.Mode700D)
	tr := New(waveform)
	p := pipeline.New(modem, tr)
	tr.BindPipeline(p)

	return tr, radio, p, modem
}

// testPacketSamples is the per-packet sample count a real radio's VITA
// audio packets carry (§3 "up to 1024 bytes"; 1024/8 duplicated-sample
// bytes = 128 samples). sendRadioAudio chunks to this size the same way
// sendRadioPacket's caller must: vita.Encode rejects anything larger.
const testPacketSamples = vita.MaxPayloadBytes / 8

func sendRadioPacket(t *testing.T, radio *net.UDPConn, streamID uint32, seq uint8, nSamples int, value float32) {
	t.Helper()
	samples := make([]uint32, nSamples)
	for i := range samples {
		samples[i] = math.Float32bits(value)
	}
	pkt, err := vita.Encode(vita.EncodeParams{
		PacketType: vita.PacketTypeIFDataWithStreamID,
		StreamID:   streamID,
		ClassInfo:  vita.AudioClassInfo,
		ClassCode:  vita.AudioClassCode,
		Sequence:   seq,
		Payload:    vita.DuplicateSamples(samples),
	})
	require.NoError(t, err)
	_, err = radio.Write(pkt)
	require.NoError(t, err)
}

// sendRadioAudio writes nSamples total of audio to radio, split across
// consecutively-sequenced testPacketSamples-sample VITA packets, the way a
// real radio paces its own outbound stream (§8 end-to-end scenario 3: "30
// RX VITA packets of 128 samples each").
func sendRadioAudio(t *testing.T, radio *net.UDPConn, streamID uint32, nSamples int, value float32) {
	t.Helper()
	seq := uint8(0)
	for sent := 0; sent < nSamples; {
		n := nSamples - sent
		if n > testPacketSamples {
			n = testPacketSamples
		}
		sendRadioPacket(t, radio, streamID, seq, n, value)
		seq++
		sent += n
	}
}

func TestInboundDemodPacketFeedsRXAndEchoesOnSameStreamID(t *testing.T) {
	tr, radio, _, modem := newTestTransport(t)
	// The pipeline starts in StateReady, which already runs the RX path
	// (§4.5); no explicit PTT dance needed for this direction.

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tr.Run(ctx) }()

	streamID := vita.WaveformIn // direction bit 0 => demod/RX input
	sendRadioAudio(t, radio, streamID, modem.Nin()*3, 0)

	_ = radio.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 2048)
	n, err := radio.Read(buf)
	require.NoError(t, err)

	pkt, err := vita.Decode(buf[:n])
	require.NoError(t, err)
	require.Equal(t, streamID, pkt.StreamID, "recovered speech must echo back on the same stream id it was decoded from")
}

func TestInboundMicPacketFeedsTXAndEchoesOnTXStreamID(t *testing.T) {
	tr, radio, p, modem := newTestTransport(t)
	forceState(p, pipeline.StateTransmitting)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tr.Run(ctx) }()

	streamID := vita.WaveformIn | audioDirectionBit // direction bit 1 => mic/TX input
	sendRadioAudio(t, radio, streamID, modem.NSpeechSamples()*3, 0.01)

	_ = radio.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 2048)
	n, err := radio.Read(buf)
	require.NoError(t, err)

	pkt, err := vita.Decode(buf[:n])
	require.NoError(t, err)
	require.Equal(t, streamID, pkt.StreamID, "modulated waveform must echo back on the mic stream id it was encoded from")
	require.Equal(t, vita.PacketTypeIFDataWithStreamID, pkt.PacketType)
}

func TestWrongOUIDropsSilently(t *testing.T) {
	tr, radio, _, _ := newTestTransport(t)

	pkt, err := vita.Encode(vita.EncodeParams{
		PacketType: vita.PacketTypeIFDataWithStreamID,
		StreamID:   vita.WaveformIn,
		ClassInfo:  vita.AudioClassInfo,
		ClassCode:  vita.AudioClassCode,
		Payload:    make([]byte, 8),
	})
	require.NoError(t, err)
	// Corrupt the OUI in place (bytes 8-12 of the header).
	pkt[8], pkt[9], pkt[10] = 0xff, 0xff, 0xff

	_, err = radio.Write(pkt)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = tr.Run(ctx) // should return on context deadline, not hang or panic
}

func TestMeterPacketUsesMeterStreamAndClass(t *testing.T) {
	tr, radio, _, _ := newTestTransport(t)

	tr.EmitMeters([]byte{0x00, 0x01, 0x02, 0x03})

	_ = radio.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 2048)
	n, err := radio.Read(buf)
	require.NoError(t, err)

	pkt, err := vita.Decode(buf[:n])
	require.NoError(t, err)
	require.Equal(t, vita.StreamBitsMeter, pkt.StreamID)
	require.Equal(t, uint16(vita.MeterClassCode), pkt.ClassCode)
	require.Equal(t, vita.PacketTypeExtDataWithStreamID, pkt.PacketType)
}

// forceState sets the pipeline's state directly, standing in for the
// waveform layer's interlock-status translation so the transport tests can
// exercise TX without that layer.
func forceState(p *pipeline.Pipeline, s pipeline.State) {
	p.SetState(s)
}
