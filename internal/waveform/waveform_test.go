package waveform

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tmiw/smartsdr-codec2/internal/controllink"
	"github.com/tmiw/smartsdr-codec2/internal/freedv"
	"github.com/tmiw/smartsdr-codec2/internal/pipeline"
	"github.com/tmiw/smartsdr-codec2/internal/transport"
)

// fakeRadio wraps one end of a net.Pipe, standing in for the radio's
// control-link TCP socket the way controllink's own tests do.
type fakeRadio struct {
	conn  net.Conn
	lines chan string
}

func newWaveformUnderTest(t *testing.T) (*Waveform, *fakeRadio, *controllink.Link) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	link := controllink.New(clientConn)
	radio := &fakeRadio{conn: serverConn, lines: make(chan string, 64)}
	go func() {
		scanner := bufio.NewScanner(serverConn)
		for scanner.Scan() {
			radio.lines <- scanner.Text()
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = link.Run(ctx) }()

	w := New(link, "127.0.0.1")
	w.SetModemOpener(func(m freedv.Mode) freedv.Modem { return freedv.NewFakeModem(m) })
	w.SetDialer(func(radioHost string) (*transport.Transport, error) {
		a, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
		require.NoError(t, err)
		conn, err := net.DialUDP("udp", nil, a.LocalAddr().(*net.UDPAddr))
		require.NoError(t, err)
		_ = a.Close()
		t.Cleanup(func() { _ = conn.Close() })
		return transport.New(conn), nil
	})

	return w, radio, link
}

func (f *fakeRadio) send(t *testing.T, line string) {
	t.Helper()
	_, err := f.conn.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

// readUntil reads outbound lines until it finds one containing contains,
// discarding any that don't match (registration sends several commands
// before the one under test).
func (f *fakeRadio) readUntil(t *testing.T, contains string) string {
	t.Helper()
	for {
		select {
		case line := <-f.lines:
			if strings.Contains(line, contains) {
				return line
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for a line containing %q", contains)
			return ""
		}
	}
}

func startWaveform(t *testing.T, w *Waveform) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, w.Start(ctx))
	return ctx
}

func TestStartRegistersBothWaveformsAndMeters(t *testing.T) {
	w, radio, _ := newWaveformUnderTest(t)
	startWaveform(t, w)

	radio.readUntil(t, "sub slice all")
	radio.readUntil(t, "waveform create name=FreeDV-USB mode=FDVU underlying_mode=USB version=2.0.0")
	radio.readUntil(t, "waveform create name=FreeDV-LSB mode=FDVL underlying_mode=LSB version=2.0.0")
	meterLine := radio.readUntil(t, "meter create name=fdv-snr")
	require.Contains(t, meterLine, "type=WAVEFORM")
}

func TestSliceStatusFDVUBindsAndReportsPort(t *testing.T) {
	w, radio, _ := newWaveformUnderTest(t)
	startWaveform(t, w)
	drainRegistration(t, radio)

	radio.send(t, "S1|slice 0 mode=FDVU")

	radio.readUntil(t, "filt 0 250 2750")
	radio.readUntil(t, "slice set 0 digu_offset=1500")
	radio.readUntil(t, "waveform set FreeDV-USB udpport=")
	radio.readUntil(t, "waveform set FreeDV-LSB udpport=")
	radio.readUntil(t, "client udpport")

	require.Equal(t, 0, w.activeSlice)
}

func TestSecondSliceWhileBoundIsNoOp(t *testing.T) {
	w, radio, _ := newWaveformUnderTest(t)
	startWaveform(t, w)
	drainRegistration(t, radio)

	radio.send(t, "S1|slice 0 mode=FDVU")
	radio.readUntil(t, "client udpport")
	require.Equal(t, 0, w.activeSlice)

	radio.send(t, "S2|slice 1 mode=FDVU")
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, w.activeSlice, "a second slice requesting FDV mode must not steal the binding")
}

func TestSliceStatusNonFDVModeUnbinds(t *testing.T) {
	w, radio, _ := newWaveformUnderTest(t)
	startWaveform(t, w)
	drainRegistration(t, radio)

	radio.send(t, "S1|slice 0 mode=FDVU")
	radio.readUntil(t, "client udpport")
	require.Equal(t, 0, w.activeSlice)

	radio.send(t, "S2|slice 0 mode=USB")
	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.activeSlice == -1
	}, time.Second, 10*time.Millisecond)
}

func TestLSBModeNegatesFilterCutoffs(t *testing.T) {
	w, radio, _ := newWaveformUnderTest(t)
	startWaveform(t, w)
	drainRegistration(t, radio)

	radio.send(t, "S1|slice 2 mode=FDVL")

	radio.readUntil(t, "filt 2 -250 -2750")
	radio.readUntil(t, "slice set 2 digl_offset=-1500")
}

func TestInterlockStatusSetsPipelineStateDirectly(t *testing.T) {
	w, radio, _ := newWaveformUnderTest(t)
	startWaveform(t, w)
	drainRegistration(t, radio)

	radio.send(t, "S1|slice 0 mode=FDVU")
	radio.readUntil(t, "client udpport")

	radio.send(t, "S2|interlock state=TRANSMITTING")
	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.pipeline.State() == pipeline.StateTransmitting
	}, time.Second, 10*time.Millisecond)

	radio.send(t, "S3|interlock state=RECEIVE")
	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.pipeline.State() == pipeline.StateReceive
	}, time.Second, 10*time.Millisecond)
}

func TestFDVSetModeRebuildsPipelineAndReappliesFilter(t *testing.T) {
	w, radio, _ := newWaveformUnderTest(t)
	startWaveform(t, w)
	drainRegistration(t, radio)

	radio.send(t, "S1|slice 0 mode=FDVU")
	radio.readUntil(t, "client udpport")

	radio.send(t, "C9|slice 0 fdv-set-mode=700D")
	radio.readUntil(t, "filt 0 250 2750")
	line := radio.readUntil(t, "waveform response 9")
	require.Contains(t, line, "waveform response 9|0")

	w.mu.Lock()
	mode := w.mode
	w.mu.Unlock()
	require.Equal(t, freedv.Mode700D, mode)
}

func TestFDVSetModeUnknownFailsCommand(t *testing.T) {
	w, radio, _ := newWaveformUnderTest(t)
	startWaveform(t, w)
	drainRegistration(t, radio)

	radio.send(t, "S1|slice 0 mode=FDVU")
	radio.readUntil(t, "client udpport")

	radio.send(t, "C4|slice 0 fdv-set-mode=BOGUS")
	line := radio.readUntil(t, "waveform response 4")
	require.Contains(t, line, "waveform response 4|50000016")
}

func TestFDVSetSquelchLevelConfiguresModemAndEchoesStatus(t *testing.T) {
	w, radio, _ := newWaveformUnderTest(t)
	startWaveform(t, w)
	drainRegistration(t, radio)

	radio.send(t, "S1|slice 0 mode=FDVU")
	radio.readUntil(t, "client udpport")

	radio.send(t, "C5|slice 0 fdv-set-squelch-level=3.5")
	radio.readUntil(t, "waveform response 5|0")
	radio.readUntil(t, "fdv-squelch-level=3.5")

	w.mu.Lock()
	modem := w.modem.(*freedv.FakeModem)
	w.mu.Unlock()
	require.InDelta(t, 3.5, modem.SquelchLevel(), 1e-6)
}

func TestFDVSetSquelchEnableTogglesModemAndEchoesStatus(t *testing.T) {
	w, radio, _ := newWaveformUnderTest(t)
	startWaveform(t, w)
	drainRegistration(t, radio)

	radio.send(t, "S1|slice 0 mode=FDVU")
	radio.readUntil(t, "client udpport")

	radio.send(t, "C6|slice 0 fdv-set-squelch-enable=true")
	radio.readUntil(t, "waveform response 6|0")
	radio.readUntil(t, "fdv-squelch-enable=1")

	w.mu.Lock()
	modem := w.modem.(*freedv.FakeModem)
	w.mu.Unlock()
	require.True(t, modem.SquelchEnabled())
}

func TestStopRemovesBothWaveforms(t *testing.T) {
	w, radio, _ := newWaveformUnderTest(t)
	startWaveform(t, w)
	drainRegistration(t, radio)

	radio.send(t, "S1|slice 0 mode=FDVU")
	radio.readUntil(t, "client udpport")

	w.Stop()
	radio.readUntil(t, "waveform remove FreeDV-USB")
	radio.readUntil(t, "waveform remove FreeDV-LSB")

	w.mu.Lock()
	defer w.mu.Unlock()
	require.Equal(t, -1, w.activeSlice)
}

// drainRegistration reads past the fixed set of commands Start emits so
// later assertions can look for the next specific line without racing the
// registration sequence.
func drainRegistration(t *testing.T, radio *fakeRadio) {
	t.Helper()
	radio.readUntil(t, "sub slice all")
	radio.readUntil(t, "waveform create name=FreeDV-USB")
	radio.readUntil(t, "waveform create name=FreeDV-LSB")
	radio.readUntil(t, "meter create name=fdv-ber")
}
