package controllink

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeRadio wraps one end of a net.Pipe and lets tests act as the radio
// side of the connection: read outbound lines, write inbound ones. Since
// net.Pipe is synchronous, a background goroutine drains outbound lines
// into a channel continuously so link.Send never deadlocks waiting for a
// test to get around to reading.
type fakeRadio struct {
	t     *testing.T
	conn  net.Conn
	lines chan string
}

func newFakeRadioPair(t *testing.T) (*Link, *fakeRadio) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	l := New(clientConn)
	f := &fakeRadio{t: t, conn: serverConn, lines: make(chan string, 16)}
	go func() {
		scanner := bufio.NewScanner(serverConn)
		for scanner.Scan() {
			f.lines <- scanner.Text()
		}
	}()
	return l, f
}

func (f *fakeRadio) send(t *testing.T, line string) {
	t.Helper()
	_, err := f.conn.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func (f *fakeRadio) readLine(t *testing.T) string {
	t.Helper()
	select {
	case line := <-f.lines:
		return line
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for outbound line")
		return ""
	}
}

func TestResponseRoutedToCorrectCallback(t *testing.T) {
	link, radio := newFakeRadioPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = link.Run(ctx) }()

	results := make(chan string, 2)
	_, err := link.Send(func(code uint32, body string) {
		results <- "first:" + body
	}, "slice get 0")
	require.NoError(t, err)
	firstLine := radio.readLine(t)

	_, err = link.Send(func(code uint32, body string) {
		results <- "second:" + body
	}, "slice get 1")
	require.NoError(t, err)
	secondLine := radio.readLine(t)

	require.Equal(t, "C0|slice get 0", firstLine)
	require.Equal(t, "C1|slice get 1", secondLine)

	// Respond out of order: second command's response arrives first.
	radio.send(t, "R1|0|second-body")
	radio.send(t, "R0|0|first-body")

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			got[r] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for response callback")
		}
	}
	require.True(t, got["first:first-body"])
	require.True(t, got["second:second-body"])
}

func TestStatusDispatchByDomain(t *testing.T) {
	link, radio := newFakeRadioPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = link.Run(ctx) }()

	sliceStatus := make(chan Message, 1)
	link.OnStatus("slice", func(msg Message) { sliceStatus <- msg })

	radio.send(t, "S12345678|slice 0 mode=FDVU rfgain=10")

	select {
	case msg := <-sliceStatus:
		require.Equal(t, "slice", msg.Domain)
		require.Equal(t, "0", msg.Positional[0])
		require.Equal(t, "FDVU", msg.Get("mode"))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for status dispatch")
	}
}

func TestInboundCommandGetsResponseLine(t *testing.T) {
	link, radio := newFakeRadioPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = link.Run(ctx) }()

	link.OnCommand("waveform", func(msg Message) error {
		return nil
	})

	radio.send(t, "C7|waveform set_profile FDVU")
	line := radio.readLine(t)
	require.Equal(t, "C0|waveform response 7|0", line)
}

func TestInboundCommandFailureReportsFailureCode(t *testing.T) {
	link, radio := newFakeRadioPair(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = link.Run(ctx) }()

	link.OnCommand("waveform", func(msg Message) error {
		return errBoom
	})

	radio.send(t, "C3|waveform bad_command")
	line := radio.readLine(t)
	require.Equal(t, "C0|waveform response 3|50000016", line)
}

func TestCloseCancelsPendingResponses(t *testing.T) {
	link, _ := newFakeRadioPair(t)

	results := make(chan uint32, 1)
	_, err := link.Send(func(code uint32, body string) {
		results <- code
	}, "slice get 0")
	require.NoError(t, err)

	require.NoError(t, link.Close())

	select {
	case code := <-results:
		require.Equal(t, uint32(CancellationCode), code)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cancellation callback")
	}
}

var errBoom = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
