// Package discovery implements the radio discovery UDP listener §6
// describes only by the datum it produces: a resolved (ip, port) for the
// radio's control-link TCP port. It is intentionally thin — the spec's
// Non-goals keep this out of the pipeline/transport core — but it still
// needs a real implementation for cmd/freedv-waveform to have something to
// call before a host/port override is supplied on the command line.
//
// This is a direct port of discover_radio/parse_discovery_packet in the
// original discovery.c: bind a UDP socket on the well-known discovery
// port, read broadcast packets, and pull "ip=" / "port=" key=value tokens
// out of the first one that decodes as a well-formed discovery packet.
// Unlike the original's bespoke struct parse, this reuses internal/vita's
// Decode — a FlexRadio discovery packet is wire-compatible with any other
// VITA ext-data-with-stream-id packet carrying the radio's OUI.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/tmiw/smartsdr-codec2/internal/vita"
)

// Port is the well-known UDP port FlexRadio-family units broadcast
// discovery packets on.
const Port = 4992

// StreamID, ClassInfo and ClassCode identify a discovery packet among any
// other ext-data traffic that might land on the discovery port, per the
// original's DISCOVERY_STREAM_ID/DISCOVERY_CLASS_ID (big-endian branch).
const (
	StreamID  uint32 = 0x00000800
	ClassInfo uint16 = 0x534c
	ClassCode uint16 = 0xffff
)

// readDeadline bounds each read, mirroring the original's 5-second poll
// timeout. Context cancellation does not wait for it: it closes the socket,
// which ends the pending read at once.
const readDeadline = 5 * time.Second

// Logger is the minimal logging seam discovery needs.
type Logger interface {
	Printf(format string, args ...any)
}

// Radio is the address a discovery packet resolves to.
type Radio struct {
	Host string
	Port int
}

func (r Radio) String() string { return net.JoinHostPort(r.Host, strconv.Itoa(r.Port)) }

// Discover listens on port until it receives a well-formed broadcast from
// a radio, or ctx is canceled. Malformed or foreign packets are logged and
// skipped, matching the original's "keep polling" loop. Callers that don't
// need to override the well-known port can pass discovery.Port.
func Discover(ctx context.Context, port int, logger Logger) (Radio, error) {
	conn, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return Radio{}, fmt.Errorf("discovery: listen on %d: %w", port, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	buf := make([]byte, vita.HeaderSize+vita.MaxPayloadBytes)
	for {
		select {
		case <-ctx.Done():
			return Radio{}, ctx.Err()
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return Radio{}, ctx.Err()
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if logger != nil {
					logger.Printf("[discovery] timed out waiting for a radio, retrying")
				}
				continue
			}
			return Radio{}, fmt.Errorf("discovery: read: %w", err)
		}

		radio, ok := parsePacket(buf[:n])
		if !ok {
			if logger != nil {
				logger.Printf("[discovery] dropping unrecognized broadcast (%d bytes)", n)
			}
			continue
		}
		if logger != nil {
			logger.Printf("[discovery] found radio at %s", radio)
		}
		return radio, nil
	}
}

func parsePacket(b []byte) (Radio, bool) {
	packet, err := vita.Decode(b)
	if err != nil {
		return Radio{}, false
	}
	if packet.PacketType != vita.PacketTypeExtDataWithStreamID {
		return Radio{}, false
	}
	if packet.StreamID != StreamID || packet.ClassInfo != ClassInfo || packet.ClassCode != ClassCode {
		return Radio{}, false
	}
	return parseKwargs(packet.Payload)
}

// parseKwargs extracts "ip" and "port" from a whitespace-separated
// key=value payload, matching parse_argv/find_kwarg in the original. Any
// trailing NUL padding in the payload is trimmed first.
func parseKwargs(payload []byte) (Radio, bool) {
	text := string(payload)
	if idx := strings.IndexByte(text, 0); idx >= 0 {
		text = text[:idx]
	}

	var host string
	var port int
	for _, tok := range strings.Fields(text) {
		key, value, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}
		switch key {
		case "ip":
			if net.ParseIP(value) == nil {
				return Radio{}, false
			}
			host = value
		case "port":
			p, err := strconv.Atoi(value)
			if err != nil || p <= 0 || p > 65535 {
				return Radio{}, false
			}
			port = p
		}
	}
	if host == "" || port == 0 {
		return Radio{}, false
	}
	return Radio{Host: host, Port: port}, true
}
