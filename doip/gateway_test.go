package doip

import (
	"io"
	"net"
	"testing"
	"time"
)

// fakeGateway is a minimal DoIP entity used only by this package's tests: it
// accepts one TCP connection, answers routing activation with a fixed
// response code, and echoes diagnostic requests back as the final response
// (optionally preceded by a run of response-pending frames). It plays the
// same role the reference Server played for client_test.go, trimmed down to
// exactly what the state-machine tests need.
type fakeGateway struct {
	ln             net.Listener
	raResponseCode byte
	pendingFrames  int
	pendingDelay   time.Duration
	closeNoAck     bool

	// injectBadVersionAfterRA, when set, writes one malformed-version
	// header (with a 0-length body) right after the routing activation
	// response, to exercise the reader's resync-and-continue path.
	injectBadVersionAfterRA bool
	// injectOversizedControlAfterRA, when set, writes a routing
	// activation response whose announced length exceeds the control
	// payload ceiling, to exercise the oversized-control-frame teardown
	// path. The body actually written still matches the announced
	// length so the peer socket itself stays framed.
	injectOversizedControlAfterRA bool
	// injectUnsolicitedAfterRA, when set, writes a DiagnosticMessage
	// frame right after the routing activation response with no prior
	// request from the client, to exercise the unsolicited-indication
	// path into UDSLayer.
	injectUnsolicitedAfterRA bool
}

func newFakeGateway(t *testing.T, raResponseCode byte) *fakeGateway {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start fake gateway: %v", err)
	}
	g := &fakeGateway{ln: ln, raResponseCode: raResponseCode}
	go g.serve()
	return g
}

func (g *fakeGateway) addr() string {
	return g.ln.Addr().String()
}

func (g *fakeGateway) close() {
	g.ln.Close()
}

func (g *fakeGateway) serve() {
	conn, err := g.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var hdr [HeaderLen]byte
		if _, err := io.ReadFull(conn, hdr[:]); err != nil {
			return
		}
		h, derr := DecodeHeader(hdr[:], 0)
		if derr != nil {
			return
		}
		body := make([]byte, h.Len)
		if h.Len > 0 {
			if _, err := io.ReadFull(conn, body); err != nil {
				return
			}
		}

		switch h.Type {
		case PayloadRoutingActivationRequest:
			req, _ := decodeRoutingActivationRequest(body)
			r := req.(RoutingActivationRequest)
			res := RoutingActivationResponse{
				ClientAddress:  r.SourceAddress,
				LogicalAddress: 0x1000,
				ResponseCode:   g.raResponseCode,
			}
			g.writePayload(conn, res)

			if g.injectBadVersionAfterRA {
				bad := EncodeHeader(DefaultProtocolVersion, PayloadRoutingActivationResponse, 0)
				bad[1] = DefaultProtocolVersion // break the inverse-version pattern
				conn.Write(bad[:])
			}
			if g.injectOversizedControlAfterRA {
				oversized := make([]byte, DefaultMaxControlPayloadLen+1)
				hdr := EncodeHeader(DefaultProtocolVersion, PayloadRoutingActivationResponse, uint32(len(oversized)))
				conn.Write(append(hdr[:], oversized...))
			}
			if g.injectUnsolicitedAfterRA {
				g.writePayload(conn, DiagnosticMessage{
					SourceAddress: 0x1000,
					TargetAddress: r.SourceAddress,
					UserData:      []byte{0x62, 0xF1, 0x90, 0x01},
				})
			}

		case PayloadDiagnosticMessage:
			req, _ := decodeDiagnosticMessage(body)
			r := req.(DiagnosticMessage)

			if !g.closeNoAck {
				g.writePayload(conn, DiagnosticAck{
					Positive:      true,
					SourceAddress: r.TargetAddress,
					TargetAddress: r.SourceAddress,
				})
			}

			delay := g.pendingDelay
			if delay == 0 {
				delay = 10 * time.Millisecond
			}
			for i := 0; i < g.pendingFrames; i++ {
				g.writePayload(conn, DiagnosticMessage{
					SourceAddress: r.TargetAddress,
					TargetAddress: r.SourceAddress,
					UserData:      []byte{0x7F, r.UserData[0], 0x78},
				})
				time.Sleep(delay)
			}

			g.writePayload(conn, DiagnosticMessage{
				SourceAddress: r.TargetAddress,
				TargetAddress: r.SourceAddress,
				UserData:      r.UserData,
			})
		}
	}
}

func (g *fakeGateway) writePayload(conn net.Conn, p Payload) {
	body, err := EncodePayload(p)
	if err != nil {
		return
	}
	h := EncodeHeader(DefaultProtocolVersion, p.GetType(), uint32(len(body)))
	buf := append(h[:], body...)
	conn.Write(buf)
}

// silentListener accepts connections and never writes back, used to exercise
// the routing activation timeout path.
type silentListener struct {
	ln net.Listener
}

func newSilentListener(t *testing.T) *silentListener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start silent listener: %v", err)
	}
	s := &silentListener{ln: ln}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go io.Copy(io.Discard, conn)
		}
	}()
	return s
}

func (s *silentListener) addr() string {
	return s.ln.Addr().String()
}

func (s *silentListener) close() {
	s.ln.Close()
}
