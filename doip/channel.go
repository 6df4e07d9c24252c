package doip

import (
	"context"
	"sync"
	"time"
)

// connState is the connection sub-state-machine of a Channel.
type connState int

const (
	connIdle connState = iota
	connConnected
	connDisconnected
)

// raState is the routing activation sub-state-machine of a Channel.
type raState int

const (
	raIdle raState = iota
	raWaitForResponse
	raSuccessful
	raFailed
)

// diagState is the diagnostic exchange sub-state-machine of a Channel.
// Only one diagnostic request may be outstanding at a time per Channel.
type diagState int

const (
	diagIdle diagState = iota
	diagSendReqFrame
	diagWaitForAck
	diagPositiveAckRecvd
	diagWaitForResponse
	diagFinalResRecvd
)

// Indication is delivered to a UDSLayer when a diagnostic message arrives
// that is not the response to an outstanding request on this Channel --
// i.e. an unsolicited message from the remote entity.
type Indication struct {
	SourceAddress uint16
	TargetAddress uint16
	Data          []byte
	// HostIP is the remote endpoint the message arrived from, the
	// host_ip this indication protocol carries per its data model.
	HostIP Endpoint
}

// UDSLayer is implemented by the caller's diagnostic-service layer sitting
// above the core. IndicateMessage/HandleMessage form the two-step
// indication protocol: IndicateMessage receives the whole message
// (addresses, payload and remote host) and returns whether the caller
// accepts it, and HandleMessage is then called with the same message only
// if it was accepted.
type UDSLayer interface {
	IndicateMessage(ind Indication) bool
	HandleMessage(ind Indication)
}

// Channel is one routed-diagnostic TCP connection to a DoIP entity. It runs
// three superimposed sub-state-machines (connection, routing activation,
// diagnostic) behind a single mutex, coordinated with sync.Cond the same
// way the reference inputLoop/Receive pair rendezvous through channels --
// except here the rendezvous is a condition variable so a Channel can track
// richer state than "one message or one error" at a time.
type Channel struct {
	cfg       Config
	transport ByteStreamTransport
	uds       UDSLayer

	mu   sync.Mutex
	cond *sync.Cond

	conn connState
	ra   raState
	diag diagState

	raErr Error

	diagSourceAddr uint16
	diagTargetAddr uint16
	diagResp       []byte
	diagErr        Error
	pendingCount   int
	pendingSeq     int

	readErr  Error
	readDone chan struct{}
}

// NewChannel constructs a Channel that will exchange payloads via t and
// deliver unsolicited indications to uds (which may be nil if the caller
// never expects unsolicited traffic).
func NewChannel(cfg Config, t ByteStreamTransport, uds UDSLayer) *Channel {
	cfg = cfg.withDefaults()
	c := &Channel{cfg: cfg, transport: t, uds: uds}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Connect dials addr, performs the routing activation handshake, and
// returns once activation succeeds, fails, or ctx/the timeout elapses.
func (c *Channel) Connect(ctx context.Context, addr string, activationType byte) Error {
	c.mu.Lock()
	if c.conn != connIdle {
		c.mu.Unlock()
		return NewError(ErrGenericError, "channel already connected")
	}
	c.mu.Unlock()

	if err := c.transport.Open(addr, c.cfg.DialTimeout); err != nil {
		return err.(Error)
	}

	c.mu.Lock()
	c.conn = connConnected
	c.ra = raWaitForResponse
	c.raErr = nil
	c.mu.Unlock()

	c.readDone = make(chan struct{})
	go c.readLoop()

	req := RoutingActivationRequest{
		SourceAddress:  c.cfg.SourceAddress,
		ActivationType: activationType,
	}
	if err := c.sendPayload(req); err != nil {
		c.teardown(err)
		return err
	}

	return c.waitForRoutingActivation(ctx)
}

func (c *Channel) waitForRoutingActivation(ctx context.Context) Error {
	deadline := time.Now().Add(c.cfg.RoutingActivationTimeout)
	timer := c.armTimeoutLocked(ctx, deadline)
	defer timer.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.ra == raWaitForResponse {
		c.cond.Wait()
	}
	if c.ra == raFailed {
		if c.raErr != nil {
			return c.raErr
		}
		return NewError(ErrGenericError, "routing activation failed")
	}
	return nil
}

// armTimeoutLocked starts a goroutine that transitions the routing
// activation state to failed if neither a response nor ctx cancellation
// arrives before deadline. It must be called without holding c.mu.
func (c *Channel) armTimeoutLocked(ctx context.Context, deadline time.Time) *time.Timer {
	timer := time.NewTimer(time.Until(deadline))
	go func() {
		select {
		case <-timer.C:
			c.mu.Lock()
			if c.ra == raWaitForResponse {
				c.ra = raFailed
				c.raErr = NewError(ErrTimeout, "routing activation timed out")
				c.cond.Broadcast()
			}
			c.mu.Unlock()
		case <-ctx.Done():
			c.mu.Lock()
			if c.ra == raWaitForResponse {
				c.ra = raFailed
				c.raErr = NewError(ErrCanceled, "routing activation canceled")
				c.cond.Broadcast()
			}
			c.mu.Unlock()
		case <-c.readDone:
		}
	}()
	return timer
}

// IsRoutingActivated reports whether this channel has successfully
// completed routing activation and is ready to carry diagnostic traffic.
func (c *Channel) IsRoutingActivated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ra == raSuccessful
}

// SendDiagnostic sends a UDS request to targetAddr and blocks for the final
// response, resetting its timeout on every response-pending frame observed,
// up to cfg.MaxResponsePending times.
func (c *Channel) SendDiagnostic(ctx context.Context, targetAddr uint16, data []byte) ([]byte, Error) {
	c.mu.Lock()
	if c.conn != connConnected {
		c.mu.Unlock()
		return nil, NewError(ErrDisconnected, "channel not connected")
	}
	if c.ra != raSuccessful {
		c.mu.Unlock()
		return nil, NewError(ErrGenericError, "routing not activated")
	}
	if c.diag != diagIdle {
		c.mu.Unlock()
		return nil, NewError(ErrBusyProcessing, "diagnostic request already in flight")
	}
	// diag moves to diagWaitForAck before the lock is released so that an
	// ack racing in on the reader goroutine between this unlock and the
	// wait below always observes a waiting state -- mirroring Connect's
	// raWaitForResponse-before-send ordering.
	c.diag = diagWaitForAck
	c.diagSourceAddr = c.cfg.SourceAddress
	c.diagTargetAddr = targetAddr
	c.diagResp = nil
	c.diagErr = nil
	c.pendingCount = 0
	c.pendingSeq = 0
	c.mu.Unlock()

	msg := DiagnosticMessage{
		SourceAddress: c.cfg.SourceAddress,
		TargetAddress: targetAddr,
		UserData:      data,
	}
	if err := c.sendPayload(msg); err != nil {
		c.mu.Lock()
		c.diag = diagIdle
		c.mu.Unlock()
		return nil, err
	}

	return c.waitForDiagnosticResult(ctx)
}

func (c *Channel) waitForDiagnosticResult(ctx context.Context) ([]byte, Error) {
	ackDeadline := time.Now().Add(c.cfg.DiagnosticAckTimeout)
	done := make(chan struct{})
	defer close(done)

	timer := time.NewTimer(time.Until(ackDeadline))
	defer timer.Stop()

	go func() {
		select {
		case <-timer.C:
			c.failDiagnosticIfWaiting(NewError(ErrTimeout, "diagnostic ack timed out"))
		case <-ctx.Done():
			c.failDiagnosticIfWaiting(NewError(ErrCanceled, "diagnostic request canceled"))
		case <-done:
		case <-c.readDone:
		}
	}()

	c.mu.Lock()
	defer c.mu.Unlock()
	lastPendingSeq := c.pendingSeq
	for c.diag != diagFinalResRecvd && c.diag != diagIdle {
		c.cond.Wait()
		if c.diag == diagPositiveAckRecvd {
			timer.Reset(c.cfg.DiagnosticResponseTimeout)
			c.diag = diagWaitForResponse
		} else if c.diag == diagWaitForResponse && c.pendingSeq != lastPendingSeq {
			timer.Reset(c.cfg.DiagnosticResponseTimeout)
		}
		lastPendingSeq = c.pendingSeq
	}
	resp, err := c.diagResp, c.diagErr
	c.diag = diagIdle
	return resp, err
}

// failDiagnosticIfWaiting transitions an in-flight diagnostic exchange to
// failed with err, unless it has already completed.
func (c *Channel) failDiagnosticIfWaiting(err Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.diag {
	case diagWaitForAck, diagPositiveAckRecvd, diagWaitForResponse:
		c.diag = diagFinalResRecvd
		c.diagErr = err
		c.cond.Broadcast()
	}
}

// sendPayload frames and writes p. It holds no lock across the write since
// the transport itself is safe for one writer at a time.
func (c *Channel) sendPayload(p Payload) Error {
	body, err := EncodePayload(p)
	if err != nil {
		return NewError(ErrGenericError, "encode %s: %v", p.GetType(), err)
	}
	header := EncodeHeader(c.cfg.ProtocolVersion, p.GetType(), uint32(len(body)))
	buf := append(header[:], body...)
	if err := c.transport.Send(buf); err != nil {
		return err.(Error)
	}
	return nil
}

// Close tears down the channel and unblocks any waiter.
func (c *Channel) Close() error {
	return c.teardown(NewError(ErrDisconnected, "closed by caller"))
}

func (c *Channel) teardown(cause Error) error {
	c.mu.Lock()
	if c.conn == connDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.conn = connDisconnected
	// Waiters wake with a kCanceled-flavored error regardless of what
	// actually severed the connection (EOF, timeout, explicit Close) so
	// that Disconnected() is a reliable signal to reconnect on; cause
	// stays reachable through Unwrap for callers that want the detail.
	waiterErr := WrapError(ErrCanceled, cause, "channel disconnected")
	if c.ra == raWaitForResponse {
		c.ra = raFailed
		c.raErr = waiterErr
	}
	if c.diag != diagIdle {
		c.diag = diagFinalResRecvd
		c.diagErr = waiterErr
	}
	c.cond.Broadcast()
	c.mu.Unlock()
	return c.transport.Shutdown()
}

// readLoop is the single reader goroutine for this channel: it decodes one
// frame at a time and never holds c.mu while blocked in ReadExact, matching
// the reference inputLoop's single-producer shape.
func (c *Channel) readLoop() {
	defer close(c.readDone)
	var hdr [HeaderLen]byte
	for {
		if err := c.transport.SetReadTimeout(c.cfg.ReadTimeout); err != nil {
			c.teardown(err.(Error))
			return
		}
		if err := c.transport.ReadExact(hdr[:]); err != nil {
			c.teardown(err.(Error))
			return
		}
		// The length ceiling depends on payload type (diagnostic vs.
		// control), which DecodeHeader can't know, so it is applied
		// separately below rather than passed in here.
		h, derr := DecodeHeader(hdr[:], 0)
		if derr != nil {
			// Only the version/inverse-version check can fail here --
			// the length ceiling is checked below, not inside
			// DecodeHeader. The length field itself is untouched by a
			// bad version byte, so the frame can be discarded by its
			// announced length and the loop resumed instead of torn
			// down.
			c.sendPayload(GenericNack{Code: NackIncorrectPatternFormat})
			if h.Len > 0 {
				discard := make([]byte, h.Len)
				if err := c.transport.ReadExact(discard); err != nil {
					c.teardown(err.(Error))
					return
				}
			}
			continue
		}

		ceiling := c.cfg.MaxPayloadLen
		if !isDiagnosticPayload(h.Type) {
			ceiling = c.cfg.MaxControlPayloadLen
		}
		if ceiling != 0 && h.Len > ceiling {
			c.sendPayload(GenericNack{Code: NackMessageTooLarge})
			// Unlike a bad version byte, an oversized announced length on
			// an otherwise well-formed header is not safely discardable
			// without reading (and discarding) up to the ceiling-busting
			// length itself, so the connection is torn down instead.
			c.teardown(NewError(ErrInvalidPayloadLen, "payload length %d exceeds ceiling %d for %s", h.Len, ceiling, h.Type))
			return
		}

		body := make([]byte, h.Len)
		if len(body) > 0 {
			if err := c.transport.ReadExact(body); err != nil {
				c.teardown(err.(Error))
				return
			}
		}
		c.dispatch(h.Type, body)
	}
}

func (c *Channel) dispatch(t PayloadType, body []byte) {
	payload, err := DecodePayload(t, body)
	if err == ErrUnpackNoHandler {
		c.cfg.Logger.Debugf("doip: unsupported payload type %s, sending nack", t)
		c.sendPayload(GenericNack{Code: NackUnknownPayloadType})
		return
	}
	if err != nil {
		c.cfg.Logger.Debugf("doip: dropping malformed %s frame: %v", t, err)
		return
	}

	switch v := payload.(type) {
	case RoutingActivationResponse:
		c.handleRoutingActivationResponse(v)
	case DiagnosticAck:
		c.handleDiagnosticAck(v)
	case DiagnosticMessage:
		c.handleDiagnosticMessage(v)
	case GenericNack:
		c.cfg.Logger.Debugf("doip: received generic nack code 0x%02x", v.Code)
	default:
		c.cfg.Logger.Debugf("doip: unhandled payload type %s on channel", t)
	}
}

func (c *Channel) handleRoutingActivationResponse(v RoutingActivationResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ra != raWaitForResponse {
		return
	}
	if v.ResponseCode == RSCRoutingSuccessfullyActivated {
		c.ra = raSuccessful
	} else {
		c.ra = raFailed
		c.raErr = NewError(ErrGenericError, "routing activation denied, code 0x%02x", v.ResponseCode)
	}
	c.cond.Broadcast()
}

func (c *Channel) handleDiagnosticAck(v DiagnosticAck) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.diag != diagWaitForAck || v.SourceAddress != c.diagTargetAddr || v.TargetAddress != c.diagSourceAddr {
		return
	}
	if !v.Positive {
		c.diag = diagFinalResRecvd
		c.diagErr = NewError(ErrGenericError, "diagnostic message negative ack, code 0x%02x", v.Code)
		c.cond.Broadcast()
		return
	}
	c.diag = diagPositiveAckRecvd
	c.cond.Broadcast()
}

func (c *Channel) handleDiagnosticMessage(v DiagnosticMessage) {
	c.mu.Lock()
	isOurs := (c.diag == diagWaitForResponse || c.diag == diagPositiveAckRecvd) &&
		v.SourceAddress == c.diagTargetAddr && v.TargetAddress == c.diagSourceAddr

	if isOurs {
		if isResponsePending(v.UserData) {
			c.pendingCount++
			if c.pendingCount > c.cfg.MaxResponsePending {
				c.diag = diagFinalResRecvd
				c.diagErr = NewError(ErrResponsePendingOverflow, "exceeded %d consecutive response-pending frames", c.cfg.MaxResponsePending)
			} else {
				// Every pending frame, not just the first, must rearm the
				// response timer -- wake the waiter so it can reset it.
				c.pendingSeq++
			}
			c.cond.Broadcast()
			c.mu.Unlock()
			return
		}
		c.diag = diagFinalResRecvd
		c.diagResp = v.UserData
		c.cond.Broadcast()
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if c.uds == nil {
		return
	}
	ind := Indication{
		SourceAddress: v.SourceAddress,
		TargetAddress: v.TargetAddress,
		Data:          v.UserData,
		HostIP:        endpointFromAddr(c.transport.RemoteAddr()),
	}
	if c.uds.IndicateMessage(ind) {
		c.uds.HandleMessage(ind)
	}
}

// isResponsePending reports whether a diagnostic response's user data is a
// negative response (0x7F) to the request's service ID with NRC 0x78
// (requestCorrectlyReceived-ResponsePending), per ISO 14229-1.
func isResponsePending(userData []byte) bool {
	return len(userData) >= 3 && userData[0] == 0x7F && userData[2] == 0x78
}
