package doip

import (
	"context"
	"crypto/tls"
	"time"
)

// RoutingActivationType values (Table 24), the ones a client typically uses.
const (
	ActivationTypeDefault byte = 0x00
	ActivationTypeWWHOBD  byte = 0x01
	ActivationTypeCentral byte = 0xE0
)

// Client is the façade a caller constructs to talk to one DoIP entity. It
// owns a Channel for the routed diagnostic session and creates a short-lived
// Discoverer for each VehicleIdentify call -- the same two responsibilities
// the reference DoIP type bundled into a single struct, split here along
// the TCP/UDP boundary the sub-state-machines actually respect.
type Client struct {
	cfg     Config
	channel *Channel
}

// NewClient constructs a Client. uds may be nil if the caller never expects
// unsolicited diagnostic indications.
func NewClient(cfg Config, uds UDSLayer) *Client {
	cfg = cfg.withDefaults()
	var transport ByteStreamTransport
	if cfg.UseTLS {
		transport = NewTLSTransport(&tls.Config{})
	} else {
		transport = NewTCPTransport()
	}
	return &Client{
		cfg:     cfg,
		channel: NewChannel(cfg, transport, uds),
	}
}

// NewClientWithTransport constructs a Client over a caller-supplied
// transport, for tests that want to substitute a fake ByteStreamTransport.
func NewClientWithTransport(cfg Config, t ByteStreamTransport, uds UDSLayer) *Client {
	cfg = cfg.withDefaults()
	return &Client{cfg: cfg, channel: NewChannel(cfg, t, uds)}
}

// Connect dials addr and performs routing activation with activationType.
func (c *Client) Connect(ctx context.Context, addr string, activationType byte) error {
	if err := c.channel.Connect(ctx, addr, activationType); err != nil {
		return err
	}
	return nil
}

// Disconnect tears down the routed diagnostic session.
func (c *Client) Disconnect() error {
	return c.channel.Close()
}

// IsRoutingActivated reports whether the session is ready to carry
// diagnostic traffic.
func (c *Client) IsRoutingActivated() bool {
	return c.channel.IsRoutingActivated()
}

// SendDiagnostic sends data to targetAddr and blocks for the final response.
func (c *Client) SendDiagnostic(ctx context.Context, targetAddr uint16, data []byte) ([]byte, error) {
	resp, err := c.channel.SendDiagnostic(ctx, targetAddr, data)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// VehicleIdentify runs a UDP vehicle identification exchange against target
// (or the local broadcast address if empty) and returns every announcement
// received within window.
func (c *Client) VehicleIdentify(target string, req VehicleIDRequest, window time.Duration) ([]Announcement, error) {
	d, err := NewDiscoverer(c.cfg, NewUDPTransport(), "")
	if err != nil {
		return nil, err
	}
	defer d.Close()
	return d.Identify(target, req, window)
}
