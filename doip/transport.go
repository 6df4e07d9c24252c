package doip

import (
	"crypto/tls"
	"io"
	"net"
	"time"
)

// ByteStreamTransport abstracts the TCP (or TLS-over-TCP) socket a routed
// diagnostic channel runs over. Concrete implementations wrap net.Conn the
// same way the reference server wraps it behind Reader/Writer, but the core
// depends only on this interface so channel.go stays testable against a
// fake.
type ByteStreamTransport interface {
	// Open dials the remote endpoint, honoring the given timeout.
	Open(addr string, timeout time.Duration) error
	// Send writes b in full, or returns an error.
	Send(b []byte) error
	// ReadExact blocks until exactly len(b) bytes have been read into b, or
	// returns an error. It never holds any lock belonging to the caller.
	ReadExact(b []byte) error
	// SetReadTimeout bounds subsequent ReadExact calls. Zero disables the
	// deadline (blocks indefinitely), which is the default.
	SetReadTimeout(d time.Duration) error
	// LocalAddr/RemoteAddr expose the underlying socket endpoints.
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	// Shutdown closes the connection, unblocking any in-flight ReadExact.
	Shutdown() error
}

// tcpTransport is the stdlib-backed ByteStreamTransport. No third-party
// networking library appears anywhere in the corpus, so net.Conn/tls.Conn
// remain the grounded choice for the wire itself -- see DESIGN.md.
type tcpTransport struct {
	conn      net.Conn
	tlsConfig *tls.Config
}

// NewTCPTransport returns a ByteStreamTransport that dials a plain TCP
// connection.
func NewTCPTransport() ByteStreamTransport {
	return &tcpTransport{}
}

// NewTLSTransport returns a ByteStreamTransport that dials a TCP connection
// and performs a TLS client handshake using cfg.
func NewTLSTransport(cfg *tls.Config) ByteStreamTransport {
	return &tcpTransport{tlsConfig: cfg}
}

func (t *tcpTransport) Open(addr string, timeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return WrapError(ErrOpenFailed, err, "dial %s", addr)
	}
	if t.tlsConfig != nil {
		tlsConn := tls.Client(conn, t.tlsConfig)
		if err := tlsConn.Handshake(); err != nil {
			conn.Close()
			return WrapError(ErrOpenFailed, err, "tls handshake with %s", addr)
		}
		conn = tlsConn
	}
	t.conn = conn
	return nil
}

func (t *tcpTransport) Send(b []byte) error {
	if t.conn == nil {
		return NewError(ErrDisconnected, "send on closed transport")
	}
	if _, err := t.conn.Write(b); err != nil {
		return WrapError(ErrDisconnected, err, "write")
	}
	return nil
}

func (t *tcpTransport) ReadExact(b []byte) error {
	if t.conn == nil {
		return NewError(ErrDisconnected, "read on closed transport")
	}
	if _, err := io.ReadFull(t.conn, b); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return WrapError(ErrEOF, err, "connection closed by peer")
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return WrapError(ErrTimeout, err, "read deadline exceeded")
		}
		return WrapError(ErrDisconnected, err, "read")
	}
	return nil
}

func (t *tcpTransport) SetReadTimeout(d time.Duration) error {
	if t.conn == nil {
		return NewError(ErrDisconnected, "set read timeout on closed transport")
	}
	if d == 0 {
		return t.conn.SetReadDeadline(time.Time{})
	}
	return t.conn.SetReadDeadline(time.Now().Add(d))
}

func (t *tcpTransport) LocalAddr() net.Addr {
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

func (t *tcpTransport) RemoteAddr() net.Addr {
	if t.conn == nil {
		return nil
	}
	return t.conn.RemoteAddr()
}

func (t *tcpTransport) Shutdown() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// DatagramTransport abstracts the UDP socket vehicle discovery runs over.
type DatagramTransport interface {
	// Bind opens a UDP socket. An empty localAddr picks an ephemeral port.
	Bind(localAddr string) error
	// SendTo writes b as one datagram to addr.
	SendTo(b []byte, addr string) error
	// SetBroadcast enables/disables SO_BROADCAST on the socket.
	SetBroadcast(enabled bool) error
	// ReadFrom blocks until a datagram arrives or deadline elapses,
	// returning the payload and the sender's address.
	ReadFrom(b []byte, deadline time.Time) (n int, addr net.Addr, err error)
	// Close releases the socket.
	Close() error
}

type udpTransport struct {
	conn *net.UDPConn
}

// NewUDPTransport returns a stdlib-backed DatagramTransport.
func NewUDPTransport() DatagramTransport {
	return &udpTransport{}
}

func (u *udpTransport) Bind(localAddr string) error {
	addr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return WrapError(ErrBindingFailed, err, "resolve %s", localAddr)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return WrapError(ErrBindingFailed, err, "listen %s", localAddr)
	}
	u.conn = conn
	return nil
}

func (u *udpTransport) SendTo(b []byte, addr string) error {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return WrapError(ErrConnectFailed, err, "resolve %s", addr)
	}
	if _, err := u.conn.WriteTo(b, raddr); err != nil {
		return WrapError(ErrDisconnected, err, "write to %s", addr)
	}
	return nil
}

func (u *udpTransport) SetBroadcast(enabled bool) error {
	// net.UDPConn has no portable SetBroadcast; callers wanting a broadcast
	// vehicle-ID request send it to the IPv4 broadcast address
	// (255.255.255.255) directly instead, as Identify does for an empty
	// target, which os-level sockets permit without the
	// SO_BROADCAST option in most Go runtimes used for client tooling.
	return nil
}

func (u *udpTransport) ReadFrom(b []byte, deadline time.Time) (int, net.Addr, error) {
	if err := u.conn.SetReadDeadline(deadline); err != nil {
		return 0, nil, WrapError(ErrGenericError, err, "set read deadline")
	}
	n, addr, err := u.conn.ReadFrom(b)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, nil, NewError(ErrTimeout, "udp read")
		}
		return 0, nil, WrapError(ErrDisconnected, err, "udp read")
	}
	return n, addr, nil
}

func (u *udpTransport) Close() error {
	if u.conn == nil {
		return nil
	}
	return u.conn.Close()
}
