package doip

import (
	"net"
	"strconv"
	"time"
)

// DefaultDiscoveryPort is the UDP port vehicle identification runs on,
// per ISO 13400-2 Table 2.
const DefaultDiscoveryPort = 13400

// BroadcastAddress is the conventional local-network broadcast address used
// for an unsolicited Vehicle Identification Request.
const BroadcastAddress = "255.255.255.255"

// Announcement is a decoded Vehicle Announcement/Identification Response
// paired with the network address it arrived from.
type Announcement struct {
	From           net.Addr
	VIN            [17]byte
	LogicalAddress uint16
	EID            [6]byte
	GID            [6]byte
	FurtherAction  byte
	SyncStatus     *byte
}

// Discoverer runs vehicle identification over UDP: it owns one datagram
// socket, a background reader that decodes every incoming frame, and a
// discoveryRegistry that fans announcements out to concurrent callers.
type Discoverer struct {
	cfg       Config
	transport DatagramTransport
	reg       *discoveryRegistry
	stop      chan struct{}
}

// NewDiscoverer binds t to localAddr (empty picks an ephemeral port) and
// starts the background reader.
func NewDiscoverer(cfg Config, t DatagramTransport, localAddr string) (*Discoverer, Error) {
	cfg = cfg.withDefaults()
	if err := t.Bind(localAddr); err != nil {
		return nil, err.(Error)
	}
	d := &Discoverer{
		cfg:       cfg,
		transport: t,
		reg:       newDiscoveryRegistry(),
		stop:      make(chan struct{}),
	}
	go d.readLoop()
	return d, nil
}

// Close releases the underlying socket and unblocks any in-flight Identify.
func (d *Discoverer) Close() error {
	close(d.stop)
	d.reg.closeAll()
	return d.transport.Close()
}

// Identify broadcasts (or unicasts, if target is not empty) a Vehicle
// Identification Request with the given selector and collects announcements
// until window elapses.
func (d *Discoverer) Identify(target string, req VehicleIDRequest, window time.Duration) ([]Announcement, Error) {
	if target == "" {
		target = BroadcastAddress
	}

	_, ch, cancel := d.reg.subscribe()
	defer cancel()

	body := encodeVehicleIDRequest(req)
	header := EncodeHeader(d.cfg.ProtocolVersion, PayloadVehicleIDRequest, uint32(len(body)))
	buf := append(header[:], body...)

	addr := target
	if _, _, err := net.SplitHostPort(target); err != nil {
		addr = net.JoinHostPort(target, strconv.Itoa(DefaultDiscoveryPort))
	}
	if err := d.transport.SendTo(buf, addr); err != nil {
		return nil, err.(Error)
	}

	var out []Announcement
	deadline := time.After(window)
	for {
		select {
		case reply, ok := <-ch:
			if !ok {
				return out, nil
			}
			out = append(out, Announcement{
				From:           reply.from,
				VIN:            reply.msg.VIN,
				LogicalAddress: reply.msg.LogicalAddress,
				EID:            reply.msg.EID,
				GID:            reply.msg.GID,
				FurtherAction:  reply.msg.FurtherAction,
				SyncStatus:     reply.msg.SyncStatus,
			})
		case <-deadline:
			return out, nil
		case <-d.stop:
			return out, NewError(ErrDisconnected, "discoverer closed")
		}
	}
}

func (d *Discoverer) readLoop() {
	buf := make([]byte, HeaderLen+int(d.cfg.MaxUDPPayloadLen))
	for {
		n, addr, err := d.transport.ReadFrom(buf, time.Now().Add(24*time.Hour))
		if err != nil {
			select {
			case <-d.stop:
				return
			default:
				d.cfg.Logger.Debugf("doip: udp read error: %v", err)
				continue
			}
		}
		if n < HeaderLen {
			continue
		}
		h, derr := DecodeHeader(buf[:HeaderLen], d.cfg.MaxUDPPayloadLen)
		if derr != nil {
			d.cfg.Logger.Debugf("doip: dropping malformed udp frame: %v", derr)
			continue
		}
		if int(HeaderLen)+int(h.Len) > n {
			continue
		}
		if h.Type != PayloadVehicleAnnouncement {
			continue
		}
		payload, perr := decodeVehicleAnnouncement(buf[HeaderLen : HeaderLen+int(h.Len)])
		if perr != nil {
			continue
		}
		va := payload.(VehicleAnnouncement)
		d.reg.dispatch(&discoveryReply{from: addr, msg: va})
	}
}
