package doip

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVehicle answers a single Vehicle Identification Request with a fixed
// announcement, standing in for a gateway on the local network.
func newFakeVehicle(t *testing.T) (addr string, vin [17]byte, stop func()) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	copy(vin[:], "WVWZZZ1JZXW000001")
	done := make(chan struct{})
	go func() {
		buf := make([]byte, 64)
		for {
			conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
			n, from, err := conn.ReadFrom(buf)
			select {
			case <-done:
				return
			default:
			}
			if err != nil {
				continue
			}
			h, derr := DecodeHeader(buf[:n], 0)
			if derr != nil || h.Type != PayloadVehicleIDRequest {
				continue
			}
			ann := VehicleAnnouncement{VIN: vin, LogicalAddress: 0x1000, FurtherAction: 0x00}
			body, _ := EncodePayload(ann)
			hdr := EncodeHeader(DefaultProtocolVersion, PayloadVehicleAnnouncement, uint32(len(body)))
			out := append(hdr[:], body...)
			conn.WriteTo(out, from)
		}
	}()

	return conn.LocalAddr().String(), vin, func() {
		close(done)
		conn.Close()
	}
}

func TestDiscovererIdentifyReceivesAnnouncement(t *testing.T) {
	addr, vin, stop := newFakeVehicle(t)
	defer stop()

	cfg := DefaultConfig()
	d, err := NewDiscoverer(cfg, NewUDPTransport(), "")
	require.Nil(t, err)
	defer d.Close()

	anns, ierr := d.Identify(addr, VehicleIDRequest{}, 300*time.Millisecond)
	require.Nil(t, ierr)
	require.Len(t, anns, 1)
	assert.Equal(t, vin, anns[0].VIN)
	assert.EqualValues(t, 0x1000, anns[0].LogicalAddress)
}

func TestDiscovererIdentifyTimesOutWithNoReply(t *testing.T) {
	cfg := DefaultConfig()
	d, err := NewDiscoverer(cfg, NewUDPTransport(), "")
	require.Nil(t, err)
	defer d.Close()

	// Port 1 on loopback: nothing answers, so Identify should just time out
	// empty rather than error.
	anns, ierr := d.Identify("127.0.0.1:1", VehicleIDRequest{}, 100*time.Millisecond)
	require.Nil(t, ierr)
	assert.Empty(t, anns)
}
