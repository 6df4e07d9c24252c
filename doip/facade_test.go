package doip

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingUDSLayer struct {
	indications []Indication
	accept      bool
}

func (r *recordingUDSLayer) IndicateMessage(ind Indication) bool {
	return r.accept
}

func (r *recordingUDSLayer) HandleMessage(ind Indication) {
	r.indications = append(r.indications, ind)
}

func TestClientConnectAndSendDiagnostic(t *testing.T) {
	gw := newFakeGateway(t, RSCRoutingSuccessfullyActivated)
	defer gw.close()

	cfg := testConfig()
	uds := &recordingUDSLayer{accept: true}
	c := NewClient(cfg, uds)
	defer c.Disconnect()

	require.NoError(t, c.Connect(context.Background(), gw.addr(), ActivationTypeDefault))
	assert.True(t, c.IsRoutingActivated())

	resp, err := c.SendDiagnostic(context.Background(), 0x1000, []byte{0x10, 0x01})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x10, 0x01}, resp)
}

func TestClientConnectFailsOnDeniedActivation(t *testing.T) {
	gw := newFakeGateway(t, RSCRoutingDeniedUnsupportedType)
	defer gw.close()

	c := NewClient(testConfig(), nil)
	defer c.Disconnect()

	err := c.Connect(context.Background(), gw.addr(), ActivationTypeDefault)
	require.Error(t, err)
}

func TestClientDeliversUnsolicitedIndicationWithHostIP(t *testing.T) {
	gw := newFakeGateway(t, RSCRoutingSuccessfullyActivated)
	gw.injectUnsolicitedAfterRA = true
	defer gw.close()

	cfg := testConfig()
	uds := &recordingUDSLayer{accept: true}
	c := NewClient(cfg, uds)
	defer c.Disconnect()

	require.NoError(t, c.Connect(context.Background(), gw.addr(), ActivationTypeDefault))

	require.Eventually(t, func() bool {
		return len(uds.indications) == 1
	}, time.Second, 10*time.Millisecond)

	ind := uds.indications[0]
	assert.Equal(t, []byte{0x62, 0xF1, 0x90, 0x01}, ind.Data)
	assert.NotNil(t, ind.HostIP.IP)
	assert.Equal(t, gw.addr(), ind.HostIP.String())
}

func TestClientVehicleIdentify(t *testing.T) {
	addr, vin, stop := newFakeVehicle(t)
	defer stop()

	c := NewClient(DefaultConfig(), nil)
	anns, err := c.VehicleIdentify(addr, VehicleIDRequest{}, 300*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, anns, 1)
	assert.Equal(t, vin, anns[0].VIN)
}
