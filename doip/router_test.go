package doip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoveryRegistryDispatchesToSubscribers(t *testing.T) {
	r := newDiscoveryRegistry()
	_, ch1, cancel1 := r.subscribe()
	defer cancel1()
	_, ch2, cancel2 := r.subscribe()
	defer cancel2()

	reply := &discoveryReply{msg: VehicleAnnouncement{LogicalAddress: 0x1000}}
	r.dispatch(reply)

	got1 := <-ch1
	got2 := <-ch2
	assert.Equal(t, reply, got1)
	assert.Equal(t, reply, got2)
}

func TestDiscoveryRegistryCancelRemovesSubscriber(t *testing.T) {
	r := newDiscoveryRegistry()
	_, ch, cancel := r.subscribe()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	r.dispatch(&discoveryReply{})
	assert.Equal(t, "discoveryRegistry{0 subscribers}", r.String())
}

func TestDiscoveryRegistryCloseAllClosesEverySubscriber(t *testing.T) {
	r := newDiscoveryRegistry()
	_, ch1, _ := r.subscribe()
	_, ch2, _ := r.subscribe()

	r.closeAll()

	_, ok1 := <-ch1
	_, ok2 := <-ch2
	require.False(t, ok1)
	require.False(t, ok2)
}
