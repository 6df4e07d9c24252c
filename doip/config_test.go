package doip

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigWithDefaultsFillsZeroFields(t *testing.T) {
	c := Config{SourceAddress: 0x0E80}
	c = c.withDefaults()

	assert.Equal(t, DefaultProtocolVersion, c.ProtocolVersion)
	assert.Equal(t, DefaultRoutingActivationTimeout, c.RoutingActivationTimeout)
	assert.Equal(t, DefaultMaxResponsePending, c.MaxResponsePending)
	assert.EqualValues(t, DefaultMaxPayloadLen, c.MaxPayloadLen)
	assert.EqualValues(t, DefaultMaxControlPayloadLen, c.MaxControlPayloadLen)
	assert.NotNil(t, c.Logger)
	assert.EqualValues(t, 0x0E80, c.SourceAddress)
}

func TestConfigWithDefaultsPreservesOverrides(t *testing.T) {
	c := Config{RoutingActivationTimeout: 500 * time.Millisecond}
	c = c.withDefaults()
	assert.Equal(t, 500*time.Millisecond, c.RoutingActivationTimeout)
}
