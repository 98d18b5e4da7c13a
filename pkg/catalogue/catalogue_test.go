package catalogue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKnownServices(t *testing.T) {
	assert.Equal(t, "SSH", ServiceName(22))
	assert.Equal(t, "HTTPS", ServiceName(443))
	assert.True(t, IsKnownService(22))
}

func TestUnknownServiceFallback(t *testing.T) {
	assert.Equal(t, "Desconocido", ServiceName(50000))
	assert.False(t, IsKnownService(50000))
}

func TestThreatCatalogue(t *testing.T) {
	desc, ok := ThreatDescription(31337)
	assert.True(t, ok)
	assert.Equal(t, "Backdoor común", desc)

	desc, ok = ThreatDescription(54321)
	assert.True(t, ok)
	assert.Equal(t, "Back Orifice", desc)

	assert.True(t, IsSuspicious(4444))
	assert.False(t, IsSuspicious(22))
}
