package severity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrdering(t *testing.T) {
	assert.True(t, Low.Less(Medium))
	assert.True(t, Medium.Less(High))
	assert.False(t, High.Less(Low))
}

func TestStringAndPrefix(t *testing.T) {
	assert.Equal(t, "ALTA", High.String())
	assert.Equal(t, "MEDIA", Medium.String())
	assert.Equal(t, "BAJA", Low.String())

	assert.Equal(t, "[ALERTA]", High.Prefix())
	assert.Equal(t, "[ADVERTENCIA]", Medium.Prefix())
	assert.Equal(t, "[OK]", Low.Prefix())
}

func TestOrderedDescending(t *testing.T) {
	assert.Equal(t, []Severity{High, Medium, Low}, Ordered())
}
