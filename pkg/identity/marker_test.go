package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarker(t *testing.T) {
	m := NewMarker("pepper")

	a := m.For(42, "1001")
	assert.Len(t, a, MarkerLen)
	assert.Equal(t, a, m.For(42, "1001"))
	assert.NotEqual(t, a, m.For(43, "1001"))
	assert.NotEqual(t, a, m.For(42, "1002"))
	assert.NotEqual(t, a, NewMarker("salt").For(42, "1001"))

	assert.True(t, m.Match(a, 42, "1001"))
	assert.False(t, m.Match(a, 42, "1002"))
	assert.False(t, m.Match("", 42, "1001"))
}

func TestMarkerLongSalt(t *testing.T) {
	m := NewMarker(strings.Repeat("s", 200))
	assert.Len(t, m.For(1, "u"), MarkerLen)
}
