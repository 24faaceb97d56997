package navigator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHistory(t *testing.T) {
	var restored []string
	h := NewHistory(func(route string) { restored = append(restored, route) })
	assert.Equal(t, RootRoute, h.Current())
	assert.False(t, h.Back())

	h.Navigate("/home")
	h.Navigate("/home")
	h.Navigate("/home/market")
	assert.Equal(t, 3, h.Len())

	assert.True(t, h.Back())
	assert.Equal(t, "/home", h.Current())
	assert.True(t, h.Back())
	assert.False(t, h.Back())
	assert.Equal(t, []string{"/home", RootRoute}, restored)
}
