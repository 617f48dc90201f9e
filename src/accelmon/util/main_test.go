package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPointerTo(t *testing.T) {
	p := PointerTo("ttyUSB0")
	assert.Equal(t, "ttyUSB0", *p)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.01, Clamp(0, 0.01, 50))
	assert.Equal(t, 50.0, Clamp(120, 0.01, 50))
	assert.Equal(t, 20.0, Clamp(20, 0.01, 50))
}
