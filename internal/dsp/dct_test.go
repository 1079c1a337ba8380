package dsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDCTRoundTrip(t *testing.T) {
	block := [][]float64{
		{52, 55, 61, 66, 70, 61, 64, 73},
		{63, 59, 55, 90, 109, 85, 69, 72},
		{62, 59, 68, 113, 144, 104, 66, 73},
		{63, 58, 71, 122, 154, 106, 70, 69},
		{67, 61, 68, 104, 126, 88, 68, 70},
		{79, 65, 60, 70, 77, 68, 58, 75},
		{85, 71, 64, 59, 55, 61, 65, 83},
		{87, 79, 69, 68, 65, 76, 78, 94},
	}

	c := DCT2(block)
	back := IDCT2(c)

	for i := range block {
		for j := range block[i] {
			assert.InDelta(t, block[i][j], back[i][j], 1e-6)
		}
	}
}

func TestClipUint8Saturates(t *testing.T) {
	assert.Equal(t, uint8(0), ClipUint8(-10))
	assert.Equal(t, uint8(255), ClipUint8(300))
	assert.Equal(t, uint8(128), ClipUint8(127.6))
}

func TestRoundHalfAwayFromZero(t *testing.T) {
	assert.Equal(t, 2.0, RoundHalfAwayFromZero(1.5))
	assert.Equal(t, -2.0, RoundHalfAwayFromZero(-1.5))
}
