package framestream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	h := Header{Width: 4, Height: 3, FPS: 25.0, FrameCount: 2}
	frames := make([][]byte, 2)
	for i := range frames {
		frames[i] = make([]byte, h.frameSize())
		for j := range frames[i] {
			frames[i][j] = byte((i*37 + j) % 256)
		}
	}

	data, err := Encode(h, frames)
	require.NoError(t, err)

	decodedHeader, decodedFrames, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, h, decodedHeader)
	assert.Equal(t, frames, decodedFrames)
}

func TestEncodeRejectsWrongFrameSize(t *testing.T) {
	h := Header{Width: 4, Height: 3, FPS: 25.0, FrameCount: 1}
	_, err := Encode(h, [][]byte{make([]byte, 5)})
	assert.Error(t, err)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, _, err := Decode([]byte("not a framestream blob at all"))
	assert.Error(t, err)
}
