package videoengine

import (
	"context"
	"math"
	"testing"

	"github.com/aegiswm/watermark/internal/container/framestream"
	"github.com/aegiswm/watermark/internal/modality"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradientVideo(t *testing.T, w, h, nFrames int) []byte {
	t.Helper()
	frames := make([][]byte, nFrames)
	for f := 0; f < nFrames; f++ {
		frame := make([]byte, w*h*3)
		for row := 0; row < h; row++ {
			for col := 0; col < w; col++ {
				o := (row*w + col) * 3
				frame[o] = byte((col * 255) / w)          // B
				frame[o+1] = byte((row * 255) / h)        // G
				frame[o+2] = byte(((row + col + f) * 255) % 256) // R
			}
		}
		frames[f] = frame
	}
	data, err := framestream.Encode(framestream.Header{Width: w, Height: h, FPS: 25.0, FrameCount: nFrames}, frames)
	require.NoError(t, err)
	return data
}

func TestVideoRoundTrip(t *testing.T) {
	e := New()
	key := []byte("video-key-s5")
	src := gradientVideo(t, 64, 64, 12)

	watermarked, wmID, err := e.Embed(context.Background(), src, modality.EmbedParams{
		Key:               key,
		ModelName:         "sora",
		WatermarkStrength: 0.8,
	})
	require.NoError(t, err)
	require.NotEmpty(t, wmID)

	result, err := e.Verify(context.Background(), watermarked, key)
	require.NoError(t, err)
	assert.True(t, result.Detected)
	assert.True(t, result.SignatureValid)
	assert.Equal(t, "sora", result.ModelName)
	assert.Equal(t, modality.SourceVideoQIM, result.Source)
}

func TestVideoWrongKeyFailsSignature(t *testing.T) {
	e := New()
	src := gradientVideo(t, 64, 64, 12)
	watermarked, _, err := e.Embed(context.Background(), src, modality.EmbedParams{Key: []byte("key-a"), WatermarkStrength: 0.8})
	require.NoError(t, err)

	result, err := e.Verify(context.Background(), watermarked, []byte("key-b"))
	require.NoError(t, err)
	assert.False(t, result.SignatureValid)
}

func TestVideoContainerResaveSurvives(t *testing.T) {
	e := New()
	key := []byte("video-key-s5b")
	src := gradientVideo(t, 64, 64, 12)

	watermarked, _, err := e.Embed(context.Background(), src, modality.EmbedParams{Key: key, WatermarkStrength: 0.8})
	require.NoError(t, err)

	header, frames, err := framestream.Decode(watermarked)
	require.NoError(t, err)
	resaved, err := framestream.Encode(header, frames)
	require.NoError(t, err)

	result, err := e.Verify(context.Background(), resaved, key)
	require.NoError(t, err)
	assert.True(t, result.SignatureValid)
	assert.Greater(t, math.Abs(result.StatisticalScore), 0.0)
}
