package audioengine

import (
	"context"
	"math"
	"testing"

	"github.com/aegiswm/watermark/internal/container/wavcodec"
	"github.com/aegiswm/watermark/internal/modality"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sineWAV(t *testing.T, nSamples int, sampleRate int) []byte {
	t.Helper()
	samples := make([]float64, nSamples)
	for i := range samples {
		samples[i] = 12000 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate))
	}
	data, err := wavcodec.Encode(&wavcodec.Audio{
		Params:  wavcodec.Params{NumChannels: 1, SampleRate: sampleRate, BitsPerSample: 16},
		Samples: samples,
	})
	require.NoError(t, err)
	return data
}

func TestAudioSineRoundTrip(t *testing.T) {
	e := New()
	key := []byte("audio-key-s4")
	src := sineWAV(t, 8192, 44100)

	watermarked, wmID, err := e.Embed(context.Background(), src, modality.EmbedParams{
		Key:               key,
		ModelName:         "claude",
		WatermarkStrength: 0.8,
	})
	require.NoError(t, err)
	require.NotEmpty(t, wmID)

	result, err := e.Verify(context.Background(), watermarked, key)
	require.NoError(t, err)
	assert.True(t, result.Detected)
	assert.True(t, result.SignatureValid)
	assert.Greater(t, math.Abs(result.StatisticalScore), 0.08)
}

func TestAudioWrongKeyFailsSignature(t *testing.T) {
	e := New()
	src := sineWAV(t, 8192, 44100)
	watermarked, _, err := e.Embed(context.Background(), src, modality.EmbedParams{Key: []byte("key-a"), WatermarkStrength: 0.8})
	require.NoError(t, err)

	result, err := e.Verify(context.Background(), watermarked, []byte("key-b"))
	require.NoError(t, err)
	assert.False(t, result.SignatureValid)
}

func TestAudioWAVReSaveSurvives(t *testing.T) {
	e := New()
	key := []byte("audio-key-s4b")
	src := sineWAV(t, 8192, 44100)

	watermarked, _, err := e.Embed(context.Background(), src, modality.EmbedParams{Key: key, WatermarkStrength: 0.8})
	require.NoError(t, err)

	decoded, err := wavcodec.Decode(watermarked)
	require.NoError(t, err)
	resaved, err := wavcodec.Encode(decoded)
	require.NoError(t, err)

	result, err := e.Verify(context.Background(), resaved, key)
	require.NoError(t, err)
	assert.True(t, result.SignatureValid)
}
