package imageengine

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/aegiswm/watermark/internal/modality"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradientPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: uint8(((x + y) * 255) / (w + h)),
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestImageRoundTrip(t *testing.T) {
	e := New()
	key := []byte("image-key-s3")
	src := gradientPNG(t, 128, 128)

	watermarked, wmID, err := e.Embed(context.Background(), src, modality.EmbedParams{
		Key:               key,
		ModelName:         "gpt-4o",
		WatermarkStrength: 0.8,
	})
	require.NoError(t, err)
	require.NotEmpty(t, wmID)

	result, err := e.Verify(context.Background(), watermarked, key)
	require.NoError(t, err)
	assert.True(t, result.Detected)
	assert.True(t, result.SignatureValid)
	assert.Equal(t, "gpt-4o", result.ModelName)
	assert.Contains(t, []modality.Source{modality.SourceImageMetadata, modality.SourceImageKeywords, modality.SourceImageQIM}, result.Source)
}

func TestImagePNGResaveSurvives(t *testing.T) {
	e := New()
	key := []byte("image-key-s3b")
	src := gradientPNG(t, 128, 128)

	watermarked, _, err := e.Embed(context.Background(), src, modality.EmbedParams{Key: key, WatermarkStrength: 0.8})
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(watermarked))
	require.NoError(t, err)
	var resaved bytes.Buffer
	require.NoError(t, png.Encode(&resaved, img))

	result, err := e.Verify(context.Background(), resaved.Bytes(), key)
	require.NoError(t, err)
	assert.True(t, result.SignatureValid)
}

func TestImageWrongKeyFailsSignature(t *testing.T) {
	e := New()
	src := gradientPNG(t, 64, 64)
	watermarked, _, err := e.Embed(context.Background(), src, modality.EmbedParams{Key: []byte("key-a"), WatermarkStrength: 0.8})
	require.NoError(t, err)

	result, err := e.Verify(context.Background(), watermarked, []byte("key-b"))
	require.NoError(t, err)
	assert.False(t, result.SignatureValid)
}
