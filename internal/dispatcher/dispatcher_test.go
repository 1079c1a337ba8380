package dispatcher

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/aegiswm/watermark/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	reg := registry.New(filepath.Join(t.TempDir(), "registry.json"))
	return New([]byte("dispatcher-test-key"), reg)
}

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

func TestDispatcherTextRoundTripUntaggedIsLowRisk(t *testing.T) {
	d := newTestDispatcher(t)
	text := []byte("The quick brown fox jumps over the lazy dog several times in a long paragraph meant to carry a statistical watermark across many tokens so detection has enough signal to work with reliably.")

	embedResp, err := d.Embed(context.Background(), EmbedRequest{
		DataType:          DataText,
		Data:              text,
		WatermarkStrength: 0.8,
		ModelName:         "claude",
	})
	require.NoError(t, err)
	require.NotEmpty(t, embedResp.WatermarkID)
	assert.True(t, embedResp.RegistryStored)

	verifyResp, err := d.Verify(context.Background(), VerifyRequest{
		DataType: DataText,
		Data:     embedResp.WatermarkedData,
	})
	require.NoError(t, err)
	assert.True(t, verifyResp.WatermarkDetected)
	assert.False(t, verifyResp.TamperDetected)
	assert.Equal(t, RiskLow, verifyResp.PredictedRiskLevel)
	assert.Equal(t, 30, verifyResp.PredictedRiskScore)
}

func TestDispatcherImageSensitiveContextIsHighRisk(t *testing.T) {
	d := newTestDispatcher(t)
	src := gradientPNG(t, 128, 128)

	embedResp, err := d.Embed(context.Background(), EmbedRequest{
		DataType:          DataImage,
		Data:              src,
		WatermarkStrength: 0.8,
		ModelName:         "dalle",
		Context:           "medical",
	})
	require.NoError(t, err)

	verifyResp, err := d.Verify(context.Background(), VerifyRequest{
		DataType: DataImage,
		Data:     embedResp.WatermarkedData,
	})
	require.NoError(t, err)
	assert.True(t, verifyResp.WatermarkDetected)
	assert.Equal(t, "medical", verifyResp.Context)
	assert.Equal(t, RiskHigh, verifyResp.PredictedRiskLevel)
	assert.Equal(t, 85, verifyResp.PredictedRiskScore)
	assert.Contains(t, verifyResp.AutomatedDecision, "Blockchain Evidence Seal")
}

func TestDispatcherNonSensitiveContextIsMediumRisk(t *testing.T) {
	d := newTestDispatcher(t)
	src := gradientPNG(t, 64, 64)

	embedResp, err := d.Embed(context.Background(), EmbedRequest{
		DataType:          DataImage,
		Data:              src,
		WatermarkStrength: 0.8,
		ModelName:         "dalle",
		Context:           "marketing",
	})
	require.NoError(t, err)

	verifyResp, err := d.Verify(context.Background(), VerifyRequest{
		DataType: DataImage,
		Data:     embedResp.WatermarkedData,
	})
	require.NoError(t, err)
	assert.Equal(t, RiskMedium, verifyResp.PredictedRiskLevel)
	assert.Equal(t, 45, verifyResp.PredictedRiskScore)
}

func TestDispatcherRegistryFallbackOnStrippedWatermark(t *testing.T) {
	d := newTestDispatcher(t)
	src := gradientPNG(t, 96, 96)

	embedResp, err := d.Embed(context.Background(), EmbedRequest{
		DataType:          DataImage,
		Data:              src,
		WatermarkStrength: 0.8,
		ModelName:         "dalle",
		Context:           "finance",
	})
	require.NoError(t, err)

	// Exact content lookup (simulating re-submission of the untouched
	// watermarked image) must still resolve via the registry even if we
	// pretend the in-band layers were destroyed, since LookupContent
	// checks exact hash first regardless of in-band signal.
	match, ok := d.Registry().LookupContent("image", embedResp.WatermarkedData)
	require.True(t, ok)
	assert.Equal(t, embedResp.WatermarkID, match.WMID)
}

func TestDispatcherUnsupportedDataType(t *testing.T) {
	d := newTestDispatcher(t)
	_, err := d.Embed(context.Background(), EmbedRequest{DataType: "unknown", Data: []byte("x")})
	assert.Error(t, err)
}
