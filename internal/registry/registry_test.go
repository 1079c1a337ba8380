package registry

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"path/filepath"
	"testing"

	"github.com/aegiswm/watermark/internal/container/framestream"
	"github.com/aegiswm/watermark/internal/container/wavcodec"
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

func noisyVariant(t *testing.T, src []byte, delta int) []byte {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(src))
	require.NoError(t, err)
	bounds := img.Bounds()
	out := image.NewNRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			out.Set(x, y, color.NRGBA{
				R: clampAdd(uint8(r>>8), delta),
				G: clampAdd(uint8(g>>8), delta),
				B: clampAdd(uint8(b>>8), delta),
				A: uint8(a >> 8),
			})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, out))
	return buf.Bytes()
}

func clampAdd(v uint8, delta int) uint8 {
	n := int(v) + delta
	if n < 0 {
		return 0
	}
	if n > 255 {
		return 255
	}
	return uint8(n)
}

func gradientVideo(t *testing.T, w, h, nFrames int) []byte {
	t.Helper()
	frames := make([][]byte, nFrames)
	for f := 0; f < nFrames; f++ {
		frame := make([]byte, w*h*3)
		for row := 0; row < h; row++ {
			for col := 0; col < w; col++ {
				o := (row*w + col) * 3
				frame[o] = byte((col * 255) / w)
				frame[o+1] = byte((row * 255) / h)
				frame[o+2] = byte(((row + col + f) * 255) % 256)
			}
		}
		frames[f] = frame
	}
	data, err := framestream.Encode(framestream.Header{Width: w, Height: h, FPS: 25.0, FrameCount: nFrames}, frames)
	require.NoError(t, err)
	return data
}

func sineWAV(t *testing.T, nSamples, sampleRate int) []byte {
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

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "registry.json"))
}

func TestRegisterAndLookupByID(t *testing.T) {
	r := newTestRegistry(t)
	src := gradientPNG(t, 64, 64)
	wm := append([]byte(nil), src...)
	wm[0] ^= 0xFF

	entry, err := r.Register("wm-1", "image", src, wm, "claude", "blog", "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "wm-1", entry.WMID)
	assert.NotEmpty(t, entry.PHash)
	assert.Equal(t, CurrentSchemaVersion, entry.SchemaVersion)

	found, ok := r.LookupByID("wm-1")
	require.True(t, ok)
	assert.Equal(t, entry.ContentHash, found.ContentHash)
}

func TestRegisterDuplicateIsNoOp(t *testing.T) {
	r := newTestRegistry(t)
	src := gradientPNG(t, 32, 32)

	first, err := r.Register("wm-dup", "image", src, src, "claude", "", "")
	require.NoError(t, err)

	second, err := r.Register("wm-dup", "image", []byte("different original"), []byte("different watermarked"), "gpt", "other", "")
	require.NoError(t, err)

	assert.Equal(t, first.ContentHash, second.ContentHash)
	assert.Equal(t, 1, r.GetStats().TotalEntries)
}

func TestLookupByHashExact(t *testing.T) {
	r := newTestRegistry(t)
	src := gradientPNG(t, 32, 32)
	wm := append([]byte(nil), src...)
	wm[0] ^= 0xFF

	_, err := r.Register("wm-hash", "image", src, wm, "", "", "")
	require.NoError(t, err)

	found, ok := r.LookupByHash(hexSHA256(src))
	require.True(t, ok)
	assert.Equal(t, "wm-hash", found.WMID)

	found, ok = r.LookupByHash(hexSHA256(wm))
	require.True(t, ok)
	assert.Equal(t, "wm-hash", found.WMID)
}

func TestLookupByPerceptualImageTolerance(t *testing.T) {
	r := newTestRegistry(t)
	src := gradientPNG(t, 128, 128)

	_, err := r.Register("wm-img", "image", src, src, "claude", "", "")
	require.NoError(t, err)

	slightlyModified := noisyVariant(t, src, 4)
	match, ok := r.LookupByPerceptualImage(slightlyModified, 64)
	require.True(t, ok)
	assert.Equal(t, "wm-img", match.WMID)
	assert.Equal(t, "perceptual_image", match.MatchType)

	heavilyModified := noisyVariant(t, src, 200)
	_, ok = r.LookupByPerceptualImage(heavilyModified, 1)
	assert.False(t, ok)
}

func TestLookupByPerceptualVideo(t *testing.T) {
	r := newTestRegistry(t)
	src := gradientVideo(t, 48, 48, 16)

	_, err := r.Register("wm-vid", "video", src, src, "sora", "", "")
	require.NoError(t, err)

	match, ok := r.LookupByPerceptualVideo(src, 0.5)
	require.True(t, ok)
	assert.Equal(t, "wm-vid", match.WMID)
	assert.Equal(t, "perceptual_video", match.MatchType)
}

func TestLookupByPerceptualAudio(t *testing.T) {
	r := newTestRegistry(t)
	src := sineWAV(t, 8192, 44100)

	_, err := r.Register("wm-aud", "audio", src, src, "claude", "", "")
	require.NoError(t, err)

	match, ok := r.LookupByPerceptualAudio(src, 0.80)
	require.True(t, ok)
	assert.Equal(t, "wm-aud", match.WMID)
	assert.GreaterOrEqual(t, match.MatchScore, 0.80)
}

func TestLookupByPerceptualText(t *testing.T) {
	r := newTestRegistry(t)
	text := "the quick brown fox jumps over the lazy dog again and again"

	_, err := r.Register("wm-txt", "text", []byte(text), []byte(text), "gpt", "", "")
	require.NoError(t, err)

	paraphrase := "the quick brown fox jumps over the lazy dog again and once more"
	match, ok := r.LookupByPerceptualText(paraphrase, 0.40)
	require.True(t, ok)
	assert.Equal(t, "wm-txt", match.WMID)
}

func TestLookupContentDispatchesByType(t *testing.T) {
	r := newTestRegistry(t)
	src := gradientPNG(t, 64, 64)
	_, err := r.Register("wm-dispatch", "image", src, src, "claude", "", "")
	require.NoError(t, err)

	match, ok := r.LookupContent("image", src)
	require.True(t, ok)
	assert.Equal(t, "exact_hash", match.MatchType)
}

func TestGetStatsCountsFingerprints(t *testing.T) {
	r := newTestRegistry(t)
	src := gradientPNG(t, 32, 32)
	_, err := r.Register("wm-stats-1", "image", src, src, "claude", "", "")
	require.NoError(t, err)
	_, err = r.Register("wm-stats-2", "text", []byte("some sample text content here"), []byte("some sample text content here"), "gpt", "", "")
	require.NoError(t, err)

	stats := r.GetStats()
	assert.Equal(t, 2, stats.TotalEntries)
	assert.Equal(t, 1, stats.ByDataType["image"])
	assert.Equal(t, 1, stats.ByDataType["text"])
	assert.Equal(t, 1, stats.Fingerprints["image_phash"])
	assert.Equal(t, 1, stats.Fingerprints["text_shingles"])
}

func TestWriteIsAtomicAcrossReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	r1 := New(path)
	src := gradientPNG(t, 16, 16)
	_, err := r1.Register("wm-atomic", "image", src, src, "claude", "", "")
	require.NoError(t, err)

	r2 := New(path)
	entries := r2.AllEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "wm-atomic", entries[0].WMID)
}
