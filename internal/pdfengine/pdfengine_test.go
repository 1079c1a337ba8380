package pdfengine

import (
	"bytes"
	"context"
	"testing"

	"github.com/jung-kurt/gofpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegiswm/watermark/internal/modality"
)

func samplePDF(t *testing.T) []byte {
	t.Helper()
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "", 12)
	pdf.Cell(40, 10, "sample watermark fixture")
	var buf bytes.Buffer
	require.NoError(t, pdf.Output(&buf))
	return buf.Bytes()
}

func TestPDFRoundTrip(t *testing.T) {
	e := New()
	key := []byte("pdf-key-s6")
	src := samplePDF(t)

	watermarked, wmID, err := e.Embed(context.Background(), src, modality.EmbedParams{
		Key:       key,
		ModelName: "claude",
		Context:   "contract",
	})
	require.NoError(t, err)
	require.NotEmpty(t, wmID)

	result, err := e.Verify(context.Background(), watermarked, key)
	require.NoError(t, err)
	assert.True(t, result.Detected)
	assert.True(t, result.SignatureValid)
	assert.Equal(t, "claude", result.ModelName)
	assert.Equal(t, "contract", result.Context)
}

func TestPDFWrongKeyFailsSignature(t *testing.T) {
	e := New()
	src := samplePDF(t)
	watermarked, _, err := e.Embed(context.Background(), src, modality.EmbedParams{Key: []byte("key-a"), ModelName: "m"})
	require.NoError(t, err)

	result, err := e.Verify(context.Background(), watermarked, []byte("key-b"))
	require.NoError(t, err)
	assert.False(t, result.SignatureValid)
}
