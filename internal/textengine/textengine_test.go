package textengine

import (
	"context"
	"strings"
	"testing"

	"github.com/aegiswm/watermark/internal/modality"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleText = "The quick brown fox jumps over the lazy dog. " +
	"Watermarking is a technique to embed hidden information. " +
	"Repeated words across several sentences help the carrier layer find enough hosts to embed a full payload reliably across copies."

func TestTextRoundTrip(t *testing.T) {
	e := New()
	key := []byte("key-s1")
	params := modality.EmbedParams{Key: key, ModelName: "claude-sonnet-4-6"}

	watermarked, wmID, err := e.Embed(context.Background(), []byte(sampleText), params)
	require.NoError(t, err)
	require.NotEmpty(t, wmID)

	result, err := e.Verify(context.Background(), watermarked, key)
	require.NoError(t, err)
	assert.True(t, result.Detected)
	assert.True(t, result.SignatureValid)
	assert.Equal(t, "claude-sonnet-4-6", result.ModelName)
	assert.NotEmpty(t, result.WMID)
}

func TestTextWrongKeyFailsSignature(t *testing.T) {
	e := New()
	watermarked, _, err := e.Embed(context.Background(), []byte(sampleText), modality.EmbedParams{Key: []byte("key-a")})
	require.NoError(t, err)

	result, err := e.Verify(context.Background(), watermarked, []byte("key-b"))
	require.NoError(t, err)
	assert.False(t, result.SignatureValid)
}

func TestTextEmptyInputNotDetected(t *testing.T) {
	e := New()
	result, err := e.Verify(context.Background(), []byte("   "), []byte("key"))
	require.NoError(t, err)
	assert.False(t, result.Detected)
}

func TestTextToleratesWordDeletion(t *testing.T) {
	e := New()
	key := []byte("key-s2")
	watermarked, _, err := e.Embed(context.Background(), []byte(strings.Repeat(sampleText+" ", 4)), modality.EmbedParams{Key: key})
	require.NoError(t, err)

	tokens := strings.Fields(string(watermarked))
	kept := make([]string, 0, len(tokens))
	for i, tok := range tokens {
		if i%5 == 0 {
			continue
		}
		kept = append(kept, tok)
	}

	result, err := e.Verify(context.Background(), []byte(strings.Join(kept, " ")), key)
	require.NoError(t, err)
	assert.True(t, result.SignatureValid)
}
