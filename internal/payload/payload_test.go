package payload

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildParseRoundTrip(t *testing.T) {
	key := []byte("test-secret-key")
	ts := time.Unix(1_700_000_000, 0).UTC()

	raw := Build("gpt-4o", "Tip", ts, key)
	require.Len(t, raw, Bytes)

	p, ok := Parse(raw, key)
	require.True(t, ok)
	assert.Equal(t, "gpt-4o", p.ModelName)
	assert.Equal(t, "Tip", p.Context)
	assert.Equal(t, uint32(ts.Unix()), p.TimestampUnix)
}

func TestParseRejectsWrongKey(t *testing.T) {
	raw := Build("claude", "Hukuk", time.Now(), []byte("key-a"))
	_, ok := Parse(raw, []byte("key-b"))
	assert.False(t, ok)
}

func TestParseRejectsShortInput(t *testing.T) {
	_, ok := Parse([]byte{0x57, 0x4d, 0x01}, []byte("key"))
	assert.False(t, ok)
}

func TestParseRejectsBadMagic(t *testing.T) {
	raw := Build("model", "", time.Now(), []byte("key"))
	raw[0] = 0x00
	_, ok := Parse(raw, []byte("key"))
	assert.False(t, ok)
}

func TestParseRejectsTamperedByte(t *testing.T) {
	key := []byte("key")
	raw := Build("model", "ctx", time.Now(), key)
	raw[10] ^= 0xFF
	_, ok := Parse(raw, key)
	assert.False(t, ok)
}

func TestModelNameTruncatedAndPadded(t *testing.T) {
	key := []byte("key")
	raw := Build("a-model-name-that-is-definitely-too-long", "", time.Now(), key)
	p, ok := Parse(raw, key)
	require.True(t, ok)
	assert.Len(t, p.ModelName, modelLen)
}

func TestDeriveWMIDMatchesParsedFields(t *testing.T) {
	key := []byte("key")
	ts := time.Unix(1_700_000_000, 0).UTC()
	raw := Build("gpt-4o", "ctx", ts, key)

	p, ok := Parse(raw, key)
	require.True(t, ok)

	id1 := DeriveWMID(p.ModelName, p.TimestampUnix, key)
	id2 := DeriveWMID("gpt-4o", uint32(ts.Unix()), key)
	assert.Equal(t, id2, id1)
	assert.Len(t, id1, 64)
}

func TestToBitsFromBitsRoundTrip(t *testing.T) {
	data := []byte{0x57, 0x4d, 0xFF, 0x00, 0x3c}
	bits := ToBits(data)
	assert.Len(t, bits, len(data)*8)

	back := FromBits(bits)
	assert.Equal(t, data, back)
}

func TestFromBitsPadsToByteBoundary(t *testing.T) {
	bits := []int{1, 0, 1}
	out := FromBits(bits)
	require.Len(t, out, 1)
	assert.Equal(t, byte(0b10100000), out[0])
}
