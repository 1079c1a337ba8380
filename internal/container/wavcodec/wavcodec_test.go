package wavcodec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	a := &Audio{
		Params:  Params{NumChannels: 2, SampleRate: 44100, BitsPerSample: 16},
		Samples: []float64{100, -100, 200, -200, 300, -300},
	}
	data, err := Encode(a)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, a.Params, decoded.Params)
	assert.Equal(t, a.Samples, decoded.Samples)
}

func TestDecodeRejectsNonRIFF(t *testing.T) {
	_, err := Decode([]byte("not a wav file at all"))
	assert.Error(t, err)
}

func TestSampleRange(t *testing.T) {
	a := &Audio{Params: Params{BitsPerSample: 16}}
	min, max := a.SampleRange()
	assert.Equal(t, -32768.0, min)
	assert.Equal(t, 32767.0, max)
}
