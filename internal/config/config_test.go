package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadKeyDefaultsWhenUnset(t *testing.T) {
	os.Unsetenv(envSecretKey)
	key, err := LoadKey()
	require.NoError(t, err)
	assert.Equal(t, []byte(defaultDevKey), key)
}

func TestLoadKeyRawPassthrough(t *testing.T) {
	t.Setenv(envSecretKey, "my-raw-secret")
	key, err := LoadKey()
	require.NoError(t, err)
	assert.Equal(t, []byte("my-raw-secret"), key)
}

func TestLoadKeyHKDFExpandsDeterministically(t *testing.T) {
	t.Setenv(envSecretKey, "hkdf:a long passphrase an operator might choose")
	key1, err := LoadKey()
	require.NoError(t, err)
	assert.Len(t, key1, operationalKeyLen)

	key2, err := LoadKey()
	require.NoError(t, err)
	assert.Equal(t, key1, key2)
}

func TestLoadKeyHKDFDiffersFromRaw(t *testing.T) {
	t.Setenv(envSecretKey, "hkdf:same-text")
	hkdfKey, err := LoadKey()
	require.NoError(t, err)

	t.Setenv(envSecretKey, "same-text")
	rawKey, err := LoadKey()
	require.NoError(t, err)

	assert.NotEqual(t, hkdfKey, rawKey)
}
