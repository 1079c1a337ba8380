// Package config loads the watermark engine's runtime configuration:
// the operational HMAC key, the registry file path, and the optional
// Redis address for distributed rate limiting. It uses a viper-based
// loading pattern, generalized from a YAML-file config to the
// environment-first shape this service needs.
package config

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/spf13/viper"
	"golang.org/x/crypto/hkdf"
)

const (
	envSecretKey    = "WATERMARK_SECRET_KEY"
	envRegistryPath = "WATERMARK_REGISTRY_PATH"
	envRedisAddr    = "REDIS_ADDR"
	envListenAddr   = "WATERMARK_LISTEN_ADDR"

	hkdfPrefix = "hkdf:"

	defaultDevKey      = "dev-only-insecure-watermark-key-do-not-use-in-production"
	defaultRegistry    = "./registry.json"
	defaultListenAddr  = ":8080"
	operationalKeyLen  = 32
	hkdfInfo           = "aegis-watermark-v1"
)

// Config is the process-wide runtime configuration.
type Config struct {
	SecretKey    []byte `mapstructure:"-"`
	RegistryPath string `mapstructure:"registry_path"`
	RedisAddr    string `mapstructure:"redis_addr"`
	ListenAddr   string `mapstructure:"listen_addr"`
}

// Load reads configuration from environment variables (with viper handling
// an optional config file for the non-sensitive fields), deriving the
// operational key from WATERMARK_SECRET_KEY.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("watermark")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("WATERMARK")
	v.AutomaticEnv()

	v.SetDefault("registry_path", defaultRegistry)
	v.SetDefault("listen_addr", defaultListenAddr)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	cfg := &Config{
		RegistryPath: v.GetString("registry_path"),
		ListenAddr:   v.GetString("listen_addr"),
		RedisAddr:    envOrViper(v, envRedisAddr, "redis_addr"),
	}

	if path := envOrViper(v, envRegistryPath, "registry_path"); path != "" {
		cfg.RegistryPath = path
	}
	if addr := envOrViper(v, envListenAddr, "listen_addr"); addr != "" {
		cfg.ListenAddr = addr
	}

	key, err := LoadKey()
	if err != nil {
		return nil, err
	}
	cfg.SecretKey = key

	return cfg, nil
}

// LoadKey resolves the operational HMAC key from WATERMARK_SECRET_KEY.
// A bare value is used as-is, at whatever length it has (HMAC itself
// zero-pads short keys and hashes keys longer than its block size); a
// value prefixed "hkdf:" is
// treated as input key material and expanded via HKDF-SHA256 into a
// fresh 32-byte key, letting an operator provision a passphrase instead
// of raw key bytes without changing any embed/verify formula.
func LoadKey() ([]byte, error) {
	raw := viperEnv(envSecretKey)
	if raw == "" {
		raw = defaultDevKey
	}

	if strings.HasPrefix(raw, hkdfPrefix) {
		ikm := []byte(strings.TrimPrefix(raw, hkdfPrefix))
		return expandHKDF(ikm)
	}
	return []byte(raw), nil
}

func expandHKDF(ikm []byte) ([]byte, error) {
	reader := hkdf.New(newSHA256, ikm, nil, []byte(hkdfInfo))
	key := make([]byte, operationalKeyLen)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("config: hkdf expand: %w", err)
	}
	return key, nil
}

func envOrViper(v *viper.Viper, envKey, viperKey string) string {
	if val := viperEnv(envKey); val != "" {
		return val
	}
	return v.GetString(viperKey)
}

func viperEnv(key string) string {
	return os.Getenv(key)
}

func newSHA256() hash.Hash {
	return sha256.New()
}
