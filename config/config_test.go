package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testHandshakeKey = "54654c345cac56b8eae6152ade1ce2e8"
	testECDHSecret   = "0034f821c7d9dea9e911ca5ad67d11ce4f02b1ce1ee7c38d5439fa64e3dbd80d"
)

func TestLoad(t *testing.T) {
	configContent := `
takion:
  host: 192.168.1.20
  protocol_version: 9
  dont_fragment: true
  handshake_timeout: 2s

crypto:
  handshake_key: ` + testHandshakeKey + `
  ecdh_secret: ` + testECDHSecret + `

stream:
  video_framerate: 30
  congestion_interval: 100ms

logging:
  level: debug
  format: json

metrics:
  enabled: true
  listen: ":9464"
`

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.20", cfg.Takion.Host)
	assert.Equal(t, DefaultPort, cfg.Takion.Port)
	assert.Equal(t, 9, cfg.Takion.ProtocolVersion)
	assert.True(t, cfg.Takion.EnableCrypt)
	assert.True(t, cfg.Takion.DontFragment)
	assert.Equal(t, 2*time.Second, cfg.Takion.HandshakeTimeout)
	assert.Equal(t, "192.168.1.20:9297", cfg.Takion.Address())

	assert.Equal(t, uint64(30), cfg.Stream.VideoFramerate)
	assert.Equal(t, 100*time.Millisecond, cfg.Stream.CongestionInterval)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enabled)

	require.True(t, cfg.Crypto.Configured())
	handshakeKey, ecdhSecret, err := cfg.Crypto.Keys()
	require.NoError(t, err)
	assert.Len(t, handshakeKey, HandshakeKeySize)
	assert.Len(t, ecdhSecret, ECDHSecretSize)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("takion: [unterminated"))
	assert.Error(t, err)
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.Crypto.Configured())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:    "empty host",
			modify:  func(c *Config) { c.Takion.Host = "" },
			wantErr: "host cannot be empty",
		},
		{
			name:    "port out of range",
			modify:  func(c *Config) { c.Takion.Port = 70000 },
			wantErr: "port must be between 1 and 65535",
		},
		{
			name:    "unknown protocol version",
			modify:  func(c *Config) { c.Takion.ProtocolVersion = 8 },
			wantErr: "protocol_version must be 7, 9 or 12",
		},
		{
			name:    "zero handshake timeout",
			modify:  func(c *Config) { c.Takion.HandshakeTimeout = 0 },
			wantErr: "handshake_timeout must be positive",
		},
		{
			name: "short handshake key",
			modify: func(c *Config) {
				c.Crypto.HandshakeKey = "0011"
				c.Crypto.ECDHSecret = testECDHSecret
			},
			wantErr: "handshake_key must be 16 bytes",
		},
		{
			name: "ecdh secret not hex",
			modify: func(c *Config) {
				c.Crypto.HandshakeKey = testHandshakeKey
				c.Crypto.ECDHSecret = "zz"
			},
			wantErr: "ecdh_secret is not valid hex",
		},
		{
			name:    "only one secret",
			modify:  func(c *Config) { c.Crypto.HandshakeKey = testHandshakeKey },
			wantErr: "ecdh_secret must be 32 bytes",
		},
		{
			name:    "zero framerate",
			modify:  func(c *Config) { c.Stream.VideoFramerate = 0 },
			wantErr: "video_framerate must be between 1 and 240",
		},
		{
			name:    "congestion interval too short",
			modify:  func(c *Config) { c.Stream.CongestionInterval = time.Millisecond },
			wantErr: "congestion_interval must be at least 10ms",
		},
		{
			name:    "unknown log level",
			modify:  func(c *Config) { c.Logging.Level = "loud" },
			wantErr: "logging config: level",
		},
		{
			name:    "unknown log format",
			modify:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "format must be 'json' or 'text'",
		},
		{
			name: "bad metrics address",
			modify: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Listen = "nope"
			},
			wantErr: "metrics config: listen address",
		},
		{
			name: "disabled metrics ignore address",
			modify: func(c *Config) {
				c.Metrics.Enabled = false
				c.Metrics.Listen = "nope"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoggingApply(t *testing.T) {
	logger := logrus.New()

	l := LoggingConfig{Level: "trace", Format: "json"}
	require.NoError(t, l.Apply(logger))
	assert.Equal(t, logrus.TraceLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	l = LoggingConfig{Level: "warn", Format: "text"}
	require.NoError(t, l.Apply(logger))
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)

	assert.Error(t, (&LoggingConfig{Level: "loud"}).Apply(logger))
}
