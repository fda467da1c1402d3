package config

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config represents the complete client configuration
type Config struct {
	Takion  TakionConfig  `yaml:"takion"`
	Crypto  CryptoConfig  `yaml:"crypto"`
	Stream  StreamConfig  `yaml:"stream"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// TakionConfig contains the transport connection settings
type TakionConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ProtocolVersion  int           `yaml:"protocol_version"`
	EnableCrypt      bool          `yaml:"enable_crypt"`
	DontFragment     bool          `yaml:"dont_fragment"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	RecvBuffer       int           `yaml:"recv_buffer"`
}

// CryptoConfig holds the session secrets as hex strings. Both are produced
// by the session key exchange.
type CryptoConfig struct {
	HandshakeKey string `yaml:"handshake_key"`
	ECDHSecret   string `yaml:"ecdh_secret"`
}

// StreamConfig contains frame pipeline settings
type StreamConfig struct {
	VideoFramerate     uint64        `yaml:"video_framerate"`
	CongestionInterval time.Duration `yaml:"congestion_interval"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Key sizes expected in CryptoConfig.
const (
	HandshakeKeySize = 0x10
	ECDHSecretSize   = 0x20
)

// DefaultPort is the console's stream port.
const DefaultPort = 9297

// Default returns the configuration used for every field a file omits.
func Default() *Config {
	return &Config{
		Takion: TakionConfig{
			Host:             "127.0.0.1",
			Port:             DefaultPort,
			ProtocolVersion:  12,
			EnableCrypt:      true,
			HandshakeTimeout: 5 * time.Second,
			RecvBuffer:       0x19000,
		},
		Stream: StreamConfig{
			VideoFramerate:     60,
			CongestionInterval: 200 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9464",
		},
	}
}

// Load reads and parses the configuration file on top of Default
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses YAML on top of Default and validates the result
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs validation of every section
func (c *Config) Validate() error {
	if err := c.Takion.Validate(); err != nil {
		return fmt.Errorf("takion config: %w", err)
	}

	if err := c.Crypto.Validate(); err != nil {
		return fmt.Errorf("crypto config: %w", err)
	}

	if err := c.Stream.Validate(); err != nil {
		return fmt.Errorf("stream config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	return nil
}

// Validate validates the transport settings
func (t *TakionConfig) Validate() error {
	if t.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}

	if t.Port < 1 || t.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", t.Port)
	}

	switch t.ProtocolVersion {
	case 7, 9, 12:
	default:
		return fmt.Errorf("protocol_version must be 7, 9 or 12, got %d", t.ProtocolVersion)
	}

	if t.HandshakeTimeout <= 0 {
		return fmt.Errorf("handshake_timeout must be positive, got %s", t.HandshakeTimeout)
	}

	if t.RecvBuffer < 0 {
		return fmt.Errorf("recv_buffer cannot be negative, got %d", t.RecvBuffer)
	}

	return nil
}

// Address returns the host:port of the console
func (t *TakionConfig) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Validate checks that both secrets are present and have the right size.
// Empty secrets are allowed when neither is set; the stream then runs
// without authentication.
func (c *CryptoConfig) Validate() error {
	if c.HandshakeKey == "" && c.ECDHSecret == "" {
		return nil
	}

	if _, err := decodeHex("handshake_key", c.HandshakeKey, HandshakeKeySize); err != nil {
		return err
	}

	if _, err := decodeHex("ecdh_secret", c.ECDHSecret, ECDHSecretSize); err != nil {
		return err
	}

	return nil
}

// Configured reports whether secrets are set.
func (c *CryptoConfig) Configured() bool {
	return c.HandshakeKey != "" || c.ECDHSecret != ""
}

// Keys returns the decoded handshake key and ECDH secret.
func (c *CryptoConfig) Keys() (handshakeKey, ecdhSecret []byte, err error) {
	handshakeKey, err = decodeHex("handshake_key", c.HandshakeKey, HandshakeKeySize)
	if err != nil {
		return nil, nil, err
	}
	ecdhSecret, err = decodeHex("ecdh_secret", c.ECDHSecret, ECDHSecretSize)
	if err != nil {
		return nil, nil, err
	}
	return handshakeKey, ecdhSecret, nil
}

func decodeHex(name, s string, size int) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%s is not valid hex: %w", name, err)
	}
	if len(b) != size {
		return nil, fmt.Errorf("%s must be %d bytes, got %d", name, size, len(b))
	}
	return b, nil
}

// Validate validates the frame pipeline settings
func (s *StreamConfig) Validate() error {
	if s.VideoFramerate < 1 || s.VideoFramerate > 240 {
		return fmt.Errorf("video_framerate must be between 1 and 240, got %d", s.VideoFramerate)
	}

	if s.CongestionInterval < 10*time.Millisecond {
		return fmt.Errorf("congestion_interval must be at least 10ms, got %s", s.CongestionInterval)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	if _, err := logrus.ParseLevel(l.Level); err != nil {
		return fmt.Errorf("level: %w", err)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// Apply configures logger with the level and format
func (l *LoggingConfig) Apply(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return fmt.Errorf("level: %w", err)
	}
	logger.SetLevel(level)

	switch l.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// Validate validates the metrics endpoint
func (m *MetricsConfig) Validate() error {
	if !m.Enabled {
		return nil
	}

	if _, _, err := net.SplitHostPort(m.Listen); err != nil {
		return fmt.Errorf("listen address %q: %w", m.Listen, err)
	}

	return nil
}
