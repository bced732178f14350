// Package config holds the adapter's JSON configuration: where the
// certificate bundle lives, whether legacy protocols are admitted, and how
// loudly to log.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

type Config struct {
	CertificateBundle   string        `json:"certificateBundle"`
	BundlePassword      string        `json:"bundlePassword,omitempty"`
	AllowLegacyProtocol bool          `json:"allowLegacyProtocol,omitempty"`
	Logging             LoggingConfig `json:"logging"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format,omitempty"` // "cli" or "json"
}

// Load reads a config from path, or stdin when path is "-".
func Load(path string) (*Config, error) {
	var reader io.ReadCloser
	if path == "-" {
		reader = io.NopCloser(os.Stdin)
	} else {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		reader = file
	}
	defer reader.Close()

	var cfg Config
	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.CertificateBundle) == "" {
		return errors.New("certificateBundle is required")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "cli", "json":
	default:
		return fmt.Errorf("unknown logging format %q", c.Logging.Format)
	}
	return nil
}

// Protocols is the enabled protocol-name list. The legacy toggle admits
// SSLv3 peers; it is excluded otherwise.
func (c *Config) Protocols() []string {
	if c.AllowLegacyProtocol {
		return []string{"SSLv2Hello", "SSLv3", "TLSv1", "TLSv1.1", "TLSv1.2"}
	}
	return []string{"SSLv2Hello", "TLSv1", "TLSv1.1", "TLSv1.2"}
}

func (c *Config) NormalisedLevel() string {
	return strings.ToLower(strings.TrimSpace(c.Logging.Level))
}
