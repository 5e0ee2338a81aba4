// Package config loads the YAML configuration of the signpdf tool.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/georgepadayatti/signpdf/sign/byterange"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Common errors
var (
	ErrConfigurationError = errors.New("configuration error")
	ErrNoCredentialSource = errors.New("no credential source configured")
)

// ConfigError represents a configuration error with context.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrConfigurationError
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// NormalizePassphrase brings a passphrase into Unicode NFC form, so that
// composed and decomposed spellings of the same text unlock the same
// container.
func NormalizePassphrase(s string) string {
	return norm.NFC.String(s)
}

// PKCS12SignatureConfig contains configuration for signing using a PKCS#12 file.
type PKCS12SignatureConfig struct {
	// PFXFile is the path to the PKCS#12 file. Relative paths are resolved
	// against the directory of the configuration file.
	PFXFile string `yaml:"pfx-file" json:"pfx_file"`

	// PFXPassphrase is the PKCS#12 passphrase.
	PFXPassphrase string `yaml:"pfx-passphrase" json:"pfx_passphrase,omitempty"`
}

// Validate validates the PKCS12 signature configuration.
func (c *PKCS12SignatureConfig) Validate() error {
	if c.PFXFile == "" {
		return NewConfigError("pkcs12.pfx-file", "required field is missing")
	}
	return nil
}

// Passphrase returns the normalized passphrase.
func (c *PKCS12SignatureConfig) Passphrase() string {
	return NormalizePassphrase(c.PFXPassphrase)
}

// ReadContainer reads the PKCS#12 file.
func (c *PKCS12SignatureConfig) ReadContainer() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(c.PFXFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read PKCS#12 file: %w", err)
	}
	return data, nil
}

// SigningConfig represents the signing configuration.
type SigningConfig struct {
	// PlaceholderSentinel stands in for each unknown ByteRange value in
	// prepared documents.
	PlaceholderSentinel string `yaml:"placeholder-sentinel" json:"placeholder_sentinel,omitempty"`

	// StrictASN1 requires PKCS#12 containers to be strict DER.
	StrictASN1 bool `yaml:"strict-asn1" json:"strict_asn1"`

	// PKCS12 configures a PKCS#12 file as the credential source.
	PKCS12 *PKCS12SignatureConfig `yaml:"pkcs12" json:"pkcs12,omitempty"`

	// PKCS11 configures a PKCS#11 token as the credential source.
	PKCS11 *PKCS11SignatureConfig `yaml:"pkcs11" json:"pkcs11,omitempty"`
}

// SetDefaults sets default values for the signing configuration.
func (c *SigningConfig) SetDefaults() {
	if c.PlaceholderSentinel == "" {
		c.PlaceholderSentinel = byterange.DefaultSentinel
	}
}

// ValidateSentinel rejects placeholder sentinels that would end the ByteRange
// token early.
func ValidateSentinel(sentinel string) error {
	if strings.ContainsAny(sentinel, " \t\r\n]/") {
		return NewConfigError("placeholder-sentinel", "must not contain whitespace, '/' or ']'")
	}
	return nil
}

// Validate validates the signing configuration. Having no credential source
// is valid; the CLI can supply one.
func (c *SigningConfig) Validate() error {
	if err := ValidateSentinel(c.PlaceholderSentinel); err != nil {
		return err
	}
	if c.PKCS12 != nil && c.PKCS11 != nil {
		return NewConfigError("", "pkcs12 and pkcs11 are mutually exclusive")
	}
	if c.PKCS12 != nil {
		if err := c.PKCS12.Validate(); err != nil {
			return err
		}
	}
	if c.PKCS11 != nil {
		if err := c.PKCS11.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level" json:"level,omitempty"`

	// Format is the log format (text, json).
	Format string `yaml:"format" json:"format,omitempty"`

	// Output is the log output (stdout, stderr, or file path).
	Output string `yaml:"output" json:"output,omitempty"`
}

// SetDefaults sets default values for logging configuration.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
	if c.Output == "" {
		c.Output = "stderr"
	}
}

// AppConfig contains the complete application configuration.
type AppConfig struct {
	// Signing contains signing configuration.
	Signing *SigningConfig `yaml:"signing" json:"signing,omitempty"`

	// Logging contains logging configuration.
	Logging *LoggingConfig `yaml:"logging" json:"logging,omitempty"`
}

// DefaultAppConfig returns a configuration with every default applied.
func DefaultAppConfig() *AppConfig {
	cfg := &AppConfig{}
	cfg.setDefaults()
	return cfg
}

func (c *AppConfig) setDefaults() {
	if c.Signing == nil {
		c.Signing = &SigningConfig{}
	}
	c.Signing.SetDefaults()
	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	c.Logging.SetDefaults()
}

// Validate validates the whole configuration.
func (c *AppConfig) Validate() error {
	if c.Signing != nil {
		if err := c.Signing.Validate(); err != nil {
			return err
		}
	}
	if c.Logging != nil {
		if _, err := parseLevel(c.Logging.Level); err != nil {
			return &ConfigError{Field: "logging.level", Message: err.Error(), Err: err}
		}
		switch c.Logging.Format {
		case "", "text", "json":
		default:
			return NewConfigError("logging.format", fmt.Sprintf("unknown format %q (must be text or json)", c.Logging.Format))
		}
	}
	return nil
}

// ParseAppConfig parses configuration from YAML data, applies defaults and
// validates the result. Unknown keys are rejected.
func ParseAppConfig(data []byte) (*AppConfig, error) {
	var config AppConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ConfigError{Message: "failed to parse config", Err: err}
	}

	config.setDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadAppConfig loads the complete application configuration from a file.
// A relative pfx-file is taken relative to the configuration file.
func LoadAppConfig(filename string) (*AppConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config, err := ParseAppConfig(data)
	if err != nil {
		return nil, err
	}

	if p12 := config.Signing.PKCS12; p12 != nil && !filepath.IsAbs(p12.PFXFile) {
		p12.PFXFile = filepath.Join(filepath.Dir(filename), p12.PFXFile)
	}
	return config, nil
}
