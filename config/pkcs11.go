package config

import (
	"os"

	"github.com/georgepadayatti/signpdf/keys"
)

// PKCS11PINEnv is consulted when no user PIN is configured.
const PKCS11PINEnv = "SIGNPDF_PKCS11_PIN"

// PKCS11SignatureConfig contains configuration for PKCS#11 signing.
type PKCS11SignatureConfig struct {
	// ModulePath is the path to the PKCS#11 module shared object (.so/.dylib/.dll).
	ModulePath string `yaml:"module-path" json:"module_path"`

	// SlotNo is the slot number to use. If nil, the token is found by
	// TokenLabel, or the only slot with a token is used.
	SlotNo *int `yaml:"slot-no" json:"slot_no,omitempty"`

	// TokenLabel is the label of the token to use.
	TokenLabel string `yaml:"token-label" json:"token_label,omitempty"`

	// KeyLabel is the PKCS#11 label of the private key. If empty, the first
	// RSA signing key on the token is used.
	KeyLabel string `yaml:"key-label" json:"key_label,omitempty"`

	// UserPIN is the user PIN for authentication. If empty, the PIN is read
	// from the SIGNPDF_PKCS11_PIN environment variable.
	UserPIN string `yaml:"user-pin" json:"user_pin,omitempty"`
}

// Validate validates the PKCS#11 configuration.
func (c *PKCS11SignatureConfig) Validate() error {
	if c.ModulePath == "" {
		return NewConfigError("pkcs11.module-path", "PKCS#11 module path is required")
	}
	if c.SlotNo != nil && *c.SlotNo < 0 {
		return NewConfigError("pkcs11.slot-no", "slot number must not be negative")
	}
	return nil
}

// PIN returns the effective user PIN.
func (c *PKCS11SignatureConfig) PIN() string {
	if c.UserPIN != "" {
		return c.UserPIN
	}
	return os.Getenv(PKCS11PINEnv)
}

// TokenOptions converts the configuration into options for
// keys.OpenTokenCredential.
func (c *PKCS11SignatureConfig) TokenOptions() keys.TokenOptions {
	return keys.TokenOptions{
		ModulePath: c.ModulePath,
		SlotNo:     c.SlotNo,
		TokenLabel: c.TokenLabel,
		KeyLabel:   c.KeyLabel,
		UserPIN:    c.PIN(),
	}
}
