// Package config reads the YAML signing profile used by the cmssign CLI.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	cms "github.com/mdean75/cms-engine"
	"github.com/mdean75/cms-engine/internal/keystore"
)

// Common errors
var (
	ErrConfigurationError = errors.New("configuration error")
	ErrUnexpectedField    = errors.New("unexpected field in configuration")
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

// Profile is a signing profile. Zero values mean "use the default".
type Profile struct {
	// Algorithm is a signature algorithm name accepted by cms.ParseAlgorithm.
	Algorithm string `yaml:"algorithm"`
	// Mode is "implicit" or "explicit".
	Mode string `yaml:"mode"`
	// ApplySystemDate controls the signing-time attribute; nil means true.
	ApplySystemDate *bool `yaml:"apply-system-date"`
	// SignerIdentifier is "issuer-serial" or "subject-key-id".
	SignerIdentifier string `yaml:"signer-identifier"`
	// ContentEncryption names the cipher used by the envelope command.
	ContentEncryption string `yaml:"content-encryption"`
	// ContentHint enables content sniffing for the content-hints attribute.
	ContentHint bool `yaml:"content-hint"`

	Key     KeyConfig     `yaml:"key"`
	Logging LoggingConfig `yaml:"logging"`
}

// KeyConfig locates the signing key.
type KeyConfig struct {
	PKCS12File string   `yaml:"pkcs12-file"`
	Password   string   `yaml:"password"`
	KeyFile    string   `yaml:"key-file"`
	CertFile   string   `yaml:"cert-file"`
	ChainFiles []string `yaml:"chain-files"`
}

// LoggingConfig configures the CLI logger.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Load reads and validates the profile at path.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML profile. Unknown fields are rejected.
// An empty document yields the zero profile.
func Parse(data []byte) (*Profile, error) {
	p := &Profile{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil && !errors.Is(err, io.EOF) {
		if strings.Contains(err.Error(), "not found in type") {
			return nil, &ConfigError{Message: err.Error(), Err: ErrUnexpectedField}
		}
		return nil, &ConfigError{Message: err.Error(), Err: err}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks every set field.
func (p *Profile) Validate() error {
	if p.Algorithm != "" {
		if _, err := cms.ParseAlgorithm(p.Algorithm); err != nil {
			return &ConfigError{Field: "algorithm", Message: err.Error(), Err: err}
		}
	}
	if _, err := cms.ParseMode(p.Mode); err != nil {
		return &ConfigError{Field: "mode", Message: err.Error(), Err: err}
	}
	if _, err := ParseSignerIdentifier(p.SignerIdentifier); err != nil {
		return &ConfigError{Field: "signer-identifier", Message: err.Error(), Err: err}
	}
	if p.ContentEncryption != "" {
		if _, err := cms.ParseContentEncryption(p.ContentEncryption); err != nil {
			return &ConfigError{Field: "content-encryption", Message: err.Error(), Err: err}
		}
	}
	if p.Key.PKCS12File != "" && (p.Key.KeyFile != "" || p.Key.CertFile != "") {
		return NewConfigError("key", "pkcs12-file and key-file/cert-file are mutually exclusive")
	}
	if (p.Key.KeyFile == "") != (p.Key.CertFile == "") {
		return NewConfigError("key", "key-file and cert-file must be set together")
	}
	return nil
}

// ParseSignerIdentifier maps "issuer-serial" (the default) and
// "subject-key-id" to a cms.SignerIdentifierType.
func ParseSignerIdentifier(s string) (cms.SignerIdentifierType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "issuer-serial":
		return cms.IssuerAndSerialNumber, nil
	case "subject-key-id", "ski":
		return cms.SubjectKeyIdentifier, nil
	}
	return 0, fmt.Errorf("unknown signer identifier %q", s)
}

// KeySource converts the key section for the keystore loader.
func (p *Profile) KeySource() keystore.Source {
	return keystore.Source{
		PKCS12File: p.Key.PKCS12File,
		KeyFile:    p.Key.KeyFile,
		CertFile:   p.Key.CertFile,
		ChainFiles: p.Key.ChainFiles,
		Password:   p.Key.Password,
	}
}

// Options returns the engine options the profile implies.
func (p *Profile) Options() ([]cms.Option, error) {
	var opts []cms.Option
	mode, err := cms.ParseMode(p.Mode)
	if err != nil {
		return nil, err
	}
	opts = append(opts, cms.WithMode(mode))
	if p.ApplySystemDate != nil {
		opts = append(opts, cms.WithApplySystemDate(*p.ApplySystemDate))
	}
	sid, err := ParseSignerIdentifier(p.SignerIdentifier)
	if err != nil {
		return nil, err
	}
	opts = append(opts, cms.WithSignerIdentifier(sid))
	if p.ContentEncryption != "" {
		alg, err := cms.ParseContentEncryption(p.ContentEncryption)
		if err != nil {
			return nil, err
		}
		opts = append(opts, cms.WithContentEncryption(alg))
	}
	if p.ContentHint {
		opts = append(opts, cms.WithDetectedContentHint())
	}
	return opts, nil
}

// SignatureAlgorithm returns the configured algorithm, or
// cms.DefaultAlgorithm when none is set.
func (p *Profile) SignatureAlgorithm() (cms.Algorithm, error) {
	if p.Algorithm == "" {
		return cms.DefaultAlgorithm, nil
	}
	return cms.ParseAlgorithm(p.Algorithm)
}
