package mts

import (
	"fmt"
	"math"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config holds the process-wide conversion and compilation settings.
type Config struct {
	// Dialect selects identifier quoting for compiled statements. Empty
	// leaves identifiers unquoted.
	Dialect string `json:"dialect" yaml:"dialect"`

	// Boolean representation
	BoolMode  BoolMode `json:"bool_mode" yaml:"bool_mode"`
	TrueCode  string   `json:"true_code" yaml:"true_code"`
	FalseCode string   `json:"false_code" yaml:"false_code"`

	// AUTO key generation
	AutoKeyMin    int64 `json:"auto_key_min" yaml:"auto_key_min"`
	AutoKeyMax    int64 `json:"auto_key_max" yaml:"auto_key_max"`
	TextKeyLength int   `json:"text_key_length" yaml:"text_key_length"`

	// NormalizeUTC converts every date/time crossing the binder to UTC.
	NormalizeUTC bool `json:"normalize_utc" yaml:"normalize_utc"`

	// Enumerated-value accessor pair resolved by name on the field type.
	EnumGetter string `json:"enum_getter" yaml:"enum_getter"`
	EnumSetter string `json:"enum_setter" yaml:"enum_setter"`

	// OriginalPrefix namespaces optimistic-concurrency bind names.
	OriginalPrefix string `json:"original_prefix" yaml:"original_prefix"`
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Dialect:        DialectNone,
		BoolMode:       BoolNative,
		TrueCode:       "Y",
		FalseCode:      "N",
		AutoKeyMin:     1,
		AutoKeyMax:     math.MaxInt64,
		TextKeyLength:  32,
		NormalizeUTC:   true,
		EnumGetter:     "Value",
		EnumSetter:     "Scan",
		OriginalPrefix: "original_",
	}
}

// Validate checks the configuration for inconsistent values.
func (c Config) Validate() error {
	if !IsDialectSupported(c.Dialect) {
		return configErrorf("unsupported dialect: %q", c.Dialect)
	}
	switch c.BoolMode {
	case BoolNative:
	case BoolChar:
		if len(c.TrueCode) != 1 || len(c.FalseCode) != 1 || c.TrueCode == c.FalseCode {
			return configErrorf("boolean codes must be two distinct single characters, got %q/%q", c.TrueCode, c.FalseCode)
		}
	default:
		return configErrorf("unsupported bool mode: %q", c.BoolMode)
	}
	if c.AutoKeyMin < 0 || c.AutoKeyMax <= c.AutoKeyMin {
		return configErrorf("invalid auto key range [%d, %d]", c.AutoKeyMin, c.AutoKeyMax)
	}
	if c.TextKeyLength <= 0 || c.TextKeyLength > 32 {
		return configErrorf("text key length must be within 1..32, got %d", c.TextKeyLength)
	}
	if c.EnumGetter == "" || c.EnumSetter == "" {
		return configErrorf("enum accessor names must not be empty")
	}
	if c.OriginalPrefix == "" {
		return configErrorf("original prefix must not be empty")
	}
	return nil
}

// LoadConfig reads a YAML file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, NewErrorWithCause(ErrorTypeConfiguration, fmt.Sprintf("failed to read config %s", path), err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, NewErrorWithCause(ErrorTypeConfiguration, fmt.Sprintf("failed to parse config %s", path), err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var (
	configMutex   sync.RWMutex
	currentConfig = DefaultConfig()
)

// Configure replaces the process-wide configuration. Class-level caches are
// not rebuilt; configure before first use.
func Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	configMutex.Lock()
	currentConfig = cfg
	configMutex.Unlock()
	return nil
}

// CurrentConfig returns the process-wide configuration.
func CurrentConfig() Config {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return currentConfig
}
