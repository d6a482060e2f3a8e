/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package bodystream

import (
	"fmt"
	"time"

	"github.com/acronis/go-appkit/config"
)

const cfgDefaultKeyPrefix = "bodyStream"

const (
	cfgKeyReadTimeout       = "readTimeout"
	cfgKeyLimitsMaxBodySize = "limits.maxBodySize"
	cfgKeyZeroChunkMarksEOF = "zeroChunkMarksEOF"
)

// DefaultReadTimeout is a default timeout for a single blocking body read.
const DefaultReadTimeout = 10 * time.Second

// Config represents a set of configuration parameters for reading request bodies.
// Configuration can be loaded in different formats (YAML, JSON) using config.Loader, viper,
// or with json.Unmarshal/yaml.Unmarshal functions directly.
type Config struct {
	// ReadTimeout bounds every single blocking read. Exceeding it closes the connection.
	ReadTimeout config.TimeDuration `mapstructure:"readTimeout" yaml:"readTimeout" json:"readTimeout"`

	Limits LimitsConfig `mapstructure:"limits" yaml:"limits" json:"limits"`

	// ZeroChunkMarksEOF enables the framing where a delivered zero-length chunk is an
	// end-of-body marker instead of data (used by HTTP/2-style transports).
	ZeroChunkMarksEOF bool `mapstructure:"zeroChunkMarksEOF" yaml:"zeroChunkMarksEOF" json:"zeroChunkMarksEOF"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// LimitsConfig represents a set of configuration parameters relating to body limits.
type LimitsConfig struct {
	// MaxBodySizeBytes is the maximum size of the request body in bytes. 0 means no limit.
	MaxBodySizeBytes config.ByteSize `mapstructure:"maxBodySize" yaml:"maxBodySize" json:"maxBodySize"`
}

// ConfigOption is a type for functional options for the Config.
type ConfigOption func(*configOptions)

type configOptions struct {
	keyPrefix string
}

// WithKeyPrefix returns a ConfigOption that sets a key prefix for parsing configuration parameters.
// This prefix will be used by config.Loader.
func WithKeyPrefix(keyPrefix string) ConfigOption {
	return func(o *configOptions) {
		o.keyPrefix = keyPrefix
	}
}

// NewConfig creates a new instance of the Config.
func NewConfig(options ...ConfigOption) *Config {
	opts := configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{keyPrefix: opts.keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig(options ...ConfigOption) *Config {
	opts := configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{
		keyPrefix:   opts.keyPrefix,
		ReadTimeout: config.TimeDuration(DefaultReadTimeout),
	}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyReadTimeout, DefaultReadTimeout)
	dp.SetDefault(cfgKeyZeroChunkMarksEOF, false)
}

// Set sets configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	var dur time.Duration
	if dur, err = dp.GetDuration(cfgKeyReadTimeout); err != nil {
		return err
	}
	if dur <= 0 {
		return dp.WrapKeyErr(cfgKeyReadTimeout, fmt.Errorf("readTimeout must be positive"))
	}
	c.ReadTimeout = config.TimeDuration(dur)

	if c.Limits.MaxBodySizeBytes, err = dp.GetSizeInBytes(cfgKeyLimitsMaxBodySize); err != nil {
		return dp.WrapKeyErr(cfgKeyLimitsMaxBodySize, err)
	}

	if c.ZeroChunkMarksEOF, err = dp.GetBool(cfgKeyZeroChunkMarksEOF); err != nil {
		return err
	}

	return nil
}

// TransformToOpts makes Opts with the values of the Config.
func (c *Config) TransformToOpts() Opts {
	return Opts{
		ReadTimeout:       time.Duration(c.ReadTimeout),
		MaxBodySizeBytes:  uint64(c.Limits.MaxBodySizeBytes),
		ZeroChunkMarksEOF: c.ZeroChunkMarksEOF,
	}
}
