package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Compression modes accepted by the elastic client.
const (
	CompressionGzip     = "gzip"
	CompressionDeflate  = "deflate"
	CompressionIdentity = "identity"
)

// Config is the full agent configuration: global settings plus one section
// per collector and per client, mirroring their runtime processes.
type Config struct {
	LogLevel    string        `mapstructure:"log_level"`
	Metadata    []string      `mapstructure:"metadata"`
	JoinTimeout time.Duration `mapstructure:"join_timeout"`

	Statsd  StatsdConfig  `mapstructure:"statsd"`
	System  SystemConfig  `mapstructure:"system"`
	Carbon  CarbonConfig  `mapstructure:"carbon"`
	Elastic ElasticConfig `mapstructure:"elastic"`

	ConfigFile string `mapstructure:"-"`
}

// StatsdConfig configures the statsd UDP collector.
type StatsdConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BindIP   string        `mapstructure:"bind_ip"`
	BindPort int           `mapstructure:"bind_port"`
	Interval time.Duration `mapstructure:"interval"`

	CountersName string `mapstructure:"counters_name"`
	GaugesName   string `mapstructure:"gauges_name"`
	TimersName   string `mapstructure:"timers_name"`
	SetsName     string `mapstructure:"sets_name"`

	CountersTimeout time.Duration `mapstructure:"counters_timeout"`
	GaugesTimeout   time.Duration `mapstructure:"gauges_timeout"`
	TimersTimeout   time.Duration `mapstructure:"timers_timeout"`
	SetsTimeout     time.Duration `mapstructure:"sets_timeout"`
}

// SystemConfig configures the local system stats collector.
type SystemConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// ClientConfig holds the settings every push client shares.
type ClientConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	RemoteHost     string        `mapstructure:"remote_host"`
	FlushInterval  time.Duration `mapstructure:"flush_interval"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	SendTimeout    time.Duration `mapstructure:"send_timeout"`

	// HighWater caps the number of buffered fragments; oldest fragments are
	// dropped with a warning once exceeded. Zero retains everything.
	HighWater int `mapstructure:"high_water"`
}

// CarbonConfig configures the plaintext line-protocol client.
type CarbonConfig struct {
	ClientConfig `mapstructure:",squash"`

	// NameMapping lists metadata keys whose values lead the dotted metric
	// name, in this order; remaining keys follow sorted.
	NameMapping []string `mapstructure:"name_mapping"`
}

// ElasticConfig configures the bulk NDJSON HTTP client.
type ElasticConfig struct {
	ClientConfig `mapstructure:",squash"`

	IndexName   string `mapstructure:"index_name"`
	TypeName    string `mapstructure:"type_name"`
	Compression string `mapstructure:"compression"`
}

// Validate checks the configuration for inconsistencies that would only
// surface later as runtime failures.
func (c *Config) Validate() error {
	if !c.Statsd.Enabled && !c.System.Enabled {
		return fmt.Errorf("no collectors enabled")
	}
	if !c.Carbon.Enabled && !c.Elastic.Enabled {
		return fmt.Errorf("no clients enabled")
	}
	if c.JoinTimeout <= 0 {
		return fmt.Errorf("join_timeout must be positive, got %s", c.JoinTimeout)
	}

	if c.Statsd.Enabled {
		if c.Statsd.BindPort < 1 || c.Statsd.BindPort > 65535 {
			return fmt.Errorf("statsd bind_port out of range: %d", c.Statsd.BindPort)
		}
		if c.Statsd.Interval <= 0 {
			return fmt.Errorf("statsd interval must be positive, got %s", c.Statsd.Interval)
		}
		for name, v := range map[string]string{
			"counters_name": c.Statsd.CountersName,
			"gauges_name":   c.Statsd.GaugesName,
			"timers_name":   c.Statsd.TimersName,
			"sets_name":     c.Statsd.SetsName,
		} {
			if strings.TrimSpace(v) == "" {
				return fmt.Errorf("statsd %s cannot be empty", name)
			}
		}
	}
	if c.System.Enabled && c.System.Interval <= 0 {
		return fmt.Errorf("system interval must be positive, got %s", c.System.Interval)
	}

	if c.Carbon.Enabled {
		if err := c.Carbon.ClientConfig.validate("carbon"); err != nil {
			return err
		}
	}
	if c.Elastic.Enabled {
		if err := c.Elastic.ClientConfig.validate("elastic"); err != nil {
			return err
		}
		switch c.Elastic.Compression {
		case CompressionGzip, CompressionDeflate, CompressionIdentity:
		default:
			// Anything unrecognized means no compression.
			c.Elastic.Compression = CompressionIdentity
		}
	}

	for _, tag := range c.Metadata {
		if _, _, err := ParseMetadataTag(tag); err != nil {
			return err
		}
	}
	return nil
}

func (c *ClientConfig) validate(name string) error {
	host, port, err := net.SplitHostPort(c.RemoteHost)
	if err != nil {
		return fmt.Errorf("%s remote_host %q: %w", name, c.RemoteHost, err)
	}
	if host == "" {
		return fmt.Errorf("%s remote_host %q: empty host", name, c.RemoteHost)
	}
	if p, err := strconv.Atoi(port); err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("%s remote_host %q: invalid port", name, c.RemoteHost)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("%s flush_interval must be positive, got %s", name, c.FlushInterval)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("%s connect_timeout must be positive, got %s", name, c.ConnectTimeout)
	}
	if c.SendTimeout <= 0 {
		return fmt.Errorf("%s send_timeout must be positive, got %s", name, c.SendTimeout)
	}
	if c.HighWater < 0 {
		return fmt.Errorf("%s high_water cannot be negative", name)
	}
	return nil
}

// ParseMetadataTag splits a "key=value" (or "key:value", or bare "key") tag
// as given on the command line or in the config file. A bare key yields an
// empty value.
func ParseMetadataTag(tag string) (key, value string, err error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return "", "", fmt.Errorf("empty metadata tag")
	}
	sep := "="
	if !strings.Contains(tag, "=") && strings.Contains(tag, ":") {
		sep = ":"
	}
	k, v, _ := strings.Cut(tag, sep)
	k = strings.TrimSpace(k)
	if k == "" {
		return "", "", fmt.Errorf("metadata tag %q has empty key", tag)
	}
	return k, strings.TrimSpace(v), nil
}

// MetadataTags parses every configured metadata tag into a map. Validate
// has already rejected malformed tags.
func (c *Config) MetadataTags() map[string]string {
	if len(c.Metadata) == 0 {
		return nil
	}
	tags := make(map[string]string, len(c.Metadata))
	for _, tag := range c.Metadata {
		k, v, err := ParseMetadataTag(tag)
		if err != nil {
			continue
		}
		tags[k] = v
	}
	return tags
}
