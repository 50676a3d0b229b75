package config

import (
	"errors"
	"strconv"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// defaultConfig returns the built-in defaults: statsd collection into a
// local carbon server, everything else opt-in.
func defaultConfig() *Config {
	return &Config{
		LogLevel:    "info",
		JoinTimeout: 10 * time.Second,
		Statsd: StatsdConfig{
			Enabled:         true,
			BindIP:          "127.0.0.1",
			BindPort:        8125,
			Interval:        10 * time.Second,
			CountersName:    "stats_counters",
			GaugesName:      "stats_gauges",
			TimersName:      "stats_timers",
			SetsName:        "stats_sets",
			CountersTimeout: 60 * time.Second,
			GaugesTimeout:   60 * time.Second,
			TimersTimeout:   60 * time.Second,
			SetsTimeout:     60 * time.Second,
		},
		System: SystemConfig{
			Enabled:  false,
			Interval: 10 * time.Second,
		},
		Carbon: CarbonConfig{
			ClientConfig: ClientConfig{
				Enabled:        true,
				RemoteHost:     "127.0.0.1:2003",
				FlushInterval:  time.Second,
				ConnectTimeout: 5 * time.Second,
				SendTimeout:    5 * time.Second,
			},
		},
		Elastic: ElasticConfig{
			ClientConfig: ClientConfig{
				Enabled:        false,
				RemoteHost:     "127.0.0.1:9200",
				FlushInterval:  time.Second,
				ConnectTimeout: 5 * time.Second,
				SendTimeout:    10 * time.Second,
			},
			Compression: CompressionIdentity,
		},
	}
}

// Load parses command-line arguments and configuration files to produce a Config.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	cfg := defaultConfig()

	configPath := flagSet.Lookup("config").Value.String()
	if configPath != "" {
		cfgViper := viper.New()
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
		decode := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		))
		if err := cfgViper.Unmarshal(cfg, decode); err != nil {
			return nil, err
		}
	}
	cfg.ConfigFile = configPath

	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		cfg.LogLevel = val
	}
	if fs.Changed("metadata") {
		val, err := fs.GetStringArray("metadata")
		if err != nil {
			return err
		}
		cfg.Metadata = append(cfg.Metadata, val...)
	}
	if fs.Changed("join-timeout") {
		val, err := fs.GetDuration("join-timeout")
		if err != nil {
			return err
		}
		cfg.JoinTimeout = val
	}
	if fs.Changed("disable-statsd") {
		val, err := fs.GetBool("disable-statsd")
		if err != nil {
			return err
		}
		cfg.Statsd.Enabled = !val
	}
	if fs.Changed("statsd-ip") {
		val, err := fs.GetString("statsd-ip")
		if err != nil {
			return err
		}
		cfg.Statsd.BindIP = val
	}
	if fs.Changed("statsd-port") {
		val, err := fs.GetInt("statsd-port")
		if err != nil {
			return err
		}
		cfg.Statsd.BindPort = val
	}
	if fs.Changed("enable-system-stats") {
		val, err := fs.GetBool("enable-system-stats")
		if err != nil {
			return err
		}
		cfg.System.Enabled = val
	}
	if fs.Changed("system-interval") {
		val, err := fs.GetDuration("system-interval")
		if err != nil {
			return err
		}
		cfg.System.Interval = val
	}
	if fs.Changed("disable-carbon") {
		val, err := fs.GetBool("disable-carbon")
		if err != nil {
			return err
		}
		cfg.Carbon.Enabled = !val
	}
	if fs.Changed("carbon-host") {
		val, err := fs.GetString("carbon-host")
		if err != nil {
			return err
		}
		cfg.Carbon.RemoteHost = val
	}
	if fs.Changed("enable-elastic") {
		val, err := fs.GetBool("enable-elastic")
		if err != nil {
			return err
		}
		cfg.Elastic.Enabled = val
	}
	if fs.Changed("elastic-host") {
		val, err := fs.GetString("elastic-host")
		if err != nil {
			return err
		}
		cfg.Elastic.RemoteHost = val
	}
	if fs.Changed("elastic-compression") {
		val, err := fs.GetString("elastic-compression")
		if err != nil {
			return err
		}
		cfg.Elastic.Compression = val
	}
	return nil
}
