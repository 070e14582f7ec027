// Package config loads netscanner settings from file, environment and defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"netscanner/internal/scan"
)

// EnvPrefix is prepended to environment overrides: NETSCANNER_SCAN_SUBNET=10.0.0.
const EnvPrefix = "NETSCANNER"

// Config is the full application configuration.
type Config struct {
	Scan    scan.Config   `mapstructure:"scan"`
	Logging LoggingConfig `mapstructure:"logging"`
	Server  ServerConfig  `mapstructure:"server"`
}

// LoggingConfig selects the zap level and encoder.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads configuration from configPath, or from netscanner.yaml in the usual
// locations when configPath is empty, layered over environment variables and
// defaults. A missing file is only an error when configPath names it.
func Load(configPath string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("netscanner")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/netscanner")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return v, nil
}

// Decode unmarshals v and validates the scan section.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Scan.Validate(); err != nil {
		return Config{}, fmt.Errorf("scan config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := scan.DefaultConfig()
	v.SetDefault("scan.subnet", d.Subnet)
	v.SetDefault("scan.probe_timeout", d.ProbeTimeout)
	v.SetDefault("scan.hostname_timeout", d.HostnameTimeout)
	v.SetDefault("scan.concurrency", d.Concurrency)
	v.SetDefault("scan.probe_rate", d.ProbeRate)
	v.SetDefault("scan.privileged", d.Privileged)
	v.SetDefault("scan.discovery_timeout", d.DiscoveryTimeout)
	v.SetDefault("scan.resolve_timeout", d.ResolveTimeout)
	v.SetDefault("scan.service_domain", d.ServiceDomain)
	v.SetDefault("scan.service_types", d.ServiceTypes)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("server.addr", "127.0.0.1:8787")
}
