// Package config holds PureBoot's layered settings object: flags override
// environment variables, which override a YAML config file, which
// overrides the compiled-in defaults — the same viper-driven shape the
// teacher uses for the boot service.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is unmarshaled from viper after flags, env vars (PUREBOOT_*), and
// an optional config file have all been layered in.
type Config struct {
	// HTTP API
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"`

	// PublicServer is the hostname or IP booting clients use to reach this
	// controller's HTTP endpoint; it is embedded in rendered boot scripts'
	// kernel/initrd/callback URLs. Falls back to Host:Port when unset.
	PublicServer string `mapstructure:"public_server"`

	// TFTP server (§4.1)
	TFTPBindAddr string `mapstructure:"tftp_bind_addr"`
	TFTPRoot     string `mapstructure:"tftp_root"`

	// Proxy-DHCP responder (§4.2)
	ProxyDHCPEnabled  bool   `mapstructure:"proxy_dhcp_enabled"`
	ProxyDHCPBindAddr string `mapstructure:"proxy_dhcp_bind_addr"`
	TFTPServerIP      string `mapstructure:"tftp_server_ip"`

	// Storage
	DatabaseURL string `mapstructure:"database_url"`

	// Workflow store (§4.3)
	WorkflowsDir string `mapstructure:"workflows_dir"`

	// Node registry (§4.4)
	AutoRegister       bool `mapstructure:"auto_register"`
	InstallTimeoutMins int  `mapstructure:"install_timeout_minutes"`

	// Health monitor (§4.8)
	HealthStaleMinutes   int `mapstructure:"health_stale_minutes"`
	HealthOfflineMinutes int `mapstructure:"health_offline_minutes"`
	HealthScoreThreshold int `mapstructure:"health_score_threshold"`
	SnapshotRetentionDays int `mapstructure:"snapshot_retention_days"`

	// Short-lived PKI (§4.9)
	CADir          string `mapstructure:"ca_dir"`
	CAKeyAlgorithm string `mapstructure:"ca_key_algorithm"` // "rsa" or "ecdsa"
	SessionCertSlack string `mapstructure:"session_cert_slack"`
}

// DefaultConfig returns sensible defaults for running PureBoot standalone.
func DefaultConfig() Config {
	return Config{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
		IdleTimeout:  120,

		TFTPBindAddr: "0.0.0.0:69",
		TFTPRoot:     "./data/tftproot",

		ProxyDHCPEnabled:  true,
		ProxyDHCPBindAddr: "0.0.0.0:4011",
		TFTPServerIP:      "",

		DatabaseURL: "./data/pureboot.db",

		WorkflowsDir: "./data/workflows",

		AutoRegister:       true,
		InstallTimeoutMins: 60,

		HealthStaleMinutes:   15,
		HealthOfflineMinutes: 60,
		HealthScoreThreshold: 50,
		SnapshotRetentionDays: 30,

		CADir:            "./data/ca",
		CAKeyAlgorithm:   "rsa",
		SessionCertSlack: "1h",
	}
}

// PublicServerAddr returns PublicServer if configured, otherwise Host:Port.
func (c Config) PublicServerAddr() string {
	if c.PublicServer != "" {
		return c.PublicServer
	}
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// InstallTimeout returns the install timeout as a time.Duration.
func (c Config) InstallTimeout() time.Duration {
	return time.Duration(c.InstallTimeoutMins) * time.Minute
}

// SessionCertValidity parses SessionCertSlack, falling back to one hour of
// slack on top of the session lifetime if the configured value is invalid.
func (c Config) SessionCertValidity() time.Duration {
	d, err := time.ParseDuration(c.SessionCertSlack)
	if err != nil {
		return time.Hour
	}
	return d
}

// Validate rejects configurations that cannot start a server.
func Validate(c Config) error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.InstallTimeoutMins <= 0 {
		return fmt.Errorf("install_timeout_minutes must be positive")
	}
	if c.HealthStaleMinutes <= 0 || c.HealthOfflineMinutes <= c.HealthStaleMinutes {
		return fmt.Errorf("health_offline_minutes must be greater than health_stale_minutes")
	}
	if c.CAKeyAlgorithm != "rsa" && c.CAKeyAlgorithm != "ecdsa" {
		return fmt.Errorf("ca_key_algorithm must be rsa or ecdsa, got %q", c.CAKeyAlgorithm)
	}
	return nil
}

// Load reads flags (already bound to viper by the caller), environment
// variables under the PUREBOOT_ prefix, and an optional YAML config file,
// then unmarshals everything into a Config seeded with DefaultConfig's
// zero values overridden by whatever viper resolved.
func Load(v *viper.Viper) (Config, error) {
	v.SetEnvPrefix("PUREBOOT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cfg := DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
