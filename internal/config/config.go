// Package config
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	CORS        CORSConfig        `yaml:"cors"`
	Database    DatabaseConfig    `yaml:"database"`
	Auth        AuthConfig        `yaml:"auth"`
	Poller      PollerConfig      `yaml:"poller"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Events      EventsConfig      `yaml:"events"`
	Fingerprint FingerprintConfig `yaml:"fingerprint"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAgeSeconds  int      `yaml:"max_age_seconds"`
}

type DatabaseConfig struct {
	Driver                 string `yaml:"driver" validate:"oneof=postgres memory"`
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	User                   string `yaml:"user"`
	Password               string `yaml:"password"`
	DBName                 string `yaml:"dbname"`
	SSLMode                string `yaml:"ssl_mode"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MinIdleConns           int    `yaml:"min_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

type AuthConfig struct {
	AdminUsername  string `yaml:"admin_username" validate:"required"`
	AdminPassword  string `yaml:"admin_password"`
	JWTSecret      string `yaml:"jwt_secret"`
	JWTExpiryHours int    `yaml:"jwt_expiry_hours"`
	EncryptionKey  string `yaml:"encryption_key"`
}

// PollerConfig configures the background poll scheduler.
type PollerConfig struct {
	Disabled           bool `yaml:"disabled"`
	TickIntervalMS     int  `yaml:"tick_interval_ms" validate:"min=100"`
	MaxConcurrentPolls int  `yaml:"max_concurrent_polls" validate:"min=1"`
	BatchSize          int  `yaml:"batch_size" validate:"min=1"`
	BatchDelayMS       int  `yaml:"batch_delay_ms" validate:"min=0"`
	ICMPTimeoutMS      int  `yaml:"icmp_timeout_ms" validate:"min=1"`
	SNMPTimeoutMS      int  `yaml:"snmp_timeout_ms" validate:"min=1"`
	SNMPRetries        int  `yaml:"snmp_retries" validate:"min=0"`
	SNMPCollectMS      int  `yaml:"snmp_collect_timeout_ms" validate:"min=1"`
	ICMPCount          int  `yaml:"icmp_count" validate:"min=1"`
	ICMPPrivileged     bool `yaml:"icmp_privileged"`
	LockWaitMS         int  `yaml:"lock_wait_ms" validate:"min=0"`
	CollectInterfaces  bool `yaml:"collect_interfaces"`
	CollectVolumes     bool `yaml:"collect_volumes"`
}

// DiscoveryConfig configures the discovery job runner.
type DiscoveryConfig struct {
	Workers         int    `yaml:"workers" validate:"min=1"`
	ICMPTimeoutMS   int    `yaml:"icmp_timeout_ms" validate:"min=1"`
	SNMPTimeoutMS   int    `yaml:"snmp_timeout_ms" validate:"min=1"`
	PortTimeoutMS   int    `yaml:"port_timeout_ms" validate:"min=1"`
	EvidencePorts   []int  `yaml:"evidence_ports" validate:"dive,min=1,max=65535"`
	ReverseDNS      bool   `yaml:"reverse_dns"`
	ARPTablePath    string `yaml:"arp_table_path"`
	MaxHosts        int    `yaml:"max_hosts" validate:"min=1"`
	ProgressEveryMS int    `yaml:"progress_every_ms" validate:"min=0"`
}

type AlertsConfig struct {
	Disabled bool `yaml:"disabled"`
}

type MetricsConfig struct {
	BatchSize       int    `yaml:"batch_size" validate:"min=1"`
	FlushIntervalMS int    `yaml:"flush_interval_ms" validate:"min=1"`
	PrometheusPath  string `yaml:"prometheus_path"`
}

type EventsConfig struct {
	BufferSize    int    `yaml:"buffer_size" validate:"min=1"`
	NATSURL       string `yaml:"nats_url"`
	StreamName    string `yaml:"stream_name"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type FingerprintConfig struct {
	VendorTable string `yaml:"vendor_table"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

var validate = validator.New()

// Default returns a configuration with every tunable set to its default.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads configuration from file and applies environment variable overrides.
// A .env file next to the working directory is loaded first when present.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate ensures all required configuration values are set
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("NETMON_AUTH_JWT_SECRET is required (minimum 32 characters)")
	}
	if len(c.Auth.EncryptionKey) != 32 {
		return fmt.Errorf("NETMON_AUTH_ENCRYPTION_KEY is required (exactly 32 bytes for AES-256)")
	}
	if c.Auth.AdminPassword == "" || c.Auth.AdminPassword == "changeme" {
		return fmt.Errorf("NETMON_AUTH_ADMIN_PASSWORD must be set to a strong password")
	}

	if c.Database.Driver == "postgres" && (c.Database.Host == "" || c.Database.DBName == "") {
		return fmt.Errorf("database host and dbname are required")
	}

	if !c.Logging.IsLogLevelValid() {
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}

	return nil
}

func applyDefaults(cfg *Config) {
	setInt := func(v *int, def int) {
		if *v == 0 {
			*v = def
		}
	}
	setStr := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}

	setStr(&cfg.Server.Host, "0.0.0.0")
	setInt(&cfg.Server.Port, 8080)
	setInt(&cfg.Server.ReadTimeoutMS, 15000)
	setInt(&cfg.Server.WriteTimeoutMS, 30000)

	setStr(&cfg.Database.Driver, "postgres")
	setInt(&cfg.Database.Port, 5432)
	setStr(&cfg.Database.SSLMode, "disable")
	setInt(&cfg.Database.MaxOpenConns, 20)
	setInt(&cfg.Database.ConnMaxLifetimeMinutes, 30)

	setStr(&cfg.Auth.AdminUsername, "admin")
	setInt(&cfg.Auth.JWTExpiryHours, 24)

	setInt(&cfg.Poller.TickIntervalMS, 10000)
	setInt(&cfg.Poller.MaxConcurrentPolls, 50)
	setInt(&cfg.Poller.BatchSize, 10)
	setInt(&cfg.Poller.ICMPTimeoutMS, 2000)
	setInt(&cfg.Poller.SNMPTimeoutMS, 5000)
	setInt(&cfg.Poller.SNMPRetries, 1)
	setInt(&cfg.Poller.SNMPCollectMS, 10000)
	setInt(&cfg.Poller.ICMPCount, 1)
	setInt(&cfg.Poller.LockWaitMS, 5000)

	setInt(&cfg.Discovery.Workers, 32)
	setInt(&cfg.Discovery.ICMPTimeoutMS, 1000)
	setInt(&cfg.Discovery.SNMPTimeoutMS, 3000)
	setInt(&cfg.Discovery.PortTimeoutMS, 500)
	setInt(&cfg.Discovery.MaxHosts, 65536)
	setInt(&cfg.Discovery.ProgressEveryMS, 1000)
	setStr(&cfg.Discovery.ARPTablePath, "/proc/net/arp")
	if cfg.Discovery.EvidencePorts == nil {
		cfg.Discovery.EvidencePorts = []int{22, 23, 80, 443, 445, 3389, 8291}
	}

	setInt(&cfg.Metrics.BatchSize, 500)
	setInt(&cfg.Metrics.FlushIntervalMS, 5000)
	setStr(&cfg.Metrics.PrometheusPath, "/metrics")

	setInt(&cfg.Events.BufferSize, 256)
	setStr(&cfg.Events.StreamName, "NETMON")
	setStr(&cfg.Events.SubjectPrefix, "netmon")

	setStr(&cfg.Logging.Level, "info")
	setStr(&cfg.Logging.Format, "text")
	setStr(&cfg.Logging.Output, "stdout")
}

// applyEnvOverrides checks for environment variables with NETMON_ prefix
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NETMON_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("NETMON_DATABASE_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("NETMON_DATABASE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = n
		}
	}
	if v := os.Getenv("NETMON_DATABASE_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}

	if v := os.Getenv("NETMON_AUTH_ADMIN_PASSWORD"); v != "" {
		cfg.Auth.AdminPassword = v
	}
	if v := os.Getenv("NETMON_AUTH_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("NETMON_AUTH_ENCRYPTION_KEY"); v != "" {
		cfg.Auth.EncryptionKey = v
	}

	if v := os.Getenv("NETMON_POLLER_MAX_CONCURRENT_POLLS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Poller.MaxConcurrentPolls = n
		}
	}
	if v := os.Getenv("NETMON_EVENTS_NATS_URL"); v != "" {
		cfg.Events.NATSURL = v
	}
	if v := os.Getenv("NETMON_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// GetReadTimeout returns the read timeout as a duration
func (s *ServerConfig) GetReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

// GetWriteTimeout returns the write timeout as a duration
func (s *ServerConfig) GetWriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

// Addr returns the listen address
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GetDSN returns the PostgreSQL connection string
func (d *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// GetConnMaxLifetime returns the pool connection lifetime
func (d *DatabaseConfig) GetConnMaxLifetime() time.Duration {
	return time.Duration(d.ConnMaxLifetimeMinutes) * time.Minute
}

// GetJWTExpiry returns JWT expiry as duration
func (a *AuthConfig) GetJWTExpiry() time.Duration {
	return time.Duration(a.JWTExpiryHours) * time.Hour
}

func (p *PollerConfig) GetTickInterval() time.Duration {
	return time.Duration(p.TickIntervalMS) * time.Millisecond
}

func (p *PollerConfig) GetBatchDelay() time.Duration {
	return time.Duration(p.BatchDelayMS) * time.Millisecond
}

func (p *PollerConfig) GetICMPTimeout() time.Duration {
	return time.Duration(p.ICMPTimeoutMS) * time.Millisecond
}

func (p *PollerConfig) GetSNMPTimeout() time.Duration {
	return time.Duration(p.SNMPTimeoutMS) * time.Millisecond
}

// GetSNMPCollectTimeout bounds the table walks that follow a successful
// SNMP system query.
func (p *PollerConfig) GetSNMPCollectTimeout() time.Duration {
	return time.Duration(p.SNMPCollectMS) * time.Millisecond
}

func (p *PollerConfig) GetLockWait() time.Duration {
	return time.Duration(p.LockWaitMS) * time.Millisecond
}

func (d *DiscoveryConfig) GetICMPTimeout() time.Duration {
	return time.Duration(d.ICMPTimeoutMS) * time.Millisecond
}

func (d *DiscoveryConfig) GetSNMPTimeout() time.Duration {
	return time.Duration(d.SNMPTimeoutMS) * time.Millisecond
}

func (d *DiscoveryConfig) GetPortTimeout() time.Duration {
	return time.Duration(d.PortTimeoutMS) * time.Millisecond
}

func (d *DiscoveryConfig) GetProgressInterval() time.Duration {
	return time.Duration(d.ProgressEveryMS) * time.Millisecond
}

// GetFlushInterval returns the metric batch flush interval
func (m *MetricsConfig) GetFlushInterval() time.Duration {
	return time.Duration(m.FlushIntervalMS) * time.Millisecond
}

// IsLogLevelValid checks if the log level is valid
func (l *LoggingConfig) IsLogLevelValid() bool {
	validLevels := []string{"debug", "info", "warn", "error"}
	return slices.Contains(validLevels, strings.ToLower(l.Level))
}
