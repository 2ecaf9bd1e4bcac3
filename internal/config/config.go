// Package config loads settings for the component agent and the development
// host.
//
// Values come from defaults, then an optional YAML file, then COMPONENT_*
// environment variables. Commands apply their flags last.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/eyeconictv/common-component/internal/analytics"
	"github.com/eyeconictv/common-component/internal/licensing"
	"github.com/eyeconictv/common-component/internal/verdictcache"
)

const (
	EnvironmentProduction = "prod"
	EnvironmentTest       = "test"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "COMPONENT_"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Environment string          `yaml:"environment"`
	LogLevel    string          `yaml:"log_level"`
	Component   ComponentConfig `yaml:"component"`
	Licensing   LicensingConfig `yaml:"licensing"`
	Cache       CacheConfig     `yaml:"cache"`
	Bus         BusConfig       `yaml:"bus"`
	Analytics   AnalyticsConfig `yaml:"analytics"`
	Host        HostConfig      `yaml:"host"`
}

type ComponentConfig struct {
	Name      string `yaml:"name"`
	ID        string `yaml:"id"`
	Version   string `yaml:"version"`
	CompanyID string `yaml:"company_id"`
	DisplayID string `yaml:"display_id"`
}

type LicensingConfig struct {
	// Channel picks the peer asked for a verdict when CompanyID is empty.
	Channel     string `yaml:"channel"`
	PartnerCode string `yaml:"partner_code"`
	// BaseURL overrides the URL derived from Environment.
	BaseURL             string        `yaml:"base_url"`
	HTTPTimeout         time.Duration `yaml:"http_timeout"`
	CheckTimeout        time.Duration `yaml:"check_timeout"`
	MaxRetries          int           `yaml:"max_retries"`
	NegotiationInterval time.Duration `yaml:"negotiation_interval"`
	NegotiationAttempts int           `yaml:"negotiation_attempts"`
	Announce            bool          `yaml:"announce"`
}

type CacheConfig struct {
	// DSN selects the verdict store. Empty disables persistence.
	DSN       string        `yaml:"dsn"`
	Namespace string        `yaml:"namespace"`
	TTL       time.Duration `yaml:"ttl"`
}

type BusConfig struct {
	URL               string        `yaml:"url"`
	ClientName        string        `yaml:"client_name"`
	DiscoveryInterval time.Duration `yaml:"discovery_interval"`
	DiscoveryAttempts int           `yaml:"discovery_attempts"`
	RequiredPeers     []string      `yaml:"required_peers"`
}

type AnalyticsConfig struct {
	ProjectName     string `yaml:"project_name"`
	DatasetName     string `yaml:"dataset_name"`
	Table           string `yaml:"table"`
	FailedEntryFile string `yaml:"failed_entry_file"`
}

type HostConfig struct {
	Listen      string `yaml:"listen"`
	StorageRoot string `yaml:"storage_root"`
	// LicensingAuthorized is the verdict the host's licensing peer hands out.
	LicensingAuthorized bool     `yaml:"licensing_authorized"`
	AuthorizedCompanies []string `yaml:"authorized_companies"`
	AuthRateLimit       int      `yaml:"auth_rate_limit"`
}

func Default() *Config {
	return &Config{
		Environment: EnvironmentProduction,
		LogLevel:    "info",
		Component: ComponentConfig{
			Name: "component-agent",
		},
		Licensing: LicensingConfig{
			Channel:             string(licensing.ChannelStorage),
			PartnerCode:         licensing.DefaultPartnerCode,
			HTTPTimeout:         15 * time.Second,
			CheckTimeout:        licensing.DefaultCheckTimeout,
			NegotiationInterval: time.Second,
			NegotiationAttempts: 30,
		},
		Cache: CacheConfig{
			Namespace: verdictcache.DefaultNamespace,
			TTL:       verdictcache.DefaultTTL,
		},
		Bus: BusConfig{
			URL:               "ws://127.0.0.1:8765/messaging",
			ClientName:        "component-agent",
			DiscoveryInterval: time.Second,
			DiscoveryAttempts: 30,
			RequiredPeers:     []string{"local-storage", "licensing"},
		},
		Analytics: AnalyticsConfig{
			ProjectName:     analytics.DefaultProjectName,
			DatasetName:     analytics.DefaultDatasetName,
			Table:           "component_events",
			FailedEntryFile: "component-events-failed.log",
		},
		Host: HostConfig{
			Listen:              "127.0.0.1:8765",
			LicensingAuthorized: true,
			AuthRateLimit:       60,
		},
	}
}

// Load builds a config from defaults, the YAML file at path (optional), and
// the process environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from COMPONENT_* variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	env := envReader{getenv: getenv}
	c.Environment = env.str("ENVIRONMENT", c.Environment)
	c.LogLevel = env.str("LOG_LEVEL", c.LogLevel)

	c.Component.Name = env.str("NAME", c.Component.Name)
	c.Component.ID = env.str("ID", c.Component.ID)
	c.Component.Version = env.str("VERSION", c.Component.Version)
	c.Component.CompanyID = env.str("COMPANY_ID", c.Component.CompanyID)
	c.Component.DisplayID = env.str("DISPLAY_ID", c.Component.DisplayID)

	c.Licensing.Channel = env.str("LICENSING_CHANNEL", c.Licensing.Channel)
	c.Licensing.PartnerCode = env.str("PARTNER_CODE", c.Licensing.PartnerCode)
	c.Licensing.BaseURL = env.str("AUTH_BASE_URL", c.Licensing.BaseURL)
	c.Licensing.HTTPTimeout = env.duration("HTTP_TIMEOUT", c.Licensing.HTTPTimeout)
	c.Licensing.CheckTimeout = env.duration("CHECK_TIMEOUT", c.Licensing.CheckTimeout)
	c.Licensing.MaxRetries = env.integer("AUTH_MAX_RETRIES", c.Licensing.MaxRetries)
	c.Licensing.NegotiationInterval = env.duration("LICENSING_INTERVAL", c.Licensing.NegotiationInterval)
	c.Licensing.NegotiationAttempts = env.integer("LICENSING_ATTEMPTS", c.Licensing.NegotiationAttempts)
	c.Licensing.Announce = env.boolean("LICENSING_ANNOUNCE", c.Licensing.Announce)

	c.Cache.DSN = env.str("CACHE_DSN", c.Cache.DSN)
	c.Cache.Namespace = env.str("CACHE_NAMESPACE", c.Cache.Namespace)
	c.Cache.TTL = env.duration("CACHE_TTL", c.Cache.TTL)

	c.Bus.URL = env.str("BUS_URL", c.Bus.URL)
	c.Bus.ClientName = env.str("BUS_CLIENT_NAME", c.Bus.ClientName)
	c.Bus.DiscoveryInterval = env.duration("DISCOVERY_INTERVAL", c.Bus.DiscoveryInterval)
	c.Bus.DiscoveryAttempts = env.integer("DISCOVERY_ATTEMPTS", c.Bus.DiscoveryAttempts)
	c.Bus.RequiredPeers = env.list("REQUIRED_PEERS", c.Bus.RequiredPeers)

	c.Analytics.Table = env.str("ANALYTICS_TABLE", c.Analytics.Table)
	c.Analytics.FailedEntryFile = env.str("ANALYTICS_FAILED_ENTRY_FILE", c.Analytics.FailedEntryFile)

	c.Host.Listen = env.str("HOST_LISTEN", c.Host.Listen)
	c.Host.StorageRoot = env.str("HOST_STORAGE_ROOT", c.Host.StorageRoot)
	c.Host.LicensingAuthorized = env.boolean("HOST_LICENSING_AUTHORIZED", c.Host.LicensingAuthorized)
	c.Host.AuthorizedCompanies = env.list("HOST_AUTHORIZED_COMPANIES", c.Host.AuthorizedCompanies)
	c.Host.AuthRateLimit = env.integer("HOST_AUTH_RATE_LIMIT", c.Host.AuthRateLimit)
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Environment {
	case EnvironmentProduction, EnvironmentTest:
	default:
		errs = append(errs, fmt.Errorf("%w: environment %q", ErrInvalidConfig, c.Environment))
	}
	if _, err := licensing.ParseChannel(c.Licensing.Channel); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("%w: log level %q", ErrInvalidConfig, c.LogLevel))
	}
	if c.Licensing.NegotiationAttempts < 0 || c.Bus.DiscoveryAttempts < 0 {
		errs = append(errs, fmt.Errorf("%w: attempts must not be negative", ErrInvalidConfig))
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, fmt.Errorf("%w: cache ttl must not be negative", ErrInvalidConfig))
	}
	return errors.Join(errs...)
}

// AuthBaseURL is the remote verdict service for the configured environment.
func (c *Config) AuthBaseURL() string {
	if strings.TrimSpace(c.Licensing.BaseURL) != "" {
		return strings.TrimSpace(c.Licensing.BaseURL)
	}
	return licensing.BaseURLFor(c.Environment)
}

func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

type envReader struct {
	getenv func(string) string
}

func (e envReader) raw(name string) string {
	return strings.TrimSpace(e.getenv(EnvPrefix + name))
}

func (e envReader) str(name, fallback string) string {
	if value := e.raw(name); value != "" {
		return value
	}
	return fallback
}

func (e envReader) duration(name string, fallback time.Duration) time.Duration {
	raw := e.raw(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		logrus.Warnf("invalid %s%s=%q, using fallback %s", EnvPrefix, name, raw, fallback)
		return fallback
	}
	return value
}

func (e envReader) integer(name string, fallback int) int {
	raw := e.raw(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		logrus.Warnf("invalid %s%s=%q, using fallback %d", EnvPrefix, name, raw, fallback)
		return fallback
	}
	return value
}

func (e envReader) boolean(name string, fallback bool) bool {
	raw := e.raw(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		logrus.Warnf("invalid %s%s=%q, using fallback %t", EnvPrefix, name, raw, fallback)
		return fallback
	}
	return value
}

func (e envReader) list(name string, fallback []string) []string {
	raw := e.raw(name)
	if raw == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
