package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	DomainHTTP = "http"
	DomainLog  = "log"
)

// Config holds the YAML configuration.
type Config struct {
	Version     int            `yaml:"version"`
	Environment string         `yaml:"environment"`
	LogLevel    string         `yaml:"log_level"`
	LogFormat   string         `yaml:"log_format"`
	Server      ServerConfig   `yaml:"server"`
	Security    SecurityConfig `yaml:"security"`
	Ledger      LedgerConfig   `yaml:"ledger"`
	Domain      DomainConfig   `yaml:"domain"`
	Contract    ContractConfig `yaml:"contract"`
	Chain       ChainConfig    `yaml:"chain"`
	Metrics     MetricsConfig  `yaml:"metrics"`
}

type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	WebhookPath     string   `yaml:"webhook_path"`
	SignatureHeader string   `yaml:"signature_header"`
	MaxBodyBytes    int64    `yaml:"max_body_bytes"`
	HandlerTimeout  Duration `yaml:"handler_timeout"`
	ReadTimeout     Duration `yaml:"read_timeout"`
}

type SecurityConfig struct {
	SigningSecret    string   `yaml:"signing_secret"`
	SkipVerification bool     `yaml:"skip_verification"`
	MaxAge           Duration `yaml:"max_age"`
	MaxFutureSkew    Duration `yaml:"max_future_skew"`
}

type LedgerConfig struct {
	Driver        string   `yaml:"driver"`
	DBPath        string   `yaml:"db_path"`
	DSN           string   `yaml:"dsn"`
	Retention     Duration `yaml:"retention"`
	PruneSchedule string   `yaml:"prune_schedule"`
}

type DomainConfig struct {
	Type       string   `yaml:"type"`
	BaseURL    string   `yaml:"base_url"`
	Token      string   `yaml:"token"`
	Timeout    Duration `yaml:"timeout"`
	MaxRetries int      `yaml:"max_retries"`
}

type ContractConfig struct {
	Address string `yaml:"address"`
	ABIPath string `yaml:"abi_path"`
}

// ChainConfig points backfills at an EVM node.
type ChainConfig struct {
	RPCURL        string `yaml:"rpc_url"`
	Confirmations uint64 `yaml:"confirmations"`
	ChunkSize     uint64 `yaml:"chunk_size"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Duration is a time.Duration that unmarshals from strings like "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

var envPattern = regexp.MustCompile(`\${([A-Za-z_][A-Za-z0-9_]*)}`)

// Load reads, interpolates env vars, parses YAML, applies defaults, and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}

	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	return Parse(raw)
}

// Parse interpolates env vars into raw YAML, then decodes and validates it.
func Parse(raw []byte) (*Config, error) {
	interpolated, err := interpolateEnv(string(raw))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv(configPath string) error {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

func interpolateEnv(input string) (string, error) {
	missing := []string{}
	out := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		missing = append(missing, name)
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(dedup(missing), ", "))
	}
	return out, nil
}

// ApplyDefaults fills zero values with the service defaults.
func (c *Config) ApplyDefaults() {
	if c.Environment == "" {
		c.Environment = EnvDevelopment
	}
	c.Environment = strings.ToLower(c.Environment)
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}

	s := &c.Server
	if s.Addr == "" {
		s.Addr = ":8080"
	}
	if s.WebhookPath == "" {
		s.WebhookPath = "/webhooks/alchemy"
	}
	if s.SignatureHeader == "" {
		s.SignatureHeader = "x-alchemy-signature"
	}
	if s.MaxBodyBytes == 0 {
		s.MaxBodyBytes = 1 << 20
	}
	if s.HandlerTimeout == 0 {
		s.HandlerTimeout = Duration(10 * time.Second)
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = Duration(10 * time.Second)
	}

	if c.Security.MaxAge == 0 {
		c.Security.MaxAge = Duration(5 * time.Minute)
	}
	if c.Security.MaxFutureSkew == 0 {
		c.Security.MaxFutureSkew = Duration(60 * time.Second)
	}

	l := &c.Ledger
	if l.Driver == "" {
		l.Driver = DriverSQLite
	}
	l.Driver = strings.ToLower(l.Driver)
	if l.DBPath == "" {
		l.DBPath = "signal-ingest.db"
	}
	if l.Retention == 0 {
		l.Retention = Duration(30 * 24 * time.Hour)
	}
	if l.PruneSchedule == "" {
		l.PruneSchedule = "@hourly"
	}

	d := &c.Domain
	if d.Type == "" {
		d.Type = DomainHTTP
	}
	d.Type = strings.ToLower(d.Type)
	if d.Timeout == 0 {
		d.Timeout = Duration(8 * time.Second)
	}
	if d.MaxRetries == 0 {
		d.MaxRetries = 3
	}

	if c.Chain.ChunkSize == 0 {
		c.Chain.ChunkSize = 2000
	}
}

// Validate performs small, direct schema checks.
func (c *Config) Validate() error {
	if c.Version == 0 {
		return errors.New("version is required")
	}
	switch c.Environment {
	case EnvProduction, EnvDevelopment, "test", "staging":
	default:
		return fmt.Errorf("unsupported environment: %s", c.Environment)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Security.Validate(c.IsProduction()); err != nil {
		return fmt.Errorf("security: %w", err)
	}
	if err := c.Ledger.Validate(); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	if err := c.Domain.Validate(); err != nil {
		return fmt.Errorf("domain: %w", err)
	}
	if a := c.Contract.Address; a != "" && !common.IsHexAddress(a) {
		return fmt.Errorf("contract: invalid address %q", a)
	}
	if err := c.Chain.Validate(); err != nil {
		return fmt.Errorf("chain: %w", err)
	}
	return nil
}

// IsProduction reports whether the service runs with production safeguards.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

func (s *ServerConfig) Validate() error {
	if !strings.HasPrefix(s.WebhookPath, "/") {
		return errors.New("webhook_path must start with /")
	}
	if strings.TrimSpace(s.SignatureHeader) == "" {
		return errors.New("signature_header is required")
	}
	if s.MaxBodyBytes < 0 {
		return errors.New("max_body_bytes must be positive")
	}
	if s.HandlerTimeout < 0 || s.ReadTimeout < 0 {
		return errors.New("timeouts must be positive")
	}
	return nil
}

func (s *SecurityConfig) Validate(production bool) error {
	if production && s.SigningSecret == "" {
		return errors.New("signing_secret is required in production")
	}
	if production && s.SkipVerification {
		return errors.New("skip_verification is not allowed in production")
	}
	if s.MaxAge <= 0 {
		return errors.New("max_age must be positive")
	}
	if s.MaxFutureSkew < 0 {
		return errors.New("max_future_skew must not be negative")
	}
	return nil
}

func (l *LedgerConfig) Validate() error {
	switch l.Driver {
	case DriverSQLite:
		if l.DBPath == "" {
			return errors.New("db_path is required for sqlite ledger")
		}
	case DriverPostgres:
		if l.DSN == "" {
			return errors.New("dsn is required for postgres ledger")
		}
	default:
		return fmt.Errorf("unsupported driver: %s", l.Driver)
	}
	if l.Retention <= 0 {
		return errors.New("retention must be positive")
	}
	return nil
}

func (d *DomainConfig) Validate() error {
	switch d.Type {
	case DomainHTTP:
		if d.BaseURL == "" {
			return errors.New("base_url is required for http domain api")
		}
		if !strings.HasPrefix(d.BaseURL, "http://") && !strings.HasPrefix(d.BaseURL, "https://") {
			return fmt.Errorf("base_url must be http(s): %s", d.BaseURL)
		}
	case DomainLog:
	default:
		return fmt.Errorf("unsupported type: %s", d.Type)
	}
	if d.MaxRetries < 0 {
		return errors.New("max_retries must not be negative")
	}
	return nil
}

func (c *ChainConfig) Validate() error {
	if c.RPCURL == "" {
		return nil
	}
	for _, scheme := range []string{"http://", "https://", "ws://", "wss://"} {
		if strings.HasPrefix(c.RPCURL, scheme) {
			return nil
		}
	}
	return fmt.Errorf("rpc_url must be http(s) or ws(s): %s", c.RPCURL)
}

func dedup(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
