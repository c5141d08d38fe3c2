package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/coursegate/pkg/observability"
)

// EnvPrefix is prepended to every configuration key when reading the environment
const EnvPrefix = "COURSEGATE_"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	Auth          AuthConfig
	OAuth         OAuthConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// RequestTimeout bounds every database and redis call made by a handler
	RequestTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// BaseURL is the public URL of this service, used to build invite links
	BaseURL string
	// FrontendURL is where post-login redirects are rooted
	FrontendURL string

	// TrustedProxies are the CIDRs or addresses allowed to set
	// X-Forwarded-For and X-Real-IP. Empty trusts no forwarding header.
	TrustedProxies []string
}

// StorageConfig holds postgres and redis settings
type StorageConfig struct {
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration

	RedisURL      string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int
}

// Risk store backends
const (
	RiskStoreRedis  = "redis"
	RiskStoreMemory = "memory"
)

// AuthConfig holds the trust, risk, invite and session policy
type AuthConfig struct {
	InstitutionalDomain string

	RiskWindow    time.Duration
	RiskThreshold int
	RiskFailOpen  bool
	RiskStore     string

	InviteDefaultTTL time.Duration
	InviteSecret     string

	SessionSecret string
	SessionTTL    time.Duration

	WhitelistCacheTTL  time.Duration
	WhitelistCacheSize int

	// AccessRequestRate is the sustained per-address rate of access requests
	// per minute; the burst equals the rate.
	AccessRequestRate int
}

// OAuth provider kinds
const (
	ProviderOIDC   = "oidc"
	ProviderOAuth2 = "oauth2"
)

// OAuthConfig describes the upstream identity provider
type OAuthConfig struct {
	Provider     string
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	Scopes       []string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from the environment. When
// COURSEGATE_CONFIG_FILE names a YAML file, its keys seed the defaults and
// environment variables still win.
func LoadConfig() (*Config, error) {
	src := source{}
	if path := os.Getenv(EnvPrefix + "CONFIG_FILE"); path != "" {
		file, err := readFile(path)
		if err != nil {
			return nil, err
		}
		src.file = file
	}

	cfg := &Config{
		Server:        src.loadServerConfig(),
		Storage:       src.loadStorageConfig(),
		Auth:          src.loadAuthConfig(),
		OAuth:         src.loadOAuthConfig(),
		Observability: src.loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// source resolves a key from the environment first, then the YAML file
type source struct {
	file map[string]string
}

// readFile parses a flat YAML mapping. Keys are the unprefixed lower-case
// names, e.g. "risk_threshold: 5".
func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		if list, ok := v.([]interface{}); ok {
			parts := make([]string, 0, len(list))
			for _, item := range list {
				parts = append(parts, fmt.Sprint(item))
			}
			values[strings.ToLower(k)] = strings.Join(parts, ",")
			continue
		}
		values[strings.ToLower(k)] = fmt.Sprint(v)
	}
	return values, nil
}

func (s source) lookup(key string) string {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		return value
	}
	return s.file[strings.ToLower(key)]
}

func (s source) loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            s.getEnv("HOST", "0.0.0.0"),
		Port:            s.getEnv("PORT", "8080"),
		ReadTimeout:     s.getEnvDuration("READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    s.getEnvDuration("WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     s.getEnvDuration("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: s.getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		RequestTimeout:  s.getEnvDuration("REQUEST_TIMEOUT", 10*time.Second),
		HealthPort:      s.getEnv("HEALTH_PORT", "9090"),
		BaseURL:         strings.TrimRight(s.getEnv("BASE_URL", "http://localhost:8080"), "/"),
		FrontendURL:     strings.TrimRight(s.getEnv("FRONTEND_URL", "http://localhost:3000"), "/"),
		TrustedProxies:  s.getEnvList("TRUSTED_PROXIES", nil),
	}
}

func (s source) loadStorageConfig() StorageConfig {
	return StorageConfig{
		PostgresURL:      s.getEnv("POSTGRES_URL", ""),
		PostgresMaxConns: s.getEnvInt("POSTGRES_MAX_CONNS", 20),
		PostgresMinConns: s.getEnvInt("POSTGRES_MIN_CONNS", 2),
		PostgresTimeout:  s.getEnvDuration("POSTGRES_TIMEOUT", 30*time.Second),
		RedisURL:         s.getEnv("REDIS_URL", ""),
		RedisPassword:    s.getEnv("REDIS_PASSWORD", ""),
		RedisDB:          s.getEnvInt("REDIS_DB", 0),
		RedisPoolSize:    s.getEnvInt("REDIS_POOL_SIZE", 10),
	}
}

func (s source) loadAuthConfig() AuthConfig {
	sessionSecret := s.getEnv("SESSION_SECRET", "")
	return AuthConfig{
		InstitutionalDomain: strings.ToLower(strings.TrimPrefix(s.getEnv("INSTITUTIONAL_DOMAIN", ""), "@")),
		RiskWindow:          s.getEnvDuration("RISK_WINDOW", 15*time.Minute),
		RiskThreshold:       s.getEnvInt("RISK_THRESHOLD", 5),
		RiskFailOpen:        s.getEnvBool("RISK_FAIL_OPEN", true),
		RiskStore:           strings.ToLower(s.getEnv("RISK_STORE", RiskStoreRedis)),
		InviteDefaultTTL:    s.getEnvDuration("INVITE_DEFAULT_TTL", 72*time.Hour),
		// The invite signer shares the session secret unless given its own.
		InviteSecret:       s.getEnv("INVITE_SECRET", sessionSecret),
		SessionSecret:      sessionSecret,
		SessionTTL:         s.getEnvDuration("SESSION_TTL", 24*time.Hour),
		WhitelistCacheTTL:  s.getEnvDuration("WHITELIST_CACHE_TTL", 5*time.Minute),
		WhitelistCacheSize: s.getEnvInt("WHITELIST_CACHE_SIZE", 1024),
		AccessRequestRate:  s.getEnvInt("ACCESS_REQUEST_RATE", 5),
	}
}

func (s source) loadOAuthConfig() OAuthConfig {
	return OAuthConfig{
		Provider:     strings.ToLower(s.getEnv("OAUTH_PROVIDER", ProviderOIDC)),
		IssuerURL:    s.getEnv("OAUTH_ISSUER_URL", ""),
		ClientID:     s.getEnv("OAUTH_CLIENT_ID", ""),
		ClientSecret: s.getEnv("OAUTH_CLIENT_SECRET", ""),
		RedirectURL:  s.getEnv("OAUTH_REDIRECT_URL", ""),
		AuthURL:      s.getEnv("OAUTH_AUTH_URL", ""),
		TokenURL:     s.getEnv("OAUTH_TOKEN_URL", ""),
		UserInfoURL:  s.getEnv("OAUTH_USERINFO_URL", ""),
		Scopes:       s.getEnvList("OAUTH_SCOPES", []string{"openid", "email", "profile"}),
	}
}

func (s source) loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(s.getEnv("LOG_LEVEL", "info")),
		MetricsEnabled:     s.getEnvBool("METRICS_ENABLED", true),
		OTelEnabled:        s.getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint:       s.getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    s.getEnv("OTEL_SERVICE_NAME", "coursegate"),
		OTelServiceVersion: s.getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       s.getEnvBool("OTEL_INSECURE", true),
	}
}

// MinSecretLength is the shortest accepted signing secret for sessions and
// invites
const MinSecretLength = 32

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if _, err := url.Parse(c.Server.BaseURL); err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Auth.InstitutionalDomain == "" {
		return fmt.Errorf("institutional domain is required")
	}
	if c.Auth.RiskThreshold < 1 {
		return fmt.Errorf("risk threshold must be at least 1")
	}
	if c.Auth.RiskWindow <= 0 {
		return fmt.Errorf("risk window must be positive")
	}
	switch c.Auth.RiskStore {
	case RiskStoreRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis risk store")
		}
	case RiskStoreMemory:
	default:
		return fmt.Errorf("invalid risk store: %s (must be redis or memory)", c.Auth.RiskStore)
	}
	if len(c.Auth.SessionSecret) < MinSecretLength {
		return fmt.Errorf("session secret must be at least %d bytes", MinSecretLength)
	}
	if len(c.Auth.InviteSecret) < MinSecretLength {
		return fmt.Errorf("invite secret must be at least %d bytes", MinSecretLength)
	}
	if c.Auth.InviteDefaultTTL <= 0 {
		return fmt.Errorf("invite default TTL must be positive")
	}

	if c.OAuth.ClientID == "" || c.OAuth.ClientSecret == "" {
		return fmt.Errorf("OAuth client id and secret are required")
	}
	if c.OAuth.RedirectURL == "" {
		return fmt.Errorf("OAuth redirect URL is required")
	}
	switch c.OAuth.Provider {
	case ProviderOIDC:
		if c.OAuth.IssuerURL == "" {
			return fmt.Errorf("OAuth issuer URL is required for the oidc provider")
		}
	case ProviderOAuth2:
		if c.OAuth.AuthURL == "" || c.OAuth.TokenURL == "" || c.OAuth.UserInfoURL == "" {
			return fmt.Errorf("OAuth auth, token and userinfo URLs are required for the oauth2 provider")
		}
	default:
		return fmt.Errorf("invalid OAuth provider: %s (must be oidc or oauth2)", c.OAuth.Provider)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns a configuration value or a default
func (s source) getEnv(key, defaultValue string) string {
	if value := s.lookup(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean configuration value or a default
func (s source) getEnvBool(key string, defaultValue bool) bool {
	if value := s.lookup(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer configuration value or a default
func (s source) getEnvInt(key string, defaultValue int) int {
	if value := s.lookup(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration configuration value or a default
func (s source) getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := s.lookup(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma separated configuration value or a default
func (s source) getEnvList(key string, defaultValue []string) []string {
	value := s.lookup(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
