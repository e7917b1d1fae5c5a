// Package config provides configuration loading, validation and hot reload
// for the RFC gateway.
package config

import "time"

// Destination types.
const (
	DestinationHTTP    = "http"
	DestinationNATS    = "nats"
	DestinationSandbox = "sandbox"
)

// Metadata cache types.
const (
	CacheNone   = ""
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Credential types.
const (
	CredentialsNone    = "none"
	CredentialsBasic   = "basic"
	CredentialsBearer  = "bearer"
	CredentialsVault   = "vault"
	CredentialsOAuth2  = "oauth2"
	CredentialsForward = "forward"
)

// Audit stores.
const (
	AuditStoreLog    = "log"
	AuditStoreSQLite = "sqlite"
)

// Config is the root of the gateway configuration file.
type Config struct {
	Server             ServerConfig        `yaml:"server" json:"server"`
	Logging            LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics            MetricsConfig       `yaml:"metrics" json:"metrics"`
	Tracing            TracingConfig       `yaml:"tracing" json:"tracing"`
	RateLimit          RateLimitConfig     `yaml:"rateLimit" json:"rateLimit"`
	Auth               AuthConfig          `yaml:"auth" json:"auth"`
	Audit              AuditConfig         `yaml:"audit" json:"audit"`
	Health             HealthConfig        `yaml:"health" json:"health"`
	Transaction        TransactionConfig   `yaml:"transaction" json:"transaction"`
	DefaultDestination string              `yaml:"defaultDestination" json:"defaultDestination"`
	Destinations       []DestinationConfig `yaml:"destinations" json:"destinations"`
}

// ServerConfig configures the main HTTP listener.
type ServerConfig struct {
	Host            string   `yaml:"host" json:"host"`
	Port            int      `yaml:"port" json:"port"`
	ReadTimeout     Duration `yaml:"readTimeout" json:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout" json:"writeTimeout"`
	IdleTimeout     Duration `yaml:"idleTimeout" json:"idleTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout" json:"shutdownTimeout"`
	MaxBodySize     int64    `yaml:"maxBodySize" json:"maxBodySize"`

	// CallTimeout bounds each remote execution.
	CallTimeout Duration `yaml:"callTimeout" json:"callTimeout"`

	// ErrorStatus is "legacy" (every failure is 400) or "semantic".
	ErrorStatus string `yaml:"errorStatus" json:"errorStatus"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// MetricsConfig configures the Prometheus listener.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Port      int    `yaml:"port" json:"port"`
	Path      string `yaml:"path" json:"path"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	ServiceName  string  `yaml:"serviceName" json:"serviceName"`
	OTLPEndpoint string  `yaml:"otlpEndpoint" json:"otlpEndpoint"`
	SamplingRate float64 `yaml:"samplingRate" json:"samplingRate"`
}

// RateLimitConfig configures the inbound token bucket.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" json:"enabled"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond" json:"requestsPerSecond"`
	Burst             int     `yaml:"burst" json:"burst"`
	PerClient         bool    `yaml:"perClient" json:"perClient"`
}

// AuthConfig configures inbound bearer token validation and the access policy.
type AuthConfig struct {
	Enabled         bool     `yaml:"enabled" json:"enabled"`
	JWKSURL         string   `yaml:"jwksUrl" json:"jwksUrl"`
	JWKSFile        string   `yaml:"jwksFile" json:"jwksFile"`
	RefreshInterval Duration `yaml:"refreshInterval" json:"refreshInterval"`
	Issuer          string   `yaml:"issuer" json:"issuer"`
	Audience        string   `yaml:"audience" json:"audience"`
	RolesClaim      string   `yaml:"rolesClaim" json:"rolesClaim"`
	RolePrefix      string   `yaml:"rolePrefix" json:"rolePrefix"`

	// Policy is a CEL expression over method, function, destination and roles.
	Policy string `yaml:"policy" json:"policy"`
}

// AuditConfig configures the call audit trail.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Store   string `yaml:"store" json:"store"`
	DSN     string `yaml:"dsn" json:"dsn"`
	// Retention is how long sqlite records are kept. Zero keeps them forever.
	Retention     Duration `yaml:"retention" json:"retention"`
	PruneSchedule string   `yaml:"pruneSchedule" json:"pruneSchedule"`
}

// HealthConfig configures scheduled destination probes.
type HealthConfig struct {
	Schedule     string   `yaml:"schedule" json:"schedule"`
	ProbeTimeout Duration `yaml:"probeTimeout" json:"probeTimeout"`
}

// TransactionConfig configures the commit step of transactional calls.
type TransactionConfig struct {
	CommitFunction   string `yaml:"commitFunction" json:"commitFunction"`
	Wait             bool   `yaml:"wait" json:"wait"`
	RollbackFunction string `yaml:"rollbackFunction" json:"rollbackFunction"`
	RollbackOnError  bool   `yaml:"rollbackOnError" json:"rollbackOnError"`
}

// DestinationConfig describes one remote system.
type DestinationConfig struct {
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type" json:"type"`

	// URL is the adapter base URL for http destinations and the server URL
	// for nats destinations.
	URL           string   `yaml:"url" json:"url"`
	SubjectPrefix string   `yaml:"subjectPrefix" json:"subjectPrefix"`
	Timeout       Duration `yaml:"timeout" json:"timeout"`

	// Critical destinations take readiness down when their probe fails.
	Critical bool `yaml:"critical" json:"critical"`

	Breaker     BreakerConfig     `yaml:"circuitBreaker" json:"circuitBreaker"`
	Cache       CacheConfig       `yaml:"cache" json:"cache"`
	Credentials CredentialsConfig `yaml:"credentials" json:"credentials"`
}

// BreakerConfig configures the per-destination circuit breaker.
type BreakerConfig struct {
	Enabled      bool     `yaml:"enabled" json:"enabled"`
	MaxRequests  int      `yaml:"maxRequests" json:"maxRequests"`
	Interval     Duration `yaml:"interval" json:"interval"`
	Timeout      Duration `yaml:"timeout" json:"timeout"`
	MinRequests  int      `yaml:"minRequests" json:"minRequests"`
	FailureRatio float64  `yaml:"failureRatio" json:"failureRatio"`
}

// CacheConfig configures function metadata caching.
type CacheConfig struct {
	Type       string   `yaml:"type" json:"type"`
	TTL        Duration `yaml:"ttl" json:"ttl"`
	MaxEntries int      `yaml:"maxEntries" json:"maxEntries"`
	RedisURL   string   `yaml:"redisUrl" json:"redisUrl"`
	KeyPrefix  string   `yaml:"keyPrefix" json:"keyPrefix"`
}

// CredentialsConfig selects how the gateway logs on to a destination.
type CredentialsConfig struct {
	Type     string       `yaml:"type" json:"type"`
	User     string       `yaml:"user" json:"user"`
	Password string       `yaml:"password" json:"password"`
	Token    string       `yaml:"token" json:"token"`
	Vault    VaultConfig  `yaml:"vault" json:"vault"`
	OAuth2   OAuth2Config `yaml:"oauth2" json:"oauth2"`
}

// VaultConfig locates a KV v2 secret holding destination credentials.
type VaultConfig struct {
	Address   string   `yaml:"address" json:"address"`
	Token     string   `yaml:"token" json:"token"`
	Namespace string   `yaml:"namespace" json:"namespace"`
	Mount     string   `yaml:"mount" json:"mount"`
	Path      string   `yaml:"path" json:"path"`
	CacheTTL  Duration `yaml:"cacheTTL" json:"cacheTTL"`
}

// OAuth2Config configures the client credentials flow.
type OAuth2Config struct {
	TokenURL     string   `yaml:"tokenUrl" json:"tokenUrl"`
	ClientID     string   `yaml:"clientId" json:"clientId"`
	ClientSecret string   `yaml:"clientSecret" json:"clientSecret"`
	Scopes       []string `yaml:"scopes" json:"scopes"`
}

// Destination returns the configuration of the named destination.
func (c *Config) Destination(name string) (DestinationConfig, bool) {
	for _, d := range c.Destinations {
		if d.Name == name {
			return d, true
		}
	}
	return DestinationConfig{}, false
}

// DefaultConfig returns a configuration with every default applied and a
// single sandbox destination.
func DefaultConfig() *Config {
	cfg := &Config{
		DefaultDestination: "SANDBOX",
		Destinations: []DestinationConfig{
			{Name: "SANDBOX", Type: DestinationSandbox},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	setDefault(&s.Host, "0.0.0.0")
	setDefault(&s.Port, 8080)
	setDefault(&s.ReadTimeout, Duration(30*time.Second))
	setDefault(&s.WriteTimeout, Duration(90*time.Second))
	setDefault(&s.IdleTimeout, Duration(120*time.Second))
	setDefault(&s.ShutdownTimeout, Duration(30*time.Second))
	setDefault(&s.MaxBodySize, int64(10<<20))
	setDefault(&s.CallTimeout, Duration(60*time.Second))
	setDefault(&s.ErrorStatus, "legacy")

	setDefault(&cfg.Logging.Level, "info")
	setDefault(&cfg.Logging.Format, "json")

	setDefault(&cfg.Metrics.Port, 9090)
	setDefault(&cfg.Metrics.Path, "/metrics")
	setDefault(&cfg.Metrics.Namespace, "avarfc")

	setDefault(&cfg.Tracing.ServiceName, "avarfc")
	setDefault(&cfg.Tracing.SamplingRate, 1.0)

	setDefault(&cfg.RateLimit.RequestsPerSecond, 100.0)
	setDefault(&cfg.RateLimit.Burst, 200)

	setDefault(&cfg.Auth.RolesClaim, "scope")
	setDefault(&cfg.Auth.RefreshInterval, Duration(15*time.Minute))
	setDefault(&cfg.Auth.Policy, `roles.exists(r, r == "Display" || r == "Modify")`)

	setDefault(&cfg.Audit.Store, AuditStoreLog)
	setDefault(&cfg.Audit.DSN, "file:audit.db?_busy_timeout=5000")
	setDefault(&cfg.Audit.PruneSchedule, "@hourly")

	setDefault(&cfg.Health.Schedule, "@every 30s")
	setDefault(&cfg.Health.ProbeTimeout, Duration(5*time.Second))

	setDefault(&cfg.Transaction.CommitFunction, "BAPI_TRANSACTION_COMMIT")
	setDefault(&cfg.Transaction.RollbackFunction, "BAPI_TRANSACTION_ROLLBACK")

	for i := range cfg.Destinations {
		applyDestinationDefaults(&cfg.Destinations[i])
	}
	if cfg.DefaultDestination == "" && len(cfg.Destinations) == 1 {
		cfg.DefaultDestination = cfg.Destinations[0].Name
	}
}

func applyDestinationDefaults(d *DestinationConfig) {
	setDefault(&d.Type, DestinationHTTP)
	setDefault(&d.Timeout, Duration(30*time.Second))
	setDefault(&d.Credentials.Type, CredentialsNone)
	if d.Type == DestinationNATS {
		setDefault(&d.SubjectPrefix, "rfc."+d.Name)
	}

	b := &d.Breaker
	setDefault(&b.MaxRequests, 1)
	setDefault(&b.Interval, Duration(60*time.Second))
	setDefault(&b.Timeout, Duration(30*time.Second))
	setDefault(&b.MinRequests, 5)
	setDefault(&b.FailureRatio, 0.5)

	c := &d.Cache
	setDefault(&c.TTL, Duration(10*time.Minute))
	setDefault(&c.MaxEntries, 1000)
	setDefault(&c.KeyPrefix, "avarfc:metadata:")

	v := &d.Credentials.Vault
	setDefault(&v.Mount, "secret")
	setDefault(&v.CacheTTL, Duration(5*time.Minute))
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}
