package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates gateway configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateConfig validates a configuration and reports every problem at once.
func ValidateConfig(cfg *Config) error {
	return NewValidator().Validate(cfg)
}

// Validate validates the configuration and returns any errors.
func (v *Validator) Validate(cfg *Config) error {
	v.errors = nil

	if cfg == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateServer(&cfg.Server)
	v.validateLogging(&cfg.Logging)
	v.validateMetrics(&cfg.Metrics, cfg.Server.Port)
	v.validateRateLimit(&cfg.RateLimit)
	v.validateAuth(&cfg.Auth)
	v.validateAudit(&cfg.Audit)
	v.validateTransaction(&cfg.Transaction)
	v.validateDestinations(cfg)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}

func (v *Validator) validatePort(path string, port int) {
	if port < 1 || port > 65535 {
		v.addError(path, fmt.Sprintf("port must be between 1 and 65535, got %d", port))
	}
}

func (v *Validator) validateServer(s *ServerConfig) {
	v.validatePort("server.port", s.Port)
	if s.MaxBodySize <= 0 {
		v.addError("server.maxBodySize", "must be positive")
	}
	if s.CallTimeout < 0 {
		v.addError("server.callTimeout", "must not be negative")
	}
	switch s.ErrorStatus {
	case "legacy", "semantic":
	default:
		v.addError("server.errorStatus", fmt.Sprintf("must be legacy or semantic, got %q", s.ErrorStatus))
	}
}

func (v *Validator) validateLogging(l *LoggingConfig) {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		v.addError("logging.level", fmt.Sprintf("unknown level %q", l.Level))
	}
	switch l.Format {
	case "json", "console":
	default:
		v.addError("logging.format", fmt.Sprintf("must be json or console, got %q", l.Format))
	}
}

func (v *Validator) validateMetrics(m *MetricsConfig, serverPort int) {
	if !m.Enabled {
		return
	}
	v.validatePort("metrics.port", m.Port)
	if m.Port == serverPort {
		v.addError("metrics.port", "must differ from server.port")
	}
	if !strings.HasPrefix(m.Path, "/") {
		v.addError("metrics.path", "must start with /")
	}
}

func (v *Validator) validateRateLimit(r *RateLimitConfig) {
	if !r.Enabled {
		return
	}
	if r.RequestsPerSecond <= 0 {
		v.addError("rateLimit.requestsPerSecond", "must be positive")
	}
	if r.Burst <= 0 {
		v.addError("rateLimit.burst", "must be positive")
	}
}

func (v *Validator) validateAuth(a *AuthConfig) {
	if !a.Enabled {
		return
	}
	if a.JWKSURL == "" && a.JWKSFile == "" {
		v.addError("auth", "jwksUrl or jwksFile is required when auth is enabled")
	}
	if a.JWKSURL != "" && a.JWKSFile != "" {
		v.addError("auth", "jwksUrl and jwksFile are mutually exclusive")
	}
	if a.JWKSURL != "" {
		v.validateURL("auth.jwksUrl", a.JWKSURL, "http", "https")
	}
	if strings.TrimSpace(a.Policy) == "" {
		v.addError("auth.policy", "must not be empty")
	}
}

func (v *Validator) validateAudit(a *AuditConfig) {
	if !a.Enabled {
		return
	}
	switch a.Store {
	case AuditStoreLog:
	case AuditStoreSQLite:
		if a.DSN == "" {
			v.addError("audit.dsn", "is required for the sqlite store")
		}
		if a.Retention < 0 {
			v.addError("audit.retention", "must not be negative")
		}
	default:
		v.addError("audit.store", fmt.Sprintf("must be log or sqlite, got %q", a.Store))
	}
}

func (v *Validator) validateTransaction(t *TransactionConfig) {
	if t.CommitFunction == "" {
		v.addError("transaction.commitFunction", "must not be empty")
	}
	if t.RollbackOnError && t.RollbackFunction == "" {
		v.addError("transaction.rollbackFunction", "is required when rollbackOnError is set")
	}
}

func (v *Validator) validateDestinations(cfg *Config) {
	if len(cfg.Destinations) == 0 {
		v.addError("destinations", "at least one destination is required")
		return
	}

	seen := make(map[string]bool, len(cfg.Destinations))
	for i := range cfg.Destinations {
		d := &cfg.Destinations[i]
		path := fmt.Sprintf("destinations[%d]", i)

		if d.Name == "" {
			v.addError(path+".name", "is required")
		} else if seen[d.Name] {
			v.addError(path+".name", fmt.Sprintf("duplicate destination %q", d.Name))
		}
		seen[d.Name] = true

		v.validateDestination(path, d)
	}

	if cfg.DefaultDestination != "" && !seen[cfg.DefaultDestination] {
		v.addError("defaultDestination", fmt.Sprintf("destination %q is not defined", cfg.DefaultDestination))
	}
}

func (v *Validator) validateDestination(path string, d *DestinationConfig) {
	switch d.Type {
	case DestinationHTTP:
		v.validateURL(path+".url", d.URL, "http", "https")
	case DestinationNATS:
		v.validateURL(path+".url", d.URL, "nats", "tls", "ws", "wss")
	case DestinationSandbox:
	default:
		v.addError(path+".type", fmt.Sprintf("must be http, nats or sandbox, got %q", d.Type))
	}

	if d.Timeout <= 0 {
		v.addError(path+".timeout", "must be positive")
	}

	if d.Breaker.Enabled && (d.Breaker.FailureRatio <= 0 || d.Breaker.FailureRatio > 1) {
		v.addError(path+".circuitBreaker.failureRatio", "must be in (0, 1]")
	}

	switch d.Cache.Type {
	case CacheNone, CacheMemory:
	case CacheRedis:
		if d.Cache.RedisURL == "" {
			v.addError(path+".cache.redisUrl", "is required for the redis cache")
		}
	default:
		v.addError(path+".cache.type", fmt.Sprintf("must be memory or redis, got %q", d.Cache.Type))
	}

	v.validateCredentials(path+".credentials", &d.Credentials)
}

func (v *Validator) validateCredentials(path string, c *CredentialsConfig) {
	switch c.Type {
	case CredentialsNone, CredentialsForward:
	case CredentialsBasic:
		if c.User == "" {
			v.addError(path+".user", "is required for basic credentials")
		}
	case CredentialsBearer:
		if c.Token == "" {
			v.addError(path+".token", "is required for bearer credentials")
		}
	case CredentialsVault:
		if c.Vault.Path == "" {
			v.addError(path+".vault.path", "is required for vault credentials")
		}
	case CredentialsOAuth2:
		if c.OAuth2.TokenURL == "" || c.OAuth2.ClientID == "" {
			v.addError(path+".oauth2", "tokenUrl and clientId are required")
		}
	default:
		v.addError(path+".type", fmt.Sprintf("unknown credentials type %q", c.Type))
	}
}

func (v *Validator) validateURL(path, raw string, schemes ...string) {
	if raw == "" {
		v.addError(path, "is required")
		return
	}
	u, err := url.Parse(raw)
	if err != nil {
		v.addError(path, fmt.Sprintf("invalid URL: %v", err))
		return
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return
		}
	}
	v.addError(path, fmt.Sprintf("scheme must be one of %s", strings.Join(schemes, ", ")))
}
