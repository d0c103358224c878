package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	AuditDatabase *DatabaseConfig // Optional: separate DB for dispatch logs. When nil, they use the main DB.
	Vendors       VendorsConfig
	Routing       RoutingConfig
	Maintenance   MaintenanceConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	PIDFile         string
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	Enabled          bool
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// VendorConfig holds credentials and transport settings for one vendor
type VendorConfig struct {
	Name         string
	APIKey       string
	AccessToken  string
	RefreshToken string
	ClientID     string
	TokenURL     string
	BaseURL      string
	Timeout      time.Duration
}

// HasCredential reports whether an API key or OAuth token is configured
func (v VendorConfig) HasCredential() bool {
	return v.APIKey != "" || v.AccessToken != "" || v.RefreshToken != ""
}

// VendorsConfig holds the per-vendor configurations
type VendorsConfig struct {
	Anthropic  VendorConfig
	OpenAI     VendorConfig
	OpenRouter VendorConfig
	Gemini     VendorConfig
}

// All returns the vendor configs in a stable order
func (v VendorsConfig) All() []VendorConfig {
	return []VendorConfig{v.Anthropic, v.OpenAI, v.OpenRouter, v.Gemini}
}

// RoutingConfig holds routing engine configuration
type RoutingConfig struct {
	RoutesFile     string
	DefaultVendor  string
	MinConfidence  float64
	EnableFallback bool

	// Routes is the parsed routes file, nil when RoutesFile is unset
	Routes *RoutesFile
}

// MaintenanceConfig controls the credential maintenance loop
type MaintenanceConfig struct {
	Interval      time.Duration
	StaleAfter    time.Duration
	Cooldown      time.Duration
	RefreshWindow time.Duration
}

// AuthConfig holds gateway client authentication. Auth is disabled when
// neither a JWT secret nor API keys are set.
type AuthConfig struct {
	JWTSecret string
	// Issuer, when set, must match the iss claim of client tokens
	Issuer  string
	APIKeys []string
}

// Enabled reports whether client authentication is configured
func (a AuthConfig) Enabled() bool {
	return a.JWTSecret != "" || len(a.APIKeys) > 0
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel          string
	LogFormat         string // json or text
	LogPayloads       bool
	MetricsEnabled    bool
	TracingEnabled    bool
	TracingSampleRate float64
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 10*time.Minute),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			PIDFile:         getEnv("PID_FILE", ""),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Database:      loadDatabaseConfig(),
		AuditDatabase: loadAuditDatabaseConfig(),
		Vendors: VendorsConfig{
			Anthropic:  loadVendorConfig("anthropic", "ANTHROPIC", "https://api.anthropic.com"),
			OpenAI:     loadVendorConfig("openai", "OPENAI", "https://api.openai.com/v1"),
			OpenRouter: loadVendorConfig("openrouter", "OPENROUTER", "https://openrouter.ai/api/v1"),
			Gemini:     loadVendorConfig("gemini", "GEMINI", "https://generativelanguage.googleapis.com/v1beta"),
		},
		Routing: RoutingConfig{
			RoutesFile:     getEnv("ROUTES_FILE", ""),
			DefaultVendor:  getEnv("DEFAULT_VENDOR", "anthropic"),
			MinConfidence:  getEnvAsFloat("MIN_CONFIDENCE", 0.5),
			EnableFallback: getEnvAsBool("ROUTING_FALLBACK", true),
		},
		Maintenance: MaintenanceConfig{
			Interval:      getEnvAsDuration("MAINTENANCE_INTERVAL", time.Minute),
			StaleAfter:    getEnvAsDuration("MAINTENANCE_STALE_AFTER", 5*time.Minute),
			Cooldown:      getEnvAsDuration("MAINTENANCE_COOLDOWN", 10*time.Second),
			RefreshWindow: getEnvAsDuration("REFRESH_WINDOW", 5*time.Minute),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("GATEWAY_JWT_SECRET", ""),
			Issuer:    getEnv("GATEWAY_JWT_ISSUER", ""),
			APIKeys:   getEnvAsList("GATEWAY_API_KEYS"),
		},
		Observability: ObservabilityConfig{
			LogLevel:          getEnv("LOG_LEVEL", "info"),
			LogFormat:         getEnv("LOG_FORMAT", "json"),
			LogPayloads:       getEnvAsBool("LOG_PAYLOADS", false),
			MetricsEnabled:    getEnvAsBool("METRICS_ENABLED", true),
			TracingEnabled:    getEnvAsBool("TRACING_ENABLED", false),
			TracingSampleRate: getEnvAsFloat("TRACING_SAMPLE_RATE", 0.1),
		},
	}

	if cfg.Routing.RoutesFile != "" {
		routes, err := LoadRoutesFile(cfg.Routing.RoutesFile)
		if err != nil {
			return nil, err
		}
		cfg.Routing.Routes = routes
		routes.applyTo(&cfg.Routing)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Database.Enabled {
		if c.Database.ConnectionString == "" && c.Database.Host == "" {
			return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
		}
		if c.Database.ConnectionString == "" {
			if c.Database.User == "" {
				return fmt.Errorf("database user is required")
			}
			if c.Database.Database == "" {
				return fmt.Errorf("database name is required")
			}
		}
	}

	switch c.Routing.DefaultVendor {
	case "anthropic", "openai", "openrouter", "gemini":
	default:
		return fmt.Errorf("unknown default vendor %q", c.Routing.DefaultVendor)
	}
	if c.Routing.MinConfidence < 0 || c.Routing.MinConfidence > 1 {
		return fmt.Errorf("min confidence must be within [0, 1], got %v", c.Routing.MinConfidence)
	}

	if c.Maintenance.Interval <= 0 {
		return fmt.Errorf("maintenance interval must be positive")
	}

	if c.IsProduction() {
		if !c.Auth.Enabled() {
			return fmt.Errorf("gateway authentication is required in production: set GATEWAY_JWT_SECRET or GATEWAY_API_KEYS")
		}
		configured := false
		for _, v := range c.Vendors.All() {
			if v.HasCredential() {
				configured = true
				break
			}
		}
		if !configured {
			return fmt.Errorf("at least one vendor credential must be configured in production")
		}
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars.
// Persistence is on when DATABASE_URL is set unless DB_ENABLED says otherwise.
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	enabled := getEnvAsBool("DB_ENABLED", dbURL != "")
	if dbURL != "" {
		return DatabaseConfig{
			Enabled:          enabled,
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Enabled:         enabled,
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "prism"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "prism"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// loadAuditDatabaseConfig loads audit DB config from DATABASE_URL_AUDIT.
// Returns nil when not set (audit uses main DB).
func loadAuditDatabaseConfig() *DatabaseConfig {
	dbURL := getEnv("DATABASE_URL_AUDIT", "")
	if dbURL == "" {
		return nil
	}
	return &DatabaseConfig{
		Enabled:          true,
		ConnectionString: dbURL,
		MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// loadVendorConfig reads <PREFIX>_API_KEY, <PREFIX>_OAUTH_* and transport settings
func loadVendorConfig(name, prefix, defaultBaseURL string) VendorConfig {
	return VendorConfig{
		Name:         name,
		APIKey:       getEnv(prefix+"_API_KEY", ""),
		AccessToken:  getEnv(prefix+"_OAUTH_ACCESS_TOKEN", ""),
		RefreshToken: getEnv(prefix+"_OAUTH_REFRESH_TOKEN", ""),
		ClientID:     getEnv(prefix+"_OAUTH_CLIENT_ID", ""),
		TokenURL:     getEnv(prefix+"_OAUTH_TOKEN_URL", ""),
		BaseURL:      getEnv(prefix+"_BASE_URL", defaultBaseURL),
		Timeout:      getEnvAsDuration(prefix+"_TIMEOUT", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma-separated value, dropping empty entries
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
