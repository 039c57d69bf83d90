// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Payment   PaymentConfig   `mapstructure:"payment"`
	Session   SessionConfig   `mapstructure:"session"`
	Landing   LandingConfig   `mapstructure:"landing"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Host            string   `mapstructure:"host"`
	Port            int      `mapstructure:"port"`
	ReadTimeout     int      `mapstructure:"read_timeout"`  // milliseconds
	WriteTimeout    int      `mapstructure:"write_timeout"` // milliseconds
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	SessionHeader   string   `mapstructure:"session_header"`
	SessionCookie   string   `mapstructure:"session_cookie"`
	ShutdownTimeout int      `mapstructure:"shutdown_timeout"` // milliseconds
}

// Addr returns host:port for the HTTP listener
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// BackendConfig points at the subscription backend API.
type BackendConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	Timeout       int    `mapstructure:"timeout"`        // milliseconds, per HTTP request
	ActionTimeout int    `mapstructure:"action_timeout"` // milliseconds, per step action
}

// PaymentConfig selects and configures the card registration provider.
type PaymentConfig struct {
	Provider    string `mapstructure:"provider"` // hosted | stripe
	ClientKey   string `mapstructure:"client_key"`
	CheckoutURL string `mapstructure:"checkout_url"`
	Method      string `mapstructure:"method"`
	OrderName   string `mapstructure:"order_name"`
	Amount      int64  `mapstructure:"amount"`

	Stripe struct {
		SecretKey string `mapstructure:"secret_key"`
		Currency  string `mapstructure:"currency"`
	} `mapstructure:"stripe"`
}

type SessionConfig struct {
	Redis       RedisConfig `mapstructure:"redis"`
	KeyPrefix   string      `mapstructure:"key_prefix"`
	StaticToken string      `mapstructure:"static_token"` // development only

	IdleTTL       int `mapstructure:"idle_ttl"`       // seconds
	SweepInterval int `mapstructure:"sweep_interval"` // seconds
	MaxSessions   int `mapstructure:"max_sessions"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LandingConfig holds settings for the redirect landing handlers.
type LandingConfig struct {
	LedgerPrefix string `mapstructure:"ledger_prefix"`
	LedgerTTL    int    `mapstructure:"ledger_ttl"` // seconds
}

type ReconcileConfig struct {
	MaxConsistencyRefetches int `mapstructure:"max_consistency_refetches"`
	StaleAfter              int `mapstructure:"stale_after"` // milliseconds
}

type JournalConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}
