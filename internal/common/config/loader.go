// internal/common/config/loader.go
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	ProviderHosted = "hosted"
	ProviderStripe = "stripe"
)

func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	// BACKEND_BASE_URL overrides backend.base_url
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // ignore error if not found

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finish(v)
}

func finish(v *viper.Viper) (*Config, error) {
	bindEnvKeys(v)
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// bindEnvKeys makes AutomaticEnv visible to Unmarshal for keys absent from the file.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"backend.base_url",
		"payment.provider",
		"payment.client_key",
		"payment.checkout_url",
		"payment.stripe.secret_key",
		"session.redis.address",
		"session.redis.password",
		"session.static_token",
		"journal.enabled",
		"journal.postgres.host",
		"journal.postgres.password",
		"logging.level",
	} {
		_ = v.BindEnv(key)
	}
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			expanded := os.ExpandEnv(strVal)
			if expanded != strVal {
				v.Set(key, expanded)
			}
		}
	}
}

// Direct override if config values are still empty after expansion
func overrideEmptyConfig(cfg *Config) {
	if cfg.Payment.ClientKey == "" {
		if val := os.Getenv("PAYMENT_CLIENT_KEY"); val != "" {
			cfg.Payment.ClientKey = val
		}
	}
	if cfg.Payment.Stripe.SecretKey == "" {
		if val := os.Getenv("STRIPE_SECRET_KEY"); val != "" {
			cfg.Payment.Stripe.SecretKey = val
		}
	}
	if cfg.Backend.BaseURL == "" {
		if val := os.Getenv("API_BASE_URL"); val != "" {
			cfg.Backend.BaseURL = val
		}
	}
	if cfg.Session.Redis.Address == "" {
		if val := os.Getenv("REDIS_ADDR"); val != "" {
			cfg.Session.Redis.Address = val
		}
	}
	if cfg.Journal.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Journal.Postgres.Password = val
		}
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "activation-orchestrator"
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15000
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10000
	}
	if cfg.Server.SessionHeader == "" {
		cfg.Server.SessionHeader = "X-Session-ID"
	}
	if cfg.Server.SessionCookie == "" {
		cfg.Server.SessionCookie = "session_id"
	}

	cfg.Backend.BaseURL = strings.TrimSuffix(cfg.Backend.BaseURL, "/")
	if cfg.Backend.Timeout == 0 {
		cfg.Backend.Timeout = 10000
	}
	if cfg.Backend.ActionTimeout == 0 {
		cfg.Backend.ActionTimeout = 20000
	}

	if cfg.Payment.Provider == "" {
		cfg.Payment.Provider = ProviderHosted
	}
	if cfg.Payment.Method == "" {
		cfg.Payment.Method = "CARD"
	}
	if cfg.Payment.OrderName == "" {
		cfg.Payment.OrderName = "Monthly subscription"
	}
	if cfg.Payment.Stripe.Currency == "" {
		cfg.Payment.Stripe.Currency = "krw"
	}

	if cfg.Session.KeyPrefix == "" {
		cfg.Session.KeyPrefix = "session:token:"
	}
	if cfg.Session.IdleTTL == 0 {
		cfg.Session.IdleTTL = 1800
	}
	if cfg.Session.SweepInterval == 0 {
		cfg.Session.SweepInterval = 60
	}
	if cfg.Session.MaxSessions == 0 {
		cfg.Session.MaxSessions = 10000
	}

	if cfg.Landing.LedgerPrefix == "" {
		cfg.Landing.LedgerPrefix = "billing:confirm:"
	}
	if cfg.Landing.LedgerTTL == 0 {
		cfg.Landing.LedgerTTL = 86400
	}

	if cfg.Reconcile.MaxConsistencyRefetches == 0 {
		cfg.Reconcile.MaxConsistencyRefetches = 2
	}
	if cfg.Reconcile.StaleAfter == 0 {
		cfg.Reconcile.StaleAfter = 60000
	}

	if cfg.Journal.Postgres.Port == 0 {
		cfg.Journal.Postgres.Port = 5432
	}
	if cfg.Journal.Postgres.MaxConnections == 0 {
		cfg.Journal.Postgres.MaxConnections = 10
	}
	if cfg.Journal.Postgres.MaxIdle == 0 {
		cfg.Journal.Postgres.MaxIdle = 2
	}
	if cfg.Journal.Postgres.SSLMode == "" {
		cfg.Journal.Postgres.SSLMode = "disable"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = 1
	}
}

// validateConfig validates critical configuration fields. A missing payment
// client key is accepted: BILLING reports the gateway as unavailable instead.
func validateConfig(cfg *Config) error {
	if cfg.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if u, err := url.Parse(cfg.Backend.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend.base_url must be an absolute URL")
	}

	switch cfg.Payment.Provider {
	case ProviderHosted, ProviderStripe:
	default:
		return fmt.Errorf("payment.provider must be %q or %q", ProviderHosted, ProviderStripe)
	}
	if cfg.Payment.Amount < 0 {
		return fmt.Errorf("payment.amount must not be negative")
	}

	if cfg.Session.Redis.Address == "" && cfg.Session.StaticToken == "" {
		return fmt.Errorf("session.redis.address or session.static_token is required")
	}

	if cfg.Journal.Enabled {
		if cfg.Journal.Postgres.Host == "" {
			return fmt.Errorf("journal.postgres.host is required when journal is enabled")
		}
		if cfg.Journal.Postgres.Database == "" {
			return fmt.Errorf("journal.postgres.database is required when journal is enabled")
		}
	}

	if cfg.Reconcile.MaxConsistencyRefetches < 0 {
		return fmt.Errorf("reconcile.max_consistency_refetches must not be negative")
	}
	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
