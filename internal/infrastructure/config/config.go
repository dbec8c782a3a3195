package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

const (
	DriverSupabase = "supabase"
	DriverMongo    = "mongo"
)

type Config struct {
	Port     string `env:"PORT,      default=8080"`
	Env      string `env:"ENV,       default=development"`
	LogLevel string `env:"LOG_LEVEL, default=info"`

	Backend BackendConfig
	Mongo   MongoConfig
	Redis   RedisConfig
	Session SessionConfig
	Roles   RolesConfig
	Audit   AuditConfig
}

// BackendConfig selects and configures the backend-as-a-service.
type BackendConfig struct {
	Driver    string        `env:"BACKEND_DRIVER,     default=supabase"`
	URL       string        `env:"BACKEND_URL"`
	AnonKey   string        `env:"BACKEND_ANON_KEY"`
	JWTSecret string        `env:"BACKEND_JWT_SECRET"`
	Timeout   time.Duration `env:"BACKEND_TIMEOUT,    default=10s"`
}

type MongoConfig struct {
	URI      string `env:"MONGO_URI, default=mongodb://localhost:27017"`
	Database string `env:"MONGO_DB,  default=valve_record"`
}

type RedisConfig struct {
	Addr      string `env:"REDIS_ADDR,      default=localhost:6379"`
	Password  string `env:"REDIS_PASSWORD"`
	DB        int    `env:"REDIS_DB,        default=0"`
	Namespace string `env:"REDIS_NAMESPACE, default=gvr:"`
}

// SessionConfig holds the session-freshness bookkeeping knobs.
type SessionConfig struct {
	KeyPrefix        string        `env:"SESSION_KEY_PREFIX,        default=sb-"`
	BootstrapTimeout time.Duration `env:"SESSION_BOOTSTRAP_TIMEOUT, default=3s"`
	ChangeTimeout    time.Duration `env:"SESSION_CHANGE_TIMEOUT,    default=5s"`
	IdleTimeout      time.Duration `env:"SESSION_IDLE_TIMEOUT,      default=10m"`
	ActivityThrottle time.Duration `env:"SESSION_ACTIVITY_THROTTLE, default=1s"`
}

// RolesConfig drives role resolution. AdminOverrides is the audited list of
// user ids that always resolve to admin.
type RolesConfig struct {
	Retries          int           `env:"ROLE_RETRIES,           default=2"`
	RetryBackoff     time.Duration `env:"ROLE_RETRY_BACKOFF,     default=1s"`
	AbortBackoff     time.Duration `env:"ROLE_ABORT_BACKOFF,     default=500ms"`
	ProvisionBackoff time.Duration `env:"ROLE_PROVISION_BACKOFF, default=500ms"`
	AdminOverrides   []string      `env:"ROLE_ADMIN_OVERRIDES"`
}

type AuditConfig struct {
	RecentLimit int           `env:"AUDIT_RECENT_LIMIT, default=50"`
	ExportLimit int           `env:"AUDIT_EXPORT_LIMIT, default=1000"`
	Retention   time.Duration `env:"AUDIT_RETENTION,    default=2160h"`
	Workers     int           `env:"AUDIT_WORKERS,      default=2"`
}

// Load reads configuration from environment variables using go-envconfig.
func Load(ctx context.Context) (*Config, error) {
	return load(ctx, nil)
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	ecfg := &envconfig.Config{Target: &cfg}
	if lookuper != nil {
		ecfg.Lookuper = lookuper
	}
	if err := envconfig.ProcessWith(ctx, ecfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Backend.Driver {
	case DriverSupabase:
		if c.Backend.URL == "" || c.Backend.AnonKey == "" {
			return fmt.Errorf("BACKEND_URL and BACKEND_ANON_KEY are required for the %s driver", DriverSupabase)
		}
	case DriverMongo:
		if c.Backend.JWTSecret == "" {
			return fmt.Errorf("BACKEND_JWT_SECRET is required for the %s driver", DriverMongo)
		}
	default:
		return fmt.Errorf("unknown BACKEND_DRIVER %q", c.Backend.Driver)
	}
	if c.Session.KeyPrefix == "" {
		return fmt.Errorf("SESSION_KEY_PREFIX must not be empty")
	}
	if c.Roles.Retries < 0 {
		return fmt.Errorf("ROLE_RETRIES must not be negative")
	}
	return nil
}

// IsProduction reports whether the service runs with production defaults.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
