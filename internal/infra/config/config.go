package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	GRPC      GRPCSettings      `mapstructure:"grpc"`
	Store     StoreSettings     `mapstructure:"store"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	JWT       JWTSettings       `mapstructure:"jwt"`
	Session   SessionSettings   `mapstructure:"session"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
	Proof     ProofSettings     `mapstructure:"proof"`
	Argon2    Argon2Settings    `mapstructure:"argon2"`
	Reset     ResetSettings     `mapstructure:"reset"`
	CSRF      CSRFSettings      `mapstructure:"csrf"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// BootstrapAdmin names a registered user that receives the Platform Admin role at startup.
	BootstrapAdmin string `mapstructure:"bootstrap_admin"`
	// Tenants is the static tenant directory. Empty accepts any well-formed tenant id.
	Tenants     []string `mapstructure:"tenants"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type GRPCSettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// StoreSettings selects the credential store backend.
type StoreSettings struct {
	Driver    string `mapstructure:"driver"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// RedisSettings configures Redis connection and TLS
type RedisSettings struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	DB         int    `mapstructure:"db"`
	Password   string `mapstructure:"password"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
	PoolSize   int    `mapstructure:"pool_size"`
}

// PostgresSettings configures the audit trail database. Disabled leaves auditing to the log and Kafka sinks.
type PostgresSettings struct {
	Enabled           bool          `mapstructure:"enabled"`
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	AutoMigrate       bool          `mapstructure:"auto_migrate"`
}

// KafkaSettings configures Kafka producer
type KafkaSettings struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
}

type JWTSettings struct {
	KeyDirectory string        `mapstructure:"key_directory"`
	SigningKeyID string        `mapstructure:"signing_key_id"`
	Issuer       string        `mapstructure:"issuer"`
	Audience     []string      `mapstructure:"audience"`
	SessionTTL   time.Duration `mapstructure:"session_ttl"`
}

// SessionSettings controls session invalidation.
type SessionSettings struct {
	RevokeOnReset bool `mapstructure:"revoke_on_reset"`
}

// RateLimitSettings configures throttling windows, limits and lockout escalation.
type RateLimitSettings struct {
	WindowDuration   time.Duration `mapstructure:"window_duration"`
	LoginMaxAttempts int           `mapstructure:"login_max_attempts"`
	SaltMaxAttempts  int           `mapstructure:"salt_max_attempts"`
	ResetMaxAttempts int           `mapstructure:"reset_max_attempts"`
	StrikeMemory     time.Duration `mapstructure:"strike_memory"`
	MaxLockout       time.Duration `mapstructure:"max_lockout"`
}

// ProofSettings selects the proof engine and locates its artifacts.
type ProofSettings struct {
	Engine              string        `mapstructure:"engine"`
	Workers             int           `mapstructure:"workers"`
	ReplayWindow        time.Duration `mapstructure:"replay_window"`
	CircuitPath         string        `mapstructure:"circuit_path"`
	ProvingKeyPath      string        `mapstructure:"proving_key_path"`
	VerificationKeyPath string        `mapstructure:"verification_key_path"`
	S3                  S3Settings    `mapstructure:"s3"`
}

type S3Settings struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

// Argon2Settings configures the fallback engine key derivation.
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

type ResetSettings struct {
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

type CSRFSettings struct {
	Enabled    bool   `mapstructure:"enabled"`
	CookieName string `mapstructure:"cookie_name"`
	Secure     bool   `mapstructure:"secure"`
}

type TelemetrySettings struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// IsProduction reports whether the service runs in production mode.
func (c *AppConfig) IsProduction() bool {
	return strings.EqualFold(c.App.Env, "production")
}

// Validate rejects combinations the service cannot start with.
func (c *AppConfig) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("store.driver must be redis or memory, got %q", c.Store.Driver))
	}
	if c.IsProduction() && c.Store.Driver == "memory" {
		errs = append(errs, errors.New("store.driver memory is not allowed in production"))
	}
	switch c.Proof.Engine {
	case "groth16", "argon2-fallback":
	default:
		errs = append(errs, fmt.Errorf("proof.engine must be groth16 or argon2-fallback, got %q", c.Proof.Engine))
	}
	if c.RateLimit.WindowDuration <= 0 {
		errs = append(errs, errors.New("rate_limit.window_duration must be positive"))
	}
	if c.RateLimit.LoginMaxAttempts <= 0 || c.RateLimit.SaltMaxAttempts <= 0 || c.RateLimit.ResetMaxAttempts <= 0 {
		errs = append(errs, errors.New("rate_limit max attempts must be positive"))
	}
	if c.JWT.SessionTTL <= 0 {
		errs = append(errs, errors.New("jwt.session_ttl must be positive"))
	}
	if c.Reset.TokenTTL <= 0 {
		errs = append(errs, errors.New("reset.token_ttl must be positive"))
	}
	return errors.Join(errs...)
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("IAM")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.bootstrap_admin",
		"app.tenants",
		"app.cors_origins",
		"grpc.enabled",
		"grpc.host",
		"grpc.port",
		"store.driver",
		"store.key_prefix",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.pool_size",
		"postgres.enabled",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"postgres.auto_migrate",
		"kafka.enabled",
		"kafka.brokers",
		"kafka.topic_prefix",
		"jwt.key_directory",
		"jwt.signing_key_id",
		"jwt.issuer",
		"jwt.audience",
		"jwt.session_ttl",
		"session.revoke_on_reset",
		"rate_limit.window_duration",
		"rate_limit.login_max_attempts",
		"rate_limit.salt_max_attempts",
		"rate_limit.reset_max_attempts",
		"rate_limit.strike_memory",
		"rate_limit.max_lockout",
		"proof.engine",
		"proof.workers",
		"proof.replay_window",
		"proof.circuit_path",
		"proof.proving_key_path",
		"proof.verification_key_path",
		"proof.s3.region",
		"proof.s3.endpoint",
		"proof.s3.access_key_id",
		"proof.s3.secret_access_key",
		"proof.s3.use_path_style",
		"argon2.memory",
		"argon2.iterations",
		"argon2.parallelism",
		"argon2.key_length",
		"reset.token_ttl",
		"csrf.enabled",
		"csrf.cookie_name",
		"csrf.secure",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "zk-tenant-iam")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.bootstrap_admin", "")
	v.SetDefault("app.tenants", []string{})
	v.SetDefault("app.cors_origins", []string{"http://localhost:3000"})

	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.host", "0.0.0.0")
	v.SetDefault("grpc.port", 50051)

	v.SetDefault("store.driver", "redis")
	v.SetDefault("store.key_prefix", "zkiam")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "iam")
	v.SetDefault("postgres.password", "iam_password")
	v.SetDefault("postgres.database", "iam")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")
	v.SetDefault("postgres.auto_migrate", true)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "")

	v.SetDefault("jwt.key_directory", "")
	v.SetDefault("jwt.signing_key_id", "")
	v.SetDefault("jwt.issuer", "zk-tenant-iam")
	v.SetDefault("jwt.audience", []string{})
	v.SetDefault("jwt.session_ttl", "1h")

	v.SetDefault("session.revoke_on_reset", true)

	v.SetDefault("rate_limit.window_duration", "15m")
	v.SetDefault("rate_limit.login_max_attempts", 5)
	v.SetDefault("rate_limit.salt_max_attempts", 30)
	v.SetDefault("rate_limit.reset_max_attempts", 3)
	v.SetDefault("rate_limit.strike_memory", "24h")
	v.SetDefault("rate_limit.max_lockout", "1h")

	v.SetDefault("proof.engine", "groth16")
	v.SetDefault("proof.workers", 0)
	v.SetDefault("proof.replay_window", "24h")
	v.SetDefault("proof.circuit_path", "./artifacts/circuit.wasm")
	v.SetDefault("proof.proving_key_path", "./artifacts/circuit_final.zkey")
	v.SetDefault("proof.verification_key_path", "./artifacts/verification_key.json")
	v.SetDefault("proof.s3.region", "us-east-1")
	v.SetDefault("proof.s3.endpoint", "")
	v.SetDefault("proof.s3.use_path_style", false)

	v.SetDefault("argon2.memory", 65536) // 64 MB
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 4)
	v.SetDefault("argon2.key_length", 32)

	v.SetDefault("reset.token_ttl", "15m")

	v.SetDefault("csrf.enabled", true)
	v.SetDefault("csrf.cookie_name", "zkiam_csrf")
	v.SetDefault("csrf.secure", false)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "zk-tenant-iam")
	v.SetDefault("telemetry.sampling_rate", 1.0)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "IAM_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
