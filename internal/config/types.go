package config

import "time"

// Config is llmlb's complete process configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Database  DatabaseConfig  `yaml:"database" env:"DATABASE"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Auth      AuthConfig      `yaml:"auth" env:"AUTH"`
	RateLimit RateLimitConfig `yaml:"rate_limit" env:"RATE_LIMIT"`
	Proxy     ProxyConfig     `yaml:"proxy" env:"PROXY"`
	Router    RouterConfig    `yaml:"router" env:"ROUTER"`
	Health    HealthConfig    `yaml:"health" env:"HEALTH"`
	History   HistoryConfig   `yaml:"history" env:"HISTORY"`
	Drain     DrainConfig     `yaml:"drain" env:"DRAIN"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
	TLS       TLSConfig       `yaml:"tls" env:"TLS"`
	CORS      CORSConfig      `yaml:"cors" env:"CORS"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// DatabaseConfig configures the relational store backing the registry,
// auth, history aggregate, and audit log.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" env:"DRIVER"` // postgres, mysql, sqlite
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	DSN             string        `yaml:"dsn" env:"DSN"` // overrides the fields above when set
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME"`
}

// RedisConfig configures the optional distributed rate-limit backend.
type RedisConfig struct {
	Enabled      bool   `yaml:"enabled" env:"ENABLED"`
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// AuthConfig configures session/JWT issuance.
type AuthConfig struct {
	JWTSecret       string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	SessionLifetime time.Duration `yaml:"session_lifetime" env:"SESSION_LIFETIME"`
}

// RateLimitConfig configures per-key admission throttling.
type RateLimitConfig struct {
	Backend         string        `yaml:"backend" env:"BACKEND"` // local or redis
	RPS             float64       `yaml:"rps" env:"RPS"`
	Burst           int           `yaml:"burst" env:"BURST"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
}

// ProxyConfig configures the failure/exclusion policy and multipart cap.
type ProxyConfig struct {
	FailureThreshold  int           `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	FailureWindow     time.Duration `yaml:"failure_window" env:"FAILURE_WINDOW"`
	Cooldown          time.Duration `yaml:"cooldown" env:"COOLDOWN"`
	MaxMultipartBytes int64         `yaml:"max_multipart_bytes" env:"MAX_MULTIPART_BYTES"`
	UpstreamTimeout   time.Duration `yaml:"upstream_timeout" env:"UPSTREAM_TIMEOUT"`
}

// RouterConfig configures admission queueing and tenant fairness.
type RouterConfig struct {
	QueueCap         int           `yaml:"queue_cap" env:"QUEUE_CAP"`
	AdmissionTimeout time.Duration `yaml:"admission_timeout" env:"ADMISSION_TIMEOUT"`
	MaxPerTenant     int           `yaml:"max_per_tenant" env:"MAX_PER_TENANT"`
}

// HealthConfig configures the background health supervisor.
type HealthConfig struct {
	DefaultInterval  time.Duration `yaml:"default_interval" env:"DEFAULT_INTERVAL"`
	FailureThreshold int           `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
}

// HistoryConfig configures the request-history ring.
type HistoryConfig struct {
	Capacity int `yaml:"capacity" env:"CAPACITY"`
}

// DrainConfig configures the update/drain coordinator.
type DrainConfig struct {
	DrainTimeout time.Duration `yaml:"drain_timeout" env:"DRAIN_TIMEOUT"`
}

// LogConfig configures structured logging and file rotation.
type LogConfig struct {
	Level         string `yaml:"level" env:"LEVEL"`
	Format        string `yaml:"format" env:"FORMAT"`
	Dir           string `yaml:"dir" env:"DIR"`
	RetentionDays int    `yaml:"retention_days" env:"RETENTION_DAYS"`
}

// TelemetryConfig configures optional OTel export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// TLSConfig configures the optional HTTPS listener.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	CertFile string `yaml:"cert_file" env:"CERT_FILE"`
	KeyFile  string `yaml:"key_file" env:"KEY_FILE"`
}

// CORSConfig configures the dashboard's cross-origin policy.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
}
