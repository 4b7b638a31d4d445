package config

import "time"

// DefaultConfig returns llmlb's configuration with every field at its
// documented default, before any YAML file or environment overlay.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Database:  DefaultDatabaseConfig(),
		Redis:     DefaultRedisConfig(),
		Auth:      DefaultAuthConfig(),
		RateLimit: DefaultRateLimitConfig(),
		Proxy:     DefaultProxyConfig(),
		Router:    DefaultRouterConfig(),
		Health:    DefaultHealthConfig(),
		History:   DefaultHistoryConfig(),
		Drain:     DefaultDrainConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		TLS:       DefaultTLSConfig(),
		CORS:      CORSConfig{},
	}
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Name:            "llmlb.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: time.Minute,
	}
}

func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		SessionLifetime: 24 * time.Hour,
	}
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Backend:         "local",
		RPS:             10,
		Burst:           20,
		CleanupInterval: time.Minute,
		IdleTimeout:     3 * time.Minute,
	}
}

func DefaultProxyConfig() ProxyConfig {
	return ProxyConfig{
		FailureThreshold:  3,
		FailureWindow:     5 * time.Minute,
		Cooldown:          60 * time.Second,
		MaxMultipartBytes: 25 << 20,
		UpstreamTimeout:   60 * time.Second,
	}
}

func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		QueueCap:         256,
		AdmissionTimeout: 30 * time.Second,
	}
}

func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		DefaultInterval:  15 * time.Second,
		FailureThreshold: 3,
	}
}

func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{Capacity: 10000}
}

func DefaultDrainConfig() DrainConfig {
	return DrainConfig{DrainTimeout: 30 * time.Second}
}

func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:         "info",
		Format:        "json",
		Dir:           "~/.llmlb/logs",
		RetentionDays: 14,
	}
}

func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "llmlb",
		SampleRate:   0.1,
	}
}

func DefaultTLSConfig() TLSConfig {
	return TLSConfig{Enabled: false}
}
