package config

import (
	"fmt"
	"strings"
)

// Validate checks the loaded Config for internally-inconsistent or
// out-of-range values the zero-value defaulting in each subsystem
// package can't catch on its own.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Addr == "" {
		errs = append(errs, "server.addr must not be empty")
	}
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("database.driver: unsupported %q", c.Database.Driver))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, "auth.jwt_secret must be set")
	}
	if c.RateLimit.Backend != "local" && c.RateLimit.Backend != "redis" {
		errs = append(errs, fmt.Sprintf("rate_limit.backend: unsupported %q", c.RateLimit.Backend))
	}
	if c.RateLimit.Backend == "redis" && !c.Redis.Enabled {
		errs = append(errs, "rate_limit.backend is redis but redis.enabled is false")
	}
	if c.Proxy.FailureThreshold <= 0 {
		errs = append(errs, "proxy.failure_threshold must be positive")
	}
	if c.History.Capacity <= 0 {
		errs = append(errs, "history.capacity must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ResolvedDSN returns the database connection string for d, building one from
// the discrete fields when DSN is not set explicitly.
func (d *DatabaseConfig) ResolvedDSN() string {
	if d.DSN != "" {
		return d.DSN
	}
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
