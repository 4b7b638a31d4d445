// Package config loads llmlb's process-wide configuration: defaults,
// overlaid by an optional YAML file, overlaid by environment variables.
// The resulting Config is immutable for the process lifetime except for
// the narrow admin-tunable subset HotReloadManager watches — per-field
// structural settings (ports, DSNs, TLS) require a restart to change.
package config
