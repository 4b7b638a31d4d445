/*
Package metrics provides Prometheus-based instrumentation covering HTTP,
proxy, admission, rate limiting, endpoint health, drain, audit, cache,
and database concerns.

# Overview

Collector registers and records every Prometheus vector through promauto,
so there is no manual Registry bookkeeping. Metrics are namespaced and
label-grouped for Grafana-style dashboards and alerting.

# Core types

  - Collector: holds the Counter/Histogram/Gauge vectors for each
    subsystem and exposes one Record*/Set* method per metric.

# Groups

  - HTTP: request totals, duration, and request/response body size, by
    method/path/status, with status bucketed into 2xx/3xx/4xx/5xx.
  - Proxy: requests proxied to upstream endpoints, duration, token usage,
    and upstream error counts, by endpoint/model.
  - Router: admission queue depth, admission wait duration, and
    rejection counts, by tenant.
  - Rate limit: allow/deny counts by backend (local or redis).
  - Endpoint health: state transition counts and current probe score.
  - Drain: one-hot drain state gauge, in-flight gauge, dropped-request
    counter.
  - Audit: append counts by action, verification failure counter.
  - Cache: hit/miss counts by cache type.
  - Database: open/idle connection gauges and query duration.
*/
package metrics
