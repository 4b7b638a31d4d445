/*
Package types provides the shared type definitions used across the gateway.

types sits at the bottom of the dependency graph: it is imported by the
registry, router, proxy, auth, and api packages but imports none of them,
which keeps the import graph acyclic.

# Core types

  - Error / ErrorCode    — structured error model with HTTP status, retryable flag, and originating endpoint
  - Dialect              — upstream backend API flavor (openai, ollama, vllm, xllm, llama_cpp, other)
  - Endpoint / EndpointModel — the registry's durable entity shapes
  - User / ApiKey / Invitation / Permission — the auth plane's principals
  - AuditEntry           — a hash-chained administrative event

# Context propagation

WithTraceID / WithRequestID / WithUserID / WithRole / WithAPIKeyID /
WithPermissions attach request-scoped identity to a context.Context; the
matching accessors read it back.
*/
package types
