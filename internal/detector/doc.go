// Package detector implements the one-shot capability probe run against a
// freshly registered (or re-detected) endpoint's base_url: GET /v1/models,
// fall back to GET /api/tags, check the chat path with a zero-token probe,
// and check /api/system for an xllm signature. The health supervisor runs
// it again for a model sync each time an endpoint's probe turns it online
// from any other status.
package detector
