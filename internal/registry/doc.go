/*
Package registry implements the Endpoint Registry: the in-memory
authoritative view of endpoints and their EndpointModel rows, backed by
internal/store. Writes serialize through a single writer and atomically
store a new immutable snapshot; reads (List, Get, ListModelsForRequest) load that
snapshot atomically and never block on a writer.
*/
package registry
