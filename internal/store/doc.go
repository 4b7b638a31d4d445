/*
Package store is the durable persistence layer: endpoints, endpoint
models, users, API keys, invitations, and the hash-chained audit log, on
an embedded SQL engine (sqlite by default; postgres and mysql also
supported).

PoolManager wraps a gorm.DB with connection pool tuning, a background
health check loop, and retrying transactions. Migrator applies the
embedded, per-dialect SQL migration set via golang-migrate for the migrate
subcommand; server startup uses Store.AutoMigrate.
Store exposes one method per entity operation the registry, auth plane,
and audit log need; RequestRecords are deliberately absent here — they
live only in memory, per the request history package.
*/
package store
