// Package connector defines the contracts between the Rowbot engine and the
// systems it reads from and writes to.
//
// # Architecture Overview
//
// The engine consumes four interfaces:
//
//   - Reader: runs a parameterized query against a source and returns one page
//     of typed rows. Pagers supply the limit, offset and cursor parameters.
//
//   - Writer: looks up existing destination rows for a batch (Find), inserts new
//     rows and applies ChangedFieldSet updates. Merge loaders only use these
//     three calls.
//
//   - SchemaCreator: optional. Pipelines register CreateSchema as a pre-task so
//     destinations create their table if it is absent.
//
//   - Transactor: optional. The dimension loader applies type-2 close/insert
//     pairs inside InTransaction when the destination supports it.
//
// Implementations live in sub-packages:
//
//   - memory: in-process tables and sources
//   - sqldb: database/sql destinations for SQLite and MySQL
//   - postgres: pgx connection pool destination and source
//   - mongodb: MongoDB collections
//   - kafka: partition consumer source
//   - sqlgen: the statement builder shared by the SQL connectors
//
// # Control Columns
//
// Destinations store the row model's control columns next to the entity's own
// fields: key_hash, change_hash, is_deleted and, for dimensions, is_active,
// from_date and to_date; facts add created_at.
package connector
