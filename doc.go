// Package rowbot is a programmable ETL engine that moves batches of typed
// rows from sources to destinations and merges them with change-aware
// semantics, so destination tables reflect inserts, updates, soft deletes
// and the history of slowly changing records.
//
// # Architecture
//
// A pipeline is a chain of blocks connected by bounded channels. Each block
// runs a pool of workers; the channel capacity is the only backpressure.
// An extract block queries a connector.Reader, optionally page by page;
// transform blocks map, filter or hash batches; a load block hands every
// batch to a merge loader:
//
//   - loader.Append inserts everything.
//   - loader.SnapshotFact inserts new facts and updates changed ones in place.
//   - loader.SlowlyChangingDimension updates type-1 attributes in place and
//     closes and reopens a version when a type-2 attribute changes.
//
// Rows are plain structs embedding entity.Fact or entity.Dimension. Field
// roles come from the etl tag:
//
//	type Customer struct {
//	    entity.Dimension
//	    ID      int64  `etl:"id,key"`
//	    Code    string `etl:"code,natural"`
//	    Name    string `etl:"name"`
//	    Segment string `etl:"segment,type2"`
//	}
//
// Pipelines are built by containers registered with pkg/registry. The runner
// groups them by cluster, resolves each cluster into dependency waves and
// runs the waves in order, with the pipelines of a wave running concurrently.
//
// # Quick Start
//
//	b := pipeline.New("customers", pipeline.WithCluster("crm"))
//	rows := pipeline.Extract(b, source, pipeline.WithOffsetPagination())
//	scd, _ := loader.NewSlowlyChangingDimension[*Customer](table)
//	pipeline.Load(pipeline.HashRows(rows), scd)
//	p, err := b.Build()
//
//	summary, err := p.Invoke(ctx)
//
// # Key Packages
//
//	pkg/entity      - Row model, field descriptors and hashing
//	pkg/connector   - Reader, Writer, SchemaCreator and Transactor contracts
//	pkg/pipeline    - Blocks, stages and pipeline summaries
//	pkg/pagination  - Cursor and offset pagers
//	pkg/loader      - Append, snapshot-fact and slowly-changing-dimension loaders
//	pkg/registry    - Pipeline containers
//	pkg/runner      - Cluster scheduler
//	pkg/cli         - Cobra commands a host embeds
//	pkg/config      - YAML and environment configuration
//	pkg/errors      - Structured error handling
//	pkg/logger      - Structured logging
//	pkg/metrics     - Prometheus metrics
//
// # Connectors
//
//   - In-memory tables (pkg/connector/memory)
//   - SQLite and MySQL (pkg/connector/sqldb)
//   - PostgreSQL (pkg/connector/postgres)
//   - MongoDB (pkg/connector/mongodb)
//   - Kafka partitions as a source (pkg/connector/kafka)
//
// # Configuration
//
// Hosts load a YAML file with config.Load. ${VAR_NAME} references are
// substituted and ROWBOT_ environment variables override settings:
//
//	pipeline:
//	  batch_size: 1000
//	  worker_count: 2
//	runner:
//	  max_parallelism: 4
//	connections:
//	  warehouse:
//	    driver: postgres
//	    dsn: ${WAREHOUSE_DSN}
//
// See cmd/rowbot for a complete host.
package rowbot
