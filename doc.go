// Package crmsync discovers the exportable datasets of a CRM account and
// extracts their rows as normalized records.
//
// A dataset is either an object (a table-like entity such as Account or
// Lead) or a saved report. Discovery builds a catalog of both kinds with
// their columns, keys and row counts; extraction reads the rows of one
// dataset through the asynchronous bulk API, a windowed query, or a
// synchronous report run.
//
// # Quick Start
//
//	cfg := config.NewConfig()
//	svc := service.New(cfg, nil, logger.Get())
//	defer svc.Close(ctx)
//
//	catalog, err := svc.BuildCatalog(ctx, creds, "")
//	for _, ds := range catalog {
//	    records, err := svc.FetchRecords(ctx, creds, ds, 0, 0)
//	    ...
//	}
//
// # Key Packages
//
//	pkg/service      - Caller-facing facade
//	pkg/catalog      - Two-phase metadata discovery
//	pkg/bulk         - Bulk job lifecycle and windowed reads
//	pkg/connector    - Per-credential session cache
//	pkg/crm          - REST and Bulk API wire client
//	pkg/normalizer   - Field name and value normalization
//	pkg/report       - Report metadata and row extraction
//	pkg/clients      - Rate limiting, circuit breaking and retries for HTTP
//	pkg/config       - Unified configuration management
//	pkg/errors       - Structured error handling
//	pkg/logger       - Structured logging
//	pkg/metrics      - Prometheus metrics
//	pkg/observability - OpenTelemetry tracing
//
// # Configuration
//
// Configuration is YAML with ${VAR_NAME} substitution and CRMSYNC_*
// environment overrides:
//
//	type Config struct {
//	    CRM           CRMConfig           // API version, credentials
//	    Performance   PerformanceConfig   // Discovery workers
//	    Timeouts      TimeoutConfig       // Connection, request timeouts
//	    Reliability   ReliabilityConfig   // Retries, rate limiting, circuit breakers
//	    Bulk          BulkConfig          // Poll interval and bounds
//	    Report        ReportConfig        // Instance readiness wait
//	    Catalog       CatalogConfig       // Await termination, denylist extensions
//	    Observability ObservabilityConfig // Logging, metrics, tracing
//	}
//
// # Command Line
//
//	crmsync catalog --config crmsync.yaml
//	crmsync fetch --object Account --limit 1000
//	crmsync fetch --report 00O5g000004ABCD
//	crmsync test-connection
package crmsync
