// Package service is the caller-facing facade over catalog discovery and
// record extraction. Every call gets its own request ID in the log context.
package service

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/crmsync/pkg/bulk"
	"github.com/ajitpratap0/crmsync/pkg/catalog"
	"github.com/ajitpratap0/crmsync/pkg/clients"
	"github.com/ajitpratap0/crmsync/pkg/config"
	"github.com/ajitpratap0/crmsync/pkg/connector"
	"github.com/ajitpratap0/crmsync/pkg/crm"
	"github.com/ajitpratap0/crmsync/pkg/errors"
	"github.com/ajitpratap0/crmsync/pkg/logger"
	"github.com/ajitpratap0/crmsync/pkg/models"
	"github.com/ajitpratap0/crmsync/pkg/normalizer"
	"github.com/ajitpratap0/crmsync/pkg/report"
)

// Service wires the registry, catalog orchestrator and bulk pipeline together.
type Service struct {
	registry   *connector.Registry
	catalog    *catalog.Orchestrator
	bulk       *bulk.Pipeline
	parser     *report.Parser
	normalizer *normalizer.Normalizer
	logger     *zap.Logger
}

// NewClientFactory returns a factory building REST clients that share one
// rate-limited HTTP client.
func NewClientFactory(cfg *config.Config, base http.RoundTripper, log *zap.Logger) connector.Factory {
	httpClient := clients.NewHTTPClient(clients.HTTPConfigFrom(cfg), base, log)
	retry := clients.NewRetryPolicy(cfg.Reliability.RetryAttempts, cfg.Reliability.RetryDelay, cfg.Reliability.MaxRetryDelay)

	return func(creds models.Credentials) (crm.Client, error) {
		if err := creds.Validate(); err != nil {
			return nil, err
		}
		return crm.NewRESTClient(creds, crm.Options{
			APIVersion: cfg.CRM.APIVersion,
			HTTPClient: httpClient,
			Retry:      retry,
			Logger:     log,
		}), nil
	}
}

// New creates a Service. A nil factory uses NewClientFactory.
func New(cfg *config.Config, factory connector.Factory, log *zap.Logger) *Service {
	if log == nil {
		log = logger.Get()
	}
	if factory == nil {
		factory = NewClientFactory(cfg, nil, log)
	}

	registry := connector.NewRegistry(factory, log)
	return &Service{
		registry:   registry,
		catalog:    catalog.NewOrchestrator(registry, catalog.OptionsFrom(cfg), log),
		bulk:       bulk.NewPipeline(registry, bulk.OptionsFrom(cfg), log),
		parser:     report.NewParser(log),
		normalizer: normalizer.New(log),
		logger:     log.With(zap.String("component", "service")),
	}
}

// Registry exposes the connector cache.
func (s *Service) Registry() *connector.Registry {
	return s.registry
}

// Close stops every cached connector.
func (s *Service) Close(ctx context.Context) error {
	return s.registry.Close(ctx)
}

func (s *Service) begin(ctx context.Context, op string, creds models.Credentials) (context.Context, *zap.Logger, error) {
	ctx, _ = logger.NewRequestContext(ctx)
	ctx = logger.WithFingerprint(ctx, creds.Fingerprint())
	log := logger.FromContext(ctx, s.logger).With(zap.String("operation", op))
	if err := creds.Validate(); err != nil {
		return ctx, log, err
	}
	return ctx, log, nil
}

// finish logs the outcome of op and evicts the session on authentication failures.
func (s *Service) finish(ctx context.Context, log *zap.Logger, creds models.Credentials, start time.Time, err error) {
	elapsed := zap.Duration("elapsed", time.Since(start))
	if err == nil {
		log.Info("operation finished", elapsed)
		return
	}
	if errors.IsType(err, errors.ErrorTypeAuthentication) {
		s.registry.Evict(ctx, creds)
	}
	log.Error("operation failed", elapsed, zap.Error(err))
}

// BuildCatalog lists the exportable objects and reports behind creds.
// nameFilter matches object names exactly and report names by substring.
func (s *Service) BuildCatalog(ctx context.Context, creds models.Credentials, nameFilter string) (_ []models.Dataset, err error) {
	start := time.Now()
	ctx, log, err := s.begin(ctx, "build_catalog", creds)
	defer func() { s.finish(ctx, log, creds, start, err) }()
	if err != nil {
		return nil, err
	}
	return s.catalog.BuildCatalog(ctx, creds, nameFilter)
}

// FetchRecords reads the rows of ds.
//
// Objects use the bulk API unless offset > 0, in which case a single
// windowed query is issued. Reports are run synchronously and every detail
// row is returned; limit and offset do not apply to them.
func (s *Service) FetchRecords(ctx context.Context, creds models.Credentials, ds models.Dataset, limit, offset int) (_ []models.Record, err error) {
	start := time.Now()
	ctx, log, err := s.begin(ctx, "fetch_records", creds)
	defer func() { s.finish(ctx, log, creds, start, err) }()
	if err != nil {
		return nil, err
	}

	switch d := ds.(type) {
	case *models.ObjectDataset:
		if offset > 0 {
			return s.bulk.Window(ctx, creds, d.Name, nil, limit, offset)
		}
		return s.bulk.Export(ctx, creds, d.Name, nil, limit)
	case *models.ReportDataset:
		return s.fetchReport(ctx, creds, d)
	default:
		return nil, errors.New(errors.ErrorTypeValidation, "unknown dataset kind").
			WithDetail("dataset", ds.DisplayName())
	}
}

func (s *Service) fetchReport(ctx context.Context, creds models.Credentials, d *models.ReportDataset) ([]models.Record, error) {
	conn, err := s.registry.Ensure(ctx, creds)
	if err != nil {
		return nil, err
	}
	data, err := conn.Client().RunReport(ctx, d.ID)
	if err != nil {
		return nil, errors.Wrap(err, errors.TypeOf(err), "run report "+d.ID+" failed")
	}
	doc, err := report.Parse(data)
	if err != nil {
		return nil, err
	}
	return s.parser.ExtractRows(doc)
}

// TestConnection verifies that creds can log in and reach the API.
func (s *Service) TestConnection(ctx context.Context, creds models.Credentials) (err error) {
	start := time.Now()
	ctx, log, err := s.begin(ctx, "test_connection", creds)
	defer func() { s.finish(ctx, log, creds, start, err) }()
	if err != nil {
		return err
	}

	conn, err := s.registry.Ensure(ctx, creds)
	if err != nil {
		return err
	}
	versions, err := conn.Client().Versions(ctx)
	if err != nil {
		return errors.Wrap(err, errors.TypeOf(err), "connection test failed")
	}
	if len(versions) == 0 {
		return errors.New(errors.ErrorTypeConnection, "no API versions available")
	}
	return nil
}

// GetObject returns the single row of objectName with the given id.
func (s *Service) GetObject(ctx context.Context, creds models.Credentials, objectName, id string) (_ models.Record, err error) {
	start := time.Now()
	ctx, log, err := s.begin(ctx, "get_object", creds)
	defer func() { s.finish(ctx, log, creds, start, err) }()
	if err != nil {
		return nil, err
	}

	conn, err := s.registry.Ensure(ctx, creds)
	if err != nil {
		return nil, err
	}
	client := conn.Client()

	desc, err := client.DescribeObject(ctx, objectName)
	if err != nil {
		return nil, errors.Wrap(err, errors.TypeOf(err), "describe "+objectName+" failed")
	}
	res, err := client.Query(ctx, crm.ByIDQuery(objectName, desc.FieldNames(), id))
	if err != nil {
		return nil, errors.Wrap(err, errors.TypeOf(err), "query "+objectName+" failed")
	}
	if len(res.Records) == 0 {
		return nil, errors.New(errors.ErrorTypeNotFound, "record not found").
			WithDetail("object", objectName).
			WithDetail("id", id)
	}
	return s.normalizer.Normalize(bulk.Flatten(res.Records[0]), desc.TypeMap()), nil
}
