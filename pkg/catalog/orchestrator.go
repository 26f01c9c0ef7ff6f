// Package catalog discovers the datasets an account can export.
//
// BuildCatalog runs in two phases. Phase 1 lists object types and saved
// reports concurrently; a failure there fails the whole call. Phase 2 enriches
// every candidate on a bounded worker pool (describe plus row count for
// objects, a report run for reports); a failed task drops only its own dataset.
// Objects without rows and reports in unsupported formats are left out of the
// result, which has no defined order.
package catalog

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ajitpratap0/crmsync/pkg/config"
	"github.com/ajitpratap0/crmsync/pkg/connector"
	"github.com/ajitpratap0/crmsync/pkg/crm"
	"github.com/ajitpratap0/crmsync/pkg/errors"
	"github.com/ajitpratap0/crmsync/pkg/logger"
	"github.com/ajitpratap0/crmsync/pkg/metrics"
	"github.com/ajitpratap0/crmsync/pkg/models"
	"github.com/ajitpratap0/crmsync/pkg/normalizer"
	"github.com/ajitpratap0/crmsync/pkg/observability"
	"github.com/ajitpratap0/crmsync/pkg/report"
)

// IDFieldType is the declared type of identifier fields.
const IDFieldType = "id"

// unsupportedObjects cannot be queried in bulk or have no standalone rows.
var unsupportedObjects = []string{
	"AcceptedEventRelation", "ActivityHistory", "AggregateResult",
	"AttachedContentDocument", "CaseStatus", "CombinedAttachment",
	"ContractStatus", "DeclinedEventRelation", "EmailStatus",
	"LeadStatus", "LookedUpFromActivity", "Name", "NoteAndAttachment",
	"OpenActivity", "OwnedContentDocument", "PartnerRole",
	"ProcessInstanceHistory", "RecentlyViewed", "SolutionStatus",
	"TaskPriority", "TaskStatus", "UndecidedEventRelation",
	"UserRecordAccess",
}

// UnsupportedObjects returns the built-in denylist.
func UnsupportedObjects() []string {
	return append([]string(nil), unsupportedObjects...)
}

// Options tunes discovery.
type Options struct {
	// Workers bounds concurrent phase 2 tasks
	Workers int
	// AwaitTermination bounds the phase 2 join; unfinished tasks are abandoned
	AwaitTermination    time.Duration
	ReportReadyAttempts int
	ReportReadyDelay    time.Duration
	// ExtraUnsupported extends the built-in denylist
	ExtraUnsupported []string
}

// OptionsFrom derives Options from the application config.
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		Workers:             cfg.Performance.Workers,
		AwaitTermination:    cfg.Catalog.AwaitTermination,
		ReportReadyAttempts: cfg.Report.ReadyAttempts,
		ReportReadyDelay:    cfg.Report.ReadyDelay,
		ExtraUnsupported:    cfg.Catalog.ExtraUnsupportedObjects,
	}
}

// Result is the outcome of one phase 2 task.
type Result struct {
	Dataset models.Dataset
	Err     error
}

// Orchestrator builds catalogs.
type Orchestrator struct {
	registry *connector.Registry
	parser   *report.Parser
	opts     Options
	deny     map[string]struct{}
	logger   *zap.Logger
}

// NewOrchestrator creates an Orchestrator using sessions from registry.
func NewOrchestrator(registry *connector.Registry, opts Options, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = logger.Get()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.AwaitTermination <= 0 {
		opts.AwaitTermination = 15 * time.Minute
	}

	deny := make(map[string]struct{}, len(unsupportedObjects)+len(opts.ExtraUnsupported))
	for _, n := range unsupportedObjects {
		deny[n] = struct{}{}
	}
	for _, n := range opts.ExtraUnsupported {
		deny[n] = struct{}{}
	}

	return &Orchestrator{
		registry: registry,
		parser:   report.NewParser(log),
		opts:     opts,
		deny:     deny,
		logger:   log.With(zap.String("component", "catalog")),
	}
}

// BuildCatalog discovers the exportable datasets of the account behind creds.
func (o *Orchestrator) BuildCatalog(ctx context.Context, creds models.Credentials, nameFilter string) (_ []models.Dataset, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "catalog.build", attribute.String("name_filter", nameFilter))
	defer func() { span.End(err) }()

	log := logger.FromContext(ctx, o.logger)

	conn, err := o.registry.Ensure(ctx, creds)
	if err != nil {
		return nil, err
	}
	client := conn.Client()

	objects, reports, err := o.list(ctx, client, nameFilter)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeAuthentication) {
			o.registry.Evict(ctx, creds)
		}
		return nil, errors.Wrap(err, errors.TypeOf(err), "catalog listing failed")
	}
	log.Info("catalog candidates listed",
		zap.Int("objects", len(objects)),
		zap.Int("reports", len(reports)),
		zap.Duration("elapsed", time.Since(start)))

	results := o.enrich(ctx, client, objects, reports)

	catalog := make([]models.Dataset, 0, len(results))
	authFailed := false
	for _, r := range results {
		if r.Err != nil {
			if errors.IsType(r.Err, errors.ErrorTypeAuthentication) {
				authFailed = true
			}
			continue
		}
		if o.keep(log, r.Dataset) {
			catalog = append(catalog, r.Dataset)
		}
	}
	if authFailed {
		o.registry.Evict(ctx, creds)
	}

	if ctx.Err() != nil {
		return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "catalog build cancelled")
	}

	log.Info("catalog built",
		zap.Int("datasets", len(catalog)),
		zap.Int("candidates", len(objects)+len(reports)),
		zap.Duration("elapsed", time.Since(start)))
	return catalog, nil
}

// list is phase 1.
func (o *Orchestrator) list(ctx context.Context, client crm.Client, nameFilter string) ([]crm.GlobalObject, []crm.ReportRef, error) {
	ctx, span := observability.StartSpan(ctx, "catalog.list")
	var objects []crm.GlobalObject
	var reports []crm.ReportRef

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		all, err := client.GlobalObjects(gctx)
		if err != nil {
			return err
		}
		for _, obj := range all {
			if o.candidate(gctx, obj, nameFilter) {
				objects = append(objects, obj)
			}
		}
		return nil
	})
	g.Go(func() error {
		var err error
		reports, err = client.ListReports(gctx, nameFilter)
		return err
	})

	err := g.Wait()
	span.End(err)
	return objects, reports, err
}

func (o *Orchestrator) candidate(ctx context.Context, obj crm.GlobalObject, nameFilter string) bool {
	if !obj.Queryable || !obj.Retrievable {
		return false
	}
	if _, denied := o.deny[obj.Name]; denied {
		logger.FromContext(ctx, o.logger).Debug("skipping unsupported object", zap.String("object", obj.Name))
		return false
	}
	return nameFilter == "" || obj.Name == nameFilter
}

type task struct {
	kind models.DatasetKind
	name string
	run  func(ctx context.Context) (models.Dataset, error)
}

// enrich is phase 2. Results of tasks still running when the await window
// closes are discarded.
func (o *Orchestrator) enrich(ctx context.Context, client crm.Client, objects []crm.GlobalObject, reports []crm.ReportRef) []Result {
	ctx, span := observability.StartSpan(ctx, "catalog.enrich",
		attribute.Int("objects", len(objects)),
		attribute.Int("reports", len(reports)))
	defer span.End(nil)

	tasks := make([]task, 0, len(objects)+len(reports))
	for _, obj := range objects {
		obj := obj
		tasks = append(tasks, task{kind: models.KindObject, name: obj.Name, run: func(ctx context.Context) (models.Dataset, error) {
			ds, err := o.describeObject(ctx, client, obj)
			if err != nil {
				return nil, err
			}
			return ds, nil
		}})
	}
	for _, ref := range reports {
		ref := ref
		tasks = append(tasks, task{kind: models.KindReport, name: ref.Name, run: func(ctx context.Context) (models.Dataset, error) {
			ds, err := o.describeReport(ctx, client, ref)
			if err != nil {
				return nil, err
			}
			return ds, nil
		}})
	}
	if len(tasks) == 0 {
		return nil
	}

	poolCtx, cancel := context.WithTimeout(ctx, o.opts.AwaitTermination)
	defer cancel()

	log := logger.FromContext(ctx, o.logger)
	sem := semaphore.NewWeighted(int64(o.opts.Workers))
	out := make(chan Result, len(tasks))

	go func() {
		for _, t := range tasks {
			if err := sem.Acquire(poolCtx, 1); err != nil {
				return
			}
			go func(t task) {
				defer sem.Release(1)
				ds, err := t.run(poolCtx)
				if err != nil {
					metrics.CatalogDatasets.WithLabelValues(string(t.kind), metrics.OutcomeFailed).Inc()
					log.Warn("dataset discovery failed, skipping",
						zap.String("kind", string(t.kind)),
						zap.String("dataset", t.name),
						zap.Error(err))
					err = errors.Wrap(err, errors.ErrorTypePartialMetadata, "discovery failed for "+t.name)
				}
				out <- Result{Dataset: ds, Err: err}
			}(t)
		}
	}()

	results := make([]Result, 0, len(tasks))
	for len(results) < len(tasks) {
		select {
		case r := <-out:
			results = append(results, r)
		case <-poolCtx.Done():
			log.Warn("discovery window elapsed, abandoning unfinished tasks",
				zap.Int("finished", len(results)),
				zap.Int("abandoned", len(tasks)-len(results)),
				zap.Duration("await_termination", o.opts.AwaitTermination))
			return results
		}
	}
	return results
}

func (o *Orchestrator) describeObject(ctx context.Context, client crm.Client, obj crm.GlobalObject) (*models.ObjectDataset, error) {
	desc, err := client.DescribeObject(ctx, obj.Name)
	if err != nil {
		return nil, err
	}

	ds := &models.ObjectDataset{
		Name:        obj.Name,
		Label:       obj.Label,
		Queryable:   obj.Queryable,
		Retrievable: obj.Retrievable,
		PrimaryKeys: []string{},
		ForeignKeys: make(map[string]string),
		Columns:     make([]models.Column, 0, len(desc.Fields)),
	}
	for _, f := range desc.Fields {
		name := normalizer.NormalizeFieldName(f.Name)
		ds.Columns = append(ds.Columns, models.Column{
			FieldName: name,
			Alias:     f.Label,
			Type:      models.Classify(f.Type),
		})
		if f.Type == IDFieldType {
			ds.PrimaryKeys = append(ds.PrimaryKeys, name)
		}
	}
	for _, rel := range desc.ChildRelationships {
		if rel.Field == "" || rel.ChildSObject == "" {
			continue
		}
		ds.ForeignKeys[normalizer.NormalizeFieldName(rel.Field)] = rel.ChildSObject
	}

	count, err := client.CountObject(ctx, obj.Name)
	if err != nil {
		return nil, err
	}
	ds.RowCount = count
	return ds, nil
}

func (o *Orchestrator) describeReport(ctx context.Context, client crm.Client, ref crm.ReportRef) (*models.ReportDataset, error) {
	instanceID, err := client.CreateReportInstance(ctx, ref.ID)
	if err != nil {
		return nil, err
	}

	doc, err := report.WaitForInstance(ctx, func(ctx context.Context) ([]byte, error) {
		return client.ReportInstance(ctx, ref.ID, instanceID)
	}, o.opts.ReportReadyAttempts, o.opts.ReportReadyDelay)
	if err != nil {
		return nil, err
	}

	ds := &models.ReportDataset{ID: ref.ID, Name: ref.Name, Format: doc.Format()}
	desc, err := o.parser.Describe(doc)
	switch {
	case errors.IsType(err, errors.ErrorTypeUnsupportedFormat):
		ds.RowCount = models.RowCountUnavailable
		return ds, nil
	case err != nil:
		return nil, err
	}
	ds.RowCount = desc.RowCount
	ds.Columns = desc.Columns
	return ds, nil
}

// keep applies the post-join filters.
func (o *Orchestrator) keep(log *zap.Logger, ds models.Dataset) bool {
	var keep bool
	switch d := ds.(type) {
	case *models.ObjectDataset:
		keep = d.RowCount != 0
	case *models.ReportDataset:
		keep = d.Format.Supported()
	default:
		log.Error("unknown dataset variant", zap.Any("dataset", ds))
		return false
	}

	outcome := metrics.OutcomeIncluded
	if !keep {
		outcome = metrics.OutcomeDropped
		log.Debug("dataset filtered out", zap.String("kind", string(ds.Kind())), zap.String("dataset", ds.DisplayName()))
	}
	metrics.CatalogDatasets.WithLabelValues(string(ds.Kind()), outcome).Inc()
	return keep
}
