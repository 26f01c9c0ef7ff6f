// Package bulk exports object rows through the asynchronous bulk API, with a
// synchronous LIMIT/OFFSET path for small windows.
//
// An export walks one job through
//
//	create job -> create batch -> poll batch -> stream results -> close job
//
// Polling stops on a terminal batch state or when either poll bound is hit.
// The job is closed exactly once on every path after it was created.
package bulk

import (
	"context"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/crmsync/pkg/config"
	"github.com/ajitpratap0/crmsync/pkg/connector"
	"github.com/ajitpratap0/crmsync/pkg/crm"
	"github.com/ajitpratap0/crmsync/pkg/errors"
	"github.com/ajitpratap0/crmsync/pkg/logger"
	"github.com/ajitpratap0/crmsync/pkg/metrics"
	"github.com/ajitpratap0/crmsync/pkg/models"
	"github.com/ajitpratap0/crmsync/pkg/normalizer"
	"github.com/ajitpratap0/crmsync/pkg/observability"
)

const compoundSoapPrefix = "urn:"

// Options bounds batch polling. A zero MaxPolls or MaxWait disables that bound.
type Options struct {
	PollInterval time.Duration
	MaxPolls     int
	MaxWait      time.Duration
}

// OptionsFrom derives Options from the application config.
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		PollInterval: cfg.Bulk.PollInterval,
		MaxPolls:     cfg.Bulk.MaxPolls,
		MaxWait:      cfg.Bulk.MaxWait,
	}
}

// Pipeline runs exports using sessions from a connector registry.
type Pipeline struct {
	registry   *connector.Registry
	normalizer *normalizer.Normalizer
	opts       Options
	logger     *zap.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(registry *connector.Registry, opts Options, log *zap.Logger) *Pipeline {
	if log == nil {
		log = logger.Get()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	return &Pipeline{
		registry:   registry,
		normalizer: normalizer.New(log),
		opts:       opts,
		logger:     log.With(zap.String("component", "bulk")),
	}
}

// SelectBulkFields lists the fields of desc that bulk queries can select.
// Compound fields (address, location) are excluded.
func SelectBulkFields(desc *crm.ObjectDescription) []string {
	fields := make([]string, 0, len(desc.Fields))
	for _, f := range desc.Fields {
		if strings.HasPrefix(f.SoapType, compoundSoapPrefix) {
			continue
		}
		fields = append(fields, f.Name)
	}
	return fields
}

func (p *Pipeline) session(ctx context.Context, creds models.Credentials, object string) (crm.Client, *crm.ObjectDescription, error) {
	conn, err := p.registry.Ensure(ctx, creds)
	if err != nil {
		return nil, nil, err
	}
	client := conn.Client()
	desc, err := client.DescribeObject(ctx, object)
	if err != nil {
		return nil, nil, p.fail(ctx, creds, err, "describe "+object+" failed")
	}
	return client, desc, nil
}

// fail wraps err and evicts the session when the CRM rejected it.
func (p *Pipeline) fail(ctx context.Context, creds models.Credentials, err error, msg string) error {
	if errors.IsType(err, errors.ErrorTypeAuthentication) {
		p.registry.Evict(ctx, creds)
	}
	return errors.Wrap(err, errors.TypeOf(err), msg)
}

// Export runs a bulk query over object and returns every row normalized.
// Empty fields selects every bulk-safe field; limit <= 0 means no limit.
func (p *Pipeline) Export(ctx context.Context, creds models.Credentials, object string, fields []string, limit int) (records []models.Record, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "bulk.export", attribute.String("object", object))
	defer func() { span.End(err) }()

	client, desc, err := p.session(ctx, creds, object)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		fields = SelectBulkFields(desc)
	}
	types := desc.TypeMap()

	job, err := client.CreateJob(ctx, object)
	if err != nil {
		return nil, p.fail(ctx, creds, err, "create bulk job failed")
	}

	ctx = logger.WithJobID(ctx, job.ID)
	log := logger.FromContext(ctx, p.logger).With(zap.String("object", object))
	log.Info("bulk job created")

	defer func() {
		outcome := "completed"
		if err != nil {
			outcome = string(errors.TypeOf(err))
		}
		metrics.BulkJobs.WithLabelValues(outcome).Inc()
		if err != nil && job.State != models.JobFailed {
			transition(job, models.JobFailed, log)
		}

		// a close failure never invalidates rows already read
		if _, cerr := client.CloseJob(context.WithoutCancel(ctx), job.ID); cerr != nil {
			log.Warn("failed to close bulk job", zap.Error(cerr))
			return
		}
		transition(job, models.JobClosed, log)
	}()

	batch, err := client.CreateBatch(ctx, job.ID, crm.BulkQuery(object, fields, limit))
	if err != nil {
		return nil, p.fail(ctx, creds, err, "create bulk batch failed")
	}
	transition(job, models.JobBatchCreated, log)

	batch, err = p.await(ctx, client, batch, log)
	if err != nil {
		return nil, p.fail(ctx, creds, err, "bulk batch did not complete")
	}

	switch batch.State {
	case models.BatchCompleted:
		transition(job, models.JobCompleted, log)
	case models.BatchFailed, models.BatchNotProcessed:
		transition(job, models.JobFailed, log)
		return nil, errors.New(errors.ErrorTypeBulkJobFailed, batch.StateMessage).
			WithDetail("job_id", job.ID).
			WithDetail("batch_id", batch.ID).
			WithDetail("state", string(batch.State))
	default:
		return nil, errors.New(errors.ErrorTypeBulkJobFailed, "unexpected batch state "+string(batch.State)).
			WithDetail("job_id", job.ID)
	}

	resultIDs, err := client.GetBatchResultIDs(ctx, job.ID, batch.ID)
	if err != nil {
		return nil, p.fail(ctx, creds, err, "list bulk results failed")
	}

	for _, id := range resultIDs {
		records, err = p.stream(ctx, client, job.ID, batch.ID, id, types, records)
		if err != nil {
			return nil, p.fail(ctx, creds, err, "read bulk result "+id+" failed")
		}
		log.Debug("bulk result read", zap.String("result_id", id), zap.Int("rows", len(records)))
	}

	metrics.BulkRows.WithLabelValues(object).Add(float64(len(records)))
	log.Info("bulk export finished",
		zap.Int("rows", len(records)),
		zap.Int("results", len(resultIDs)),
		zap.Duration("elapsed", time.Since(start)))
	return records, nil
}

// transition moves job to state.
func transition(job *models.BulkJob, state models.JobState, log *zap.Logger) {
	log.Debug("bulk job state changed",
		zap.String("from", string(job.State)),
		zap.String("to", string(state)))
	job.State = state
}

// await polls until batch leaves the pending states or a poll bound is hit.
func (p *Pipeline) await(ctx context.Context, client crm.Client, batch *models.Batch, log *zap.Logger) (*models.Batch, error) {
	var deadline time.Time
	if p.opts.MaxWait > 0 {
		deadline = time.Now().Add(p.opts.MaxWait)
	}
	polls := 0
	for batch.State.Pending() {
		capped := p.opts.MaxPolls > 0 && polls >= p.opts.MaxPolls
		expired := !deadline.IsZero() && !time.Now().Before(deadline)
		if capped || expired {
			return nil, errors.New(errors.ErrorTypeTimeout, "bulk batch still pending").
				WithDetail("batch_id", batch.ID).
				WithDetail("polls", polls).
				WithDetail("state", string(batch.State))
		}

		timer := time.NewTimer(p.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "bulk polling cancelled")
		case <-timer.C:
		}

		next, err := client.GetBatch(ctx, batch.JobID, batch.ID)
		if err != nil {
			return nil, err
		}
		polls++
		metrics.BulkPolls.Inc()
		log.Debug("bulk batch polled", zap.String("state", string(next.State)), zap.Int("poll", polls))
		batch = next
	}
	return batch, nil
}

func (p *Pipeline) stream(ctx context.Context, client crm.Client, jobID, batchID, resultID string, types map[string]string, records []models.Record) ([]models.Record, error) {
	body, err := client.GetBatchResult(ctx, jobID, batchID, resultID)
	if err != nil {
		return records, err
	}
	defer body.Close()

	rr := crm.NewRecordReader(body)
	for {
		raw, err := rr.Next()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, p.normalizer.Normalize(Flatten(raw), types))
	}
}

// Window reads rows [offset, offset+limit) with a single synchronous query.
// Empty fields selects every field.
func (p *Pipeline) Window(ctx context.Context, creds models.Credentials, object string, fields []string, limit, offset int) (_ []models.Record, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "bulk.window",
		attribute.String("object", object),
		attribute.Int("limit", limit),
		attribute.Int("offset", offset))
	defer func() { span.End(err) }()

	client, desc, err := p.session(ctx, creds, object)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		fields = desc.FieldNames()
	}

	res, err := client.Query(ctx, crm.WindowQuery(object, fields, limit, offset))
	if err != nil {
		return nil, p.fail(ctx, creds, err, "windowed query failed")
	}

	types := desc.TypeMap()
	records := make([]models.Record, 0, len(res.Records))
	for _, raw := range res.Records {
		records = append(records, p.normalizer.Normalize(Flatten(raw), types))
	}

	logger.FromContext(ctx, p.logger).Info("windowed fetch finished",
		zap.String("object", object),
		zap.Int("rows", len(records)),
		zap.Duration("elapsed", time.Since(start)))
	return records, nil
}

// Flatten lifts relationship sub-records into dotted keys, so
// {"Owner": {"Name": "Ada"}} becomes {"Owner.Name": "Ada"}.
func Flatten(raw map[string]interface{}) map[string]interface{} {
	nested := false
	for _, v := range raw {
		if isRelationship(v) {
			nested = true
			break
		}
	}
	if !nested {
		return raw
	}

	out := make(map[string]interface{}, len(raw))
	flattenInto(out, "", raw)
	return out
}

func flattenInto(out map[string]interface{}, prefix string, m map[string]interface{}) {
	for k, v := range m {
		if k == "attributes" {
			continue
		}
		if sub, ok := v.(map[string]interface{}); ok && isRelationship(sub) {
			flattenInto(out, prefix+k+".", sub)
			continue
		}
		out[prefix+k] = v
	}
}

// isRelationship distinguishes a related record from a value map such as a
// nil marker or a label/value cell.
func isRelationship(v interface{}) bool {
	m, ok := v.(map[string]interface{})
	if !ok {
		return false
	}
	if _, isNil := m["nil"]; isNil {
		return false
	}
	_, hasLabel := m["label"]
	_, hasValue := m["value"]
	return !(hasLabel && hasValue)
}
