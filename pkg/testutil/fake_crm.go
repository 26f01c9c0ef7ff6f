package testutil

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ajitpratap0/crmsync/pkg/crm"
	"github.com/ajitpratap0/crmsync/pkg/errors"
	"github.com/ajitpratap0/crmsync/pkg/models"
)

// Operation names used for call counting and failure injection.
const (
	OpLogin                = "login"
	OpLogout               = "logout"
	OpVersions             = "versions"
	OpGlobalObjects        = "global_objects"
	OpDescribeObject       = "describe_object"
	OpCountObject          = "count_object"
	OpQuery                = "query"
	OpListReports          = "list_reports"
	OpCreateReportInstance = "create_report_instance"
	OpReportInstance       = "report_instance"
	OpRunReport            = "run_report"
	OpCreateJob            = "create_job"
	OpCreateBatch          = "create_batch"
	OpGetBatch             = "get_batch"
	OpGetBatchResultIDs    = "get_batch_result_ids"
	OpGetBatchResult       = "get_batch_result"
	OpCloseJob             = "close_job"
)

// FakeCRM is an in-memory crm.Client. Populate the exported fields before use;
// they must not be mutated while calls are in flight.
type FakeCRM struct {
	VersionList    []crm.Version
	Objects        []crm.GlobalObject
	Descriptions   map[string]*crm.ObjectDescription
	Counts         map[string]int64
	Reports        []crm.ReportRef
	ReportPayloads map[string][]byte
	// QueryFunc answers Query; nil returns an empty result.
	QueryFunc func(soql string) (*crm.QueryResult, error)

	// BatchStates is returned by successive GetBatch calls; the last entry repeats.
	BatchStates       []models.BatchState
	BatchStateMessage string
	ResultIDs         []string
	Results           map[string]string

	// Errors injects failures keyed by "op" or "op:target".
	Errors map[string]error
	// Delays blocks a call keyed like Errors until the delay passes or ctx ends.
	Delays map[string]time.Duration

	mu        sync.Mutex
	calls     map[string]int
	batchPoll int
	soql      []string
	loggedIn  bool
}

var _ crm.Client = (*FakeCRM)(nil)

// NewFakeCRM returns an empty fake with a single supported API version.
func NewFakeCRM() *FakeCRM {
	return &FakeCRM{
		VersionList:    []crm.Version{{Label: "Winter '24", URL: "/services/data/v58.0", Version: "58.0"}},
		Descriptions:   make(map[string]*crm.ObjectDescription),
		Counts:         make(map[string]int64),
		ReportPayloads: make(map[string][]byte),
		Results:        make(map[string]string),
		Errors:         make(map[string]error),
		Delays:         make(map[string]time.Duration),
		calls:          make(map[string]int),
	}
}

// Calls returns how many times op was invoked.
func (f *FakeCRM) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Queries returns every SOQL text submitted through Query or CreateBatch.
func (f *FakeCRM) Queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.soql...)
}

// LoggedIn reports whether Login succeeded more recently than Logout.
func (f *FakeCRM) LoggedIn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loggedIn
}

func (f *FakeCRM) enter(ctx context.Context, op, target string) error {
	f.mu.Lock()
	f.calls[op]++
	delay := f.Delays[op+":"+target]
	if delay == 0 {
		delay = f.Delays[op]
	}
	err := f.Errors[op+":"+target]
	if err == nil {
		err = f.Errors[op]
	}
	f.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, op+" cancelled")
		case <-timer.C:
		}
	}
	return err
}

func (f *FakeCRM) Login(ctx context.Context) error {
	if err := f.enter(ctx, OpLogin, ""); err != nil {
		return err
	}
	f.mu.Lock()
	f.loggedIn = true
	f.mu.Unlock()
	return nil
}

func (f *FakeCRM) Logout(ctx context.Context) error {
	f.mu.Lock()
	f.loggedIn = false
	f.mu.Unlock()
	return f.enter(ctx, OpLogout, "")
}

func (f *FakeCRM) Versions(ctx context.Context) ([]crm.Version, error) {
	if err := f.enter(ctx, OpVersions, ""); err != nil {
		return nil, err
	}
	return f.VersionList, nil
}

func (f *FakeCRM) GlobalObjects(ctx context.Context) ([]crm.GlobalObject, error) {
	if err := f.enter(ctx, OpGlobalObjects, ""); err != nil {
		return nil, err
	}
	return f.Objects, nil
}

func (f *FakeCRM) DescribeObject(ctx context.Context, name string) (*crm.ObjectDescription, error) {
	if err := f.enter(ctx, OpDescribeObject, name); err != nil {
		return nil, err
	}
	d, ok := f.Descriptions[name]
	if !ok {
		return nil, errors.New(errors.ErrorTypeNotFound, "INVALID_TYPE: "+name)
	}
	return d, nil
}

func (f *FakeCRM) CountObject(ctx context.Context, name string) (int64, error) {
	if err := f.enter(ctx, OpCountObject, name); err != nil {
		return 0, err
	}
	return f.Counts[name], nil
}

func (f *FakeCRM) Query(ctx context.Context, soql string) (*crm.QueryResult, error) {
	f.mu.Lock()
	f.soql = append(f.soql, soql)
	f.mu.Unlock()
	if err := f.enter(ctx, OpQuery, ""); err != nil {
		return nil, err
	}
	if f.QueryFunc == nil {
		return &crm.QueryResult{Done: true}, nil
	}
	return f.QueryFunc(soql)
}

func (f *FakeCRM) ListReports(ctx context.Context, nameFilter string) ([]crm.ReportRef, error) {
	if err := f.enter(ctx, OpListReports, nameFilter); err != nil {
		return nil, err
	}
	var out []crm.ReportRef
	for _, r := range f.Reports {
		if nameFilter == "" || strings.Contains(r.Name, nameFilter) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *FakeCRM) CreateReportInstance(ctx context.Context, reportID string) (string, error) {
	if err := f.enter(ctx, OpCreateReportInstance, reportID); err != nil {
		return "", err
	}
	return "inst-" + reportID, nil
}

func (f *FakeCRM) ReportInstance(ctx context.Context, reportID, instanceID string) ([]byte, error) {
	if err := f.enter(ctx, OpReportInstance, reportID); err != nil {
		return nil, err
	}
	return f.reportPayload(reportID)
}

func (f *FakeCRM) RunReport(ctx context.Context, reportID string) ([]byte, error) {
	if err := f.enter(ctx, OpRunReport, reportID); err != nil {
		return nil, err
	}
	return f.reportPayload(reportID)
}

func (f *FakeCRM) reportPayload(reportID string) ([]byte, error) {
	p, ok := f.ReportPayloads[reportID]
	if !ok {
		return nil, errors.New(errors.ErrorTypeNotFound, "NOT_FOUND: report "+reportID)
	}
	return p, nil
}

func (f *FakeCRM) CreateJob(ctx context.Context, object string) (*models.BulkJob, error) {
	if err := f.enter(ctx, OpCreateJob, object); err != nil {
		return nil, err
	}
	return &models.BulkJob{ID: "750FAKE", Object: object, State: models.JobCreated}, nil
}

func (f *FakeCRM) CreateBatch(ctx context.Context, jobID, soql string) (*models.Batch, error) {
	f.mu.Lock()
	f.soql = append(f.soql, soql)
	f.mu.Unlock()
	if err := f.enter(ctx, OpCreateBatch, jobID); err != nil {
		return nil, err
	}
	return &models.Batch{ID: "751FAKE", JobID: jobID, State: models.BatchQueued}, nil
}

func (f *FakeCRM) GetBatch(ctx context.Context, jobID, batchID string) (*models.Batch, error) {
	if err := f.enter(ctx, OpGetBatch, batchID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	state := models.BatchCompleted
	if n := len(f.BatchStates); n > 0 {
		i := f.batchPoll
		if i >= n {
			i = n - 1
		}
		state = f.BatchStates[i]
	}
	f.batchPoll++
	return &models.Batch{ID: batchID, JobID: jobID, State: state, StateMessage: f.BatchStateMessage}, nil
}

func (f *FakeCRM) GetBatchResultIDs(ctx context.Context, jobID, batchID string) ([]string, error) {
	if err := f.enter(ctx, OpGetBatchResultIDs, batchID); err != nil {
		return nil, err
	}
	return f.ResultIDs, nil
}

func (f *FakeCRM) GetBatchResult(ctx context.Context, jobID, batchID, resultID string) (io.ReadCloser, error) {
	if err := f.enter(ctx, OpGetBatchResult, resultID); err != nil {
		return nil, err
	}
	body, ok := f.Results[resultID]
	if !ok {
		return nil, errors.New(errors.ErrorTypeNotFound, "result "+resultID+" not found")
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (f *FakeCRM) CloseJob(ctx context.Context, jobID string) (*models.BulkJob, error) {
	if err := f.enter(ctx, OpCloseJob, jobID); err != nil {
		return nil, err
	}
	return &models.BulkJob{ID: jobID, State: models.JobClosed}, nil
}

// FakeFactory returns a factory handing out client for every credential set
// and a counter of how many times it was invoked.
func FakeFactory(client crm.Client) (func(models.Credentials) (crm.Client, error), func() int) {
	var mu sync.Mutex
	n := 0
	factory := func(models.Credentials) (crm.Client, error) {
		mu.Lock()
		n++
		mu.Unlock()
		return client, nil
	}
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return n
	}
	return factory, count
}
