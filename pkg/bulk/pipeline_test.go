package bulk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ajitpratap0/crmsync/pkg/connector"
	"github.com/ajitpratap0/crmsync/pkg/crm"
	"github.com/ajitpratap0/crmsync/pkg/errors"
	"github.com/ajitpratap0/crmsync/pkg/models"
	"github.com/ajitpratap0/crmsync/pkg/testutil"
)

const resultPage1 = `<?xml version="1.0" encoding="UTF-8"?>
<queryResult xmlns="http://www.force.com/2009/06/asyncapi/dataload" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">
 <records xsi:type="sObject">
  <type>Account</type>
  <Id>001A</Id>
  <Id>001A</Id>
  <Name>Acme</Name>
  <NumberOfEmployees>120</NumberOfEmployees>
  <IsDeleted>false</IsDeleted>
  <Owner xsi:type="sObject"><type>User</type><Alias>ada</Alias></Owner>
 </records>
 <records xsi:type="sObject">
  <type>Account</type>
  <Id>001B</Id>
  <Name>Globex</Name>
  <NumberOfEmployees xsi:nil="true"/>
  <IsDeleted>false</IsDeleted>
 </records>
</queryResult>`

const resultPage2 = `<?xml version="1.0" encoding="UTF-8"?>
<queryResult xmlns="http://www.force.com/2009/06/asyncapi/dataload" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">
 <records xsi:type="sObject">
  <type>Account</type>
  <Id>001C</Id>
  <Name>Initech</Name>
  <NumberOfEmployees>not-a-number</NumberOfEmployees>
  <IsDeleted>false</IsDeleted>
 </records>
</queryResult>`

func accountDescription() *crm.ObjectDescription {
	return &crm.ObjectDescription{
		Name: "Account",
		Fields: []crm.Field{
			{Name: "Id", Type: "id", SoapType: "tns:ID"},
			{Name: "Name", Type: "string", SoapType: "xsd:string"},
			{Name: "NumberOfEmployees", Type: "int", SoapType: "xsd:int"},
			{Name: "IsDeleted", Type: "boolean", SoapType: "xsd:boolean"},
			{Name: "BillingAddress", Type: "address", SoapType: "urn:address"},
		},
	}
}

func newFixture() *testutil.FakeCRM {
	fake := testutil.NewFakeCRM()
	fake.Descriptions["Account"] = accountDescription()
	fake.ResultIDs = []string{"752A", "752B"}
	fake.Results["752A"] = resultPage1
	fake.Results["752B"] = resultPage2
	return fake
}

func newPipeline(t *testing.T, fake *testutil.FakeCRM, opts Options) (*Pipeline, *connector.Registry) {
	factory, _ := testutil.FakeFactory(fake)
	reg := connector.NewRegistry(factory, zaptest.NewLogger(t))
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Millisecond
	}
	return NewPipeline(reg, opts, zaptest.NewLogger(t)), reg
}

func TestSelectBulkFieldsSkipsCompoundFields(t *testing.T) {
	assert.Equal(t, []string{"Id", "Name", "NumberOfEmployees", "IsDeleted"}, SelectBulkFields(accountDescription()))
}

func TestExport(t *testing.T) {
	fake := newFixture()
	fake.BatchStates = []models.BatchState{models.BatchInProgress, models.BatchCompleted}
	p, _ := newPipeline(t, fake, Options{})

	records, err := p.Export(testutil.TestContext(t), testutil.Credentials("ada@example.com"), "Account", nil, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "001A", records[0]["Id"])
	assert.Equal(t, int64(120), records[0]["NumberOfEmployees"])
	assert.Equal(t, false, records[0]["IsDeleted"])
	assert.Equal(t, "ada", records[0]["Owner!Alias"])
	assert.NotContains(t, records[0], "type")

	assert.Nil(t, records[1]["NumberOfEmployees"])
	assert.Contains(t, records[1], "NumberOfEmployees")
	assert.Nil(t, records[2]["NumberOfEmployees"])
	assert.Equal(t, "Initech", records[2]["Name"])

	assert.Equal(t, 2, fake.Calls(testutil.OpGetBatch))
	assert.Equal(t, 1, fake.Calls(testutil.OpCloseJob))
	assert.Equal(t, []string{
		"SELECT Id,Name,NumberOfEmployees,IsDeleted FROM Account WHERE IsDeleted = False",
	}, fake.Queries())
}

func TestExportWithFieldsAndLimit(t *testing.T) {
	fake := newFixture()
	fake.ResultIDs = []string{"752B"}
	p, _ := newPipeline(t, fake, Options{})

	records, err := p.Export(testutil.TestContext(t), testutil.Credentials("ada@example.com"), "Account", []string{"Id", "Name"}, 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, []string{"SELECT Id,Name FROM Account LIMIT 10"}, fake.Queries())
}

func TestExportFailedBatch(t *testing.T) {
	fake := newFixture()
	fake.BatchStates = []models.BatchState{models.BatchFailed}
	fake.BatchStateMessage = "InvalidBatch : Failed to process query"
	p, _ := newPipeline(t, fake, Options{})

	records, err := p.Export(testutil.TestContext(t), testutil.Credentials("ada@example.com"), "Account", nil, 0)
	require.Error(t, err)
	assert.Nil(t, records)
	assert.True(t, errors.IsType(err, errors.ErrorTypeBulkJobFailed))
	assert.Contains(t, err.Error(), "InvalidBatch")
	assert.Equal(t, 1, fake.Calls(testutil.OpCloseJob))
	assert.Equal(t, 0, fake.Calls(testutil.OpGetBatchResultIDs))
}

func TestExportPollBound(t *testing.T) {
	fake := newFixture()
	fake.BatchStates = []models.BatchState{models.BatchInProgress}
	p, _ := newPipeline(t, fake, Options{MaxPolls: 3})

	_, err := p.Export(testutil.TestContext(t), testutil.Credentials("ada@example.com"), "Account", nil, 0)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
	assert.Equal(t, 3, fake.Calls(testutil.OpGetBatch))
	assert.Equal(t, 1, fake.Calls(testutil.OpCloseJob))
}

func TestExportWaitBound(t *testing.T) {
	fake := newFixture()
	fake.BatchStates = []models.BatchState{models.BatchQueued}
	p, _ := newPipeline(t, fake, Options{PollInterval: 10 * time.Millisecond, MaxWait: 50 * time.Millisecond})

	_, err := p.Export(testutil.TestContext(t), testutil.Credentials("ada@example.com"), "Account", nil, 0)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
	assert.Equal(t, 1, fake.Calls(testutil.OpCloseJob))
}

func TestExportJobStates(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*testutil.FakeCRM)
		opts   Options
		states []string
	}{
		{
			name:   "completed",
			setup:  func(*testutil.FakeCRM) {},
			states: []string{"BATCH_CREATED", "COMPLETED", "CLOSED"},
		},
		{
			name: "failed batch",
			setup: func(f *testutil.FakeCRM) {
				f.BatchStates = []models.BatchState{models.BatchNotProcessed}
			},
			states: []string{"BATCH_CREATED", "FAILED", "CLOSED"},
		},
		{
			name: "poll bound",
			setup: func(f *testutil.FakeCRM) {
				f.BatchStates = []models.BatchState{models.BatchInProgress}
			},
			opts:   Options{MaxPolls: 1},
			states: []string{"BATCH_CREATED", "FAILED", "CLOSED"},
		},
		{
			name: "close rejected",
			setup: func(f *testutil.FakeCRM) {
				f.Errors[testutil.OpCloseJob] = errors.New(errors.ErrorTypeConnection, "connection reset")
			},
			states: []string{"BATCH_CREATED", "COMPLETED"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFixture()
			tt.setup(fake)
			factory, _ := testutil.FakeFactory(fake)
			reg := connector.NewRegistry(factory, zaptest.NewLogger(t))
			opts := tt.opts
			opts.PollInterval = time.Millisecond
			core, logs := observer.New(zap.DebugLevel)

			_, _ = NewPipeline(reg, opts, zap.New(core)).
				Export(testutil.TestContext(t), testutil.Credentials("ada@example.com"), "Account", nil, 0)

			var states []string
			for _, entry := range logs.FilterMessage("bulk job state changed").All() {
				states = append(states, entry.ContextMap()["to"].(string))
			}
			assert.Equal(t, tt.states, states)
		})
	}
}

func TestExportCloseFailure(t *testing.T) {
	t.Run("empty result", func(t *testing.T) {
		fake := newFixture()
		fake.ResultIDs = nil
		fake.Errors[testutil.OpCloseJob] = errors.New(errors.ErrorTypeConnection, "reset")
		p, _ := newPipeline(t, fake, Options{})

		records, err := p.Export(testutil.TestContext(t), testutil.Credentials("ada@example.com"), "Account", nil, 0)
		require.NoError(t, err)
		assert.Empty(t, records)
		assert.Equal(t, 1, fake.Calls(testutil.OpCloseJob))
	})

	t.Run("rows already read", func(t *testing.T) {
		fake := newFixture()
		fake.Errors[testutil.OpCloseJob] = errors.New(errors.ErrorTypeConnection, "reset")
		p, _ := newPipeline(t, fake, Options{})

		records, err := p.Export(testutil.TestContext(t), testutil.Credentials("ada@example.com"), "Account", nil, 0)
		require.NoError(t, err)
		assert.Len(t, records, 3)
	})

	t.Run("primary error wins", func(t *testing.T) {
		fake := newFixture()
		fake.BatchStates = []models.BatchState{models.BatchFailed}
		fake.Errors[testutil.OpCloseJob] = errors.New(errors.ErrorTypeConnection, "reset")
		p, _ := newPipeline(t, fake, Options{})

		_, err := p.Export(testutil.TestContext(t), testutil.Credentials("ada@example.com"), "Account", nil, 0)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeBulkJobFailed))
	})
}

func TestExportJobCreationFailureSkipsClose(t *testing.T) {
	fake := newFixture()
	fake.Errors[testutil.OpCreateJob] = errors.New(errors.ErrorTypeUnsupportedObject, "InvalidEntity")
	p, _ := newPipeline(t, fake, Options{})

	_, err := p.Export(testutil.TestContext(t), testutil.Credentials("ada@example.com"), "Account", nil, 0)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnsupportedObject))
	assert.Equal(t, 0, fake.Calls(testutil.OpCloseJob))
}

func TestExportMalformedResult(t *testing.T) {
	fake := newFixture()
	fake.Results["752B"] = `<queryResult><records><Id>1</Id>`
	p, _ := newPipeline(t, fake, Options{})

	_, err := p.Export(testutil.TestContext(t), testutil.Credentials("ada@example.com"), "Account", nil, 0)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
	assert.Equal(t, 1, fake.Calls(testutil.OpCloseJob))
}

func TestExportAuthFailureEvicts(t *testing.T) {
	fake := newFixture()
	fake.Errors[testutil.OpCreateBatch] = errors.New(errors.ErrorTypeAuthentication, "InvalidSessionId")
	p, reg := newPipeline(t, fake, Options{})

	_, err := p.Export(testutil.TestContext(t), testutil.Credentials("ada@example.com"), "Account", nil, 0)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 1, fake.Calls(testutil.OpCloseJob))
}

func TestWindow(t *testing.T) {
	fake := newFixture()
	fake.QueryFunc = func(soql string) (*crm.QueryResult, error) {
		return &crm.QueryResult{TotalSize: 1, Done: true, Records: []map[string]interface{}{{
			"attributes":        map[string]interface{}{"type": "Account"},
			"Id":                "001D",
			"NumberOfEmployees": 12.0,
			"Owner":             map[string]interface{}{"attributes": map[string]interface{}{"type": "User"}, "Alias": "grace"},
		}}}, nil
	}
	p, _ := newPipeline(t, fake, Options{})

	records, err := p.Window(testutil.TestContext(t), testutil.Credentials("ada@example.com"), "Account", nil, 5, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(12), records[0]["NumberOfEmployees"])
	assert.Equal(t, "grace", records[0]["Owner!Alias"])
	assert.NotContains(t, records[0], "attributes")
	assert.Equal(t, []string{
		"SELECT Id,Name,NumberOfEmployees,IsDeleted,BillingAddress FROM Account LIMIT 5 OFFSET 10",
	}, fake.Queries())
	assert.Equal(t, 0, fake.Calls(testutil.OpCreateJob))
}

func TestFlatten(t *testing.T) {
	raw := map[string]interface{}{
		"Id":     "1",
		"Stage":  map[string]interface{}{"label": "Won", "value": "closed_won"},
		"Blank":  map[string]interface{}{"nil": "true"},
		"Parent": map[string]interface{}{"Owner": map[string]interface{}{"Alias": "ada"}},
	}
	assert.Equal(t, map[string]interface{}{
		"Id":                 "1",
		"Stage":              map[string]interface{}{"label": "Won", "value": "closed_won"},
		"Blank":              map[string]interface{}{"nil": "true"},
		"Parent.Owner.Alias": "ada",
	}, Flatten(raw))

	plain := map[string]interface{}{"Id": "1"}
	assert.Equal(t, plain, Flatten(plain))
}
