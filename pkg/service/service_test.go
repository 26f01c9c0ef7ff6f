package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/crmsync/pkg/config"
	"github.com/ajitpratap0/crmsync/pkg/crm"
	"github.com/ajitpratap0/crmsync/pkg/errors"
	"github.com/ajitpratap0/crmsync/pkg/models"
	"github.com/ajitpratap0/crmsync/pkg/testutil"
)

const salesReport = `{
  "reportMetadata": {"id": "00O1", "name": "Sales", "reportFormat": "SUMMARY",
    "detailColumns": ["ACCOUNT.NAME", "AMOUNT"], "aggregates": ["RowCount"]},
  "reportExtendedMetadata": {"detailColumnInfo": {
    "ACCOUNT.NAME": {"label": "Account Name", "dataType": "string"},
    "AMOUNT": {"label": "Amount", "dataType": "currency"}}},
  "factMap": {
    "1!T": {"rows": [{"dataCells": [{"label": "Globex", "value": "001B"}, {"label": "$20", "value": 20}]}]},
    "0!T": {"rows": [{"dataCells": [{"label": "Acme", "value": "001A"}, {"label": "$10", "value": 10.5}]}]},
    "T!T": {"aggregates": [{"label": "2", "value": 2}], "rows": []}
  }
}`

func newService(t *testing.T, fake *testutil.FakeCRM) *Service {
	cfg := config.NewConfig()
	cfg.Bulk.PollInterval = time.Millisecond
	cfg.Report.ReadyDelay = time.Millisecond
	factory, _ := testutil.FakeFactory(fake)
	return New(cfg, factory, zaptest.NewLogger(t))
}

func accountFake() *testutil.FakeCRM {
	fake := testutil.NewFakeCRM()
	fake.Objects = []crm.GlobalObject{{Name: "Account", Label: "Account", Queryable: true, Retrievable: true}}
	fake.Descriptions["Account"] = &crm.ObjectDescription{
		Name: "Account",
		Fields: []crm.Field{
			{Name: "Id", Label: "Account ID", Type: "id", SoapType: "tns:ID"},
			{Name: "Name", Label: "Account Name", Type: "string", SoapType: "xsd:string"},
			{Name: "AnnualRevenue", Label: "Annual Revenue", Type: "currency", SoapType: "xsd:double"},
			{Name: "ShippingAddress", Label: "Shipping Address", Type: "address", SoapType: "urn:address"},
		},
	}
	fake.Counts["Account"] = 1
	fake.ResultIDs = []string{"752A"}
	fake.Results["752A"] = `<queryResult xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">
<records xsi:type="sObject"><type>Account</type><Id>001A</Id><Name>Acme</Name><AnnualRevenue>1.5E7</AnnualRevenue></records>
</queryResult>`
	return fake
}

func TestBuildCatalog(t *testing.T) {
	fake := accountFake()
	svc := newService(t, fake)

	catalog, err := svc.BuildCatalog(testutil.TestContext(t), testutil.Credentials("ada@example.com"), "")
	require.NoError(t, err)
	require.Len(t, catalog, 1)
	assert.Equal(t, models.KindObject, catalog[0].Kind())
	assert.Equal(t, int64(1), catalog[0].Rows())
}

func TestInvalidCredentials(t *testing.T) {
	fake := accountFake()
	svc := newService(t, fake)
	creds := testutil.Credentials("ada@example.com")
	creds.Password = ""

	_, err := svc.BuildCatalog(testutil.TestContext(t), creds, "")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	assert.Equal(t, 0, fake.Calls(testutil.OpLogin))
}

func TestFetchRecordsDispatch(t *testing.T) {
	creds := testutil.Credentials("ada@example.com")
	account := &models.ObjectDataset{Name: "Account"}

	t.Run("object without offset uses bulk", func(t *testing.T) {
		fake := accountFake()
		svc := newService(t, fake)

		records, err := svc.FetchRecords(testutil.TestContext(t), creds, account, 0, 0)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, 1.5e7, records[0]["AnnualRevenue"])
		assert.Equal(t, 1, fake.Calls(testutil.OpCreateJob))
		assert.Equal(t, []string{"SELECT Id,Name,AnnualRevenue FROM Account"}, fake.Queries())
	})

	t.Run("object with offset uses a windowed query", func(t *testing.T) {
		fake := accountFake()
		fake.QueryFunc = func(string) (*crm.QueryResult, error) {
			return &crm.QueryResult{Done: true, Records: []map[string]interface{}{{"Id": "001B", "Name": "Globex"}}}, nil
		}
		svc := newService(t, fake)

		records, err := svc.FetchRecords(testutil.TestContext(t), creds, account, 10, 20)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "Globex", records[0]["Name"])
		assert.Equal(t, 0, fake.Calls(testutil.OpCreateJob))
		assert.Equal(t, []string{"SELECT Id,Name,AnnualRevenue,ShippingAddress FROM Account LIMIT 10 OFFSET 20"}, fake.Queries())
	})

	t.Run("report runs synchronously", func(t *testing.T) {
		fake := accountFake()
		fake.ReportPayloads["00O1"] = []byte(salesReport)
		svc := newService(t, fake)

		records, err := svc.FetchRecords(testutil.TestContext(t), creds, &models.ReportDataset{ID: "00O1", Name: "Sales"}, 0, 0)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "Acme", records[0]["ACCOUNT!NAME"])
		assert.Equal(t, 10.5, records[0]["AMOUNT"])
		assert.Equal(t, "Globex", records[1]["ACCOUNT!NAME"])
		assert.Equal(t, 1, fake.Calls(testutil.OpRunReport))
	})

	t.Run("joined report is rejected", func(t *testing.T) {
		fake := accountFake()
		fake.ReportPayloads["00O2"] = []byte(`{"reportMetadata": {"id": "00O2", "reportFormat": "JOINED"}, "factMap": {}}`)
		svc := newService(t, fake)

		_, err := svc.FetchRecords(testutil.TestContext(t), creds, &models.ReportDataset{ID: "00O2"}, 0, 0)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeUnsupportedFormat))
	})
}

func TestTestConnection(t *testing.T) {
	creds := testutil.Credentials("ada@example.com")

	t.Run("ok", func(t *testing.T) {
		svc := newService(t, accountFake())
		require.NoError(t, svc.TestConnection(testutil.TestContext(t), creds))
		assert.Equal(t, 1, svc.Registry().Len())
	})

	t.Run("no versions", func(t *testing.T) {
		fake := accountFake()
		fake.VersionList = nil
		svc := newService(t, fake)
		err := svc.TestConnection(testutil.TestContext(t), creds)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	})

	t.Run("rejected session evicts", func(t *testing.T) {
		fake := accountFake()
		fake.Errors[testutil.OpVersions] = errors.New(errors.ErrorTypeAuthentication, "INVALID_SESSION_ID")
		svc := newService(t, fake)
		err := svc.TestConnection(testutil.TestContext(t), creds)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
		assert.Equal(t, 0, svc.Registry().Len())
		assert.Equal(t, 1, fake.Calls(testutil.OpLogout))
	})
}

func TestGetObject(t *testing.T) {
	creds := testutil.Credentials("ada@example.com")
	fake := accountFake()
	fake.QueryFunc = func(soql string) (*crm.QueryResult, error) {
		if soql == "SELECT Id,Name,AnnualRevenue,ShippingAddress FROM Account WHERE Id='001A'" {
			return &crm.QueryResult{TotalSize: 1, Done: true, Records: []map[string]interface{}{{
				"Id": "001A", "Name": "Acme", "AnnualRevenue": 2500.0,
			}}}, nil
		}
		return &crm.QueryResult{Done: true}, nil
	}
	svc := newService(t, fake)

	rec, err := svc.GetObject(testutil.TestContext(t), creds, "Account", "001A")
	require.NoError(t, err)
	assert.Equal(t, "Acme", rec["Name"])
	assert.Equal(t, 2500.0, rec["AnnualRevenue"])

	_, err = svc.GetObject(testutil.TestContext(t), creds, "Account", "001Z")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestClientFactoryAgainstServer(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/services/oauth2/token":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","instance_url":"` + srv.URL + `"}`))
		case "/services/oauth2/revoke":
			w.WriteHeader(http.StatusOK)
		case "/services/data/":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"label":"Winter '24","url":"/services/data/v58.0","version":"58.0"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cfg := config.NewConfig()
	log := zaptest.NewLogger(t)
	svc := New(cfg, NewClientFactory(cfg, srv.Client().Transport, log), log)

	creds := testutil.Credentials("ada@example.com")
	creds.LoginURL = srv.URL
	require.NoError(t, svc.TestConnection(testutil.TestContext(t), creds))
	require.NoError(t, svc.Close(testutil.TestContext(t)))
}
