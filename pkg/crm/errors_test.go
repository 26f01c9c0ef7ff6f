package crm

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ajitpratap0/crmsync/pkg/errors"
)

func TestClassifyAPIError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   errors.ErrorType
	}{
		{"session expired", http.StatusUnauthorized, `[{"message":"Session expired or invalid","errorCode":"INVALID_SESSION_ID"}]`, errors.ErrorTypeAuthentication},
		{"bare 401", http.StatusUnauthorized, ``, errors.ErrorTypeAuthentication},
		{"request limit", http.StatusForbidden, `[{"message":"TotalRequests Limit exceeded.","errorCode":"REQUEST_LIMIT_EXCEEDED"}]`, errors.ErrorTypeRateLimit},
		{"wrapped errors", http.StatusBadRequest, `{"errors":[{"errorCode":"FORBIDDEN","message":"no"}]}`, errors.ErrorTypeRateLimit},
		{"unknown object", http.StatusBadRequest, `[{"message":"sObject type 'Foo' is not supported.","errorCode":"INVALID_TYPE"}]`, errors.ErrorTypeNotFound},
		{"malformed query", http.StatusBadRequest, `[{"message":"unexpected token","errorCode":"MALFORMED_QUERY"}]`, errors.ErrorTypeQuery},
		{"bulk entity", http.StatusBadRequest, `<error><exceptionCode>InvalidEntity</exceptionCode><exceptionMessage>Entity 'X' is not supported by the Bulk API.</exceptionMessage></error>`, errors.ErrorTypeUnsupportedObject},
		{"server error", http.StatusBadGateway, `<html>bad gateway</html>`, errors.ErrorTypeConnection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyAPIError(tt.status, []byte(tt.body))
			assert.Equal(t, tt.want, errors.TypeOf(err))
		})
	}
}

func TestClassifyAPIErrorCarriesCode(t *testing.T) {
	err := ClassifyAPIError(http.StatusBadRequest, []byte(`[{"message":"bad","errorCode":"MALFORMED_QUERY"}]`))
	var e *errors.Error
	assert.True(t, errors.As(err, &e))
	assert.Equal(t, "MALFORMED_QUERY", e.Details["error_code"])
	assert.Equal(t, http.StatusBadRequest, e.Details["status"])
	assert.Contains(t, e.Message, "bad")
}

func TestQueryBuilders(t *testing.T) {
	fields := []string{"Id", "Name", "IsDeleted"}
	assert.Equal(t, "SELECT Id,Name,IsDeleted FROM Account WHERE IsDeleted = False LIMIT 10", BulkQuery("Account", fields, 10))
	assert.Equal(t, "SELECT Id FROM Account", BulkQuery("Account", []string{"Id"}, 0))
	assert.Equal(t, "SELECT Id FROM Account LIMIT 50 OFFSET 100", WindowQuery("Account", []string{"Id"}, 50, 100))
	assert.Equal(t, "SELECT Id FROM Account", WindowQuery("Account", []string{"Id"}, 0, 0))
	assert.Equal(t, "SELECT Id FROM Account WHERE Id='a\\'b'", ByIDQuery("Account", []string{"Id"}, "a'b"))
	assert.Equal(t, "SELECT Id,Name,LastModifiedDate FROM Report WHERE IsDeleted=false AND Name LIKE '%Pipe%'", ReportListQuery("Pipe"))
	assert.Equal(t, "SELECT COUNT() FROM Lead", CountQuery("Lead"))
}
