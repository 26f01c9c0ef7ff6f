// Package crm is the wire client for the CRM platform's REST, Bulk and
// Analytics APIs.
//
// # Overview
//
// Client is the surface the rest of crmsync consumes. A Client is bound to
// one set of credentials; Login establishes the session and every other call
// reuses it until Logout or until the platform rejects the session, at which
// point calls fail with an ErrorTypeAuthentication error.
//
// RESTClient is the production implementation. It authenticates with the
// OAuth2 username-password flow, talks JSON to the REST and Analytics APIs
// and XML to the Bulk API.
package crm

import (
	"context"
	"io"

	"github.com/ajitpratap0/crmsync/pkg/models"
)

// Client is an authenticated session against one CRM org.
type Client interface {
	// Login establishes a session.
	Login(ctx context.Context) error
	// Logout revokes the session.
	Logout(ctx context.Context) error
	// Versions lists the API versions the instance supports.
	Versions(ctx context.Context) ([]Version, error)

	// GlobalObjects lists every object type in the org.
	GlobalObjects(ctx context.Context) ([]GlobalObject, error)
	// DescribeObject returns the fields and child relationships of one object.
	DescribeObject(ctx context.Context, name string) (*ObjectDescription, error)
	// CountObject returns the number of rows of one object.
	CountObject(ctx context.Context, name string) (int64, error)
	// Query runs a SOQL query and follows pagination until done.
	Query(ctx context.Context, soql string) (*QueryResult, error)
	// ListReports lists non-deleted reports, optionally name-matched by substring.
	ListReports(ctx context.Context, nameFilter string) ([]ReportRef, error)

	// CreateReportInstance starts an asynchronous report run and returns the instance ID.
	CreateReportInstance(ctx context.Context, reportID string) (string, error)
	// ReportInstance fetches the current state of a report run.
	ReportInstance(ctx context.Context, reportID, instanceID string) ([]byte, error)
	// RunReport runs a report synchronously with detail rows.
	RunReport(ctx context.Context, reportID string) ([]byte, error)

	// CreateJob creates a bulk query job with XML content.
	CreateJob(ctx context.Context, object string) (*models.BulkJob, error)
	// CreateBatch adds a query batch to a job.
	CreateBatch(ctx context.Context, jobID, soql string) (*models.Batch, error)
	// GetBatch returns the current state of a batch.
	GetBatch(ctx context.Context, jobID, batchID string) (*models.Batch, error)
	// GetBatchResultIDs lists the result sets of a completed batch.
	GetBatchResultIDs(ctx context.Context, jobID, batchID string) ([]string, error)
	// GetBatchResult streams one XML result set. The caller closes the reader.
	GetBatchResult(ctx context.Context, jobID, batchID, resultID string) (io.ReadCloser, error)
	// CloseJob closes a job.
	CloseJob(ctx context.Context, jobID string) (*models.BulkJob, error)
}

// Version is one supported API version.
type Version struct {
	Label   string `json:"label"`
	URL     string `json:"url"`
	Version string `json:"version"`
}

// GlobalObject is one entry of the global object list.
type GlobalObject struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Queryable   bool   `json:"queryable"`
	Retrievable bool   `json:"retrieveable"`
}

// Field is one field of an object description.
type Field struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Type     string `json:"type"`
	SoapType string `json:"soapType"`
}

// ChildRelationship links a child object back to this one.
type ChildRelationship struct {
	Field        string `json:"field"`
	ChildSObject string `json:"childSObject"`
}

// ObjectDescription is the schema of one object.
type ObjectDescription struct {
	Name               string              `json:"name"`
	Label              string              `json:"label"`
	Fields             []Field             `json:"fields"`
	ChildRelationships []ChildRelationship `json:"childRelationships"`
}

// TypeMap returns field name to declared type.
func (d *ObjectDescription) TypeMap() map[string]string {
	m := make(map[string]string, len(d.Fields))
	for _, f := range d.Fields {
		m[f.Name] = f.Type
	}
	return m
}

// FieldNames returns every field name in declaration order.
func (d *ObjectDescription) FieldNames() []string {
	names := make([]string, 0, len(d.Fields))
	for _, f := range d.Fields {
		names = append(names, f.Name)
	}
	return names
}

// QueryResult is a SOQL result.
type QueryResult struct {
	TotalSize      int64                    `json:"totalSize"`
	Done           bool                     `json:"done"`
	NextRecordsURL string                   `json:"nextRecordsUrl,omitempty"`
	Records        []map[string]interface{} `json:"records"`
}

// ReportRef identifies a saved report.
type ReportRef struct {
	ID               string `json:"Id"`
	Name             string `json:"Name"`
	LastModifiedDate string `json:"LastModifiedDate"`
}
