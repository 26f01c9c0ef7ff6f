package crm

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/url"

	"github.com/ajitpratap0/crmsync/pkg/compression"
	"github.com/ajitpratap0/crmsync/pkg/errors"
	"github.com/ajitpratap0/crmsync/pkg/models"
)

const asyncNamespace = "http://www.force.com/2009/06/asyncapi/dataload"

type jobInfo struct {
	XMLName     xml.Name `xml:"jobInfo"`
	Xmlns       string   `xml:"xmlns,attr,omitempty"`
	ID          string   `xml:"id,omitempty"`
	Operation   string   `xml:"operation,omitempty"`
	Object      string   `xml:"object,omitempty"`
	State       string   `xml:"state,omitempty"`
	ContentType string   `xml:"contentType,omitempty"`
}

type batchInfo struct {
	XMLName      xml.Name `xml:"batchInfo"`
	ID           string   `xml:"id"`
	JobID        string   `xml:"jobId"`
	State        string   `xml:"state"`
	StateMessage string   `xml:"stateMessage"`
}

type resultList struct {
	XMLName xml.Name `xml:"result-list"`
	Results []string `xml:"result"`
}

func (c *RESTClient) bulkHeader(s session) http.Header {
	return http.Header{
		"X-SFDC-Session": {s.accessToken},
		"Content-Type":   {"application/xml; charset=UTF-8"},
		"Accept":         {"application/xml"},
	}
}

// postXML sends body once and decodes the XML response into out. Creation calls are not retried.
func (c *RESTClient) postXML(ctx context.Context, op, path string, body []byte, out interface{}) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	resp, err := c.send(ctx, s, op, http.MethodPost, c.asyncURL(s, path), body, c.bulkHeader(s))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := xml.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to decode "+op+" response")
	}
	return nil
}

func (c *RESTClient) getXML(ctx context.Context, op, path string, out interface{}) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	raw, err := c.read(ctx, op, http.MethodGet, c.asyncURL(s, path), c.bulkHeader(s))
	if err != nil {
		return err
	}
	if err := xml.Unmarshal(raw, out); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to decode "+op+" response")
	}
	return nil
}

func marshalJob(j jobInfo) ([]byte, error) {
	j.Xmlns = asyncNamespace
	b, err := xml.Marshal(j)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode job")
	}
	return append([]byte(xml.Header), b...), nil
}

// CreateJob creates a query job for object with XML results.
func (c *RESTClient) CreateJob(ctx context.Context, object string) (*models.BulkJob, error) {
	body, err := marshalJob(jobInfo{Operation: "query", Object: object, ContentType: "XML"})
	if err != nil {
		return nil, err
	}
	var info jobInfo
	if err := c.postXML(ctx, "create_job", "/job", body, &info); err != nil {
		return nil, errors.Wrap(err, errors.TypeOf(err), "create bulk job failed").WithDetail("object", object)
	}
	return &models.BulkJob{ID: info.ID, Object: object, State: models.JobCreated}, nil
}

// CreateBatch submits soql to a job.
func (c *RESTClient) CreateBatch(ctx context.Context, jobID, soql string) (*models.Batch, error) {
	var info batchInfo
	if err := c.postXML(ctx, "create_batch", "/job/"+url.PathEscape(jobID)+"/batch", []byte(soql), &info); err != nil {
		return nil, errors.Wrap(err, errors.TypeOf(err), "create bulk batch failed").WithDetail("job_id", jobID)
	}
	return info.toBatch(), nil
}

// GetBatch fetches the state of a batch.
func (c *RESTClient) GetBatch(ctx context.Context, jobID, batchID string) (*models.Batch, error) {
	var info batchInfo
	if err := c.getXML(ctx, "get_batch", "/job/"+url.PathEscape(jobID)+"/batch/"+url.PathEscape(batchID), &info); err != nil {
		return nil, err
	}
	return info.toBatch(), nil
}

func (b batchInfo) toBatch() *models.Batch {
	return &models.Batch{
		ID:           b.ID,
		JobID:        b.JobID,
		State:        models.BatchState(b.State),
		StateMessage: b.StateMessage,
	}
}

// GetBatchResultIDs lists result set IDs of a completed batch.
func (c *RESTClient) GetBatchResultIDs(ctx context.Context, jobID, batchID string) ([]string, error) {
	var list resultList
	if err := c.getXML(ctx, "get_batch_result_ids", "/job/"+url.PathEscape(jobID)+"/batch/"+url.PathEscape(batchID)+"/result", &list); err != nil {
		return nil, err
	}
	return list.Results, nil
}

// GetBatchResult opens one result set. Compression is requested and transparently decoded.
func (c *RESTClient) GetBatchResult(ctx context.Context, jobID, batchID, resultID string) (io.ReadCloser, error) {
	s, err := c.session()
	if err != nil {
		return nil, err
	}
	header := c.bulkHeader(s)
	header.Set("Accept-Encoding", compression.AcceptEncoding)
	target := c.asyncURL(s, "/job/"+url.PathEscape(jobID)+"/batch/"+url.PathEscape(batchID)+"/result/"+url.PathEscape(resultID))

	var resp *http.Response
	err = c.retry.Execute(ctx, func() error {
		var err error
		resp, err = c.send(ctx, s, "get_batch_result", http.MethodGet, target, nil, header)
		return err
	})
	if err != nil {
		return nil, err
	}

	alg, err := compression.ParseEncoding(resp.Header.Get("Content-Encoding"))
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	body, err := compression.NewReader(alg, resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	return body, nil
}

// CloseJob marks a job closed.
func (c *RESTClient) CloseJob(ctx context.Context, jobID string) (*models.BulkJob, error) {
	body, err := marshalJob(jobInfo{State: "Closed"})
	if err != nil {
		return nil, err
	}
	var info jobInfo
	if err := c.postXML(ctx, "close_job", "/job/"+url.PathEscape(jobID), body, &info); err != nil {
		return nil, errors.Wrap(err, errors.TypeOf(err), "close bulk job failed").WithDetail("job_id", jobID)
	}
	return &models.BulkJob{ID: jobID, Object: info.Object, State: models.JobClosed}, nil
}
