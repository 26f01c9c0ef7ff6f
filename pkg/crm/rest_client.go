package crm

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/ajitpratap0/crmsync/pkg/clients"
	"github.com/ajitpratap0/crmsync/pkg/config"
	"github.com/ajitpratap0/crmsync/pkg/errors"
	jsonpool "github.com/ajitpratap0/crmsync/pkg/json"
	"github.com/ajitpratap0/crmsync/pkg/models"
)

const maxErrorBody = 64 << 10

// Options configures a RESTClient.
type Options struct {
	// APIVersion is the REST/Bulk API version, e.g. "58.0"
	APIVersion string
	// HTTPClient carries rate limiting, circuit breaking and metrics.
	// nil uses clients.NewHTTPClient with defaults.
	HTTPClient *http.Client
	// Retry is applied to idempotent reads only. nil disables retries.
	Retry  *clients.RetryPolicy
	Logger *zap.Logger
}

// RESTClient implements Client over HTTP.
type RESTClient struct {
	creds      models.Credentials
	apiVersion string
	httpClient *http.Client
	retry      *clients.RetryPolicy
	logger     *zap.Logger

	mu          sync.RWMutex
	token       *oauth2.Token
	instanceURL string
	api         *http.Client
}

var _ Client = (*RESTClient)(nil)

// NewRESTClient creates a client bound to creds. No network call is made until Login.
func NewRESTClient(creds models.Credentials, opts Options) *RESTClient {
	if opts.APIVersion == "" {
		opts.APIVersion = config.DefaultAPIVersion
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = clients.NewHTTPClient(nil, nil, opts.Logger)
	}
	if opts.Retry == nil {
		opts.Retry = clients.NewRetryPolicy(1, 0, 0)
	}
	if creds.LoginURL == "" {
		creds.LoginURL = config.DefaultLoginURL
	}
	return &RESTClient{
		creds:      creds,
		apiVersion: opts.APIVersion,
		httpClient: opts.HTTPClient,
		retry:      opts.Retry,
		logger:     opts.Logger.With(zap.String("component", "crm_client")),
	}
}

func (c *RESTClient) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.creds.ClientID,
		ClientSecret: c.creds.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  strings.TrimRight(c.creds.LoginURL, "/") + "/services/oauth2/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// Login performs the OAuth2 username-password grant.
func (c *RESTClient) Login(ctx context.Context) error {
	if err := c.creds.Validate(); err != nil {
		return err
	}

	start := time.Now()
	octx := context.WithValue(clients.WithOperation(ctx, "login"), oauth2.HTTPClient, c.httpClient)
	tok, err := c.oauthConfig().PasswordCredentialsToken(octx, c.creds.Username, c.creds.Password)
	if err != nil {
		return classifyTokenError(err)
	}

	instance, _ := tok.Extra("instance_url").(string)
	if instance == "" {
		return errors.New(errors.ErrorTypeAuthentication, "token response has no instance_url")
	}

	// The token source outlives ctx, so the API client is bound to a background context.
	bg := context.WithValue(context.Background(), oauth2.HTTPClient, c.httpClient)

	c.mu.Lock()
	c.token = tok
	c.instanceURL = strings.TrimRight(instance, "/")
	c.api = oauth2.NewClient(bg, oauth2.StaticTokenSource(tok))
	c.mu.Unlock()

	c.logger.Info("logged in",
		zap.String("instance_url", c.instanceURL),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func classifyTokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return errors.Wrap(ClassifyAPIError(re.Response.StatusCode, re.Body), errors.ErrorTypeAuthentication, "login failed")
	}
	return errors.Wrap(err, errors.ErrorTypeConnection, "login request failed")
}

// Logout revokes the access token. A client that never logged in is a no-op.
func (c *RESTClient) Logout(ctx context.Context) error {
	c.mu.Lock()
	tok := c.token
	c.token = nil
	c.api = nil
	c.mu.Unlock()

	if tok == nil {
		return nil
	}

	form := url.Values{"token": {tok.AccessToken}}
	req, err := http.NewRequestWithContext(clients.WithOperation(ctx, "logout"), http.MethodPost,
		strings.TrimRight(c.creds.LoginURL, "/")+"/services/oauth2/revoke", strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to build revoke request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "revoke request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return ClassifyAPIError(resp.StatusCode, body)
	}
	return nil
}

type session struct {
	api         *http.Client
	instanceURL string
	accessToken string
}

func (c *RESTClient) session() (session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.api == nil {
		return session{}, errors.New(errors.ErrorTypeAuthentication, "not logged in")
	}
	return session{api: c.api, instanceURL: c.instanceURL, accessToken: c.token.AccessToken}, nil
}

func (c *RESTClient) dataURL(s session, path string) string {
	return s.instanceURL + "/services/data/v" + c.apiVersion + path
}

func (c *RESTClient) asyncURL(s session, path string) string {
	return s.instanceURL + "/services/async/" + c.apiVersion + path
}

// send issues one request. The response body is left open for the caller on success.
func (c *RESTClient) send(ctx context.Context, s session, op, method, target string, body []byte, header http.Header) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(clients.WithOperation(ctx, op), method, target, rd)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to build request")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := s.api.Do(req)
	if err != nil {
		t := errors.TypeOf(err)
		if t == errors.ErrorTypeInternal {
			t = errors.ErrorTypeConnection
		}
		return nil, errors.Wrap(err, t, op+" request failed").WithDetail("operation", op)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := ClassifyAPIError(resp.StatusCode, raw)
		return nil, errors.Wrap(apiErr, errors.TypeOf(apiErr), op+" failed").WithDetail("operation", op)
	}
	return resp, nil
}

// read issues an idempotent request under the retry policy and returns the full body.
func (c *RESTClient) read(ctx context.Context, op, method, target string, header http.Header) ([]byte, error) {
	s, err := c.session()
	if err != nil {
		return nil, err
	}

	var out []byte
	err = c.retry.Execute(ctx, func() error {
		resp, err := c.send(ctx, s, op, method, target, nil, header)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		out, err = io.ReadAll(resp.Body)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnection, op+" response read failed")
		}
		return nil
	})
	return out, err
}

func (c *RESTClient) getJSON(ctx context.Context, op, target string, v interface{}) error {
	raw, err := c.read(ctx, op, http.MethodGet, target, http.Header{"Accept": {"application/json"}})
	if err != nil {
		return err
	}
	if err := jsonpool.Unmarshal(raw, v); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to decode "+op+" response")
	}
	return nil
}

// Versions lists supported API versions.
func (c *RESTClient) Versions(ctx context.Context) ([]Version, error) {
	s, err := c.session()
	if err != nil {
		return nil, err
	}
	var versions []Version
	if err := c.getJSON(ctx, "versions", s.instanceURL+"/services/data/", &versions); err != nil {
		return nil, err
	}
	return versions, nil
}

// GlobalObjects lists every object type.
func (c *RESTClient) GlobalObjects(ctx context.Context) ([]GlobalObject, error) {
	s, err := c.session()
	if err != nil {
		return nil, err
	}
	var out struct {
		SObjects []GlobalObject `json:"sobjects"`
	}
	if err := c.getJSON(ctx, "global_objects", c.dataURL(s, "/sobjects/"), &out); err != nil {
		return nil, err
	}
	return out.SObjects, nil
}

// DescribeObject fetches one object's schema.
func (c *RESTClient) DescribeObject(ctx context.Context, name string) (*ObjectDescription, error) {
	s, err := c.session()
	if err != nil {
		return nil, err
	}
	var desc ObjectDescription
	if err := c.getJSON(ctx, "describe_object", c.dataURL(s, "/sobjects/"+url.PathEscape(name)+"/describe"), &desc); err != nil {
		return nil, errors.Wrap(err, errors.TypeOf(err), "describe "+name+" failed").WithDetail("object", name)
	}
	return &desc, nil
}

// CountObject counts the rows of an object.
func (c *RESTClient) CountObject(ctx context.Context, name string) (int64, error) {
	res, err := c.query(ctx, "count_object", CountQuery(name))
	if err != nil {
		return 0, errors.Wrap(err, errors.TypeOf(err), "count "+name+" failed").WithDetail("object", name)
	}
	return res.TotalSize, nil
}

// Query runs soql and follows nextRecordsUrl until the result is done.
func (c *RESTClient) Query(ctx context.Context, soql string) (*QueryResult, error) {
	return c.query(ctx, "query", soql)
}

func (c *RESTClient) query(ctx context.Context, op, soql string) (*QueryResult, error) {
	s, err := c.session()
	if err != nil {
		return nil, err
	}

	var page QueryResult
	if err := c.getJSON(ctx, op, c.dataURL(s, "/query?q="+url.QueryEscape(soql)), &page); err != nil {
		return nil, err
	}

	result := &QueryResult{TotalSize: page.TotalSize, Done: page.Done, Records: page.Records}
	for !page.Done && page.NextRecordsURL != "" {
		next := page.NextRecordsURL
		page = QueryResult{}
		if err := c.getJSON(ctx, op, s.instanceURL+next, &page); err != nil {
			return nil, err
		}
		result.Records = append(result.Records, page.Records...)
		result.Done = page.Done
	}
	for _, r := range result.Records {
		delete(r, "attributes")
	}
	return result, nil
}

// ListReports lists non-deleted reports.
func (c *RESTClient) ListReports(ctx context.Context, nameFilter string) ([]ReportRef, error) {
	res, err := c.query(ctx, "list_reports", ReportListQuery(nameFilter))
	if err != nil {
		return nil, err
	}
	refs := make([]ReportRef, 0, len(res.Records))
	for _, r := range res.Records {
		refs = append(refs, ReportRef{
			ID:               stringField(r, "Id"),
			Name:             stringField(r, "Name"),
			LastModifiedDate: stringField(r, "LastModifiedDate"),
		})
	}
	return refs, nil
}

func stringField(r map[string]interface{}, key string) string {
	s, _ := r[key].(string)
	return s
}

// CreateReportInstance starts an asynchronous run of a report.
func (c *RESTClient) CreateReportInstance(ctx context.Context, reportID string) (string, error) {
	s, err := c.session()
	if err != nil {
		return "", err
	}
	resp, err := c.send(ctx, s, "create_report_instance", http.MethodPost,
		c.dataURL(s, "/analytics/reports/"+url.PathEscape(reportID)+"/instances"), nil,
		http.Header{"Accept": {"application/json"}})
	if err != nil {
		return "", errors.Wrap(err, errors.TypeOf(err), "create report instance failed").WithDetail("report_id", reportID)
	}
	defer resp.Body.Close()

	var inst struct {
		ID string `json:"id"`
	}
	if err := jsonpool.GetDecoder(resp.Body).Decode(&inst); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeData, "failed to decode report instance")
	}
	if inst.ID == "" {
		return "", errors.New(errors.ErrorTypeData, "report instance response has no id").WithDetail("report_id", reportID)
	}
	return inst.ID, nil
}

// ReportInstance fetches a report run.
func (c *RESTClient) ReportInstance(ctx context.Context, reportID, instanceID string) ([]byte, error) {
	s, err := c.session()
	if err != nil {
		return nil, err
	}
	return c.read(ctx, "report_instance", http.MethodGet,
		c.dataURL(s, "/analytics/reports/"+url.PathEscape(reportID)+"/instances/"+url.PathEscape(instanceID)),
		http.Header{"Accept": {"application/json"}})
}

// RunReport runs a report synchronously including detail rows.
func (c *RESTClient) RunReport(ctx context.Context, reportID string) ([]byte, error) {
	s, err := c.session()
	if err != nil {
		return nil, err
	}
	return c.read(ctx, "run_report", http.MethodGet,
		c.dataURL(s, "/analytics/reports/"+url.PathEscape(reportID)+"?includeDetails=true"),
		http.Header{"Accept": {"application/json"}})
}
