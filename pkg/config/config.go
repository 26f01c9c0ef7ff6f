// Package config provides the configuration for crmsync.
//
// The configuration is organized into logical sections:
//   - CRM: login endpoint, API version and account credentials
//   - Performance: worker pool sizing for discovery fan-out
//   - Timeouts: connection and response timeouts for CRM calls
//   - Reliability: retries, rate limiting and circuit breaking
//   - Bulk: batch polling cadence and bounds
//   - Report: instance-ready wait
//   - Catalog: discovery join window
//   - Observability: logging, metrics and tracing
//
// Example usage:
//
//	cfg := config.NewConfig()
//	cfg.Bulk.PollInterval = 10 * time.Second
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/ajitpratap0/crmsync/pkg/models"
)

const (
	// DefaultAPIVersion is the REST API version used when none is configured.
	DefaultAPIVersion = "58.0"
	// DefaultLoginURL is the production OAuth2 host.
	DefaultLoginURL = "https://login.salesforce.com"
)

// Config is the root configuration structure.
type Config struct {
	// Name identifies this deployment in logs and metrics
	Name string `yaml:"name" json:"name" mapstructure:"name"`

	CRM           CRMConfig           `yaml:"crm" json:"crm" mapstructure:"crm"`
	Performance   PerformanceConfig   `yaml:"performance" json:"performance" mapstructure:"performance"`
	Timeouts      TimeoutConfig       `yaml:"timeouts" json:"timeouts" mapstructure:"timeouts"`
	Reliability   ReliabilityConfig   `yaml:"reliability" json:"reliability" mapstructure:"reliability"`
	Bulk          BulkConfig          `yaml:"bulk" json:"bulk" mapstructure:"bulk"`
	Report        ReportConfig        `yaml:"report" json:"report" mapstructure:"report"`
	Catalog       CatalogConfig       `yaml:"catalog" json:"catalog" mapstructure:"catalog"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability" mapstructure:"observability"`
}

// CRMConfig holds the account to connect to.
type CRMConfig struct {
	// APIVersion is the REST API version, without the leading "v"
	APIVersion  string             `yaml:"api_version" json:"api_version" mapstructure:"api_version"`
	Credentials models.Credentials `yaml:"credentials" json:"credentials" mapstructure:"credentials"`
}

// PerformanceConfig controls concurrency.
type PerformanceConfig struct {
	// Workers bounds the number of concurrent per-dataset discovery tasks
	Workers int `yaml:"workers" json:"workers" mapstructure:"workers"`
}

// TimeoutConfig contains timeouts applied to every CRM call.
type TimeoutConfig struct {
	// Connection timeout for establishing connections
	Connection time.Duration `yaml:"connection" json:"connection" mapstructure:"connection"`
	// Request timeout for a full request/response exchange
	Request time.Duration `yaml:"request" json:"request" mapstructure:"request"`
}

// ReliabilityConfig contains retry, rate limit and circuit breaker settings.
type ReliabilityConfig struct {
	RetryAttempts   int           `yaml:"retry_attempts" json:"retry_attempts" mapstructure:"retry_attempts"`
	RetryDelay      time.Duration `yaml:"retry_delay" json:"retry_delay" mapstructure:"retry_delay"`
	MaxRetryDelay   time.Duration `yaml:"max_retry_delay" json:"max_retry_delay" mapstructure:"max_retry_delay"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec" mapstructure:"rate_limit_per_sec"`
	RateBurst       int           `yaml:"rate_burst" json:"rate_burst" mapstructure:"rate_burst"`
	CircuitBreaker  bool          `yaml:"circuit_breaker" json:"circuit_breaker" mapstructure:"circuit_breaker"`
	// FailureThreshold is the number of consecutive failures that opens the breaker
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold" mapstructure:"failure_threshold"`
	// SuccessThreshold is the number of half-open successes that closes it again
	SuccessThreshold int           `yaml:"success_threshold" json:"success_threshold" mapstructure:"success_threshold"`
	BreakerTimeout   time.Duration `yaml:"breaker_timeout" json:"breaker_timeout" mapstructure:"breaker_timeout"`
}

// BulkConfig controls batch polling.
type BulkConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval" mapstructure:"poll_interval"`
	// MaxPolls caps the number of status polls after batch creation (0 = no cap)
	MaxPolls int `yaml:"max_polls" json:"max_polls" mapstructure:"max_polls"`
	// MaxWait caps the wall-clock time spent polling (0 = no cap)
	MaxWait time.Duration `yaml:"max_wait" json:"max_wait" mapstructure:"max_wait"`
}

// ReportConfig controls the report instance-ready wait.
type ReportConfig struct {
	ReadyAttempts int           `yaml:"ready_attempts" json:"ready_attempts" mapstructure:"ready_attempts"`
	ReadyDelay    time.Duration `yaml:"ready_delay" json:"ready_delay" mapstructure:"ready_delay"`
}

// CatalogConfig controls discovery.
type CatalogConfig struct {
	// AwaitTermination bounds how long enrichment tasks may run before they are abandoned
	AwaitTermination time.Duration `yaml:"await_termination" json:"await_termination" mapstructure:"await_termination"`
	// ExtraUnsupportedObjects extends the built-in denylist
	ExtraUnsupportedObjects []string `yaml:"extra_unsupported_objects" json:"extra_unsupported_objects" mapstructure:"extra_unsupported_objects"`
}

// ObservabilityConfig contains monitoring settings.
type ObservabilityConfig struct {
	LogLevel      string `yaml:"log_level" json:"log_level" mapstructure:"log_level"`
	LogEncoding   string `yaml:"log_encoding" json:"log_encoding" mapstructure:"log_encoding"`
	EnableMetrics bool   `yaml:"enable_metrics" json:"enable_metrics" mapstructure:"enable_metrics"`
	// MetricsAddr is the listen address of the /metrics endpoint
	MetricsAddr   string `yaml:"metrics_addr" json:"metrics_addr" mapstructure:"metrics_addr"`
	EnableTracing bool   `yaml:"enable_tracing" json:"enable_tracing" mapstructure:"enable_tracing"`
}

// NewConfig creates a Config with production defaults.
//
// Timeouts follow the platform's long-running bulk and report calls, so they
// are minutes-scale rather than seconds.
func NewConfig() *Config {
	return &Config{
		Name: "crmsync",
		CRM: CRMConfig{
			APIVersion: DefaultAPIVersion,
			Credentials: models.Credentials{
				LoginURL: DefaultLoginURL,
			},
		},
		Performance: PerformanceConfig{
			Workers: 100,
		},
		Timeouts: TimeoutConfig{
			Connection: 15 * time.Minute,
			Request:    15 * time.Minute,
		},
		Reliability: ReliabilityConfig{
			RetryAttempts:    3,
			RetryDelay:       time.Second,
			MaxRetryDelay:    30 * time.Second,
			RateLimitPerSec:  20,
			RateBurst:        20,
			CircuitBreaker:   true,
			FailureThreshold: 5,
			SuccessThreshold: 3,
			BreakerTimeout:   30 * time.Second,
		},
		Bulk: BulkConfig{
			PollInterval: 5 * time.Second,
			MaxPolls:     720,
			MaxWait:      time.Hour,
		},
		Report: ReportConfig{
			ReadyAttempts: 3,
			ReadyDelay:    500 * time.Millisecond,
		},
		Catalog: CatalogConfig{
			AwaitTermination: 15 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel:      "info",
			LogEncoding:   "json",
			EnableMetrics: false,
			MetricsAddr:   ":9090",
			EnableTracing: false,
		},
	}
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.CRM.APIVersion == "" {
		result = multierror.Append(result, fmt.Errorf("crm.api_version is required"))
	}
	if c.Performance.Workers <= 0 {
		result = multierror.Append(result, fmt.Errorf("performance.workers must be positive"))
	}
	if c.Timeouts.Connection <= 0 || c.Timeouts.Request <= 0 {
		result = multierror.Append(result, fmt.Errorf("timeouts must be positive"))
	}
	if c.Reliability.RetryAttempts < 0 {
		result = multierror.Append(result, fmt.Errorf("reliability.retry_attempts cannot be negative"))
	}
	if c.Reliability.RateLimitPerSec < 0 {
		result = multierror.Append(result, fmt.Errorf("reliability.rate_limit_per_sec cannot be negative"))
	}
	if c.Reliability.RateLimitPerSec > 0 && c.Reliability.RateBurst <= 0 {
		result = multierror.Append(result, fmt.Errorf("reliability.rate_burst must be positive when rate limiting"))
	}
	if c.Bulk.PollInterval <= 0 {
		result = multierror.Append(result, fmt.Errorf("bulk.poll_interval must be positive"))
	}
	if c.Bulk.MaxPolls < 0 || c.Bulk.MaxWait < 0 {
		result = multierror.Append(result, fmt.Errorf("bulk polling bounds cannot be negative"))
	}
	if c.Report.ReadyAttempts <= 0 {
		result = multierror.Append(result, fmt.Errorf("report.ready_attempts must be positive"))
	}
	if c.Catalog.AwaitTermination <= 0 {
		result = multierror.Append(result, fmt.Errorf("catalog.await_termination must be positive"))
	}

	return result.ErrorOrNil()
}

// IsRateLimited returns true if rate limiting is enabled
func (r *ReliabilityConfig) IsRateLimited() bool {
	return r.RateLimitPerSec > 0
}
