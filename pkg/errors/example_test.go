package errors_test

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/crmsync/pkg/errors"
)

// Example demonstrates basic error creation with details.
func Example() {
	err := errors.New(errors.ErrorTypeBulkJobFailed, "batch ended in FAILED state").
		WithDetail("job_id", "750xx0000000001").
		WithDetail("object", "Account")

	fmt.Println(err.Error())

	// Output:
	// bulk_job_failed: batch ended in FAILED state
}

// ExampleWrap shows how a transport failure is wrapped with context.
func ExampleWrap() {
	err := errors.Wrap(io.ErrUnexpectedEOF, errors.ErrorTypeConnection, "failed to stream batch result").
		WithDetail("result_id", "752xx000000001")

	if errors.IsType(err, errors.ErrorTypeConnection) {
		fmt.Println("connection error")
	}
	fmt.Println(errors.IsRetryable(err))

	// Output:
	// connection error
	// true
}

// ExampleRootCause unwraps a nested chain down to the innermost error.
func ExampleRootCause() {
	inner := errors.New(errors.ErrorTypeRateLimit, "REQUEST_LIMIT_EXCEEDED: TotalRequests Limit exceeded.")
	mid := errors.Wrap(inner, errors.ErrorTypeQuery, "count query failed")
	outer := fmt.Errorf("build catalog: %w", mid)

	fmt.Println(errors.RootCause(outer))
	fmt.Println(errors.IsType(outer, errors.ErrorTypeRateLimit))

	// Output:
	// rate_limit: REQUEST_LIMIT_EXCEEDED: TotalRequests Limit exceeded.
	// true
}
