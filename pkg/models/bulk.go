package models

// JobState tracks a bulk job through its lifecycle.
type JobState string

const (
	JobCreated      JobState = "CREATED"
	JobBatchCreated JobState = "BATCH_CREATED"
	JobCompleted    JobState = "COMPLETED"
	JobFailed       JobState = "FAILED"
	JobClosed       JobState = "CLOSED"
)

// BatchState is the platform-reported state of a bulk batch.
type BatchState string

const (
	BatchQueued       BatchState = "Queued"
	BatchInProgress   BatchState = "InProgress"
	BatchCompleted    BatchState = "Completed"
	BatchFailed       BatchState = "Failed"
	BatchNotProcessed BatchState = "Not Processed"
)

// Pending reports whether the batch still needs polling.
func (s BatchState) Pending() bool {
	return s == BatchQueued || s == BatchInProgress
}

// BulkJob is an asynchronous export job for one object.
type BulkJob struct {
	ID     string   `json:"id"`
	Object string   `json:"object"`
	State  JobState `json:"state"`
}

// Batch is one query executed inside a bulk job.
type Batch struct {
	ID           string     `json:"id"`
	JobID        string     `json:"job_id"`
	State        BatchState `json:"state"`
	StateMessage string     `json:"state_message,omitempty"`
}
