package models

// Record is one encoded envelope bound for the sink.
type Record struct {
	Data         []byte `json:"-"`
	PartitionKey string `json:"partition_key"`
}

// RecordFailure describes a single record the sink refused.
type RecordFailure struct {
	RecordIndex  int    `json:"record_index"`
	PartitionKey string `json:"partition_key,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message"`
}

// SubmissionResult is the sink's verdict on one batch. Partial failure is the
// normal case: FailedCount may be non-zero while the call itself succeeded.
type SubmissionResult struct {
	FailedCount int             `json:"failed_count"`
	Failures    []RecordFailure `json:"failures,omitempty"`
}

// FirstFailure returns the first failure carrying an error message.
func (r SubmissionResult) FirstFailure() (RecordFailure, bool) {
	for _, f := range r.Failures {
		if f.ErrorMessage != "" {
			return f, true
		}
	}
	return RecordFailure{}, false
}
