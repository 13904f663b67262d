package domain

import "time"

// BatchStatus represents the processing state of a batch submission.
type BatchStatus string

const (
	BatchStatusProcessing BatchStatus = "PROCESSING"
	BatchStatusAccepted   BatchStatus = "ACCEPTED"
	BatchStatusRejected   BatchStatus = "REJECTED"
)

func (s BatchStatus) String() string { return string(s) }

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusProcessing, BatchStatusAccepted, BatchStatusRejected:
		return true
	}
	return false
}

func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusAccepted || s == BatchStatusRejected
}

// BatchSubmission tracks one batch submission from dispatch to verdict.
// ID is the batch token that names the submission's queue namespace.
type BatchSubmission struct {
	ID         string
	IssuerID   string
	TotalCount int
	ChunkCount int
	Status     BatchStatus
	Reason     *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
