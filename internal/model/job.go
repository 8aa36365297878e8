package model

import "time"

// Job is the durable record of one requested photo transformation.
type Job struct {
	ID                string            `json:"id"`
	UserID            string            `json:"userId"`
	Operation         OperationID       `json:"operation"`
	ImageURL          string            `json:"imageUrl"`
	SelfieURL         string            `json:"selfieUrl,omitempty"`
	Parameters        map[string]string `json:"parameters,omitempty"`
	Status            JobStatus         `json:"status"`
	Provider          Family            `json:"provider"`
	FirstItem         bool              `json:"firstItem"`
	ResultURL         string            `json:"resultUrl,omitempty"`
	Error             *JobError         `json:"error,omitempty"`
	CreditsDeducted   int               `json:"creditsDeducted"`
	AllowanceConsumed bool              `json:"allowanceConsumed"`
	CreatedAt         time.Time         `json:"createdAt"`
	CompletedAt       *time.Time        `json:"completedAt,omitempty"`
}

// JobError describes why a job failed.
type JobError struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// JobCompletion carries the fields written by the completed transition.
type JobCompletion struct {
	ResultURL         string
	CreditsDeducted   int
	AllowanceConsumed bool
}

// PhotoJobPayload is the queue payload for asynchronous execution.
type PhotoJobPayload struct {
	JobID string `json:"jobId"`
}
