package model

import "time"

// ProcessRequest represents a request to transform a product photo
type ProcessRequest struct {
	ImageURL         string            `json:"imageUrl" validate:"required,url,max=2048"`
	Operation        OperationID       `json:"operation" validate:"required"`
	Parameters       map[string]string `json:"parameters,omitempty" validate:"omitempty,max=16"`
	SelfieURL        string            `json:"selfieUrl,omitempty" validate:"omitempty,url,max=2048"`
	FirstItemContext bool              `json:"firstItemContext,omitempty"`
}

// ProcessResponse represents a completed transformation
type ProcessResponse struct {
	JobID           string      `json:"jobId"`
	ResultURL       string      `json:"resultUrl"`
	Operation       OperationID `json:"operation"`
	CreditsDeducted int         `json:"creditsDeducted"`
}

// SubmitResponse represents an accepted asynchronous job
type SubmitResponse struct {
	JobID     string      `json:"jobId"`
	Status    JobStatus   `json:"status"`
	Operation OperationID `json:"operation"`
	CreatedAt time.Time   `json:"createdAt"`
}

// JobListResponse represents the caller's recent jobs
type JobListResponse struct {
	Jobs []*Job `json:"jobs"`
}

// OperationInfo is the public view of a catalog entry
type OperationInfo struct {
	ID             OperationID `json:"id"`
	CreditCost     int         `json:"creditCost"`
	MinimumTier    Tier        `json:"minimumTier"`
	Family         Family      `json:"family"`
	RequiresSelfie bool        `json:"requiresSelfie"`
}

// OperationListResponse lists the available operations
type OperationListResponse struct {
	Operations []OperationInfo `json:"operations"`
}
