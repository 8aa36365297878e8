package model

import "time"

// UploadImageResponse represents a staged input image
type UploadImageResponse struct {
	ID          string    `json:"id"`
	FileURL     string    `json:"fileUrl"`
	PreviewURL  string    `json:"previewUrl,omitempty"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"createdAt"`
}
