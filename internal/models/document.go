package models

import "time"

type DocumentStatus string

const (
	DocumentPending   DocumentStatus = "pending"
	DocumentForwarded DocumentStatus = "forwarded"
	DocumentFailed    DocumentStatus = "failed"
)

// Document represents a PDF staged on disk before it is forwarded upstream.
type Document struct {
	ID         int64          `json:"id"`
	SessionID  string         `json:"session_id"`
	FileName   string         `json:"file_name"`
	StoredPath string         `json:"-"`
	MimeType   string         `json:"mime_type"`
	Size       int64          `json:"size"`
	Pages      int            `json:"pages"`
	Status     DocumentStatus `json:"status"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	ExpiresAt  time.Time      `json:"expires_at"`
}
