package entity

import "github.com/google/uuid"

// ExtractionRequestMessage is the inbound message from the
// extraction.request queue.
type ExtractionRequestMessage struct {
	JobID     uuid.UUID `json:"job_id"`
	UserID    string    `json:"user_id"`
	VideoKey  string    `json:"video_key,omitempty"`
	ImageKeys []string  `json:"image_keys,omitempty"`
	Text      string    `json:"text,omitempty"`
	UserEmail string    `json:"user_email,omitempty"`
}

// ExtractionStatusMessage is the outbound message published to the
// extraction.status queue. Progress carries the human-readable sampling
// status line while frame extraction runs.
type ExtractionStatusMessage struct {
	JobID        uuid.UUID `json:"job_id"`
	UserID       string    `json:"user_id"`
	Status       JobStatus `json:"status"`
	Stage        string    `json:"stage,omitempty"`
	Progress     string    `json:"progress,omitempty"`
	FrameCount   int       `json:"frame_count,omitempty"`
	SongCount    int       `json:"song_count,omitempty"`
	ExportKey    string    `json:"export_key,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Attempt      int       `json:"attempt"`
	MaxAttempts  int       `json:"max_attempts"`
}
