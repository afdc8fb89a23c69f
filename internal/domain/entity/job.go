package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusIdle       JobStatus = "IDLE"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusSuccess    JobStatus = "SUCCESS"
	JobStatusError      JobStatus = "ERROR"
)

// ExtractionJob tracks one playlist extraction from submission to a
// reviewed, exportable song list.
type ExtractionJob struct {
	ID            uuid.UUID
	UserID        string
	VideoKey      string
	ImageKeys     []string
	InputText     string
	ExportKey     string
	Status        JobStatus
	SongCount     int
	FrameCount    int
	VideoDuration float64
	Attempt       int
	MaxAttempts   int
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

func NewExtractionJob(userID string, videoKey string, imageKeys []string, inputText string, maxAttempts int) *ExtractionJob {
	now := time.Now().UTC()
	return &ExtractionJob{
		ID:          uuid.New(),
		UserID:      userID,
		VideoKey:    videoKey,
		ImageKeys:   imageKeys,
		InputText:   inputText,
		Status:      JobStatusIdle,
		Attempt:     0,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (j *ExtractionJob) HasVideo() bool {
	return j.VideoKey != ""
}

func (j *ExtractionJob) MarkProcessing() {
	j.Status = JobStatusProcessing
	j.Attempt++
	j.UpdatedAt = time.Now().UTC()
}

func (j *ExtractionJob) MarkSuccess(exportKey string, songCount, frameCount int, duration float64) {
	now := time.Now().UTC()
	j.Status = JobStatusSuccess
	j.ExportKey = exportKey
	j.SongCount = songCount
	j.FrameCount = frameCount
	j.VideoDuration = duration
	j.ErrorMessage = ""
	j.UpdatedAt = now
	j.CompletedAt = &now
}

func (j *ExtractionJob) MarkError(errMsg string) {
	j.Status = JobStatusError
	j.ErrorMessage = errMsg
	j.UpdatedAt = time.Now().UTC()
}

// Reset returns a finished job to IDLE so the user can start over.
// The extracted song list is cleared by the repository, not here.
func (j *ExtractionJob) Reset() error {
	if j.Status == JobStatusProcessing {
		return fmt.Errorf("cannot reset job %s while it is processing", j.ID)
	}
	j.Status = JobStatusIdle
	j.ExportKey = ""
	j.SongCount = 0
	j.FrameCount = 0
	j.VideoDuration = 0
	j.ErrorMessage = ""
	j.Attempt = 0
	j.CompletedAt = nil
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (j *ExtractionJob) CanRetry() bool {
	return j.Attempt < j.MaxAttempts
}
