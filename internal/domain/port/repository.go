package port

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/songlift/extraction-service/internal/domain/entity"
)

// ErrSongNotFound is returned when a positional song edit or delete
// addresses a row that does not exist.
var ErrSongNotFound = errors.New("song position not found")

type JobRepository interface {
	Create(ctx context.Context, job *entity.ExtractionJob) error
	Update(ctx context.Context, job *entity.ExtractionJob) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.ExtractionJob, error)

	// ReplaceSongs swaps the job's song list wholesale, as happens on
	// each successful extraction.
	ReplaceSongs(ctx context.Context, jobID uuid.UUID, songs []entity.SongEntry) error
	ListSongs(ctx context.Context, jobID uuid.UUID) ([]entity.SongEntry, error)
	UpdateSong(ctx context.Context, jobID uuid.UUID, position int, song entity.SongEntry) error
	// DeleteSong removes one row and closes the positional gap.
	DeleteSong(ctx context.Context, jobID uuid.UUID, position int) error
}
