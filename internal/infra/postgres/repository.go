package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/songlift/extraction-service/internal/domain/entity"
	"github.com/songlift/extraction-service/internal/domain/port"
)

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) Create(ctx context.Context, job *entity.ExtractionJob) error {
	query := `
		INSERT INTO extraction_jobs (
			id, user_id, video_key, image_keys, input_text, export_key,
			status, song_count, frame_count, video_duration,
			attempt, max_attempts, error_message,
			created_at, updated_at, completed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`

	_, err := r.pool.Exec(ctx, query,
		job.ID, job.UserID, job.VideoKey, job.ImageKeys, job.InputText, job.ExportKey,
		string(job.Status), job.SongCount, job.FrameCount, job.VideoDuration,
		job.Attempt, job.MaxAttempts, job.ErrorMessage,
		job.CreatedAt, job.UpdatedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepository) Update(ctx context.Context, job *entity.ExtractionJob) error {
	query := `
		UPDATE extraction_jobs SET
			export_key=$2, status=$3, song_count=$4, frame_count=$5,
			video_duration=$6, attempt=$7, error_message=$8,
			updated_at=$9, completed_at=$10
		WHERE id=$1`

	_, err := r.pool.Exec(ctx, query,
		job.ID, job.ExportKey, string(job.Status), job.SongCount, job.FrameCount,
		job.VideoDuration, job.Attempt, job.ErrorMessage,
		job.UpdatedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

func (r *JobRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.ExtractionJob, error) {
	query := `
		SELECT id, user_id, video_key, image_keys, input_text, export_key,
			status, song_count, frame_count, video_duration,
			attempt, max_attempts, error_message,
			created_at, updated_at, completed_at
		FROM extraction_jobs WHERE id=$1`

	job := &entity.ExtractionJob{}
	var status string
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&job.ID, &job.UserID, &job.VideoKey, &job.ImageKeys, &job.InputText, &job.ExportKey,
		&status, &job.SongCount, &job.FrameCount, &job.VideoDuration,
		&job.Attempt, &job.MaxAttempts, &job.ErrorMessage,
		&job.CreatedAt, &job.UpdatedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("find job by id: %w", err)
	}
	job.Status = entity.JobStatus(status)
	return job, nil
}

func (r *JobRepository) ReplaceSongs(ctx context.Context, jobID uuid.UUID, songs []entity.SongEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM job_songs WHERE job_id=$1`, jobID); err != nil {
		return fmt.Errorf("clear songs: %w", err)
	}

	batch := &pgx.Batch{}
	for i, s := range songs {
		batch.Queue(
			`INSERT INTO job_songs (job_id, position, song_name, artist_name) VALUES ($1,$2,$3,$4)`,
			jobID, i, s.SongName, s.ArtistName,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert songs: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *JobRepository) ListSongs(ctx context.Context, jobID uuid.UUID) ([]entity.SongEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT song_name, artist_name FROM job_songs WHERE job_id=$1 ORDER BY position`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("list songs: %w", err)
	}
	defer rows.Close()

	var songs []entity.SongEntry
	for rows.Next() {
		var s entity.SongEntry
		if err := rows.Scan(&s.SongName, &s.ArtistName); err != nil {
			return nil, fmt.Errorf("scan song: %w", err)
		}
		songs = append(songs, s)
	}
	return songs, rows.Err()
}

func (r *JobRepository) UpdateSong(ctx context.Context, jobID uuid.UUID, position int, song entity.SongEntry) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE job_songs SET song_name=$3, artist_name=$4 WHERE job_id=$1 AND position=$2`,
		jobID, position, song.SongName, song.ArtistName,
	)
	if err != nil {
		return fmt.Errorf("update song: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return port.ErrSongNotFound
	}
	return nil
}

func (r *JobRepository) DeleteSong(ctx context.Context, jobID uuid.UUID, position int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`DELETE FROM job_songs WHERE job_id=$1 AND position=$2`,
		jobID, position,
	)
	if err != nil {
		return fmt.Errorf("delete song: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return port.ErrSongNotFound
	}

	// Close the positional gap so later edits keep addressing by index.
	// The (job_id, position) key is deferred, so the shift is checked at
	// commit rather than per visited row.
	if _, err := tx.Exec(ctx,
		`UPDATE job_songs SET position = position - 1 WHERE job_id=$1 AND position > $2`,
		jobID, position,
	); err != nil {
		return fmt.Errorf("resequence songs: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
