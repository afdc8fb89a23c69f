package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/songlift/extraction-service/internal/domain/entity"
	"github.com/songlift/extraction-service/internal/domain/port"
	"github.com/songlift/extraction-service/internal/pipeline"
	"github.com/songlift/extraction-service/internal/sampler"
)

type fakeRepo struct {
	jobs  map[uuid.UUID]*entity.ExtractionJob
	songs map[uuid.UUID][]entity.SongEntry
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		jobs:  make(map[uuid.UUID]*entity.ExtractionJob),
		songs: make(map[uuid.UUID][]entity.SongEntry),
	}
}

func (r *fakeRepo) Create(ctx context.Context, job *entity.ExtractionJob) error {
	r.jobs[job.ID] = job
	return nil
}

func (r *fakeRepo) Update(ctx context.Context, job *entity.ExtractionJob) error {
	r.jobs[job.ID] = job
	return nil
}

func (r *fakeRepo) FindByID(ctx context.Context, id uuid.UUID) (*entity.ExtractionJob, error) {
	job, ok := r.jobs[id]
	if !ok {
		return nil, errors.New("job not found")
	}
	return job, nil
}

func (r *fakeRepo) ReplaceSongs(ctx context.Context, jobID uuid.UUID, songs []entity.SongEntry) error {
	r.songs[jobID] = songs
	return nil
}

func (r *fakeRepo) ListSongs(ctx context.Context, jobID uuid.UUID) ([]entity.SongEntry, error) {
	return r.songs[jobID], nil
}

func (r *fakeRepo) UpdateSong(ctx context.Context, jobID uuid.UUID, position int, song entity.SongEntry) error {
	return nil
}

func (r *fakeRepo) DeleteSong(ctx context.Context, jobID uuid.UUID, position int) error {
	return nil
}

type fakeStorage struct {
	images      map[string][]byte
	exports     map[string][]byte
	downloadErr error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		images:  make(map[string][]byte),
		exports: make(map[string][]byte),
	}
}

func (s *fakeStorage) DownloadMedia(ctx context.Context, objectKey, destPath string) error {
	return s.downloadErr
}

func (s *fakeStorage) FetchImage(ctx context.Context, objectKey string) ([]byte, string, error) {
	data, ok := s.images[objectKey]
	if !ok {
		return nil, "", fmt.Errorf("object %s not found", objectKey)
	}
	return data, "image/png", nil
}

func (s *fakeStorage) UploadMedia(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error {
	return nil
}

func (s *fakeStorage) RemoveMedia(ctx context.Context, objectKey string) error {
	return nil
}

func (s *fakeStorage) UploadExport(ctx context.Context, objectKey string, data []byte) error {
	s.exports[objectKey] = data
	return nil
}

func (s *fakeStorage) FetchExport(ctx context.Context, objectKey string) ([]byte, error) {
	return s.exports[objectKey], nil
}

type fakeStatusPublisher struct {
	messages []entity.ExtractionStatusMessage
}

func (p *fakeStatusPublisher) PublishStatus(ctx context.Context, msg []byte) error {
	var status entity.ExtractionStatusMessage
	if err := json.Unmarshal(msg, &status); err != nil {
		return err
	}
	p.messages = append(p.messages, status)
	return nil
}

func (p *fakeStatusPublisher) stages() []string {
	out := make([]string, 0, len(p.messages))
	for _, m := range p.messages {
		out = append(out, m.Stage)
	}
	return out
}

type fakeDLQ struct {
	published [][]byte
	reasons   []string
}

func (d *fakeDLQ) PublishToDLQ(ctx context.Context, msg []byte, reason string) error {
	d.published = append(d.published, msg)
	d.reasons = append(d.reasons, reason)
	return nil
}

type fakeNotifier struct {
	emails []string
}

func (n *fakeNotifier) NotifyFailure(ctx context.Context, userEmail, jobID, mediaKey, errorMsg string) error {
	n.emails = append(n.emails, userEmail)
	return nil
}

type fakeExtractor struct {
	songs     []entity.SongEntry
	err       error
	gotText   string
	gotImages []entity.ImageAttachment
	callCount int
}

func (e *fakeExtractor) Extract(ctx context.Context, text string, images []entity.ImageAttachment) ([]entity.SongEntry, error) {
	e.callCount++
	e.gotText = text
	e.gotImages = images
	return e.songs, e.err
}

type stubLoader struct {
	info port.MediaInfo
}

func (l *stubLoader) Load(ctx context.Context, path string) (port.VideoResource, error) {
	return &stubResource{info: l.info}, nil
}

type stubResource struct {
	info port.MediaInfo
}

func (r *stubResource) Info() port.MediaInfo { return r.info }

func (r *stubResource) CaptureAt(ctx context.Context, t float64) ([]byte, error) {
	return []byte{0xff, 0xd8}, nil
}

func (r *stubResource) Release() error { return nil }

type testEnv struct {
	uc        *ProcessExtractionUseCase
	repo      *fakeRepo
	storage   *fakeStorage
	status    *fakeStatusPublisher
	dlq       *fakeDLQ
	notifier  *fakeNotifier
	extractor *fakeExtractor
}

func newTestEnv(t *testing.T, loader port.MediaLoader, extractor *fakeExtractor) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:      newFakeRepo(),
		storage:   newFakeStorage(),
		status:    &fakeStatusPublisher{},
		dlq:       &fakeDLQ{},
		notifier:  &fakeNotifier{},
		extractor: extractor,
	}
	var frameSampler FrameSampler
	if loader != nil {
		frameSampler = sampler.New(loader, sampler.Config{}, zap.NewNop())
	}
	env.uc = NewProcessExtractionUseCase(
		env.repo, env.storage, frameSampler, extractor,
		env.status, env.dlq, env.notifier, zap.NewNop(),
		ProcessExtractionConfig{TempDir: t.TempDir(), MaxRetries: 3},
	)
	return env
}

func seedJob(env *testEnv, msg entity.ExtractionRequestMessage) *entity.ExtractionJob {
	job := entity.NewExtractionJob(msg.UserID, msg.VideoKey, msg.ImageKeys, msg.Text, 3)
	job.ID = msg.JobID
	env.repo.jobs[job.ID] = job
	return job
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestExecuteTextOnlySuccess(t *testing.T) {
	extractor := &fakeExtractor{songs: []entity.SongEntry{
		{SongName: "Yellow", ArtistName: "Coldplay"},
		{SongName: "Clocks", ArtistName: "Coldplay"},
	}}
	env := newTestEnv(t, nil, extractor)

	msg := entity.ExtractionRequestMessage{
		JobID:  uuid.New(),
		UserID: "user-1",
		Text:   "playlist dump",
	}
	seedJob(env, msg)

	err := env.uc.Execute(context.Background(), mustMarshal(t, msg))
	require.NoError(t, err)

	job := env.repo.jobs[msg.JobID]
	assert.Equal(t, entity.JobStatusSuccess, job.Status)
	assert.Equal(t, 2, job.SongCount)
	assert.Zero(t, job.FrameCount)

	assert.Equal(t, "playlist dump", extractor.gotText)
	assert.Empty(t, extractor.gotImages)

	assert.Equal(t, extractor.songs, env.repo.songs[msg.JobID])

	exportKey := fmt.Sprintf("user-1/%s/kugou_playlist_export.txt", msg.JobID)
	assert.Equal(t, "Yellow - Coldplay\nClocks - Coldplay", string(env.storage.exports[exportKey]))
	assert.Equal(t, exportKey, job.ExportKey)

	stages := env.status.stages()
	assert.Contains(t, stages, "processing")
	assert.Contains(t, stages, "done")
	assert.Empty(t, env.dlq.published)
}

func TestExecuteVideoSuccess(t *testing.T) {
	extractor := &fakeExtractor{songs: []entity.SongEntry{{SongName: "A", ArtistName: "B"}}}
	loader := &stubLoader{info: port.MediaInfo{DurationSeconds: 5, Width: 1080, Height: 1920}}
	env := newTestEnv(t, loader, extractor)

	msg := entity.ExtractionRequestMessage{
		JobID:     uuid.New(),
		UserID:    "user-1",
		VideoKey:  "user-1/job/video/scroll.mp4",
		ImageKeys: []string{"user-1/job/images/000_cover.png"},
	}
	env.storage.images[msg.ImageKeys[0]] = []byte{0x89, 0x50}
	seedJob(env, msg)

	err := env.uc.Execute(context.Background(), mustMarshal(t, msg))
	require.NoError(t, err)

	job := env.repo.jobs[msg.JobID]
	assert.Equal(t, entity.JobStatusSuccess, job.Status)
	assert.Equal(t, 3, job.FrameCount) // 5s at 2s cadence
	assert.Equal(t, 5.0, job.VideoDuration)

	// Direct uploads precede sampled frames.
	require.Len(t, extractor.gotImages, 4)
	assert.Equal(t, entity.OriginDirectUpload, extractor.gotImages[0].Origin)
	for _, img := range extractor.gotImages[1:] {
		assert.Equal(t, entity.OriginSampledFrame, img.Origin)
	}

	var sawSampling bool
	for _, m := range env.status.messages {
		if m.Stage == "sampling" {
			sawSampling = true
			assert.Contains(t, m.Progress, "Extracting frames:")
		}
	}
	assert.True(t, sawSampling)
}

func TestExecuteCreatesJobWhenUnknown(t *testing.T) {
	extractor := &fakeExtractor{songs: []entity.SongEntry{{SongName: "A", ArtistName: "B"}}}
	env := newTestEnv(t, nil, extractor)

	msg := entity.ExtractionRequestMessage{JobID: uuid.New(), UserID: "user-2", Text: "text"}

	err := env.uc.Execute(context.Background(), mustMarshal(t, msg))
	require.NoError(t, err)

	job, ok := env.repo.jobs[msg.JobID]
	require.True(t, ok)
	assert.Equal(t, entity.JobStatusSuccess, job.Status)
}

func TestExecuteMalformedMessageGoesToDLQ(t *testing.T) {
	extractor := &fakeExtractor{}
	env := newTestEnv(t, nil, extractor)

	err := env.uc.Execute(context.Background(), []byte("not json"))

	require.NoError(t, err, "poison messages must be acked, not requeued")
	require.Len(t, env.dlq.published, 1)
	assert.Contains(t, env.dlq.reasons[0], "unmarshal_error")
	assert.Zero(t, extractor.callCount)
}

func TestExecuteNoInputIsPermanentFailure(t *testing.T) {
	extractor := &fakeExtractor{err: fmt.Errorf("%w: nothing supplied", pipeline.ErrNoInput)}
	env := newTestEnv(t, nil, extractor)

	msg := entity.ExtractionRequestMessage{
		JobID:     uuid.New(),
		UserID:    "user-1",
		UserEmail: "user@example.com",
	}
	seedJob(env, msg)

	err := env.uc.Execute(context.Background(), mustMarshal(t, msg))

	require.NoError(t, err, "permanent failures must not requeue")
	assert.Equal(t, entity.JobStatusError, env.repo.jobs[msg.JobID].Status)
	require.Len(t, env.dlq.published, 1)
	assert.Equal(t, []string{"user@example.com"}, env.notifier.emails)
}

func TestExecuteRetryableFailureRequeues(t *testing.T) {
	extractor := &fakeExtractor{err: fmt.Errorf("%w: 503 overloaded", pipeline.ErrExtraction)}
	env := newTestEnv(t, nil, extractor)

	msg := entity.ExtractionRequestMessage{JobID: uuid.New(), UserID: "user-1", Text: "text"}
	seedJob(env, msg)

	err := env.uc.Execute(context.Background(), mustMarshal(t, msg))

	require.Error(t, err, "retryable failures must surface so the message is requeued")
	assert.Equal(t, entity.JobStatusError, env.repo.jobs[msg.JobID].Status)
	assert.Empty(t, env.dlq.published)
}

func TestExecuteExhaustedRetriesGoToDLQ(t *testing.T) {
	extractor := &fakeExtractor{songs: []entity.SongEntry{{SongName: "A", ArtistName: "B"}}}
	env := newTestEnv(t, nil, extractor)

	msg := entity.ExtractionRequestMessage{JobID: uuid.New(), UserID: "user-1", Text: "text"}
	job := seedJob(env, msg)
	job.Attempt = job.MaxAttempts

	err := env.uc.Execute(context.Background(), mustMarshal(t, msg))

	require.NoError(t, err)
	require.Len(t, env.dlq.published, 1)
	assert.Contains(t, env.dlq.reasons[0], "max retries")
	assert.Zero(t, extractor.callCount)
}

func TestExecuteSamplingFailureIsRetryable(t *testing.T) {
	extractor := &fakeExtractor{}
	env := newTestEnv(t, nil, extractor)
	env.uc.sampler = sampler.New(&failingLoader{}, sampler.Config{}, zap.NewNop())

	msg := entity.ExtractionRequestMessage{
		JobID:    uuid.New(),
		UserID:   "user-1",
		VideoKey: "user-1/job/video/corrupt.mp4",
	}
	seedJob(env, msg)

	err := env.uc.Execute(context.Background(), mustMarshal(t, msg))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "sample_frames")
	assert.Zero(t, extractor.callCount, "a failed sample must not reach the inference call")
}

type failingLoader struct{}

func (l *failingLoader) Load(ctx context.Context, path string) (port.VideoResource, error) {
	return nil, errors.New("moov atom not found")
}
