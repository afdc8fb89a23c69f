package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/songlift/extraction-service/internal/domain/entity"
	"github.com/songlift/extraction-service/internal/domain/port"
	"github.com/songlift/extraction-service/internal/export"
	"github.com/songlift/extraction-service/internal/infra/metrics"
	"github.com/songlift/extraction-service/internal/pipeline"
	"github.com/songlift/extraction-service/internal/sampler"
)

// FrameSampler produces the frame sequence for a downloaded video file.
type FrameSampler interface {
	Sample(ctx context.Context, path string, onProgress sampler.ProgressFunc) *sampler.Stream
}

// SongExtractor runs one inference request over text and images.
type SongExtractor interface {
	Extract(ctx context.Context, text string, images []entity.ImageAttachment) ([]entity.SongEntry, error)
}

type ProcessExtractionUseCase struct {
	repo      port.JobRepository
	storage   port.MediaStorage
	sampler   FrameSampler
	extractor SongExtractor
	publisher port.StatusPublisher
	dlq       port.DLQPublisher
	notifier  port.FailureNotifier
	logger    *zap.Logger
	tempDir   string
	maxRetry  int
}

type ProcessExtractionConfig struct {
	TempDir    string
	MaxRetries int
}

func NewProcessExtractionUseCase(
	repo port.JobRepository,
	storage port.MediaStorage,
	frameSampler FrameSampler,
	extractor SongExtractor,
	publisher port.StatusPublisher,
	dlq port.DLQPublisher,
	notifier port.FailureNotifier,
	logger *zap.Logger,
	cfg ProcessExtractionConfig,
) *ProcessExtractionUseCase {
	return &ProcessExtractionUseCase{
		repo:      repo,
		storage:   storage,
		sampler:   frameSampler,
		extractor: extractor,
		publisher: publisher,
		dlq:       dlq,
		notifier:  notifier,
		logger:    logger,
		tempDir:   cfg.TempDir,
		maxRetry:  cfg.MaxRetries,
	}
}

func (uc *ProcessExtractionUseCase) Execute(ctx context.Context, rawMsg []byte) error {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "ProcessExtractionUseCase.Execute")
	defer span.End()

	totalTimer := time.Now()

	var msg entity.ExtractionRequestMessage
	if err := json.Unmarshal(rawMsg, &msg); err != nil {
		uc.logger.Error("failed to unmarshal message", zap.Error(err), zap.ByteString("body", rawMsg))
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, "unmarshal_error: "+err.Error())
		return nil
	}

	span.SetAttributes(
		attribute.String("job.id", msg.JobID.String()),
		attribute.String("job.video_key", msg.VideoKey),
		attribute.Int("job.image_keys", len(msg.ImageKeys)),
	)

	log := uc.logger.With(zap.String("job_id", msg.JobID.String()))

	job, err := uc.repo.FindByID(ctx, msg.JobID)
	if err != nil {
		job = entity.NewExtractionJob(msg.UserID, msg.VideoKey, msg.ImageKeys, msg.Text, uc.maxRetry)
		job.ID = msg.JobID
		if err := uc.repo.Create(ctx, job); err != nil {
			log.Error("failed to create job record", zap.Error(err))
			return fmt.Errorf("create job: %w", err)
		}
	}

	if !job.CanRetry() {
		log.Warn("job exhausted retries, sending to DLQ")
		_ = uc.handlePermanentFailure(ctx, job, msg, rawMsg, "max retries exceeded")
		return nil
	}

	job.MarkProcessing()
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job to PROCESSING", zap.Error(err))
		return fmt.Errorf("update job: %w", err)
	}
	uc.publishStatus(ctx, job, "processing", "", log)

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	if err := uc.runPipeline(ctx, job, msg, rawMsg, log); err != nil {
		return err
	}

	metrics.ExtractionsTotal.WithLabelValues("success").Inc()
	metrics.StageDuration.WithLabelValues("total").Observe(time.Since(totalTimer).Seconds())

	return nil
}

func (uc *ProcessExtractionUseCase) runPipeline(
	ctx context.Context,
	job *entity.ExtractionJob,
	msg entity.ExtractionRequestMessage,
	rawMsg []byte,
	log *zap.Logger,
) error {
	tracer := otel.Tracer("usecase")

	workDir := filepath.Join(uc.tempDir, job.ID.String())
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return fmt.Errorf("create workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	// Fetch direct-upload screenshots first: they precede sampled frames
	// in the attachment order.
	attachments := make([]entity.ImageAttachment, 0, len(msg.ImageKeys))
	for _, key := range msg.ImageKeys {
		data, contentType, err := uc.storage.FetchImage(ctx, key)
		if err != nil {
			log.Error("failed to fetch image", zap.String("key", key), zap.Error(err))
			return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "fetch_image: "+err.Error(), log)
		}
		if !strings.HasPrefix(contentType, "image/") {
			contentType = "image/jpeg"
		}
		attachments = append(attachments, entity.NewUploadAttachment(key, contentType, data))
	}

	frameCount := 0
	videoDuration := 0.0
	if msg.VideoKey != "" {
		dlStart := time.Now()
		ctxDl, spanDl := tracer.Start(ctx, "download_video")
		videoPath := filepath.Join(workDir, "input"+videoExt(msg.VideoKey))
		if err := uc.storage.DownloadMedia(ctxDl, msg.VideoKey, videoPath); err != nil {
			spanDl.End()
			log.Error("failed to download video", zap.Error(err))
			return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "download_video: "+err.Error(), log)
		}
		spanDl.End()
		metrics.StageDuration.WithLabelValues("download").Observe(time.Since(dlStart).Seconds())

		smStart := time.Now()
		ctxSm, spanSm := tracer.Start(ctx, "sample_frames")
		stream := uc.sampler.Sample(ctxSm, videoPath, func(p sampler.Progress) {
			progress := fmt.Sprintf("Extracting frames: %d%% (%d captured)", p.Percent, p.FramesCaptured)
			uc.publishStatus(ctx, job, "sampling", progress, log)
		})
		for frame := range stream.Frames() {
			attachments = append(attachments, entity.NewFrameAttachment(frame))
			frameCount++
		}
		if err := stream.Err(); err != nil {
			spanSm.End()
			log.Error("frame sampling failed", zap.Error(err))
			return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "sample_frames: "+err.Error(), log)
		}
		videoDuration = stream.Info().DurationSeconds
		spanSm.End()
		metrics.StageDuration.WithLabelValues("sample").Observe(time.Since(smStart).Seconds())
		metrics.FramesSampledTotal.Add(float64(frameCount))
	}

	exStart := time.Now()
	ctxEx, spanEx := tracer.Start(ctx, "extract_songs")
	songs, err := uc.extractor.Extract(ctxEx, msg.Text, attachments)
	spanEx.End()
	if err != nil {
		log.Error("song extraction failed", zap.Error(err))
		if errors.Is(err, pipeline.ErrNoInput) {
			// Nothing to analyze; retrying cannot help.
			return uc.handlePermanentFailure(ctx, job, msg, rawMsg, "extract_songs: "+err.Error())
		}
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "extract_songs: "+err.Error(), log)
	}
	metrics.StageDuration.WithLabelValues("extract").Observe(time.Since(exStart).Seconds())
	metrics.SongsExtractedTotal.Add(float64(len(songs)))

	if err := uc.repo.ReplaceSongs(ctx, job.ID, songs); err != nil {
		log.Error("failed to store songs", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "store_songs: "+err.Error(), log)
	}

	upStart := time.Now()
	ctxUp, spanUp := tracer.Start(ctx, "upload_export")
	exportKey := fmt.Sprintf("%s/%s/%s", msg.UserID, job.ID.String(), export.Filename)
	if err := uc.storage.UploadExport(ctxUp, exportKey, export.Render(songs)); err != nil {
		spanUp.End()
		log.Error("export upload failed", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "upload_export: "+err.Error(), log)
	}
	spanUp.End()
	metrics.StageDuration.WithLabelValues("upload").Observe(time.Since(upStart).Seconds())

	job.MarkSuccess(exportKey, len(songs), frameCount, videoDuration)
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job to SUCCESS", zap.Error(err))
		return fmt.Errorf("update job success: %w", err)
	}

	uc.publishStatus(ctx, job, "done", "", log)

	log.Info("job completed successfully",
		zap.Int("song_count", len(songs)),
		zap.Int("frame_count", frameCount),
		zap.Float64("duration_secs", videoDuration),
		zap.String("export_key", exportKey),
	)

	return nil
}

func (uc *ProcessExtractionUseCase) handleRetryableFailure(
	ctx context.Context,
	job *entity.ExtractionJob,
	msg entity.ExtractionRequestMessage,
	rawMsg []byte,
	errMsg string,
	log *zap.Logger,
) error {
	job.MarkError(errMsg)
	_ = uc.repo.Update(ctx, job)

	if !job.CanRetry() {
		return uc.handlePermanentFailure(ctx, job, msg, rawMsg, errMsg)
	}

	metrics.RetryTotal.WithLabelValues(strconv.Itoa(job.Attempt)).Inc()
	uc.publishStatus(ctx, job, "failed", "", log)

	return fmt.Errorf("retryable failure (attempt %d/%d): %s", job.Attempt, job.MaxAttempts, errMsg)
}

func (uc *ProcessExtractionUseCase) handlePermanentFailure(
	ctx context.Context,
	job *entity.ExtractionJob,
	msg entity.ExtractionRequestMessage,
	rawMsg []byte,
	errMsg string,
) error {
	job.MarkError(errMsg)
	_ = uc.repo.Update(ctx, job)

	_ = uc.dlq.PublishToDLQ(ctx, rawMsg, errMsg)

	uc.publishStatus(ctx, job, "failed", "", uc.logger)

	metrics.ExtractionsTotal.WithLabelValues("dlq").Inc()

	if msg.UserEmail != "" {
		mediaKey := msg.VideoKey
		if mediaKey == "" && len(msg.ImageKeys) > 0 {
			mediaKey = msg.ImageKeys[0]
		}
		_ = uc.notifier.NotifyFailure(ctx, msg.UserEmail, job.ID.String(), mediaKey, errMsg)
	}

	return nil
}

func (uc *ProcessExtractionUseCase) publishStatus(ctx context.Context, job *entity.ExtractionJob, stage, progress string, log *zap.Logger) {
	statusMsg := entity.ExtractionStatusMessage{
		JobID:        job.ID,
		UserID:       job.UserID,
		Status:       job.Status,
		Stage:        stage,
		Progress:     progress,
		FrameCount:   job.FrameCount,
		SongCount:    job.SongCount,
		ExportKey:    job.ExportKey,
		ErrorMessage: job.ErrorMessage,
		Attempt:      job.Attempt,
		MaxAttempts:  job.MaxAttempts,
	}
	data, _ := json.Marshal(statusMsg)
	if err := uc.publisher.PublishStatus(ctx, data); err != nil {
		log.Error("failed to publish status", zap.Error(err))
	}
}

func videoExt(key string) string {
	if ext := filepath.Ext(key); ext != "" {
		return ext
	}
	return ".mp4"
}
