package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcrabbitmq "github.com/testcontainers/testcontainers-go/modules/rabbitmq"

	"github.com/songlift/extraction-service/internal/domain/entity"
	"github.com/songlift/extraction-service/internal/infra/email"
	"github.com/songlift/extraction-service/internal/infra/ffmpeg"
	"github.com/songlift/extraction-service/internal/infra/gemini"
	miniostorage "github.com/songlift/extraction-service/internal/infra/minio"
	"github.com/songlift/extraction-service/internal/infra/postgres"
	"github.com/songlift/extraction-service/internal/infra/rabbitmq"
	"github.com/songlift/extraction-service/internal/pipeline"
	"github.com/songlift/extraction-service/internal/sampler"
	"github.com/songlift/extraction-service/internal/usecase"
	"github.com/songlift/extraction-service/pkg/logger"
)

func TestExtractVideoEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// Start PostgreSQL container
	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("songlift"),
		tcpostgres.WithUsername("songlift_user"),
		tcpostgres.WithPassword("songlift_pass"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	defer pgContainer.Terminate(ctx)

	pgConnStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Start RabbitMQ container
	rmqContainer, err := tcrabbitmq.Run(ctx,
		"rabbitmq:3.12-management-alpine",
	)
	require.NoError(t, err)
	defer rmqContainer.Terminate(ctx)

	rmqURL, err := rmqContainer.AmqpURL(ctx)
	require.NoError(t, err)

	// Start MinIO container
	minioContainer, err := tcminio.Run(ctx,
		"minio/minio:latest",
		tcminio.WithUsername("minioadmin"),
		tcminio.WithPassword("minioadmin"),
	)
	require.NoError(t, err)
	defer minioContainer.Terminate(ctx)

	minioEndpoint, err := minioContainer.ConnectionString(ctx)
	require.NoError(t, err)

	// Run migrations
	err = postgres.RunMigrations(pgConnStr, "../../migrations")
	require.NoError(t, err)

	// Setup MinIO storage
	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:     minioEndpoint,
		AccessKey:    "minioadmin",
		SecretKey:    "minioadmin",
		UseSSL:       false,
		MediaBucket:  "media",
		ExportBucket: "exports",
	})
	require.NoError(t, err)
	require.NoError(t, storage.EnsureBuckets(ctx))

	// Upload test video to MinIO
	testVideoPath := filepath.Join("..", "testdata", "playlist_scroll.mp4")
	if _, err := os.Stat(testVideoPath); os.IsNotExist(err) {
		t.Skip("test video not found at tests/testdata/playlist_scroll.mp4 - generate it with: ffmpeg -f lavfi -i testsrc=duration=6:size=320x240:rate=1 -c:v libx264 -pix_fmt yuv420p tests/testdata/playlist_scroll.mp4")
	}

	minioClient, err := miniogo.New(minioEndpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	require.NoError(t, err)

	videoKey := "testuser/scroll.mp4"
	_, err = minioClient.FPutObject(ctx, "media", videoKey, testVideoPath, miniogo.PutObjectOptions{
		ContentType: "video/mp4",
	})
	require.NoError(t, err)

	// Stub inference endpoint returning a delimited song list
	var inferenceCalls int
	inferenceStub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inferenceCalls++
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "inlineData")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"parts": []map[string]string{
						{"text": "Shape of You ||| Ed Sheeran\nshape of you ||| ed sheeran\nBlinding Lights ||| The Weeknd\nBad Guy ||| Billie Eilish"},
					},
				},
			}},
		})
	}))
	defer inferenceStub.Close()

	// Setup RabbitMQ publisher connection
	rmqConn, err := amqp.Dial(rmqURL)
	require.NoError(t, err)
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn, "songlift.extraction")
	require.NoError(t, err)

	statusPub := rabbitmq.NewStatusPublisher(pub)
	dlqPub := rabbitmq.NewDLQPublisher(pub, "extraction.request.dlq")

	// Setup DB pool
	pool, err := pgxpool.New(ctx, pgConnStr)
	require.NoError(t, err)
	defer pool.Close()

	// Setup use case
	log, _ := logger.New("debug")
	repo := postgres.NewJobRepository(pool)
	loader := ffmpeg.NewLoader(4, 30*time.Second, log)
	frameSampler := sampler.New(loader, sampler.Config{}, log)
	inference, err := gemini.NewClient(gemini.Config{
		APIKey:  "test-key",
		Model:   "gemini-2.5-flash",
		BaseURL: inferenceStub.URL,
		Timeout: 30 * time.Second,
	}, log)
	require.NoError(t, err)
	extractor := pipeline.New(inference, log)
	notifier := email.NewSMTPNotifier("localhost", 1025, "test@test.local", log)

	uc := usecase.NewProcessExtractionUseCase(
		repo, storage, frameSampler, extractor,
		statusPub, dlqPub, notifier,
		log,
		usecase.ProcessExtractionConfig{
			TempDir:    t.TempDir(),
			MaxRetries: 3,
		},
	)

	// Setup consumer
	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:         rmqURL,
		Queue:       "extraction.request",
		RoutingKey:  rabbitmq.RequestRoutingKey,
		Exchange:    "songlift.extraction",
		DLQ:         "extraction.request.dlq",
		Prefetch:    1,
		WorkerCount: 1,
		BaseDelayMs: 100,
	}, uc.Execute, log)
	require.NoError(t, err)
	defer consumer.Close()

	// Bind the status queue so published status messages can be observed
	statusCh, err := rmqConn.Channel()
	require.NoError(t, err)
	defer statusCh.Close()
	_, err = statusCh.QueueDeclare("extraction.status", true, false, false, false, nil)
	require.NoError(t, err)
	err = statusCh.QueueBind("extraction.status", rabbitmq.StatusRoutingKey, "songlift.extraction", false, nil)
	require.NoError(t, err)

	// Start consumer in background
	consumerCtx, consumerCancel := context.WithCancel(ctx)
	defer consumerCancel()

	go func() {
		consumer.Start(consumerCtx)
	}()

	// Give consumer time to start
	time.Sleep(500 * time.Millisecond)

	// Publish extraction request
	jobID := uuid.New()
	requestMsg := entity.ExtractionRequestMessage{
		JobID:     jobID,
		UserID:    "testuser",
		VideoKey:  videoKey,
		UserEmail: "test@test.local",
	}
	msgBody, err := json.Marshal(requestMsg)
	require.NoError(t, err)

	pubCh, err := rmqConn.Channel()
	require.NoError(t, err)
	err = pubCh.PublishWithContext(ctx,
		"songlift.extraction",
		rabbitmq.RequestRoutingKey,
		false, false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        msgBody,
		},
	)
	require.NoError(t, err)
	pubCh.Close()

	// Wait for the terminal status message
	statusMsgs, err := statusCh.Consume("extraction.status", "", true, false, false, false, nil)
	require.NoError(t, err)

	var statusMsg entity.ExtractionStatusMessage
	deadline := time.After(2 * time.Minute)
	for done := false; !done; {
		select {
		case delivery := <-statusMsgs:
			require.NoError(t, json.Unmarshal(delivery.Body, &statusMsg))
			if statusMsg.Stage == "done" || statusMsg.Stage == "failed" {
				done = true
			}
		case <-deadline:
			t.Fatal("timeout waiting for terminal status message")
		}
	}

	// Assert status
	assert.Equal(t, jobID, statusMsg.JobID)
	assert.Equal(t, "done", statusMsg.Stage)
	assert.Equal(t, entity.JobStatusSuccess, statusMsg.Status)
	assert.Greater(t, statusMsg.FrameCount, 0)
	assert.Equal(t, 3, statusMsg.SongCount, "duplicate lines must be collapsed")
	assert.NotEmpty(t, statusMsg.ExportKey)
	assert.Equal(t, 1, inferenceCalls, "all frames must go out in one inference call")

	// Verify export exists in MinIO with the expected line format
	exportObj, err := minioClient.GetObject(ctx, "exports", statusMsg.ExportKey, miniogo.GetObjectOptions{})
	require.NoError(t, err)
	exportData, err := io.ReadAll(exportObj)
	require.NoError(t, err)
	assert.Equal(t, "Shape of You - Ed Sheeran\nBlinding Lights - The Weeknd\nBad Guy - Billie Eilish", string(exportData))

	// Verify job record and songs in database
	var dbStatus string
	var dbSongCount, dbFrameCount int
	err = pool.QueryRow(ctx,
		"SELECT status, song_count, frame_count FROM extraction_jobs WHERE id=$1", jobID,
	).Scan(&dbStatus, &dbSongCount, &dbFrameCount)
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS", dbStatus)
	assert.Equal(t, 3, dbSongCount)
	assert.Equal(t, statusMsg.FrameCount, dbFrameCount)

	songs, err := repo.ListSongs(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, songs, 3)
	assert.Equal(t, "Shape of You", songs[0].SongName)

	// Review flow: edit a mid-list song (rewriting its tuple), then
	// delete the head. The resequencing shift must survive the edited
	// row's new heap position.
	err = repo.UpdateSong(ctx, jobID, 1, entity.SongEntry{SongName: "Blinding Lights", ArtistName: "The Weeknd ft. nobody"})
	require.NoError(t, err)
	require.NoError(t, repo.DeleteSong(ctx, jobID, 0))

	songs, err = repo.ListSongs(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, songs, 2)
	assert.Equal(t, "Blinding Lights", songs[0].SongName)
	assert.Equal(t, "The Weeknd ft. nobody", songs[0].ArtistName)
	assert.Equal(t, "Bad Guy", songs[1].SongName)

	// Stop consumer
	consumerCancel()

	t.Logf("Test passed: %d frames sampled, export at %s", statusMsg.FrameCount, statusMsg.ExportKey)
}
