// Package httpapi exposes the job submission, review/edit and export
// surface, plus a websocket feed of extraction progress.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/songlift/extraction-service/internal/domain/entity"
	"github.com/songlift/extraction-service/internal/domain/port"
	"github.com/songlift/extraction-service/internal/export"
)

var allowedVideoTypes = map[string]bool{
	"video/mp4":       true,
	"video/quicktime": true,
	"video/webm":      true,
}

type Server struct {
	repo           port.JobRepository
	storage        port.MediaStorage
	publisher      port.RequestPublisher
	hub            *Hub
	logger         *zap.Logger
	maxRetries     int
	maxUploadBytes int64
}

type ServerConfig struct {
	MaxRetries     int
	MaxUploadBytes int64
}

func NewServer(
	repo port.JobRepository,
	storage port.MediaStorage,
	publisher port.RequestPublisher,
	hub *Hub,
	logger *zap.Logger,
	cfg ServerConfig,
) *Server {
	return &Server{
		repo:           repo,
		storage:        storage,
		publisher:      publisher,
		hub:            hub,
		logger:         logger,
		maxRetries:     cfg.MaxRetries,
		maxUploadBytes: cfg.MaxUploadBytes,
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.MaxMultipartMemory = 32 << 20

	api := r.Group("/api")
	{
		api.POST("/jobs", s.createJob)
		api.GET("/jobs/:id", s.getJob)
		api.PUT("/jobs/:id/songs/:pos", s.updateSong)
		api.DELETE("/jobs/:id/songs/:pos", s.deleteSong)
		api.POST("/jobs/:id/reset", s.resetJob)
		api.GET("/jobs/:id/export", s.downloadExport)
	}
	r.GET("/ws", s.hub.Handle)

	return r
}

// createJob accepts pasted text, screenshot uploads and/or one
// screen-recording video, stores the media and enqueues the extraction.
func (s *Server) createJob(c *gin.Context) {
	if s.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUploadBytes)
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form: " + err.Error()})
		return
	}

	userID := c.PostForm("user_id")
	if userID == "" {
		userID = "anonymous"
	}
	text := c.PostForm("text")
	userEmail := c.PostForm("user_email")

	var videoFile *multipart.FileHeader
	if files := form.File["video"]; len(files) > 0 {
		videoFile = files[0]
		if !allowedVideoTypes[mediaContentType(videoFile)] {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{
				"error": fmt.Sprintf("unsupported video type %q: use mp4, quicktime or webm", mediaContentType(videoFile)),
			})
			return
		}
	}

	imageFiles := form.File["images"]
	for _, f := range imageFiles {
		if !strings.HasPrefix(mediaContentType(f), "image/") {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{
				"error": fmt.Sprintf("unsupported image type %q", mediaContentType(f)),
			})
			return
		}
	}

	if strings.TrimSpace(text) == "" && videoFile == nil && len(imageFiles) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provide pasted text, screenshots or a screen-recording video"})
		return
	}

	jobID := uuid.New()
	ctx := c.Request.Context()

	videoKey := ""
	if videoFile != nil {
		videoKey = fmt.Sprintf("%s/%s/video/%s", userID, jobID, filepath.Base(videoFile.Filename))
		if err := s.storeUpload(ctx, videoFile, videoKey); err != nil {
			s.logger.Error("video upload failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store video"})
			return
		}
	}

	imageKeys := make([]string, 0, len(imageFiles))
	for i, f := range imageFiles {
		key := fmt.Sprintf("%s/%s/images/%03d_%s", userID, jobID, i, filepath.Base(f.Filename))
		if err := s.storeUpload(ctx, f, key); err != nil {
			s.logger.Error("image upload failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store image"})
			return
		}
		imageKeys = append(imageKeys, key)
	}

	job := entity.NewExtractionJob(userID, videoKey, imageKeys, text, s.maxRetries)
	job.ID = jobID
	if err := s.repo.Create(ctx, job); err != nil {
		s.logger.Error("job create failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create job"})
		return
	}

	msg := entity.ExtractionRequestMessage{
		JobID:     jobID,
		UserID:    userID,
		VideoKey:  videoKey,
		ImageKeys: imageKeys,
		Text:      text,
		UserEmail: userEmail,
	}
	body, _ := json.Marshal(msg)
	if err := s.publisher.PublishRequest(ctx, body); err != nil {
		s.logger.Error("request publish failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue extraction"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "status": job.Status})
}

func (s *Server) storeUpload(ctx context.Context, fh *multipart.FileHeader, key string) error {
	f, err := fh.Open()
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	return s.storage.UploadMedia(ctx, key, f, fh.Size, mediaContentType(fh))
}

func (s *Server) getJob(c *gin.Context) {
	job, ok := s.findJob(c)
	if !ok {
		return
	}

	songs, err := s.repo.ListSongs(c.Request.Context(), job.ID)
	if err != nil {
		s.logger.Error("list songs failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load songs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id":        job.ID,
		"status":        job.Status,
		"song_count":    job.SongCount,
		"frame_count":   job.FrameCount,
		"duration_secs": job.VideoDuration,
		"error_message": job.ErrorMessage,
		"songs":         songs,
	})
}

func (s *Server) updateSong(c *gin.Context) {
	job, ok := s.findJob(c)
	if !ok {
		return
	}
	pos, ok := s.songPosition(c)
	if !ok {
		return
	}

	var song entity.SongEntry
	if err := c.ShouldBindJSON(&song); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid song payload: " + err.Error()})
		return
	}
	if song.SongName == "" {
		song.SongName = entity.UnknownSong
	}
	if song.ArtistName == "" {
		song.ArtistName = entity.UnknownArtist
	}

	err := s.repo.UpdateSong(c.Request.Context(), job.ID, pos, song)
	if errors.Is(err, port.ErrSongNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "song position not found"})
		return
	}
	if err != nil {
		s.logger.Error("song update failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update song"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"position": pos, "song": song})
}

func (s *Server) deleteSong(c *gin.Context) {
	job, ok := s.findJob(c)
	if !ok {
		return
	}
	pos, ok := s.songPosition(c)
	if !ok {
		return
	}

	err := s.repo.DeleteSong(c.Request.Context(), job.ID, pos)
	if errors.Is(err, port.ErrSongNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "song position not found"})
		return
	}
	if err != nil {
		s.logger.Error("song delete failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete song"})
		return
	}

	c.Status(http.StatusNoContent)
}

// resetJob returns a finished job to IDLE, clearing its song list and
// removing the uploaded media objects.
func (s *Server) resetJob(c *gin.Context) {
	job, ok := s.findJob(c)
	if !ok {
		return
	}

	if err := job.Reset(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if err := s.repo.ReplaceSongs(ctx, job.ID, nil); err != nil {
		s.logger.Error("song clear failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reset job"})
		return
	}
	if err := s.repo.Update(ctx, job); err != nil {
		s.logger.Error("job reset failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reset job"})
		return
	}

	// Best effort: stored media is session-scoped working state.
	for _, key := range append([]string{job.VideoKey}, job.ImageKeys...) {
		if key == "" {
			continue
		}
		if err := s.storage.RemoveMedia(ctx, key); err != nil {
			s.logger.Warn("media cleanup failed", zap.String("key", key), zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{"job_id": job.ID, "status": job.Status})
}

func (s *Server) downloadExport(c *gin.Context) {
	job, ok := s.findJob(c)
	if !ok {
		return
	}
	if job.ExportKey == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "job has no export yet"})
		return
	}

	data, err := s.storage.FetchExport(c.Request.Context(), job.ExportKey)
	if err != nil {
		s.logger.Error("export fetch failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch export"})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename))
	c.Data(http.StatusOK, export.ContentType, data)
}

func (s *Server) findJob(c *gin.Context) (*entity.ExtractionJob, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return nil, false
	}

	job, err := s.repo.FindByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return nil, false
	}
	return job, true
}

func (s *Server) songPosition(c *gin.Context) (int, bool) {
	pos, err := strconv.Atoi(c.Param("pos"))
	if err != nil || pos < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid song position"})
		return 0, false
	}
	return pos, true
}

func mediaContentType(fh *multipart.FileHeader) string {
	ct := fh.Header.Get("Content-Type")
	if ct != "" {
		return ct
	}
	switch strings.ToLower(filepath.Ext(fh.Filename)) {
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
