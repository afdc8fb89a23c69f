// Package pipeline builds the multimodal extraction request, invokes the
// external inference service once and parses its delimited response into
// a deduplicated song list.
package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/songlift/extraction-service/internal/domain/entity"
	"github.com/songlift/extraction-service/internal/domain/port"
)

var (
	// ErrNoInput means neither text nor images were supplied. Checked
	// before any inference call is attempted.
	ErrNoInput = errors.New("no text or images supplied")
	// ErrExtraction means the inference call failed, returned no text,
	// or yielded zero parseable lines.
	ErrExtraction = errors.New("song extraction failed")
)

// maxTextRunes bounds the raw text forwarded to the inference service.
const maxTextRunes = 30000

type Pipeline struct {
	client port.InferenceClient
	logger *zap.Logger
}

func New(client port.InferenceClient, logger *zap.Logger) *Pipeline {
	return &Pipeline{client: client, logger: logger}
}

// Extract sends one request carrying the text block and the ordered image
// sequence, and returns the parsed, deduplicated song list. There is no
// internal retry; a failed call surfaces as ErrExtraction.
func (p *Pipeline) Extract(ctx context.Context, text string, images []entity.ImageAttachment) ([]entity.SongEntry, error) {
	if strings.TrimSpace(text) == "" && len(images) == 0 {
		return nil, ErrNoInput
	}

	req := port.InferenceRequest{
		Prompt: buildPrompt(len(images) > 0, strings.TrimSpace(text) != ""),
		Images: make([]port.InferenceImage, 0, len(images)),
	}
	if strings.TrimSpace(text) != "" {
		req.Text = fmt.Sprintf("Input Text Data:\n\"\"\"%s\"\"\"", truncateRunes(text, maxTextRunes))
	}
	for _, img := range images {
		req.Images = append(req.Images, port.InferenceImage{
			MimeType:   img.MimeType,
			Base64Data: base64.StdEncoding.EncodeToString(img.EncodedImage),
		})
	}

	raw, err := p.client.GenerateText(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrExtraction, err)
	}
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: inference service returned no text", ErrExtraction)
	}

	songs := ParseSongList(raw)
	if len(songs) == 0 {
		return nil, fmt.Errorf("%w: response contained no parseable song lines", ErrExtraction)
	}

	p.logger.Info("songs extracted",
		zap.Int("count", len(songs)),
		zap.Int("images", len(images)),
	)

	return songs, nil
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
