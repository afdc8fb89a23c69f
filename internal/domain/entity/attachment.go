package entity

import (
	"fmt"

	"github.com/google/uuid"
)

type AttachmentOrigin string

const (
	// OriginDirectUpload marks screenshots the user uploaded themselves.
	// Their backing object in storage outlives the attachment and may
	// need explicit removal when the attachment is detached.
	OriginDirectUpload AttachmentOrigin = "direct-upload"
	// OriginSampledFrame marks frames produced by the sampler. They are
	// self-contained byte payloads with no backing object to clean up.
	OriginSampledFrame AttachmentOrigin = "sampled-frame"
)

// ImageAttachment is one image in the working set handed to the
// extraction pipeline. IDs are unique across the set.
type ImageAttachment struct {
	ID           string
	MimeType     string
	EncodedImage []byte
	Origin       AttachmentOrigin
	// StorageKey is set only for direct uploads.
	StorageKey string
}

func NewUploadAttachment(storageKey, mimeType string, data []byte) ImageAttachment {
	return ImageAttachment{
		ID:           uuid.NewString(),
		MimeType:     mimeType,
		EncodedImage: data,
		Origin:       OriginDirectUpload,
		StorageKey:   storageKey,
	}
}

func NewFrameAttachment(frame SampledFrame) ImageAttachment {
	return ImageAttachment{
		ID:           fmt.Sprintf("frame-%d-%s", frame.SequenceIndex, uuid.NewString()),
		MimeType:     frame.MimeType,
		EncodedImage: frame.EncodedImage,
		Origin:       OriginSampledFrame,
	}
}
