package port

import (
	"context"
	"io"
)

type MediaStorage interface {
	DownloadMedia(ctx context.Context, objectKey string, destPath string) error
	FetchImage(ctx context.Context, objectKey string) (data []byte, contentType string, err error)
	UploadMedia(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error
	RemoveMedia(ctx context.Context, objectKey string) error
	UploadExport(ctx context.Context, objectKey string, data []byte) error
	FetchExport(ctx context.Context, objectKey string) ([]byte, error)
}
