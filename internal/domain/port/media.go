package port

import "context"

// MediaInfo is the decoded metadata of a loaded video.
type MediaInfo struct {
	DurationSeconds float64
	Width           int
	Height          int
}

// VideoResource is an opaque handle to a loaded video. It is owned
// exclusively by one sampling call and must be released exactly once,
// on every exit path.
type VideoResource interface {
	Info() MediaInfo
	// CaptureAt seeks to the given timestamp, waits for the decoder to
	// settle and returns an encoded still at the video's native
	// resolution. Calls must be strictly sequential.
	CaptureAt(ctx context.Context, timestampSeconds float64) ([]byte, error)
	Release() error
}

// MediaLoader loads a video file and makes its metadata available.
type MediaLoader interface {
	Load(ctx context.Context, path string) (VideoResource, error)
}
