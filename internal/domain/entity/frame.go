package entity

// SampledFrame is one still image captured from a video. Frames are
// produced in strictly increasing SequenceIndex and TimestampSeconds
// order and are immutable once emitted.
type SampledFrame struct {
	SequenceIndex    int
	TimestampSeconds float64
	EncodedImage     []byte
	MimeType         string
}
