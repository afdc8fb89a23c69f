package port

import "context"

type InferenceImage struct {
	MimeType   string
	Base64Data string
}

// InferenceRequest is one multimodal request to the external inference
// service. Image order is significant: the service is instructed to use
// frame order as a tie-break for list position.
type InferenceRequest struct {
	Prompt string
	Text   string
	Images []InferenceImage
}

type InferenceClient interface {
	GenerateText(ctx context.Context, req InferenceRequest) (string, error)
}
