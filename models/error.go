package models

import (
	"errors"
)

// Sentinel errors surfaced by the watermarking engine and its embedders.
var (
	ErrFileValidation       = errors.New("file failed validation checks")
	ErrFormatUnsupported    = errors.New("file type or extension is not supported by any embedder")
	ErrEmbedderUnavailable  = errors.New("an embedder required by the layer plan is unavailable")
	ErrAudioTooShort        = errors.New("audio content is too short to carry a watermark frame")
	ErrNoWatermarkFound     = errors.New("no watermark could be extracted from the provided content")
	ErrInvalidPayloadFormat = errors.New("payload does not decode to a valid watermark record")
	ErrRegistryFailure      = errors.New("registry lookup or storage call failed")
	ErrNoEmbedderAvailable  = errors.New("no embedder in the layer plan produced output")
)

// ErrorResponse is the JSON envelope returned by the HTTP layer on failure,
// kept identical in shape to the teacher's response envelope.
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}
