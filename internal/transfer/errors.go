package transfer

import "fmt"

// Fallback reasons used when the service does not supply one.
const (
	FallbackUploadReason      = "Upload failed"
	FallbackEnhancementReason = "Enhancement failed"
)

// UploadError is returned by Upload. Reason is safe to show to the user.
type UploadError struct {
	Reason     string
	StatusCode int // 0 when the request never got a response
	Err        error
}

func (e *UploadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upload: %s: %v", e.Reason, e.Err)
	}
	return "upload: " + e.Reason
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// EnhancementError is returned by Enhance. Reason is safe to show to the user.
type EnhancementError struct {
	Reason     string
	StatusCode int
	Err        error
}

func (e *EnhancementError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("enhance: %s: %v", e.Reason, e.Err)
	}
	return "enhance: " + e.Reason
}

func (e *EnhancementError) Unwrap() error {
	return e.Err
}
