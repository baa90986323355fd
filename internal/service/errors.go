package service

import (
	"errors"
	"fmt"
)

var (
	// ErrPlatformNotConnected means the user never linked the platform
	// or the stored credentials are unusable.
	ErrPlatformNotConnected = errors.New("platform not connected")
	// ErrPlatformAuthRefresh means a token refresh was required and failed.
	ErrPlatformAuthRefresh = errors.New("platform token refresh failed")
	// ErrMediaAuthRequired means the platform needs extra credentials
	// for media uploads that the user has not provided.
	ErrMediaAuthRequired = errors.New("media upload credentials missing")
	ErrMediaUpload       = errors.New("media upload failed")
	// ErrMediaProcessing means the platform accepted the upload but
	// reported the media failed processing or never became ready.
	ErrMediaProcessing = errors.New("media processing failed")
)

// PlatformAPIError wraps a non-2xx response from a platform API.
type PlatformAPIError struct {
	Platform string
	Status   int
	Body     string
}

func (e *PlatformAPIError) Error() string {
	return fmt.Sprintf("%s api returned %d: %s", e.Platform, e.Status, e.Body)
}
