// Package imagehost uploads captured frames to a remote image host and
// decodes where the host stored them.
package imagehost

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/illmade-knight/go-captureflow/pkg/frame"
)

var (
	// ErrRequestSetup is returned when the request could not be started,
	// for example when the connection or TLS handshake fails.
	ErrRequestSetup = errors.New("upload request setup failed")
	// ErrUploadFailed is returned for timeouts and non-200 responses.
	ErrUploadFailed = errors.New("upload failed")
)

// Uploader sends one frame to an image host.
type Uploader interface {
	// Upload returns an Outcome for every response the host sent, whatever its
	// status. An error means no usable response was received.
	Upload(ctx context.Context, img *frame.Frame) (*Outcome, error)
}

// Outcome is the host's answer to one upload.
type Outcome struct {
	StatusCode int
	Body       string
	// Filename is the name the frame was uploaded under.
	Filename string
	// BytesSent is the size of the request body.
	BytesSent int64
}

// Success reports whether the host accepted the upload.
func (o *Outcome) Success() bool {
	return o != nil && o.StatusCode == http.StatusOK
}

// Err returns nil for a successful outcome and an *UploadError otherwise.
func (o *Outcome) Err() error {
	if o.Success() {
		return nil
	}
	if o == nil {
		return fmt.Errorf("%w: no response", ErrUploadFailed)
	}
	return &UploadError{StatusCode: o.StatusCode, Body: o.Body}
}

// UploadError describes a response the host sent with a non-200 status.
type UploadError struct {
	StatusCode int
	Body       string
}

func (e *UploadError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("image host returned HTTP %d: %s", e.StatusCode, body)
}

// Unwrap makes errors.Is(err, ErrUploadFailed) hold.
func (e *UploadError) Unwrap() error { return ErrUploadFailed }
