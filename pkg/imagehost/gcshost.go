package imagehost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-captureflow/pkg/formstream"
	"github.com/illmade-knight/go-captureflow/pkg/frame"
	"github.com/rs/zerolog"
)

// DefaultPublicURLBase is where objects in public buckets are served from.
const DefaultPublicURLBase = "https://storage.googleapis.com"

// GCSHostConfig holds configuration for storing frames in a bucket.
type GCSHostConfig struct {
	BucketName    string
	ObjectPrefix  string
	PublicURLBase string
	Timeout       time.Duration
}

// GCSHost is an Uploader that writes each frame to its own Cloud Storage
// object. The frame is streamed through a fixed-size copy buffer.
type GCSHost struct {
	client GCSClient
	config GCSHostConfig
	logger zerolog.Logger
}

type objectResponse struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
	URL    string `json:"url"`
}

// NewGCSHost creates a GCS-backed image host.
func NewGCSHost(client GCSClient, config GCSHostConfig, logger zerolog.Logger) (*GCSHost, error) {
	if client == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if config.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	if config.PublicURLBase == "" {
		config.PublicURLBase = DefaultPublicURLBase
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	return &GCSHost{
		client: client,
		config: config,
		logger: logger.With().Str("component", "GCSHost").Str("bucket", config.BucketName).Logger(),
	}, nil
}

// ObjectName is the object a frame named filename is stored under; id keeps
// captures taken within the same second apart.
func ObjectName(prefix, filename, id string) string {
	return path.Join(prefix, fmt.Sprintf("%s-%s.jpg", filename, id))
}

// ObjectURL is the public URL of objectName in bucket.
func ObjectURL(publicURLBase, bucket, objectName string) string {
	return strings.TrimSuffix(publicURLBase, "/") + "/" + bucket + "/" + objectName
}

// Upload stores img under <prefix>/<filename>-<id>.jpg and reports the
// object's public URL in the Outcome body.
func (h *GCSHost) Upload(ctx context.Context, img *frame.Frame) (*Outcome, error) {
	filename := formstream.Filename(img.CapturedAt())
	objectName := ObjectName(h.config.ObjectPrefix, filename, uuid.NewString()[:8])

	ctx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	defer cancel()

	h.logger.Info().Str("object_name", objectName).Int("image_bytes", img.Len()).Msg("Starting object upload.")

	w := h.client.Bucket(h.config.BucketName).Object(objectName).NewWriter(ctx, "image/jpeg")
	body := formstream.NewSegmentStream(nil, img.Bytes(), nil)
	written, copyErr := io.CopyBuffer(w, body, make([]byte, formstream.YieldEvery))
	closeErr := w.Close()

	if copyErr != nil {
		return nil, fmt.Errorf("%w: streaming %s: %w", ErrUploadFailed, objectName, copyErr)
	}
	if closeErr != nil {
		if isTimeout(closeErr) {
			return nil, fmt.Errorf("%w: finalizing %s: %w", ErrUploadFailed, objectName, closeErr)
		}
		return nil, fmt.Errorf("%w: finalizing %s: %w", ErrRequestSetup, objectName, closeErr)
	}

	resp, err := json.Marshal(objectResponse{
		Bucket: h.config.BucketName,
		Name:   objectName,
		URL:    ObjectURL(h.config.PublicURLBase, h.config.BucketName, objectName),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encoding object response: %w", ErrUploadFailed, err)
	}

	h.logger.Info().Str("object_name", objectName).Int64("bytes_written", written).Msg("Object upload finished.")
	return &Outcome{
		StatusCode: http.StatusOK,
		Body:       string(resp),
		Filename:   filename,
		BytesSent:  written,
	}, nil
}
