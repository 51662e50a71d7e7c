package imagehost

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/illmade-knight/go-captureflow/pkg/formstream"
	"github.com/illmade-knight/go-captureflow/pkg/frame"
	"github.com/rs/zerolog"
)

// Defaults for HTTPUploaderConfig.
const (
	DefaultTimeout          = 60 * time.Second
	DefaultMaxResponseBytes = 16 * 1024
)

// HTTPUploaderConfig holds the settings for uploading to an HTTP image host.
type HTTPUploaderConfig struct {
	// Endpoint is the upload URL without the key, e.g. "https://api.imgbb.com/1/upload".
	Endpoint string
	// APIKey is sent as the "key" query parameter.
	APIKey string
	// Boundary is the multipart boundary token.
	Boundary string
	// Timeout bounds the whole exchange, handshake and response included.
	Timeout time.Duration
	// MaxResponseBytes caps how much of the response body is kept.
	MaxResponseBytes int64
	// CACertFile optionally pins the CA used to verify the host.
	CACertFile string
	// InsecureSkipVerify disables certificate verification. Development only.
	InsecureSkipVerify bool
}

// HTTPUploader posts frames as multipart/form-data, streaming the body from a
// formstream.ImageForm so the whole request is never held in memory.
type HTTPUploader struct {
	cfg      HTTPUploaderConfig
	endpoint string
	client   *http.Client
	logger   zerolog.Logger
}

// NewHTTPUploader validates cfg and builds the HTTPS client.
func NewHTTPUploader(cfg HTTPUploaderConfig, logger zerolog.Logger) (*HTTPUploader, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("image host endpoint is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("image host API key is required")
	}
	if cfg.Boundary == "" {
		cfg.Boundary = formstream.DefaultBoundary
	}
	if err := formstream.ValidateBoundary(cfg.Boundary); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = DefaultMaxResponseBytes
	}

	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid image host endpoint: %w", err)
	}
	q := u.Query()
	q.Set("key", cfg.APIKey)
	u.RawQuery = q.Encode()

	tlsConfig, err := newTLSConfig(cfg.CACertFile, cfg.InsecureSkipVerify)
	if err != nil {
		return nil, err
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig

	return &HTTPUploader{
		cfg:      cfg,
		endpoint: u.String(),
		client:   &http.Client{Timeout: cfg.Timeout, Transport: transport},
		logger:   logger.With().Str("component", "HTTPUploader").Str("host", u.Host).Logger(),
	}, nil
}

// Upload posts img and returns the host's status code and body.
func (u *HTTPUploader) Upload(ctx context.Context, img *frame.Frame) (*Outcome, error) {
	form := formstream.NewImageForm(u.cfg.Boundary, formstream.Filename(img.CapturedAt()), img.Bytes())
	filename := form.Filename()
	total := int64(form.Remaining())

	ctx, cancel := context.WithTimeout(ctx, u.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, form)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestSetup, err)
	}
	// The form is not a type net/http can size on its own.
	req.ContentLength = total
	req.Header.Set("Content-Type", form.ContentType())
	req.Close = true

	u.logger.Info().
		Str("filename", filename).
		Int("image_bytes", img.Len()).
		Int64("body_bytes", total).
		Msg("Starting multipart upload.")

	start := time.Now()
	resp, err := u.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: no response within %s: %w", ErrUploadFailed, u.cfg.Timeout, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrRequestSetup, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, u.cfg.MaxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrUploadFailed, err)
	}

	u.logger.Info().
		Str("filename", filename).
		Int("status_code", resp.StatusCode).
		Int("response_bytes", len(body)).
		Dur("elapsed", time.Since(start)).
		Msg("Upload finished.")

	return &Outcome{
		StatusCode: resp.StatusCode,
		Body:       string(body),
		Filename:   filename,
		BytesSent:  total,
	}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// newTLSConfig builds the client TLS settings from an optional CA file.
func newTLSConfig(caCertFile string, insecureSkipVerify bool) (*tls.Config, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: insecureSkipVerify}
	if caCertFile != "" {
		caCert, err := os.ReadFile(caCertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert file %s: %w", caCertFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA cert from %s", caCertFile)
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}
