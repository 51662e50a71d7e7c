package capturepipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-captureflow/pkg/capturestore"
	"github.com/illmade-knight/go-captureflow/pkg/frame"
	"github.com/illmade-knight/go-captureflow/pkg/imagehost"
	"github.com/illmade-knight/go-captureflow/pkg/publish"
	"github.com/rs/zerolog"
)

// EventPublisher publishes the event for an uploaded capture.
type EventPublisher interface {
	Publish(ctx context.Context, capturedAt time.Time, url, thumbURL *string) (publish.EventRecord, error)
	Topic() string
}

// Components are the collaborators a Driver runs. Allocator defaults to
// frame.HeapAllocator and Store is optional.
type Components struct {
	Source    frame.Source
	Allocator frame.Allocator
	Uploader  imagehost.Uploader
	Parser    imagehost.ResponseParser
	Publisher EventPublisher
	Store     capturestore.Store
}

// DriverConfig holds the run policy.
type DriverConfig struct {
	// PublishIncomplete publishes nulls when the host response decodes but
	// lacks the url or thumbnail. When false such a run is aborted.
	PublishIncomplete bool
}

// Report describes one finished run.
type Report struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	CapturedAt time.Time `json:"captured_at"`
	FrameBytes int       `json:"frame_bytes"`
	Filename   string    `json:"filename,omitempty"`
	BytesSent  int64     `json:"bytes_sent"`
	StatusCode int       `json:"status_code,omitempty"`
	URL        *string   `json:"url"`
	ThumbURL   *string   `json:"thumb_url"`
	Published  bool      `json:"published"`
	// FailedStage is Idle for a run that published.
	FailedStage State  `json:"failed_stage"`
	Error       string `json:"error,omitempty"`
}

// Driver runs the capture pipeline, one run at a time.
type Driver struct {
	cfg    DriverConfig
	parts  Components
	logger zerolog.Logger
	now    func() time.Time

	running atomic.Bool

	mu    sync.RWMutex
	state State
	last  *Report
	runs  int64
	fails int64
}

// NewDriver validates the components and returns an idle Driver.
func NewDriver(cfg DriverConfig, parts Components, logger zerolog.Logger) (*Driver, error) {
	if parts.Source == nil {
		return nil, errors.New("frame source cannot be nil")
	}
	if parts.Uploader == nil {
		return nil, errors.New("uploader cannot be nil")
	}
	if parts.Parser == nil {
		return nil, errors.New("response parser cannot be nil")
	}
	if parts.Publisher == nil {
		return nil, errors.New("publisher cannot be nil")
	}
	if parts.Allocator == nil {
		parts.Allocator = frame.HeapAllocator{}
	}
	return &Driver{
		cfg:    cfg,
		parts:  parts,
		logger: logger.With().Str("component", "CaptureDriver").Str("topic", parts.Publisher.Topic()).Logger(),
		now:    time.Now,
	}, nil
}

// Run performs one capture. Every failure is returned as a *StageError and is
// final for this run; nothing is retried. A concurrent call returns ErrBusy.
func (d *Driver) Run(ctx context.Context) (Report, error) {
	if !d.running.CompareAndSwap(false, true) {
		return Report{}, ErrBusy
	}
	defer d.running.Store(false)

	rep := Report{RunID: uuid.NewString(), StartedAt: d.now()}
	logger := d.logger.With().Str("run_id", rep.RunID).Logger()

	err := d.run(ctx, &rep, logger)
	rep.FinishedAt = d.now()
	if err != nil {
		var se *StageError
		if errors.As(err, &se) {
			rep.FailedStage = se.Stage
		}
		rep.Error = err.Error()
		d.setState(Aborted)
		logger.Error().Err(err).Str("stage", rep.FailedStage.String()).Msg("Capture abandoned.")
	}
	d.finish(rep)
	return rep, err
}

func (d *Driver) run(ctx context.Context, rep *Report, logger zerolog.Logger) error {
	stage := Capturing
	d.setState(stage)

	var img *frame.Frame
	err := frame.WithLease(ctx, d.parts.Source, func(l *frame.Lease) error {
		stage = Copying
		d.setState(stage)
		rep.FrameBytes = l.Len()
		var err error
		img, err = frame.Copy(l, d.parts.Allocator)
		return err
	})
	if err != nil {
		return &StageError{Stage: stage, Err: err}
	}
	rep.CapturedAt = img.CapturedAt()
	logger.Debug().Int("frame_bytes", img.Len()).Msg("Frame copied, hardware slot released.")

	d.setState(Uploading)
	outcome, err := d.parts.Uploader.Upload(ctx, img)
	if err != nil {
		return &StageError{Stage: Uploading, Err: err}
	}
	rep.StatusCode = outcome.StatusCode
	rep.Filename = outcome.Filename
	rep.BytesSent = outcome.BytesSent
	if err := outcome.Err(); err != nil {
		return &StageError{Stage: Uploading, Err: err}
	}
	capturedAt := img.CapturedAt()

	d.setState(Parsing)
	fields, err := d.parts.Parser.Parse(outcome.Body)
	if err != nil {
		if !errors.Is(err, imagehost.ErrMissingFields) || !d.cfg.PublishIncomplete {
			return &StageError{Stage: Parsing, Err: err}
		}
		logger.Warn().Err(err).Msg("Host response is incomplete, publishing absent fields as null.")
	}
	rep.URL, rep.ThumbURL = fields.URL, fields.ThumbnailURL

	d.setState(Publishing)
	rec, err := d.parts.Publisher.Publish(ctx, capturedAt, fields.URL, fields.ThumbnailURL)
	if err != nil {
		return &StageError{Stage: Publishing, Err: err}
	}
	rep.Published = true

	if d.parts.Store != nil {
		err := d.parts.Store.Put(ctx, capturestore.Record{
			RunID:       rep.RunID,
			Topic:       d.parts.Publisher.Topic(),
			PublishedAt: d.now(),
			Event:       rec,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to record latest capture.")
		}
	}
	logger.Info().Int64("timestamp", rec.Timestamp).Msg("Capture published.")
	return nil
}

func (d *Driver) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

func (d *Driver) finish(rep Report) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = Idle
	d.last = &rep
	d.runs++
	if rep.Error != "" {
		d.fails++
	}
}

// State returns the current stage.
func (d *Driver) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Busy reports whether a run is in flight.
func (d *Driver) Busy() bool { return d.running.Load() }

// Status is a snapshot of the driver.
type Status struct {
	State    State   `json:"state"`
	Runs     int64   `json:"runs"`
	Failures int64   `json:"failures"`
	Last     *Report `json:"last_run,omitempty"`
}

// Status returns the current stage, run counters and the last report.
func (d *Driver) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	st := Status{State: d.state, Runs: d.runs, Failures: d.fails}
	if d.last != nil {
		last := *d.last
		st.Last = &last
	}
	return st
}
