package capturepipeline_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-captureflow/pkg/capturepipeline"
	"github.com/illmade-knight/go-captureflow/pkg/capturestore"
	"github.com/illmade-knight/go-captureflow/pkg/frame"
	"github.com/illmade-knight/go-captureflow/pkg/imagehost"
	"github.com/illmade-knight/go-captureflow/pkg/publish"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const okResponse = `{"data":{"display_url":"http://x/a.jpg","thumb":{"url":"http://x/t.jpg"}}}`

var captureTime = time.Unix(1704110400, 0)

// --- Test doubles ---

type testSource struct {
	size     int
	acquired atomic.Int32
	released atomic.Int32
	err      error
}

func (s *testSource) Acquire(_ context.Context) (*frame.Lease, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.acquired.Add(1)
	data := make([]byte, s.size)
	for i := range data {
		data[i] = byte(i)
	}
	return frame.NewLease(data, captureTime, func() { s.released.Add(1) }), nil
}

type busMessage struct {
	topic   string
	payload string
	retain  bool
}

type recordingBus struct {
	mu   sync.Mutex
	msgs []busMessage
	err  error
}

func (b *recordingBus) Publish(_ context.Context, topic string, payload []byte, retain bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.msgs = append(b.msgs, busMessage{topic: topic, payload: string(payload), retain: retain})
	return nil
}

func (b *recordingBus) messages() []busMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]busMessage(nil), b.msgs...)
}

type imageHost struct {
	srv      *httptest.Server
	requests atomic.Int32
}

// newImageHost answers every upload with status and body after draining the request.
func newImageHost(t *testing.T, status int, body string) *imageHost {
	t.Helper()
	h := &imageHost{}
	h.srv = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.requests.Add(1)
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(h.srv.Close)
	return h
}

type harness struct {
	source *testSource
	bus    *recordingBus
	store  *capturestore.InMemoryStore
	driver *capturepipeline.Driver
}

func newHarness(t *testing.T, host *imageHost, cfg capturepipeline.DriverConfig, alloc frame.Allocator) *harness {
	t.Helper()
	uploader, err := imagehost.NewHTTPUploader(imagehost.HTTPUploaderConfig{
		Endpoint:           host.srv.URL + "/1/upload",
		APIKey:             "test-key",
		InsecureSkipVerify: true,
	}, zerolog.Nop())
	require.NoError(t, err)

	h := &harness{
		source: &testSource{size: 512},
		bus:    &recordingBus{},
		store:  capturestore.NewInMemoryStore(),
	}
	publisher, err := publish.NewPublisher(h.bus, publish.PublisherConfig{TopicPrefix: "prefix"}, zerolog.Nop())
	require.NoError(t, err)

	h.driver, err = capturepipeline.NewDriver(cfg, capturepipeline.Components{
		Source:    h.source,
		Allocator: alloc,
		Uploader:  uploader,
		Parser:    imagehost.ParserFunc(imagehost.ParseImgBB),
		Publisher: publisher,
		Store:     h.store,
	}, zerolog.Nop())
	require.NoError(t, err)
	return h
}

// --- Tests ---

func TestDriver_Run_EndToEnd(t *testing.T) {
	// Arrange
	host := newImageHost(t, http.StatusOK, okResponse)
	h := newHarness(t, host, capturepipeline.DriverConfig{PublishIncomplete: true}, nil)

	// Act
	rep, err := h.driver.Run(context.Background())

	// Assert
	require.NoError(t, err)
	msgs := h.bus.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "/prefix/camera-captures", msgs[0].topic)
	assert.True(t, msgs[0].retain)
	assert.Equal(t,
		`{"timestamp":1704110400,"url":"http://x/a.jpg","thumb_url":"http://x/t.jpg","description":"Scheduled capture"}`,
		msgs[0].payload)

	assert.Equal(t, int32(1), h.source.released.Load(), "the lease is released exactly once")
	assert.True(t, rep.Published)
	assert.Equal(t, 512, rep.FrameBytes)
	assert.Equal(t, http.StatusOK, rep.StatusCode)
	assert.Equal(t, capturepipeline.Idle, rep.FailedStage)
	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, capturepipeline.Idle, h.driver.State())

	latest, err := h.store.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rep.RunID, latest.RunID)
	assert.Equal(t, "/prefix/camera-captures", latest.Topic)
	require.NotNil(t, latest.Event.URL)
	assert.Equal(t, "http://x/a.jpg", *latest.Event.URL)
}

func TestDriver_Run_HostRejects(t *testing.T) {
	host := newImageHost(t, http.StatusForbidden, `{"error":"bad key"}`)
	h := newHarness(t, host, capturepipeline.DriverConfig{PublishIncomplete: true}, nil)

	rep, err := h.driver.Run(context.Background())

	require.Error(t, err)
	var stageErr *capturepipeline.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, capturepipeline.Uploading, stageErr.Stage)
	assert.ErrorIs(t, err, imagehost.ErrUploadFailed)

	assert.Empty(t, h.bus.messages(), "a rejected upload never publishes")
	assert.Equal(t, http.StatusForbidden, rep.StatusCode)
	assert.False(t, rep.Published)
	assert.Equal(t, capturepipeline.Uploading, rep.FailedStage)
	assert.Equal(t, int32(1), h.source.released.Load())
	assert.Equal(t, capturepipeline.Idle, h.driver.State(), "the driver returns to idle after aborting")

	_, err = h.store.Latest(context.Background())
	assert.ErrorIs(t, err, capturestore.ErrNotFound)
}

func TestDriver_Run_TwoRunsPublishTwice(t *testing.T) {
	host := newImageHost(t, http.StatusOK, okResponse)
	h := newHarness(t, host, capturepipeline.DriverConfig{PublishIncomplete: true}, nil)

	first, err := h.driver.Run(context.Background())
	require.NoError(t, err)
	second, err := h.driver.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, h.bus.messages(), 2)
	assert.Equal(t, int32(2), host.requests.Load())
	assert.Equal(t, int32(2), h.source.released.Load())
	assert.NotEqual(t, first.RunID, second.RunID)

	st := h.driver.Status()
	assert.Equal(t, int64(2), st.Runs)
	assert.Equal(t, int64(0), st.Failures)
	require.NotNil(t, st.Last)
	assert.Equal(t, second.RunID, st.Last.RunID)
}

func TestDriver_Run_OutOfMemory(t *testing.T) {
	host := newImageHost(t, http.StatusOK, okResponse)
	h := newHarness(t, host, capturepipeline.DriverConfig{}, frame.BudgetAllocator{Limit: 100})

	rep, err := h.driver.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, frame.ErrOutOfMemory)
	assert.Equal(t, capturepipeline.Copying, rep.FailedStage)
	assert.Equal(t, int32(1), h.source.released.Load(), "allocation failure still releases the slot once")
	assert.Equal(t, int32(0), host.requests.Load(), "no upload is attempted")
	assert.Empty(t, h.bus.messages())
}

func TestDriver_Run_CaptureUnavailable(t *testing.T) {
	host := newImageHost(t, http.StatusOK, okResponse)
	h := newHarness(t, host, capturepipeline.DriverConfig{}, nil)
	h.source.err = errors.New("sensor timeout")

	rep, err := h.driver.Run(context.Background())

	assert.ErrorIs(t, err, frame.ErrCaptureUnavailable)
	assert.Equal(t, capturepipeline.Capturing, rep.FailedStage)
	assert.Equal(t, int32(0), h.source.released.Load())
	assert.Equal(t, int32(0), host.requests.Load())
}

func TestDriver_Run_ResponseHandling(t *testing.T) {
	testCases := []struct {
		name              string
		body              string
		publishIncomplete bool
		wantPayload       string
		wantErr           error
	}{
		{
			name:    "Malformed body aborts",
			body:    `not json`,
			wantErr: imagehost.ErrParseFailure,
		},
		{
			name:              "Missing fields publish null",
			body:              `{"data":{}}`,
			publishIncomplete: true,
			wantPayload:       `{"timestamp":1704110400,"url":null,"thumb_url":null,"description":"Scheduled capture"}`,
		},
		{
			name:              "Missing thumbnail publishes the url",
			body:              `{"data":{"display_url":"http://x/a.jpg"}}`,
			publishIncomplete: true,
			wantPayload:       `{"timestamp":1704110400,"url":"http://x/a.jpg","thumb_url":null,"description":"Scheduled capture"}`,
		},
		{
			name:    "Missing fields abort when incomplete events are disabled",
			body:    `{"data":{}}`,
			wantErr: imagehost.ErrMissingFields,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			host := newImageHost(t, http.StatusOK, tc.body)
			h := newHarness(t, host, capturepipeline.DriverConfig{PublishIncomplete: tc.publishIncomplete}, nil)

			rep, err := h.driver.Run(context.Background())

			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				assert.Equal(t, capturepipeline.Parsing, rep.FailedStage)
				assert.Empty(t, h.bus.messages())
				return
			}
			require.NoError(t, err)
			msgs := h.bus.messages()
			require.Len(t, msgs, 1)
			assert.Equal(t, tc.wantPayload, msgs[0].payload)
		})
	}
}

func TestDriver_Run_PublishFailure(t *testing.T) {
	host := newImageHost(t, http.StatusOK, okResponse)
	h := newHarness(t, host, capturepipeline.DriverConfig{}, nil)
	h.bus.err = fmt.Errorf("connection lost")

	rep, err := h.driver.Run(context.Background())

	assert.ErrorIs(t, err, publish.ErrPublishFailed)
	assert.Equal(t, capturepipeline.Publishing, rep.FailedStage)
	assert.False(t, rep.Published)
	assert.Equal(t, int64(1), h.driver.Status().Failures)
}

// blockingUploader holds the run in the upload stage until released.
type blockingUploader struct {
	entered chan struct{}
	release chan struct{}
}

func (u *blockingUploader) Upload(ctx context.Context, _ *frame.Frame) (*imagehost.Outcome, error) {
	close(u.entered)
	select {
	case <-u.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &imagehost.Outcome{StatusCode: http.StatusOK, Body: okResponse}, nil
}

func TestDriver_Run_Busy(t *testing.T) {
	uploader := &blockingUploader{entered: make(chan struct{}), release: make(chan struct{})}
	bus := &recordingBus{}
	publisher, err := publish.NewPublisher(bus, publish.PublisherConfig{TopicPrefix: "prefix"}, zerolog.Nop())
	require.NoError(t, err)
	driver, err := capturepipeline.NewDriver(capturepipeline.DriverConfig{}, capturepipeline.Components{
		Source:    &testSource{size: 16},
		Uploader:  uploader,
		Parser:    imagehost.ParserFunc(imagehost.ParseImgBB),
		Publisher: publisher,
	}, zerolog.Nop())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := driver.Run(context.Background())
		done <- err
	}()
	<-uploader.entered

	assert.True(t, driver.Busy())
	assert.Equal(t, capturepipeline.Uploading, driver.State())
	_, err = driver.Run(context.Background())
	assert.ErrorIs(t, err, capturepipeline.ErrBusy)

	close(uploader.release)
	require.NoError(t, <-done)
	assert.False(t, driver.Busy())
	assert.Len(t, bus.messages(), 1, "the rejected run published nothing")
}

func TestNewDriver_Validation(t *testing.T) {
	publisher, err := publish.NewPublisher(&recordingBus{}, publish.PublisherConfig{TopicPrefix: "prefix"}, zerolog.Nop())
	require.NoError(t, err)
	parser := imagehost.ParserFunc(imagehost.ParseImgBB)
	uploader := &blockingUploader{}

	_, err = capturepipeline.NewDriver(capturepipeline.DriverConfig{}, capturepipeline.Components{
		Uploader: uploader, Parser: parser, Publisher: publisher,
	}, zerolog.Nop())
	assert.Error(t, err)

	_, err = capturepipeline.NewDriver(capturepipeline.DriverConfig{}, capturepipeline.Components{
		Source: &testSource{}, Parser: parser, Publisher: publisher,
	}, zerolog.Nop())
	assert.Error(t, err)

	_, err = capturepipeline.NewDriver(capturepipeline.DriverConfig{}, capturepipeline.Components{
		Source: &testSource{}, Uploader: uploader, Publisher: publisher,
	}, zerolog.Nop())
	assert.Error(t, err)

	_, err = capturepipeline.NewDriver(capturepipeline.DriverConfig{}, capturepipeline.Components{
		Source: &testSource{}, Uploader: uploader, Parser: parser,
	}, zerolog.Nop())
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", capturepipeline.Idle.String())
	assert.Equal(t, "uploading", capturepipeline.Uploading.String())
	assert.Equal(t, "aborted", capturepipeline.Aborted.String())
	assert.Equal(t, "state(42)", capturepipeline.State(42).String())
}
