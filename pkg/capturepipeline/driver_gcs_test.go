package capturepipeline_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/illmade-knight/go-captureflow/pkg/capturepipeline"
	"github.com/illmade-knight/go-captureflow/pkg/config"
	"github.com/illmade-knight/go-captureflow/pkg/imagehost"
	"github.com/illmade-knight/go-captureflow/pkg/publish"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- In-memory bucket for GCSHost ---

type memWriter struct{ bytes.Buffer }

func (w *memWriter) Close() error { return nil }

type memObject struct{ bucket *memBucket }

func (o memObject) NewWriter(_ context.Context, _ string) imagehost.GCSWriter {
	w := &memWriter{}
	o.bucket.writers = append(o.bucket.writers, w)
	return w
}

type memBucket struct{ writers []*memWriter }

func (b *memBucket) Object(string) imagehost.GCSObjectHandle { return memObject{bucket: b} }

type memGCS struct{ bucket *memBucket }

func (c *memGCS) Bucket(string) imagehost.GCSBucketHandle { return c.bucket }

func TestDriver_Run_GCSHostWithDefaultConfig(t *testing.T) {
	for _, bucket := range []string{"captures", "acme-door-cam-captures", "my-gcp-project-camera-captures"} {
		t.Run(bucket, func(t *testing.T) {
			// Arrange
			cfg := config.Default()
			cfg.TopicPrefix = "prefix"
			cfg.Host.Kind = config.HostGCS
			cfg.Host.Bucket = bucket

			gcs := &memGCS{bucket: &memBucket{}}
			host, err := imagehost.NewGCSHost(gcs, imagehost.GCSHostConfig{
				BucketName:    cfg.Host.Bucket,
				ObjectPrefix:  cfg.Host.ObjectPrefix,
				PublicURLBase: cfg.Host.PublicURLBase,
				Timeout:       cfg.Host.Timeout,
			}, zerolog.Nop())
			require.NoError(t, err)

			bus := &recordingBus{}
			publisher, err := publish.NewPublisher(bus, publish.PublisherConfig{
				TopicPrefix:     cfg.TopicPrefix,
				MaxPayloadBytes: cfg.Bus.MaxPayloadBytes,
			}, zerolog.Nop())
			require.NoError(t, err)

			driver, err := capturepipeline.NewDriver(capturepipeline.DriverConfig{PublishIncomplete: cfg.PublishIncomplete}, capturepipeline.Components{
				Source:    &testSource{size: 512},
				Uploader:  host,
				Parser:    imagehost.ParserFunc(imagehost.ParseObjectResponse),
				Publisher: publisher,
			}, zerolog.Nop())
			require.NoError(t, err)

			// Act
			rep, err := driver.Run(context.Background())

			// Assert
			require.NoError(t, err)
			assert.True(t, rep.Published)
			require.Len(t, gcs.bucket.writers, 1)
			assert.Equal(t, 512, gcs.bucket.writers[0].Len())

			msgs := bus.messages()
			require.Len(t, msgs, 1)
			var event publish.EventRecord
			require.NoError(t, json.Unmarshal([]byte(msgs[0].payload), &event))
			require.NotNil(t, event.URL)
			assert.True(t, strings.HasPrefix(*event.URL, "https://storage.googleapis.com/"+bucket+"/captures/"))
			assert.Equal(t, event.URL, event.ThumbURL)
		})
	}
}
