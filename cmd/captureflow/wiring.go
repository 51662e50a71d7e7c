package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/illmade-knight/go-captureflow/pkg/capturepipeline"
	"github.com/illmade-knight/go-captureflow/pkg/capturestore"
	"github.com/illmade-knight/go-captureflow/pkg/config"
	"github.com/illmade-knight/go-captureflow/pkg/frame"
	"github.com/illmade-knight/go-captureflow/pkg/imagehost"
	"github.com/illmade-knight/go-captureflow/pkg/publish"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// app holds the wired components and everything that must be closed on exit.
type app struct {
	driver    *capturepipeline.Driver
	publisher *publish.Publisher
	store     capturestore.Store
	closers   []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func build(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (a *app, err error) {
	a = &app{}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	source, err := buildSource(cfg, logger)
	if err != nil {
		return a, err
	}
	uploader, parser, err := a.buildHost(ctx, cfg, clientOpts, logger)
	if err != nil {
		return a, err
	}
	bus, err := a.buildBus(ctx, cfg, clientOpts, logger)
	if err != nil {
		return a, err
	}
	a.publisher, err = publish.NewPublisher(bus, publish.PublisherConfig{
		TopicPrefix:     cfg.TopicPrefix,
		MaxPayloadBytes: cfg.Bus.MaxPayloadBytes,
	}, logger)
	if err != nil {
		return a, err
	}
	a.store, err = a.buildStore(ctx, cfg, clientOpts, logger)
	if err != nil {
		return a, err
	}

	parts := capturepipeline.Components{
		Source:    source,
		Allocator: frame.BudgetAllocator{Limit: cfg.Frame.HeapBudgetBytes},
		Uploader:  uploader,
		Parser:    parser,
		Publisher: a.publisher,
		Store:     a.store,
	}
	a.driver, err = capturepipeline.NewDriver(capturepipeline.DriverConfig{PublishIncomplete: cfg.PublishIncomplete}, parts, logger)
	return a, err
}

func buildSource(cfg *config.Config, logger zerolog.Logger) (*frame.Pool, error) {
	var sensor frame.Sensor
	switch cfg.Frame.Sensor {
	case config.SensorSnapshot:
		s, err := frame.NewSnapshotSensor(cfg.Frame.SnapshotURL, cfg.Frame.SnapshotTimeout)
		if err != nil {
			return nil, err
		}
		sensor = s
	default:
		s, err := frame.NewDirSensor(cfg.Frame.Dir)
		if err != nil {
			return nil, err
		}
		sensor = s
	}
	return frame.NewPool(frame.PoolConfig{Slots: cfg.Frame.Slots, SlotBytes: cfg.Frame.SlotBytes}, sensor, logger)
}

func (a *app) buildHost(ctx context.Context, cfg *config.Config, opts []option.ClientOption, logger zerolog.Logger) (imagehost.Uploader, imagehost.ResponseParser, error) {
	if cfg.Host.Kind == config.HostGCS {
		client, err := storage.NewClient(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		host, err := imagehost.NewGCSHost(imagehost.NewGCSClientAdapter(client), imagehost.GCSHostConfig{
			BucketName:    cfg.Host.Bucket,
			ObjectPrefix:  cfg.Host.ObjectPrefix,
			PublicURLBase: cfg.Host.PublicURLBase,
			Timeout:       cfg.Host.Timeout,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return host, imagehost.ParserFunc(imagehost.ParseObjectResponse), nil
	}

	uploader, err := imagehost.NewHTTPUploader(imagehost.HTTPUploaderConfig{
		Endpoint:           cfg.HostURL,
		APIKey:             cfg.APIKey,
		Boundary:           cfg.Host.Boundary,
		Timeout:            cfg.Host.Timeout,
		MaxResponseBytes:   cfg.Host.MaxResponseBytes,
		CACertFile:         cfg.Host.CACertFile,
		InsecureSkipVerify: cfg.Host.InsecureSkipVerify,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return uploader, imagehost.ParserFunc(imagehost.ParseImgBB), nil
}

func (a *app) buildBus(ctx context.Context, cfg *config.Config, opts []option.ClientOption, logger zerolog.Logger) (publish.Bus, error) {
	if cfg.Bus.Kind == config.BusPubsub {
		client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create pubsub client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		bus, err := publish.NewPubsubBus(ctx, client, cfg.Bus.PubsubTopicID, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, bus.Stop)
		return bus, nil
	}

	mqttCfg := cfg.Bus.MQTT
	client, err := publish.NewMQTTClient(&mqttCfg, logger)
	if err != nil {
		return nil, err
	}
	bus, err := publish.NewMQTTBus(client, mqttCfg.QoS, mqttCfg.PublishTimeout, logger)
	if err != nil {
		client.Disconnect(250)
		return nil, err
	}
	a.closers = append(a.closers, bus.Close)
	return bus, nil
}

func (a *app) buildStore(ctx context.Context, cfg *config.Config, opts []option.ClientOption, logger zerolog.Logger) (capturestore.Store, error) {
	var store capturestore.Store
	switch cfg.Store.Kind {
	case config.StoreNone:
		return nil, nil
	case config.StoreRedis:
		key := cfg.Store.RedisKey
		if key == "" {
			key = "captureflow:" + strings.Trim(cfg.TopicPrefix, "/") + ":latest"
		}
		s, err := capturestore.NewRedisStore(ctx, &capturestore.RedisConfig{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
			Key:      key,
			TTL:      cfg.Store.TTL,
		}, logger)
		if err != nil {
			return nil, err
		}
		store = s
	case config.StoreFirestore:
		client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		s, err := capturestore.NewFirestoreStore(&capturestore.FirestoreConfig{
			CollectionName: cfg.Store.FirestoreCollection,
			DocumentID:     cfg.Store.FirestoreDocument,
		}, client, logger)
		if err != nil {
			return nil, err
		}
		store = s
	case config.StoreMemory:
		store = capturestore.NewInMemoryStore()
	default:
		return nil, errors.New("unknown store kind " + cfg.Store.Kind)
	}
	a.closers = append(a.closers, func() { _ = store.Close() })
	return store, nil
}
