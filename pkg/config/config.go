// Package config loads the captureflow settings from YAML, the environment and
// command-line flags, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-captureflow/pkg/formstream"
	"github.com/illmade-knight/go-captureflow/pkg/imagehost"
	"github.com/illmade-knight/go-captureflow/pkg/microservice"
	"github.com/illmade-knight/go-captureflow/pkg/publish"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Backend kinds.
const (
	HostHTTP = "http"
	HostGCS  = "gcs"

	BusMQTT   = "mqtt"
	BusPubsub = "pubsub"

	SensorDir      = "dir"
	SensorSnapshot = "snapshot"

	StoreNone      = "none"
	StoreMemory    = "memory"
	StoreRedis     = "redis"
	StoreFirestore = "firestore"
)

// DefaultHostURL is the imgBB upload endpoint.
const DefaultHostURL = "https://api.imgbb.com/1/upload"

// Config is the complete service configuration.
type Config struct {
	microservice.BaseConfig `yaml:",inline"`

	APIKey            string `yaml:"api_key"`
	HostURL           string `yaml:"host_url"`
	TopicPrefix       string `yaml:"topic_prefix"`
	CaptureIntervalMS int    `yaml:"capture_interval_ms"`
	// PublishIncomplete publishes null references when the host answers
	// without a url or thumbnail.
	PublishIncomplete bool `yaml:"publish_incomplete"`

	Host  HostConfig  `yaml:"host"`
	Bus   BusConfig   `yaml:"bus"`
	Frame FrameConfig `yaml:"frame"`
	Store StoreConfig `yaml:"store"`
}

// HostConfig selects and tunes the image host.
type HostConfig struct {
	Kind               string        `yaml:"kind"`
	Boundary           string        `yaml:"boundary"`
	Timeout            time.Duration `yaml:"timeout"`
	MaxResponseBytes   int64         `yaml:"max_response_bytes"`
	CACertFile         string        `yaml:"ca_cert_file"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`

	Bucket        string `yaml:"bucket"`
	ObjectPrefix  string `yaml:"object_prefix"`
	PublicURLBase string `yaml:"public_url_base"`
}

// BusConfig selects and tunes the message bus.
type BusConfig struct {
	Kind            string                   `yaml:"kind"`
	MaxPayloadBytes int                      `yaml:"max_payload_bytes"`
	MQTT            publish.MQTTClientConfig `yaml:"mqtt"`
	PubsubTopicID   string                   `yaml:"pubsub_topic_id"`
}

// FrameConfig describes where frames come from and the memory they may use.
type FrameConfig struct {
	Sensor          string        `yaml:"sensor"`
	Dir             string        `yaml:"dir"`
	SnapshotURL     string        `yaml:"snapshot_url"`
	SnapshotTimeout time.Duration `yaml:"snapshot_timeout"`
	Slots           int           `yaml:"slots"`
	SlotBytes       int           `yaml:"slot_bytes"`
	// HeapBudgetBytes caps a single frame copy. Zero is unlimited.
	HeapBudgetBytes int `yaml:"heap_budget_bytes"`
}

// StoreConfig selects where the latest capture is kept.
type StoreConfig struct {
	Kind                string        `yaml:"kind"`
	RedisAddr           string        `yaml:"redis_addr"`
	RedisPassword       string        `yaml:"redis_password"`
	RedisDB             int           `yaml:"redis_db"`
	RedisKey            string        `yaml:"redis_key"`
	TTL                 time.Duration `yaml:"ttl"`
	FirestoreCollection string        `yaml:"firestore_collection"`
	FirestoreDocument   string        `yaml:"firestore_document"`
}

// Default returns the configuration used for anything not set elsewhere.
func Default() *Config {
	return &Config{
		BaseConfig: microservice.BaseConfig{
			LogLevel:    "info",
			HTTPPort:    ":8080",
			ServiceName: "captureflow",
		},
		HostURL:           DefaultHostURL,
		CaptureIntervalMS: 10000,
		PublishIncomplete: true,
		Host: HostConfig{
			Kind:             HostHTTP,
			Boundary:         formstream.DefaultBoundary,
			Timeout:          imagehost.DefaultTimeout,
			MaxResponseBytes: imagehost.DefaultMaxResponseBytes,
			ObjectPrefix:     "captures",
			PublicURLBase:    imagehost.DefaultPublicURLBase,
		},
		Bus: BusConfig{
			Kind:            BusMQTT,
			MaxPayloadBytes: publish.DefaultMaxPayloadBytes,
			MQTT:            *publish.DefaultMQTTClientConfig(),
		},
		Frame: FrameConfig{
			Sensor:          SensorDir,
			Dir:             "./frames",
			SnapshotTimeout: 5 * time.Second,
			Slots:           1,
			SlotBytes:       512 * 1024,
		},
		Store: StoreConfig{
			Kind:                StoreMemory,
			FirestoreCollection: "captures",
			FirestoreDocument:   "latest",
		},
	}
}

// Load starts from Default, overlays the YAML file at path when path is not
// empty, then applies environment overrides. Validation is left to the caller
// so flags can still be applied.
func Load(path string, logger zerolog.Logger) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.ApplyEnv(logger)
	return cfg, nil
}

// Environment variables read by ApplyEnv, in addition to the MQTT_* set
// understood by publish.MQTTClientConfig.
const (
	EnvAPIKey            = "CAPTUREFLOW_API_KEY"
	EnvHostURL           = "CAPTUREFLOW_HOST_URL"
	EnvTopicPrefix       = "CAPTUREFLOW_TOPIC_PREFIX"
	EnvCaptureIntervalMS = "CAPTUREFLOW_CAPTURE_INTERVAL_MS"
	EnvHTTPPort          = "CAPTUREFLOW_HTTP_PORT"
	EnvLogLevel          = "CAPTUREFLOW_LOG_LEVEL"
	EnvProjectID         = "GOOGLE_CLOUD_PROJECT"
	EnvRedisAddr         = "REDIS_ADDR"
)

// ApplyEnv overrides cfg from the environment. Unparseable numbers are logged
// and the existing value is kept.
func (c *Config) ApplyEnv(logger zerolog.Logger) {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&c.APIKey, EnvAPIKey)
	setString(&c.HostURL, EnvHostURL)
	setString(&c.TopicPrefix, EnvTopicPrefix)
	setString(&c.HTTPPort, EnvHTTPPort)
	setString(&c.LogLevel, EnvLogLevel)
	setString(&c.ProjectID, EnvProjectID)
	setString(&c.Store.RedisAddr, EnvRedisAddr)

	if v := os.Getenv(EnvCaptureIntervalMS); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			logger.Warn().Err(err).Str("env", EnvCaptureIntervalMS).Int("using", c.CaptureIntervalMS).Msg("Ignoring unparseable capture interval.")
		} else {
			c.CaptureIntervalMS = n
		}
	}
	c.Bus.MQTT.ApplyEnv()
}

// CaptureInterval is the trigger period.
func (c *Config) CaptureInterval() time.Duration {
	return time.Duration(c.CaptureIntervalMS) * time.Millisecond
}

// gcsEventBytes is the encoded size of an event announcing an object in the
// configured bucket. The object URL is used for both references.
func (c *Config) gcsEventBytes() int {
	name := imagehost.ObjectName(c.Host.ObjectPrefix, formstream.Filename(time.Unix(0, 0)), "00000000")
	u := imagehost.ObjectURL(c.Host.PublicURLBase, c.Host.Bucket, name)
	payload, err := publish.NewEventRecord(time.Now(), &u, &u).Marshal()
	if err != nil {
		return 0
	}
	return len(payload)
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.Trim(c.TopicPrefix, "/") == "" {
		add("topic_prefix is required")
	}
	if c.CaptureIntervalMS <= 0 {
		add("capture_interval_ms must be positive, got %d", c.CaptureIntervalMS)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		add("invalid log_level %q", c.LogLevel)
	}

	switch c.Host.Kind {
	case HostHTTP:
		if c.APIKey == "" {
			add("api_key is required for the http image host")
		}
		if c.HostURL == "" {
			add("host_url is required for the http image host")
		}
		if c.Host.Timeout < imagehost.DefaultTimeout {
			add("host.timeout must be at least %s, got %s", imagehost.DefaultTimeout, c.Host.Timeout)
		}
		if err := formstream.ValidateBoundary(c.Host.Boundary); err != nil {
			add("host.boundary: %w", err)
		}
	case HostGCS:
		if c.Host.Bucket == "" {
			add("host.bucket is required for the gcs image host")
		} else if need := c.gcsEventBytes(); c.Bus.MaxPayloadBytes > 0 && need > c.Bus.MaxPayloadBytes {
			add("bus.max_payload_bytes %d cannot hold a %d byte event for bucket %q", c.Bus.MaxPayloadBytes, need, c.Host.Bucket)
		}
	default:
		add("unknown host.kind %q", c.Host.Kind)
	}

	switch c.Bus.Kind {
	case BusMQTT:
		if c.Bus.MQTT.BrokerURL == "" {
			add("bus.mqtt.broker_url is required")
		}
		if c.Bus.MQTT.QoS > 2 {
			add("bus.mqtt.qos must be 0, 1 or 2")
		}
	case BusPubsub:
		if c.ProjectID == "" || c.Bus.PubsubTopicID == "" {
			add("project_id and bus.pubsub_topic_id are required for the pubsub bus")
		}
	default:
		add("unknown bus.kind %q", c.Bus.Kind)
	}

	switch c.Frame.Sensor {
	case SensorDir:
		if c.Frame.Dir == "" {
			add("frame.dir is required for the dir sensor")
		}
	case SensorSnapshot:
		if c.Frame.SnapshotURL == "" {
			add("frame.snapshot_url is required for the snapshot sensor")
		}
	default:
		add("unknown frame.sensor %q", c.Frame.Sensor)
	}
	if c.Frame.Slots <= 0 || c.Frame.SlotBytes <= 0 {
		add("frame.slots and frame.slot_bytes must be positive")
	}

	switch c.Store.Kind {
	case StoreNone, StoreMemory:
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			add("store.redis_addr is required for the redis store")
		}
	case StoreFirestore:
		if c.ProjectID == "" {
			add("project_id is required for the firestore store")
		}
	default:
		add("unknown store.kind %q", c.Store.Kind)
	}

	return errors.Join(errs...)
}
