package publish

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MQTTClientConfig holds all necessary configuration for the Paho MQTT client.
type MQTTClientConfig struct {
	// BrokerURL is the full URL of the MQTT broker to connect to.
	// Example: "tls://mqtt.example.com:8883"
	BrokerURL string `yaml:"broker_url"`
	// ClientIDPrefix is a prefix for the MQTT client ID. A unique suffix is
	// added because most brokers drop a session when a client ID is reused.
	ClientIDPrefix string `yaml:"client_id_prefix"`
	// Username for authenticating with the MQTT broker.
	Username string `yaml:"username"`
	// Password for authenticating with the MQTT broker.
	Password string `yaml:"password"`
	// QoS used for capture events.
	QoS byte `yaml:"qos"`
	// KeepAlive is the interval at which the client sends keep-alive pings to the broker.
	KeepAlive time.Duration `yaml:"keep_alive"`
	// ConnectTimeout is the timeout for the initial connection attempt.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// PublishTimeout bounds how long a publish waits for the broker.
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	// ReconnectWaitMax is the maximum time to wait before attempting to reconnect.
	ReconnectWaitMax time.Duration `yaml:"reconnect_wait_max"`
	// CACertFile is an optional path to a CA certificate file for verifying the broker's certificate.
	CACertFile string `yaml:"ca_cert_file"`
	// ClientCertFile is an optional path to a client certificate file for mTLS authentication.
	ClientCertFile string `yaml:"client_cert_file"`
	// ClientKeyFile is an optional path to a client key file for mTLS authentication.
	ClientKeyFile string `yaml:"client_key_file"`
	// InsecureSkipVerify skips TLS certificate verification.
	// This is NOT recommended for production environments.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// Env constants for setting Mqtt settings
const (
	MqttBrokerURL             = "MQTT_BROKER_URL"
	MqttUsername              = "MQTT_USERNAME"
	MqttPassword              = "MQTT_PASSWORD"
	MqttQoS                   = "MQTT_QOS"
	MqttSkipVerify            = "MQTT_INSECURE_SKIP_VERIFY"
	MqttKeepAliveSeconds      = "MQTT_KEEP_ALIVE_SECONDS"
	MqttConnectTimeoutSeconds = "MQTT_CONNECT_TIMEOUT_SECONDS"
)

// DefaultMQTTClientConfig returns the settings used when nothing is configured.
func DefaultMQTTClientConfig() *MQTTClientConfig {
	return &MQTTClientConfig{
		BrokerURL:        "tcp://localhost:1883",
		ClientIDPrefix:   "captureflow-",
		QoS:              1,
		KeepAlive:        60 * time.Second,
		ConnectTimeout:   10 * time.Second,
		PublishTimeout:   5 * time.Second,
		ReconnectWaitMax: 120 * time.Second,
	}
}

// ApplyEnv overrides cfg from the MQTT_* environment variables. Unparseable
// values are logged and the existing value is kept.
func (cfg *MQTTClientConfig) ApplyEnv() {
	if v := os.Getenv(MqttBrokerURL); v != "" {
		cfg.BrokerURL = v
	}
	if v := os.Getenv(MqttUsername); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv(MqttPassword); v != "" {
		cfg.Password = v
	}
	if skipVerify := os.Getenv(MqttSkipVerify); skipVerify == "true" {
		cfg.InsecureSkipVerify = true
	}
	if q := os.Getenv(MqttQoS); q != "" {
		n, err := strconv.Atoi(q)
		if err == nil && n >= 0 && n <= 2 {
			cfg.QoS = byte(n)
		} else {
			log.Printf("publish: invalid MQTT QoS %q, using %d", q, cfg.QoS)
		}
	}
	if ka := os.Getenv(MqttKeepAliveSeconds); ka != "" {
		s, err := time.ParseDuration(ka + "s")
		if err == nil {
			cfg.KeepAlive = s
		} else {
			log.Printf("publish: error parsing keepAlive seconds: %s, using default", err)
		}
	}
	if ct := os.Getenv(MqttConnectTimeoutSeconds); ct != "" {
		s, err := time.ParseDuration(ct + "s")
		if err == nil {
			cfg.ConnectTimeout = s
		} else {
			log.Printf("publish: error parsing connect timeout seconds: %s, using default", err)
		}
	}
}

// NewMQTTClient creates a Paho client and starts connecting it. The client
// keeps reconnecting in the background, so a failed first attempt is logged
// rather than returned.
func NewMQTTClient(cfg *MQTTClientConfig, logger zerolog.Logger) (mqtt.Client, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("MQTT broker URL is required")
	}
	logger = logger.With().Str("component", "MQTTClient").Str("broker", cfg.BrokerURL).Logger()

	opts, err := createMqttOptions(cfg, logger)
	if err != nil {
		return nil, err
	}
	client := mqtt.NewClient(opts)

	logger.Info().Msg("Attempting to connect to MQTT broker...")
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		logger.Warn().Dur("timeout", cfg.ConnectTimeout).Msg("MQTT connect still pending, the client will keep retrying in the background.")
	} else if err := token.Error(); err != nil {
		logger.Error().Err(err).Msg("Failed to connect to MQTT broker on startup. The Paho client will continue to retry in the background.")
	} else {
		logger.Info().Msg("Initial connection to MQTT broker successful.")
	}
	return client, nil
}

// createMqttOptions assembles the Paho client options from the config.
func createMqttOptions(cfg *MQTTClientConfig, logger zerolog.Logger) (*mqtt.ClientOptions, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	uniqueSuffix := time.Now().UnixNano() % 1000000
	opts.SetClientID(fmt.Sprintf("%s%d", cfg.ClientIDPrefix, uniqueSuffix))
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(cfg.ReconnectWaitMax)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info().Msg("Paho client connected to MQTT broker.")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Error().Err(err).Msg("Paho client lost MQTT connection.")
	})

	lower := strings.ToLower(cfg.BrokerURL)
	if strings.HasPrefix(lower, "tls://") || strings.HasPrefix(lower, "ssl://") || strings.HasPrefix(lower, "mqtts://") {
		tlsConfig, err := newTLSConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("mqtt tls config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
		logger.Info().Msg("TLS configured for MQTT client.")
	}
	return opts, nil
}

// newTLSConfig is a helper to create a tls.Config.
func newTLSConfig(cfg *MQTTClientConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.CACertFile != "" {
		caCert, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert file %s: %w", cfg.CACertFile, err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA cert from %s", cfg.CACertFile)
		}
		tlsConfig.RootCAs = caCertPool
	}
	if cfg.ClientCertFile != "" && cfg.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertFile, cfg.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate/key pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}
