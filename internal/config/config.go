// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Speech holds upstream recognition provider settings.
type Speech struct {
	AppID            string
	APIKey           string
	Endpoint         string
	HandshakeTimeout time.Duration
	ReceiveTimeout   time.Duration
	TeardownGrace    time.Duration
}

// Service holds process-level settings.
type Service struct {
	Name        string
	HTTPPort    string
	MetricsPort string
}

// Kafka holds event publishing settings.
type Kafka struct {
	Enabled      bool
	Brokers      []string
	TopicPartial string
	TopicFinal   string
	Principal    string
}

// Observability holds logging settings.
type Observability struct {
	LogLevel  string
	LogFormat string
}

// Configuration is the full service configuration.
type Configuration struct {
	Service       Service
	Speech        Speech
	Kafka         Kafka
	Observability Observability
}

// Load reads configuration from the environment. It fails fast when the
// upstream credentials are missing, before any connection attempt is made.
func Load() (*Configuration, error) {
	cfg := &Configuration{
		Service: Service{
			Name:        envOrDefault("SERVICE_NAME", "speech-relay-service"),
			HTTPPort:    envOrDefault("HTTP_PORT", "8080"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
		},
		Speech: Speech{
			AppID:            os.Getenv("SPEECH_APP_ID"),
			APIKey:           os.Getenv("SPEECH_API_KEY"),
			Endpoint:         envOrDefault("SPEECH_ENDPOINT", "wss://rtasr.xfyun.cn/v1/ws"),
			HandshakeTimeout: durationOrDefault("SPEECH_HANDSHAKE_TIMEOUT", 5*time.Second),
			ReceiveTimeout:   durationOrDefault("SPEECH_RECEIVE_TIMEOUT", time.Second),
			TeardownGrace:    durationOrDefault("SPEECH_TEARDOWN_GRACE", 3*time.Second),
		},
		Kafka: Kafka{
			Enabled:      boolOrDefault("KAFKA_ENABLED", false),
			Brokers:      splitList(os.Getenv("KAFKA_BROKERS")),
			TopicPartial: envOrDefault("KAFKA_TOPIC_PARTIAL", "speech.transcript.partial"),
			TopicFinal:   envOrDefault("KAFKA_TOPIC_FINAL", "speech.transcript.final"),
			Principal:    envOrDefault("KAFKA_PRINCIPAL", "svc-speech-relay"),
		},
		Observability: Observability{
			LogLevel:  envOrDefault("LOG_LEVEL", "info"),
			LogFormat: envOrDefault("LOG_FORMAT", "json"),
		},
	}

	if cfg.Speech.AppID == "" {
		return nil, fmt.Errorf("config: SPEECH_APP_ID is required")
	}
	if cfg.Speech.APIKey == "" {
		return nil, fmt.Errorf("config: SPEECH_API_KEY is required")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationOrDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func boolOrDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
