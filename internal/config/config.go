package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"speechbridge/internal/asr"
)

const (
	ProviderGoogle = "google"
	ProviderBridge = "bridge"
	ProviderMock   = "mock"
)

type ServerConfig struct {
	HTTPAddr string
	LogLevel string

	ASRProvider           string
	ASRBridgeURL          string
	GoogleCredentialsFile string

	Encoding     string
	SampleRate   int
	Language     string
	Model        string
	Punctuation  bool
	IdleTimeout  time.Duration
	ReapInterval time.Duration
	OpenTimeout  time.Duration
	MaxStaged    int

	DBDSN           string
	MQTTBrokerURL   string
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string
	MQTTTopicPrefix string
}

var defaults = map[string]any{
	"SPEECH_HTTP_ADDR":              ":9020",
	"LOG_LEVEL":                     "info",
	"ASR_PROVIDER":                  ProviderGoogle,
	"ASR_BRIDGE_URL":                "ws://127.0.0.1:2700/ws",
	"GOOGLE_CREDENTIALS_FILE":       "",
	"SPEECH_ENCODING":               "WEBM_OPUS",
	"SPEECH_SAMPLE_RATE":            48000,
	"SPEECH_LANGUAGE":               "ko-KR",
	"SPEECH_MODEL":                  "latest_long",
	"SPEECH_PUNCTUATION":            true,
	"SESSION_IDLE_TIMEOUT_SECONDS":  60,
	"SESSION_REAP_INTERVAL_SECONDS": 10,
	"SESSION_MAX_STAGED_CHUNKS":     16,
	"SESSION_OPEN_TIMEOUT_SECONDS":  10,
	"DB_DSN":                        "",
	"MQTT_BROKER_URL":               "",
	"MQTT_CLIENT_ID":                "speechbridge",
	"MQTT_USERNAME":                 "",
	"MQTT_PASSWORD":                 "",
	"MQTT_TOPIC_PREFIX":             "speech",
}

// NewViper returns a viper instance with every key defaulted and bound to the
// environment variable of the same name.
func NewViper() *viper.Viper {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.AutomaticEnv()
	return v
}

// Load reads configFile when set, or ./config.yaml when present, over the
// environment and defaults held by v.
func Load(v *viper.Viper, configFile string) (ServerConfig, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return ServerConfig{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := ServerConfig{
		HTTPAddr:              v.GetString("SPEECH_HTTP_ADDR"),
		LogLevel:              strings.ToLower(v.GetString("LOG_LEVEL")),
		ASRProvider:           strings.ToLower(strings.TrimSpace(v.GetString("ASR_PROVIDER"))),
		ASRBridgeURL:          strings.TrimSpace(v.GetString("ASR_BRIDGE_URL")),
		GoogleCredentialsFile: v.GetString("GOOGLE_CREDENTIALS_FILE"),
		Encoding:              strings.ToUpper(v.GetString("SPEECH_ENCODING")),
		SampleRate:            v.GetInt("SPEECH_SAMPLE_RATE"),
		Language:              v.GetString("SPEECH_LANGUAGE"),
		Model:                 v.GetString("SPEECH_MODEL"),
		Punctuation:           v.GetBool("SPEECH_PUNCTUATION"),
		IdleTimeout:           seconds(v, "SESSION_IDLE_TIMEOUT_SECONDS"),
		ReapInterval:          seconds(v, "SESSION_REAP_INTERVAL_SECONDS"),
		OpenTimeout:           seconds(v, "SESSION_OPEN_TIMEOUT_SECONDS"),
		MaxStaged:             v.GetInt("SESSION_MAX_STAGED_CHUNKS"),
		DBDSN:                 v.GetString("DB_DSN"),
		MQTTBrokerURL:         v.GetString("MQTT_BROKER_URL"),
		MQTTClientID:          v.GetString("MQTT_CLIENT_ID"),
		MQTTUsername:          v.GetString("MQTT_USERNAME"),
		MQTTPassword:          v.GetString("MQTT_PASSWORD"),
		MQTTTopicPrefix:       v.GetString("MQTT_TOPIC_PREFIX"),
	}
	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func (c ServerConfig) Validate() error {
	switch c.ASRProvider {
	case ProviderGoogle, ProviderMock:
	case ProviderBridge:
		if c.ASRBridgeURL == "" {
			return fmt.Errorf("ASR_BRIDGE_URL is required when ASR_PROVIDER=bridge")
		}
	default:
		return fmt.Errorf("unknown ASR_PROVIDER %q", c.ASRProvider)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("SPEECH_SAMPLE_RATE must be positive")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT_SECONDS must be positive")
	}
	if c.ReapInterval <= 0 {
		return fmt.Errorf("SESSION_REAP_INTERVAL_SECONDS must be positive")
	}
	if c.OpenTimeout <= 0 {
		return fmt.Errorf("SESSION_OPEN_TIMEOUT_SECONDS must be positive")
	}
	if c.MaxStaged <= 0 {
		return fmt.Errorf("SESSION_MAX_STAGED_CHUNKS must be positive")
	}
	return nil
}

func (c ServerConfig) RecognitionConfig() asr.Config {
	return asr.Config{
		Encoding:                   c.Encoding,
		SampleRateHertz:            c.SampleRate,
		LanguageCode:               c.Language,
		Model:                      c.Model,
		EnableAutomaticPunctuation: c.Punctuation,
		InterimResults:             true,
	}
}

func seconds(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt(key)) * time.Second
}
