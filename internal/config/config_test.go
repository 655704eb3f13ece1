package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)

	assert.Equal(t, ":9020", cfg.HTTPAddr)
	assert.Equal(t, ProviderGoogle, cfg.ASRProvider)
	assert.Equal(t, 60*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 10*time.Second, cfg.ReapInterval)
	assert.Equal(t, 16, cfg.MaxStaged)
	assert.Empty(t, cfg.DBDSN)
	assert.Equal(t, "speech", cfg.MQTTTopicPrefix)

	rc := cfg.RecognitionConfig()
	assert.Equal(t, "WEBM_OPUS", rc.Encoding)
	assert.Equal(t, 48000, rc.SampleRateHertz)
	assert.Equal(t, "ko-KR", rc.LanguageCode)
	assert.Equal(t, "latest_long", rc.Model)
	assert.True(t, rc.EnableAutomaticPunctuation)
	assert.True(t, rc.InterimResults)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ASR_PROVIDER", "Mock")
	t.Setenv("SPEECH_LANGUAGE", "en-US")
	t.Setenv("SPEECH_ENCODING", "linear16")
	t.Setenv("SPEECH_SAMPLE_RATE", "16000")
	t.Setenv("SPEECH_PUNCTUATION", "false")
	t.Setenv("SESSION_IDLE_TIMEOUT_SECONDS", "5")

	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)
	assert.Equal(t, ProviderMock, cfg.ASRProvider)
	assert.Equal(t, "en-US", cfg.Language)
	assert.Equal(t, "LINEAR16", cfg.Encoding)
	assert.Equal(t, 16000, cfg.SampleRate)
	assert.False(t, cfg.Punctuation)
	assert.Equal(t, 5*time.Second, cfg.IdleTimeout)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speechbridge.yaml")
	body := "asr_provider: bridge\nasr_bridge_url: ws://asr:2700/ws\nmqtt_topic_prefix: lab\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(NewViper(), path)
	require.NoError(t, err)
	assert.Equal(t, ProviderBridge, cfg.ASRProvider)
	assert.Equal(t, "ws://asr:2700/ws", cfg.ASRBridgeURL)
	assert.Equal(t, "lab", cfg.MQTTTopicPrefix)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(NewViper(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base, err := Load(NewViper(), "")
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(*ServerConfig)
	}{
		{"unknown provider", func(c *ServerConfig) { c.ASRProvider = "whisper" }},
		{"bridge without url", func(c *ServerConfig) { c.ASRProvider = ProviderBridge; c.ASRBridgeURL = "" }},
		{"zero idle timeout", func(c *ServerConfig) { c.IdleTimeout = 0 }},
		{"negative reap interval", func(c *ServerConfig) { c.ReapInterval = -time.Second }},
		{"zero open timeout", func(c *ServerConfig) { c.OpenTimeout = 0 }},
		{"zero staged chunks", func(c *ServerConfig) { c.MaxStaged = 0 }},
		{"zero sample rate", func(c *ServerConfig) { c.SampleRate = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, base.Validate())
}
