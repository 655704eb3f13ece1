package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speechbridge/internal/config"
)

func TestNewEngine(t *testing.T) {
	ctx := context.Background()

	engine, closeFn, err := newEngine(ctx, config.ServerConfig{ASRProvider: config.ProviderMock})
	require.NoError(t, err)
	assert.Equal(t, "mock", engine.Name())
	closeFn()

	engine, closeFn, err = newEngine(ctx, config.ServerConfig{ASRProvider: config.ProviderBridge, ASRBridgeURL: "ws://127.0.0.1:2700/ws"})
	require.NoError(t, err)
	assert.Equal(t, "bridge", engine.Name())
	closeFn()

	_, _, err = newEngine(ctx, config.ServerConfig{ASRProvider: "vosk"})
	assert.Error(t, err)
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger := newLogger("chatty")
	assert.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
}
