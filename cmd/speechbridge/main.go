package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"speechbridge/internal/asr"
	"speechbridge/internal/config"
	"speechbridge/internal/db"
	"speechbridge/internal/httpapi"
	"speechbridge/internal/mqtt"
	"speechbridge/internal/session"
)

var (
	v          = config.NewViper()
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "speechbridge",
	Short: "Streaming speech transcription bridge",
	Long:  `speechbridge accepts chunked audio over HTTP, streams it to a speech recognizer and serves interim and final transcripts by polling.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP bridge",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ./config.yaml when present)")
	rootCmd.PersistentFlags().String("log-level", "info", "debug, info, warn or error")
	serveCmd.Flags().String("addr", ":9020", "HTTP listen address")
	serveCmd.Flags().String("provider", "google", "speech recognizer: google, bridge or mock")

	_ = v.BindPFlag("LOG_LEVEL", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("SPEECH_HTTP_ADDR", serveCmd.Flags().Lookup("addr"))
	_ = v.BindPFlag("ASR_PROVIDER", serveCmd.Flags().Lookup("provider"))

	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	lvl, err := charmlog.ParseLevel(level)
	if err != nil {
		lvl = charmlog.InfoLevel
	}
	handler := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		ReportCaller:    true,
		TimeFormat:      time.DateTime,
		Level:           lvl,
	})
	return slog.New(handler)
}

func newEngine(ctx context.Context, cfg config.ServerConfig) (asr.Engine, func(), error) {
	switch cfg.ASRProvider {
	case config.ProviderGoogle:
		engine, err := asr.NewGoogleEngine(ctx, cfg.GoogleCredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		return engine, func() { _ = engine.Close() }, nil
	case config.ProviderBridge:
		return &asr.BridgeEngine{BaseURL: cfg.ASRBridgeURL}, func() {}, nil
	case config.ProviderMock:
		return &asr.MockEngine{}, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown provider %q", cfg.ASRProvider)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	engine, closeEngine, err := newEngine(ctx, cfg)
	if err != nil {
		logger.Error("init speech engine failed", "provider", cfg.ASRProvider, "error", err)
		return err
	}
	defer closeEngine()

	var (
		sinks    []session.EventSink
		eventLog httpapi.EventLog
	)
	if cfg.DBDSN != "" {
		store, err := db.New(ctx, cfg.DBDSN)
		if err != nil {
			logger.Error("connect db failed", "error", err)
			return err
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			logger.Error("migrate db failed", "error", err)
			return err
		}
		sinks = append(sinks, store)
		eventLog = store
		logger.Info("session audit log enabled")
	}

	var hub *mqtt.Hub
	if cfg.MQTTBrokerURL != "" {
		hub = mqtt.NewHub(mqtt.HubConfig{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			TopicPrefix: cfg.MQTTTopicPrefix,
		}, logger)
		sinks = append(sinks, hub)
	}

	svc := session.New(session.Config{
		Recognition:     cfg.RecognitionConfig(),
		IdleTimeout:     cfg.IdleTimeout,
		OpenTimeout:     cfg.OpenTimeout,
		MaxStagedChunks: cfg.MaxStaged,
	}, session.NewRegistry(), engine, sinks, logger.With("component", "session"))

	if hub != nil {
		if err := hub.Start(ctx, svc); err != nil {
			logger.Error("start mqtt hub failed", "error", err)
			return err
		}
	}

	go svc.RunIdleReaper(ctx, cfg.ReapInterval)
	logger.Info("idle session reaper enabled", "idle_timeout", cfg.IdleTimeout, "interval", cfg.ReapInterval)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(svc, eventLog, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("speech bridge started", "addr", cfg.HTTPAddr, "provider", engine.Name())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	svc.Shutdown(shutdownCtx)
	cancel()
	return nil
}
