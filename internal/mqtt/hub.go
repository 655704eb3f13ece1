package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"speechbridge/internal/domain"
)

const (
	publishQoS     = 1
	disconnectQuit = 250
)

var ErrNotConnected = errors.New("mqtt hub not started")

type HubConfig struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// Stopper ends a session on request from the broker.
type Stopper interface {
	Stop(ctx context.Context, sessionID string) error
}

// Hub publishes session lifecycle events and accepts remote stop commands.
type Hub struct {
	cfg     HubConfig
	client  paho.Client
	stopper Stopper
	logger  *slog.Logger
}

func NewHub(cfg HubConfig, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{cfg: cfg, logger: logger.With("component", "mqtt")}
}

func (h *Hub) Start(ctx context.Context, stopper Stopper) error {
	h.stopper = stopper
	onlineTopic := TopicBridgeOnline(h.cfg.TopicPrefix, h.cfg.ClientID)

	opts := paho.NewClientOptions().
		AddBroker(h.cfg.BrokerURL).
		SetClientID(h.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetBinaryWill(onlineTopic, []byte("0"), publishQoS, true)

	if h.cfg.Username != "" {
		opts.SetUsername(h.cfg.Username)
		opts.SetPassword(h.cfg.Password)
	}

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		h.logger.Error("mqtt connection lost", "error", err)
	})
	// Subscriptions are not persisted across reconnects with a clean session.
	opts.SetOnConnectHandler(func(c paho.Client) {
		if token := c.Subscribe(TopicSessionStopAll(h.cfg.TopicPrefix), publishQoS, h.handleStop); token.Wait() && token.Error() != nil {
			h.logger.Error("subscribe stop topic failed", "error", token.Error())
			return
		}
		c.Publish(onlineTopic, publishQoS, true, []byte("1"))
		h.logger.Info("mqtt connected", "broker", h.cfg.BrokerURL, "client_id", h.cfg.ClientID)
	})

	h.client = paho.NewClient(opts)
	if token := h.client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}

	go func() {
		<-ctx.Done()
		if token := h.client.Publish(onlineTopic, publishQoS, true, []byte("0")); !token.WaitTimeout(time.Second) {
			h.logger.Warn("publish offline status timed out")
		}
		h.client.Disconnect(disconnectQuit)
	}()

	return nil
}

func (h *Hub) handleStop(_ paho.Client, msg paho.Message) {
	sessionID, err := ParseSessionID(msg.Topic(), h.cfg.TopicPrefix)
	if err != nil {
		h.logger.Warn("skip invalid stop topic", "topic", msg.Topic(), "error", err)
		return
	}

	var cmd domain.StopCommand
	if payload := strings.TrimSpace(string(msg.Payload())); payload != "" {
		if err := json.Unmarshal([]byte(payload), &cmd); err != nil {
			h.logger.Warn("invalid stop payload", "session_id", sessionID, "error", err)
		}
	}
	if h.stopper == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.stopper.Stop(ctx, sessionID); err != nil {
		h.logger.Warn("remote stop failed", "session_id", sessionID, "error", err)
		return
	}
	h.logger.Info("session stopped by broker", "session_id", sessionID, "reason", cmd.Reason)
}

// RecordSessionEvent publishes ev under the session's event topic.
func (h *Hub) RecordSessionEvent(ctx context.Context, ev domain.SessionEvent) error {
	if h.client == nil {
		return ErrNotConnected
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	token := h.client.Publish(TopicSessionEvent(h.cfg.TopicPrefix, ev.SessionID, ev.Kind), publishQoS, false, body)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
