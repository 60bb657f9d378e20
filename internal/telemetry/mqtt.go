// Package telemetry publishes RCON session activity to an MQTT broker:
// state transitions, server-pushed messages, and command audit records.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/rconsole-project/rconsole/internal/config"
	"github.com/rconsole-project/rconsole/internal/events"
	"github.com/rconsole-project/rconsole/internal/util"
)

// MQTT topics.
const (
	TopicSessionState  = "rconsole/session/state"
	TopicServerMessage = "rconsole/server/message"
	TopicCommandAudit  = "rconsole/command/audit"
	TopicAdmin         = "rconsole/admin"
)

// MQTTHandler manages the MQTT connection and publishes telemetry events.
type MQTTHandler struct {
	cfg      *config.Config
	eventBus *events.Bus
	client   mqtt.Client

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler.
func NewMQTTHandler(cfg *config.Config, eventBus *events.Bus) (*MQTTHandler, error) {
	mqttCfg := cfg.GetApplicationData().MQTT

	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	metadata := map[string]interface{}{
		"hostname":  sysInfo.Hostname,
		"platform":  sysInfo.Platform,
		"app":       "rconsole",
	}

	handler := &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		metadata: metadata,
	}

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("rconsole-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if mqttCfg.UseTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		if mqttCfg.CertFile != "" && mqttCfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(mqttCfg.CertFile, mqttCfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)

	return handler, nil
}

// Start connects to the MQTT broker and subscribes to bus events. It blocks
// until the context is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	mqttCfg := h.cfg.GetApplicationData().MQTT
	log.Info().
		Str("broker", mqttCfg.BrokerURL).
		Int("port", mqttCfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()

	<-ctx.Done()

	h.publishShutdown()
	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")

	return nil
}

// subscribeEvents registers event handlers for MQTT publishing.
func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.Subscribe(events.EventStateChange, "mqtt.stateChange", h.onStateChange)
	h.eventBus.Subscribe(events.EventSessionOpened, "mqtt.sessionOpened", h.onSessionEvent)
	h.eventBus.Subscribe(events.EventSessionClosed, "mqtt.sessionClosed", h.onSessionEvent)
	h.eventBus.Subscribe(events.EventSessionError, "mqtt.sessionError", h.onSessionEvent)
	h.eventBus.Subscribe(events.EventServerMessage, "mqtt.serverMessage", h.onServerMessage)
	h.eventBus.Subscribe(events.EventCommandExecuted, "mqtt.commandExecuted", h.onCommandExecuted)
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(topic string, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}

	msg := h.buildMessage(payload)

	data, err := json.Marshal(msg)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data) // QoS 1
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{})
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

func (h *MQTTHandler) onStateChange(ctx context.Context, event events.Event) error {
	h.publish(TopicSessionState, event.Payload)
	return nil
}

func (h *MQTTHandler) onSessionEvent(ctx context.Context, event events.Event) error {
	h.publish(TopicSessionState, map[string]interface{}{
		"event":   string(event.Type),
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onServerMessage(ctx context.Context, event events.Event) error {
	h.publish(TopicServerMessage, event.Payload)
	return nil
}

func (h *MQTTHandler) onCommandExecuted(ctx context.Context, event events.Event) error {
	h.publish(TopicCommandAudit, event.Payload)
	return nil
}

// publishShutdown sends a final shutdown message to the broker.
func (h *MQTTHandler) publishShutdown() {
	h.publish(TopicAdmin, map[string]interface{}{
		"event": "shutdown",
	})
}
