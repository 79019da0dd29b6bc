package alerting

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/cpe-server/cpe-server-pro/internal/config"
	"github.com/cpe-server/cpe-server-pro/internal/models"
	"github.com/cpe-server/cpe-server-pro/internal/storage"
)

// Forwarder fans alerts out to the configured channels (NATS, MQTT,
// HTTP webhook) and records every alert as an event log entry.
type Forwarder struct {
	cfg   config.AlertingConfig
	nc    *nats.Conn
	store storage.Store

	mqttClient mqtt.Client
	mqttMu     sync.Mutex

	httpClient *http.Client
}

// NewForwarder creates an alert forwarder
func NewForwarder(cfg config.AlertingConfig, nc *nats.Conn, store storage.Store) *Forwarder {
	return &Forwarder{
		cfg:   cfg,
		nc:    nc,
		store: store,
		httpClient: &http.Client{
			Timeout: cfg.Webhook.Timeout,
		},
	}
}

// Raise delivers an alert to all enabled channels. Delivery is
// best-effort; failures are logged, never surfaced to the caller.
func (f *Forwarder) Raise(ctx context.Context, alert Alert) {
	if alert.RaisedAt.IsZero() {
		alert.RaisedAt = time.Now()
	}

	log.Info().
		Str("severity", string(alert.Severity)).
		Str("deviceID", alert.DeviceID.String()).
		Str("subject", alert.Subject).
		Msg("Alert raised")

	f.persistEventLog(ctx, alert)

	payload, err := json.Marshal(alert)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal alert")
		return
	}

	if f.cfg.NATS.Enabled && f.nc != nil {
		go f.publishNATS(alert, payload)
	}

	if f.cfg.MQTT.Enabled {
		go f.publishMQTT(alert, payload)
	}

	if f.cfg.Webhook.Enabled {
		go f.postWebhook(alert, payload)
	}
}

// persistEventLog records the alert in the event log
func (f *Forwarder) persistEventLog(ctx context.Context, alert Alert) {
	tenantID := alert.TenantID
	deviceID := alert.DeviceID

	event := &models.EventLog{
		TenantID:    &tenantID,
		DeviceID:    &deviceID,
		Type:        models.EventTypeAlert,
		Level:       eventLevel(alert.Severity),
		Code:        string(alert.Severity),
		Description: alert.Subject,
		Details: models.Variables{
			"message": alert.Message,
		},
	}
	if alert.ReferenceID != nil {
		event.Details["referenceId"] = alert.ReferenceID.String()
	}

	if err := f.store.CreateEventLog(ctx, event); err != nil {
		log.Error().Err(err).Msg("Failed to create alert event log")
	}
}

func eventLevel(severity Severity) models.EventLevel {
	switch severity {
	case SeverityLow:
		return models.EventLevelInfo
	case SeverityMedium:
		return models.EventLevelWarning
	default:
		return models.EventLevelError
	}
}

// publishNATS publishes the alert to a severity-scoped NATS subject
func (f *Forwarder) publishNATS(alert Alert, payload []byte) {
	subject := fmt.Sprintf("%s.%s.%s",
		f.cfg.NATS.SubjectPrefix, alert.TenantID, strings.ToLower(string(alert.Severity)))

	if err := f.nc.Publish(subject, payload); err != nil {
		log.Error().
			Err(err).
			Str("subject", subject).
			Msg("Failed to publish alert to NATS")
		return
	}

	log.Debug().
		Str("subject", subject).
		Msg("Alert published to NATS")
}

// publishMQTT publishes the alert to the configured MQTT topic
func (f *Forwarder) publishMQTT(alert Alert, payload []byte) {
	client := f.getMQTTClient()
	if client == nil {
		return
	}

	topic := f.cfg.MQTT.TopicPattern
	topic = strings.ReplaceAll(topic, "{tenant_id}", alert.TenantID.String())
	topic = strings.ReplaceAll(topic, "{device_id}", alert.DeviceID.String())
	topic = strings.ReplaceAll(topic, "{severity}", strings.ToLower(string(alert.Severity)))

	token := client.Publish(topic, f.cfg.MQTT.QoS, false, payload)
	if token.WaitTimeout(5 * time.Second) {
		if err := token.Error(); err != nil {
			log.Error().
				Err(err).
				Str("topic", topic).
				Msg("Failed to publish alert to MQTT")
		} else {
			log.Debug().
				Str("topic", topic).
				Msg("Alert published to MQTT")
		}
	} else {
		log.Error().
			Str("topic", topic).
			Msg("MQTT publish timeout")
	}
}

// postWebhook POSTs the alert to the configured webhook endpoint
func (f *Forwarder) postWebhook(alert Alert, payload []byte) {
	req, err := http.NewRequest(http.MethodPost, f.cfg.Webhook.Endpoint, bytes.NewBuffer(payload))
	if err != nil {
		log.Error().Err(err).Msg("Failed to create webhook request")
		return
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range f.cfg.Webhook.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		log.Error().
			Err(err).
			Str("endpoint", f.cfg.Webhook.Endpoint).
			Msg("Failed to forward alert to webhook")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Error().
			Int("status", resp.StatusCode).
			Str("endpoint", f.cfg.Webhook.Endpoint).
			Msg("Webhook alert delivery failed")
	} else {
		log.Debug().
			Str("endpoint", f.cfg.Webhook.Endpoint).
			Msg("Alert forwarded to webhook")
	}
}

// getMQTTClient returns a connected MQTT client, creating it on first use
func (f *Forwarder) getMQTTClient() mqtt.Client {
	f.mqttMu.Lock()
	defer f.mqttMu.Unlock()

	if f.mqttClient != nil && f.mqttClient.IsConnected() {
		return f.mqttClient
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(f.cfg.MQTT.BrokerURL)
	opts.SetClientID("cpe-server-alerts")

	if f.cfg.MQTT.Username != "" {
		opts.SetUsername(f.cfg.MQTT.Username)
		opts.SetPassword(f.cfg.MQTT.Password)
	}

	if f.cfg.MQTT.TLS {
		opts.SetTLSConfig(&tls.Config{
			InsecureSkipVerify: true, // TODO: certificate pinning for broker connections
		})
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Error().Err(err).Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()

	if token.WaitTimeout(10*time.Second) && token.Error() == nil {
		f.mqttClient = client
		return client
	}

	log.Error().
		Err(token.Error()).
		Str("broker", f.cfg.MQTT.BrokerURL).
		Msg("Failed to connect MQTT client")

	return nil
}

// Close disconnects the MQTT client
func (f *Forwarder) Close() {
	f.mqttMu.Lock()
	defer f.mqttMu.Unlock()

	if f.mqttClient != nil && f.mqttClient.IsConnected() {
		f.mqttClient.Disconnect(250)
		f.mqttClient = nil
	}
}
