package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/cpe-server/cpe-server-pro/internal/models"
	"github.com/cpe-server/cpe-server-pro/internal/storage"
)

// NATSSubscriber consumes device events pushed by the ACS bridge.
// Subjects carry the device serial number: acs.device.<serial>.<event>.
type NATSSubscriber struct {
	nc    *nats.Conn
	store storage.Store
	subs  []*nats.Subscription
}

// NewNATSSubscriber creates NATS subscriber
func NewNATSSubscriber(nc *nats.Conn, store storage.Store) *NATSSubscriber {
	return &NATSSubscriber{
		nc:    nc,
		store: store,
		subs:  make([]*nats.Subscription, 0),
	}
}

// Start starts subscriptions
func (s *NATSSubscriber) Start(ctx context.Context) error {
	// Periodic inform from managed devices
	sub1, err := s.nc.Subscribe("acs.device.*.inform", s.handleInform)
	if err != nil {
		return fmt.Errorf("subscribe device inform: %w", err)
	}
	s.subs = append(s.subs, sub1)

	// Boot notifications after reboot, factory reset or firmware install
	sub2, err := s.nc.Subscribe("acs.device.*.boot", s.handleBoot)
	if err != nil {
		return fmt.Errorf("subscribe device boot: %w", err)
	}
	s.subs = append(s.subs, sub2)

	log.Info().
		Int("subscriptions", len(s.subs)).
		Msg("NATS subscriber started")

	<-ctx.Done()

	// Unsubscribe
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}

	return ctx.Err()
}

// handleInform handles periodic inform messages
func (s *NATSSubscriber) handleInform(msg *nats.Msg) {
	log.Debug().
		Str("subject", msg.Subject).
		Int("size", len(msg.Data)).
		Msg("Received device inform")

	var informMsg struct {
		SerialNumber    string `json:"serialNumber"`
		SoftwareVersion string `json:"softwareVersion"`
		IPAddress       string `json:"ipAddress"`
		InformedAt      string `json:"informedAt"`
	}

	if err := json.Unmarshal(msg.Data, &informMsg); err != nil {
		log.Error().Err(err).Msg("Failed to unmarshal device inform")
		return
	}

	ctx := context.Background()

	device, err := s.store.GetDeviceBySerial(ctx, nil, informMsg.SerialNumber)
	if err != nil {
		log.Warn().
			Str("serialNumber", informMsg.SerialNumber).
			Msg("Inform from unknown device")
		return
	}

	contactAt := time.Now()
	if t, err := time.Parse(time.RFC3339, informMsg.InformedAt); err == nil {
		contactAt = t
	}

	device.IsOnline = true
	device.LastContactAt = &contactAt
	if informMsg.SoftwareVersion != "" {
		device.SoftwareVersion = informMsg.SoftwareVersion
	}
	if informMsg.IPAddress != "" {
		device.IPAddress = &informMsg.IPAddress
	}

	if err := s.store.UpdateDevice(ctx, device); err != nil {
		log.Error().Err(err).Msg("Failed to update device")
		return
	}

	tenantID := device.TenantID
	deviceID := device.ID
	event := &models.EventLog{
		TenantID:    &tenantID,
		DeviceID:    &deviceID,
		Type:        models.EventTypeInform,
		Level:       models.EventLevelInfo,
		Description: fmt.Sprintf("Device %s informed", device.SerialNumber),
		Details: models.Variables{
			"softwareVersion": informMsg.SoftwareVersion,
			"ipAddress":       informMsg.IPAddress,
		},
	}

	if err := s.store.CreateEventLog(ctx, event); err != nil {
		log.Error().Err(err).Msg("Failed to create event log")
	}

	log.Info().
		Str("serialNumber", device.SerialNumber).
		Str("softwareVersion", informMsg.SoftwareVersion).
		Msg("Device inform processed")
}

// handleBoot handles boot notifications
func (s *NATSSubscriber) handleBoot(msg *nats.Msg) {
	log.Debug().
		Str("subject", msg.Subject).
		Msg("Received boot notification")

	var bootMsg struct {
		SerialNumber string `json:"serialNumber"`
		Cause        string `json:"cause"`
		BootedAt     string `json:"bootedAt"`
	}

	if err := json.Unmarshal(msg.Data, &bootMsg); err != nil {
		log.Error().Err(err).Msg("Failed to unmarshal boot notification")
		return
	}

	ctx := context.Background()

	device, err := s.store.GetDeviceBySerial(ctx, nil, bootMsg.SerialNumber)
	if err != nil {
		log.Warn().
			Str("serialNumber", bootMsg.SerialNumber).
			Msg("Boot notification from unknown device")
		return
	}

	bootTime := time.Now()
	if t, err := time.Parse(time.RFC3339, bootMsg.BootedAt); err == nil {
		bootTime = t
	}

	device.IsOnline = true
	device.LastBootTime = &bootTime
	device.LastContactAt = &bootTime

	if err := s.store.UpdateDevice(ctx, device); err != nil {
		log.Error().Err(err).Msg("Failed to update device")
		return
	}

	tenantID := device.TenantID
	deviceID := device.ID
	event := &models.EventLog{
		TenantID:    &tenantID,
		DeviceID:    &deviceID,
		Type:        models.EventTypeBoot,
		Level:       models.EventLevelInfo,
		Description: fmt.Sprintf("Device %s booted", device.SerialNumber),
		Details: models.Variables{
			"cause": bootMsg.Cause,
		},
	}

	if err := s.store.CreateEventLog(ctx, event); err != nil {
		log.Error().Err(err).Msg("Failed to create event log")
	}

	log.Info().
		Str("serialNumber", device.SerialNumber).
		Str("cause", bootMsg.Cause).
		Msg("Device boot processed")
}
