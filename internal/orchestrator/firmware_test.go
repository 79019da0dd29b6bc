package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cpe-server/cpe-server-pro/internal/acs"
	"github.com/cpe-server/cpe-server-pro/internal/alerting"
	"github.com/cpe-server/cpe-server-pro/internal/models"
	"github.com/cpe-server/cpe-server-pro/internal/storage"
)

func newUpgraderFixture() (*Upgrader, *storage.MemoryStore, *fakeGateway, *fakeAlerts) {
	store := storage.NewMemoryStore()
	gw := newFakeGateway()
	alerts := &fakeAlerts{}
	return NewUpgrader(store, gw, alerts, 5*time.Second), store, gw, alerts
}

func TestCreateUpgradeValidation(t *testing.T) {
	u, store, _, _ := newUpgraderFixture()
	tenantID := uuid.New()
	dev := seedDevice(store, tenantID, "SN-4001", true)

	tests := []struct {
		name    string
		version string
		url     string
	}{
		{"missing version", "", "https://fw.example.com/v2.bin"},
		{"missing url", "2.0.0", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := u.CreateUpgrade(context.Background(), tenantID, dev.ID, tt.version, tt.url, "", "ops")
			if err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestCreateUpgradeFlipsDeviceStatus(t *testing.T) {
	u, store, _, _ := newUpgraderFixture()
	tenantID := uuid.New()
	dev := seedDevice(store, tenantID, "SN-4002", true)

	upgrade, err := u.CreateUpgrade(context.Background(), tenantID, dev.ID, "2.0.0", "https://fw.example.com/v2.bin", "", "ops")
	if err != nil {
		t.Fatalf("CreateUpgrade: %v", err)
	}
	if upgrade.Status != models.UpgradeStatusPending {
		t.Errorf("upgrade status = %s, want %s", upgrade.Status, models.UpgradeStatusPending)
	}

	got, _ := store.GetDevice(context.Background(), dev.ID)
	if got.Status != models.DeviceStatusUpgrading {
		t.Errorf("device status = %s, want %s", got.Status, models.DeviceStatusUpgrading)
	}
}

func TestCreateUpgradeRejectsBusyDevice(t *testing.T) {
	u, store, _, _ := newUpgraderFixture()
	tenantID := uuid.New()
	dev := seedDevice(store, tenantID, "SN-4003", true)

	if _, err := u.CreateUpgrade(context.Background(), tenantID, dev.ID, "2.0.0", "https://fw.example.com/v2.bin", "", "ops"); err != nil {
		t.Fatalf("first CreateUpgrade: %v", err)
	}

	_, err := u.CreateUpgrade(context.Background(), tenantID, dev.ID, "2.1.0", "https://fw.example.com/v21.bin", "", "ops")
	if !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("err = %v, want %v", err, ErrDeviceBusy)
	}
}

func TestRunUpgradeCompletes(t *testing.T) {
	u, store, gw, alerts := newUpgraderFixture()
	tenantID := uuid.New()
	dev := seedDevice(store, tenantID, "SN-5001", true)
	dev.SoftwareVersion = "1.0.0"
	if err := store.UpdateDevice(context.Background(), dev); err != nil {
		t.Fatalf("UpdateDevice: %v", err)
	}

	upgrade, _ := u.CreateUpgrade(context.Background(), tenantID, dev.ID, "2.0.0", "https://fw.example.com/v2.bin", "", "ops")
	if err := u.RunUpgrade(context.Background(), upgrade.ID); err != nil {
		t.Fatalf("RunUpgrade: %v", err)
	}

	got, _ := store.GetUpgrade(context.Background(), upgrade.ID)
	if got.Status != models.UpgradeStatusCompleted {
		t.Errorf("upgrade status = %s, want %s", got.Status, models.UpgradeStatusCompleted)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Error("expected startedAt and completedAt to be set")
	}

	gotDev, _ := store.GetDevice(context.Background(), dev.ID)
	if gotDev.Status != models.DeviceStatusActive {
		t.Errorf("device status = %s, want %s", gotDev.Status, models.DeviceStatusActive)
	}
	if gotDev.SoftwareVersion != "2.0.0" {
		t.Errorf("software version = %q, want 2.0.0", gotDev.SoftwareVersion)
	}

	if gw.upgradeCalls != 1 {
		t.Errorf("upgrade calls = %d, want 1", gw.upgradeCalls)
	}
	if gw.identifyCalls != 1 {
		t.Errorf("identify calls = %d, want 1 (install confirmation)", gw.identifyCalls)
	}

	raised := alerts.raised()
	if len(raised) != 1 || raised[0].Severity != alerting.SeverityLow {
		t.Fatalf("expected one low severity alert, got %+v", raised)
	}
}

func TestRunUpgradeCompletesDespiteStaleConfirmation(t *testing.T) {
	u, store, gw, _ := newUpgraderFixture()
	gw.identity = &acs.Identity{SoftwareVersion: "1.0.0"}

	tenantID := uuid.New()
	dev := seedDevice(store, tenantID, "SN-5002", true)

	upgrade, _ := u.CreateUpgrade(context.Background(), tenantID, dev.ID, "2.0.0", "https://fw.example.com/v2.bin", "", "ops")
	if err := u.RunUpgrade(context.Background(), upgrade.ID); err != nil {
		t.Fatalf("RunUpgrade: %v", err)
	}

	got, _ := store.GetUpgrade(context.Background(), upgrade.ID)
	if got.Status != models.UpgradeStatusCompleted {
		t.Errorf("stale confirmation must not fail the upgrade, status = %s", got.Status)
	}
}

func TestRunUpgradeGatewayFailure(t *testing.T) {
	u, store, gw, alerts := newUpgraderFixture()
	gw.upgradeErr = acs.ErrTimeout

	tenantID := uuid.New()
	dev := seedDevice(store, tenantID, "SN-5003", true)
	dev.SoftwareVersion = "1.0.0"
	if err := store.UpdateDevice(context.Background(), dev); err != nil {
		t.Fatalf("UpdateDevice: %v", err)
	}

	upgrade, _ := u.CreateUpgrade(context.Background(), tenantID, dev.ID, "2.0.0", "https://fw.example.com/v2.bin", "", "ops")
	if err := u.RunUpgrade(context.Background(), upgrade.ID); err != nil {
		t.Fatalf("RunUpgrade: %v", err)
	}

	got, _ := store.GetUpgrade(context.Background(), upgrade.ID)
	if got.Status != models.UpgradeStatusFailed {
		t.Errorf("upgrade status = %s, want %s", got.Status, models.UpgradeStatusFailed)
	}

	gotDev, _ := store.GetDevice(context.Background(), dev.ID)
	if gotDev.Status != models.DeviceStatusError {
		t.Errorf("device status = %s, want %s", gotDev.Status, models.DeviceStatusError)
	}
	if gotDev.SoftwareVersion != "1.0.0" {
		t.Errorf("failed upgrade must not change software version, got %q", gotDev.SoftwareVersion)
	}

	raised := alerts.raised()
	if len(raised) != 1 || raised[0].Severity != alerting.SeverityHigh {
		t.Fatalf("expected one high severity alert, got %+v", raised)
	}
}

func TestRunUpgradeIsIdempotentOnTerminalStates(t *testing.T) {
	u, store, gw, _ := newUpgraderFixture()
	tenantID := uuid.New()
	dev := seedDevice(store, tenantID, "SN-5004", true)

	upgrade, _ := u.CreateUpgrade(context.Background(), tenantID, dev.ID, "2.0.0", "https://fw.example.com/v2.bin", "", "ops")
	if err := u.RunUpgrade(context.Background(), upgrade.ID); err != nil {
		t.Fatalf("first RunUpgrade: %v", err)
	}
	if err := u.RunUpgrade(context.Background(), upgrade.ID); err != nil {
		t.Fatalf("second RunUpgrade: %v", err)
	}

	if gw.upgradeCalls != 1 {
		t.Errorf("upgrade calls = %d, want 1", gw.upgradeCalls)
	}
}

func TestCancelUpgrade(t *testing.T) {
	u, store, _, _ := newUpgraderFixture()
	tenantID := uuid.New()
	dev := seedDevice(store, tenantID, "SN-6001", true)

	upgrade, _ := u.CreateUpgrade(context.Background(), tenantID, dev.ID, "2.0.0", "https://fw.example.com/v2.bin", "", "ops")

	cancelled, err := u.CancelUpgrade(context.Background(), &tenantID, upgrade.ID)
	if err != nil {
		t.Fatalf("CancelUpgrade: %v", err)
	}
	if cancelled.Status != models.UpgradeStatusCancelled {
		t.Errorf("upgrade status = %s, want %s", cancelled.Status, models.UpgradeStatusCancelled)
	}

	got, _ := store.GetDevice(context.Background(), dev.ID)
	if got.Status != models.DeviceStatusActive {
		t.Errorf("device status = %s, want %s (provisioned device reverts to active)", got.Status, models.DeviceStatusActive)
	}
}

func TestCancelUpgradeAfterDispatchRejected(t *testing.T) {
	u, store, _, _ := newUpgraderFixture()
	tenantID := uuid.New()
	dev := seedDevice(store, tenantID, "SN-6002", true)

	upgrade, _ := u.CreateUpgrade(context.Background(), tenantID, dev.ID, "2.0.0", "https://fw.example.com/v2.bin", "", "ops")
	if err := u.RunUpgrade(context.Background(), upgrade.ID); err != nil {
		t.Fatalf("RunUpgrade: %v", err)
	}

	_, err := u.CancelUpgrade(context.Background(), &tenantID, upgrade.ID)
	if !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("err = %v, want %v", err, ErrNotCancellable)
	}
}

func TestJobAndUpgradeShareTheBusyLock(t *testing.T) {
	store := storage.NewMemoryStore()
	gw := newFakeGateway()
	alerts := &fakeAlerts{}
	p := NewProvisioner(store, gw, alerts, 5*time.Second)
	u := NewUpgrader(store, gw, alerts, 5*time.Second)

	tenantID := uuid.New()
	dev := seedDevice(store, tenantID, "SN-7001", true)

	if _, err := p.CreateJob(context.Background(), tenantID, dev.ID, CreateJobInput{}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	_, err := u.CreateUpgrade(context.Background(), tenantID, dev.ID, "2.0.0", "https://fw.example.com/v2.bin", "", "ops")
	if !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("err = %v, want %v (pending job must block upgrades)", err, ErrDeviceBusy)
	}
}
