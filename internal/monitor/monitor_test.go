package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cpe-server/cpe-server-pro/internal/acs"
	"github.com/cpe-server/cpe-server-pro/internal/alerting"
	"github.com/cpe-server/cpe-server-pro/internal/models"
	"github.com/cpe-server/cpe-server-pro/internal/storage"
)

// statusGateway answers GetStatus per serial number
type statusGateway struct {
	mu     sync.Mutex
	online map[string]bool
	errs   map[string]error
	calls  map[string]int
}

func newStatusGateway() *statusGateway {
	return &statusGateway{
		online: make(map[string]bool),
		errs:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

func (g *statusGateway) GetStatus(ctx context.Context, device *models.Device) (*acs.StatusInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[device.SerialNumber]++
	if err := g.errs[device.SerialNumber]; err != nil {
		return nil, err
	}
	return &acs.StatusInfo{
		SerialNumber: device.SerialNumber,
		Online:       g.online[device.SerialNumber],
	}, nil
}

func (g *statusGateway) statusCalls(serial string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[serial]
}

func (g *statusGateway) Identify(ctx context.Context, device *models.Device) (*acs.Identity, error) {
	return nil, acs.ErrConnection
}

func (g *statusGateway) Provision(ctx context.Context, device *models.Device, params models.Variables) (*acs.OperationResult, error) {
	return nil, acs.ErrConnection
}

func (g *statusGateway) Reboot(ctx context.Context, device *models.Device) (*acs.OperationResult, error) {
	return nil, acs.ErrConnection
}

func (g *statusGateway) FactoryReset(ctx context.Context, device *models.Device) (*acs.OperationResult, error) {
	return nil, acs.ErrConnection
}

func (g *statusGateway) UpgradeFirmware(ctx context.Context, device *models.Device, version, url string) (*acs.OperationResult, error) {
	return nil, acs.ErrConnection
}

func (g *statusGateway) WriteParameter(ctx context.Context, device *models.Device, name, value string) (*acs.OperationResult, error) {
	return nil, acs.ErrConnection
}

func (g *statusGateway) GetMetrics(ctx context.Context, device *models.Device) (*acs.Metrics, error) {
	return nil, acs.ErrConnection
}

func (g *statusGateway) GetConfig(ctx context.Context) (*acs.ServerConfig, error) {
	return nil, acs.ErrConnection
}

func (g *statusGateway) UpdateConfig(ctx context.Context, cfg *acs.ServerConfig) error {
	return acs.ErrConnection
}

func (g *statusGateway) GetStats(ctx context.Context) (*acs.ServerStats, error) {
	return nil, acs.ErrConnection
}

func (g *statusGateway) GetSupportedModels(ctx context.Context) ([]acs.SupportedModel, error) {
	return nil, acs.ErrConnection
}

type recordingAlerts struct {
	mu     sync.Mutex
	alerts []alerting.Alert
}

func (a *recordingAlerts) Raise(ctx context.Context, alert alerting.Alert) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
}

func (a *recordingAlerts) raised() []alerting.Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]alerting.Alert, len(a.alerts))
	copy(out, a.alerts)
	return out
}

func seedMonitoredDevice(t *testing.T, store storage.Store, serial string, status models.DeviceStatus, online, provisioned bool) *models.Device {
	t.Helper()
	dev := &models.Device{
		TenantModel:   models.TenantModel{TenantID: uuid.New()},
		SerialNumber:  serial,
		Name:          "mon " + serial,
		DeviceType:    models.DeviceTypeRouter,
		Status:        status,
		IsOnline:      online,
		IsProvisioned: provisioned,
	}
	if err := store.CreateDevice(context.Background(), dev); err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	return dev
}

func TestPollOneOfflineTransition(t *testing.T) {
	store := storage.NewMemoryStore()
	gw := newStatusGateway()
	alerts := &recordingAlerts{}
	m := New(store, gw, alerts, time.Minute, 100)

	dev := seedMonitoredDevice(t, store, "SN-M001", models.DeviceStatusActive, true, true)
	gw.online["SN-M001"] = false

	online, err := m.PollOne(context.Background(), dev)
	if err != nil {
		t.Fatalf("PollOne: %v", err)
	}
	if online {
		t.Error("expected offline")
	}

	got, _ := store.GetDevice(context.Background(), dev.ID)
	if got.IsOnline {
		t.Error("device should be marked offline")
	}
	if got.Status != models.DeviceStatusInactive {
		t.Errorf("status = %s, want %s", got.Status, models.DeviceStatusInactive)
	}

	raised := alerts.raised()
	if len(raised) != 1 || raised[0].Severity != alerting.SeverityMedium {
		t.Fatalf("expected one medium severity alert, got %+v", raised)
	}
}

func TestPollOneGatewayErrorMeansOffline(t *testing.T) {
	store := storage.NewMemoryStore()
	gw := newStatusGateway()
	alerts := &recordingAlerts{}
	m := New(store, gw, alerts, time.Minute, 100)

	dev := seedMonitoredDevice(t, store, "SN-M002", models.DeviceStatusActive, true, true)
	gw.errs["SN-M002"] = acs.ErrTimeout

	online, err := m.PollOne(context.Background(), dev)
	if err != nil {
		t.Fatalf("PollOne: %v", err)
	}
	if online {
		t.Error("gateway error must count as offline")
	}

	got, _ := store.GetDevice(context.Background(), dev.ID)
	if got.IsOnline || got.Status != models.DeviceStatusInactive {
		t.Errorf("device = online:%v status:%s, want offline inactive", got.IsOnline, got.Status)
	}
}

func TestPollOneOnlineTransitionRaisesNoAlert(t *testing.T) {
	store := storage.NewMemoryStore()
	gw := newStatusGateway()
	alerts := &recordingAlerts{}
	m := New(store, gw, alerts, time.Minute, 100)

	dev := seedMonitoredDevice(t, store, "SN-M003", models.DeviceStatusInactive, false, true)
	gw.online["SN-M003"] = true

	online, err := m.PollOne(context.Background(), dev)
	if err != nil {
		t.Fatalf("PollOne: %v", err)
	}
	if !online {
		t.Error("expected online")
	}

	got, _ := store.GetDevice(context.Background(), dev.ID)
	if !got.IsOnline {
		t.Error("device should be marked online")
	}
	if got.Status != models.DeviceStatusActive {
		t.Errorf("status = %s, want %s", got.Status, models.DeviceStatusActive)
	}
	if got.LastContactAt == nil {
		t.Error("lastContactAt should be set on the online transition")
	}

	if len(alerts.raised()) != 0 {
		t.Errorf("online transitions must not alert, got %+v", alerts.raised())
	}
}

func TestPollOneNeverOverridesBusyStatus(t *testing.T) {
	store := storage.NewMemoryStore()
	gw := newStatusGateway()
	alerts := &recordingAlerts{}
	m := New(store, gw, alerts, time.Minute, 100)

	tests := []struct {
		serial string
		status models.DeviceStatus
	}{
		{"SN-M010", models.DeviceStatusProvisioning},
		{"SN-M011", models.DeviceStatusUpgrading},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			dev := seedMonitoredDevice(t, store, tt.serial, tt.status, true, true)

			if _, err := m.PollOne(context.Background(), dev); err != nil {
				t.Fatalf("PollOne: %v", err)
			}

			got, _ := store.GetDevice(context.Background(), dev.ID)
			if got.Status != tt.status {
				t.Errorf("status = %s, want untouched %s", got.Status, tt.status)
			}
			if gw.statusCalls(tt.serial) != 0 {
				t.Error("busy devices should not be probed")
			}
		})
	}
}

func TestPollOneUnprovisionedDeviceGoesActive(t *testing.T) {
	store := storage.NewMemoryStore()
	gw := newStatusGateway()
	alerts := &recordingAlerts{}
	m := New(store, gw, alerts, time.Minute, 100)

	dev := seedMonitoredDevice(t, store, "SN-M004", models.DeviceStatusInactive, false, false)
	gw.online["SN-M004"] = true

	online, err := m.PollOne(context.Background(), dev)
	if err != nil {
		t.Fatalf("PollOne: %v", err)
	}
	if !online {
		t.Error("expected online")
	}

	got, _ := store.GetDevice(context.Background(), dev.ID)
	if got.Status != models.DeviceStatusActive {
		t.Errorf("status = %s, want %s", got.Status, models.DeviceStatusActive)
	}
	if !got.IsOnline {
		t.Error("device should be marked online")
	}
}

func TestPollOneReconcilesErrorDeviceWithoutStatusChange(t *testing.T) {
	store := storage.NewMemoryStore()
	gw := newStatusGateway()
	alerts := &recordingAlerts{}
	m := New(store, gw, alerts, time.Minute, 100)

	dev := seedMonitoredDevice(t, store, "SN-M013", models.DeviceStatusError, true, true)
	gw.online["SN-M013"] = false

	online, err := m.PollOne(context.Background(), dev)
	if err != nil {
		t.Fatalf("PollOne: %v", err)
	}
	if online {
		t.Error("expected offline")
	}

	got, _ := store.GetDevice(context.Background(), dev.ID)
	if got.IsOnline {
		t.Error("connectivity should be reconciled for error-status devices")
	}
	if got.Status != models.DeviceStatusError {
		t.Errorf("status = %s, error marker must stay until a new job clears it", got.Status)
	}

	raised := alerts.raised()
	if len(raised) != 1 || raised[0].Severity != alerting.SeverityMedium {
		t.Fatalf("expected one medium severity alert, got %+v", raised)
	}
}

func TestPollAllIsolatesFailures(t *testing.T) {
	store := storage.NewMemoryStore()
	gw := newStatusGateway()
	alerts := &recordingAlerts{}
	m := New(store, gw, alerts, time.Minute, 1) // page size 1 exercises paging too

	a := seedMonitoredDevice(t, store, "SN-M020", models.DeviceStatusActive, true, true)
	b := seedMonitoredDevice(t, store, "SN-M021", models.DeviceStatusActive, true, true)

	gw.errs["SN-M020"] = acs.ErrConnection
	gw.online["SN-M021"] = true

	m.PollAll(context.Background(), nil)

	gotA, _ := store.GetDevice(context.Background(), a.ID)
	if gotA.IsOnline {
		t.Error("failing device should be marked offline")
	}

	gotB, _ := store.GetDevice(context.Background(), b.ID)
	if !gotB.IsOnline {
		t.Error("one device's failure must not stop the sweep")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store := storage.NewMemoryStore()
	gw := newStatusGateway()
	m := New(store, gw, &recordingAlerts{}, 10*time.Millisecond, 100)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("err = %v, want %v", err, context.Canceled)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}
