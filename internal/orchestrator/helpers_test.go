package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cpe-server/cpe-server-pro/internal/acs"
	"github.com/cpe-server/cpe-server-pro/internal/alerting"
	"github.com/cpe-server/cpe-server-pro/internal/models"
	"github.com/cpe-server/cpe-server-pro/internal/storage"
)

// fakeGateway is a scriptable acs.Gateway that records calls
type fakeGateway struct {
	mu sync.Mutex

	provisionErr error
	rebootErr    error
	resetErr     error
	upgradeErr   error
	writeErr     error
	identifyErr  error

	identity *acs.Identity

	// provisionGate, when set, blocks Provision until the channel closes
	provisionGate chan struct{}

	provisionCalls int
	upgradeCalls   int
	identifyCalls  int

	lastProvisionParams models.Variables
	writtenParams       map[string]string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		writtenParams: make(map[string]string),
	}
}

func (g *fakeGateway) result(device *models.Device, op string) *acs.OperationResult {
	return &acs.OperationResult{
		SerialNumber: device.SerialNumber,
		Operation:    op,
		CompletedAt:  time.Now(),
	}
}

func (g *fakeGateway) Identify(ctx context.Context, device *models.Device) (*acs.Identity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.identifyCalls++
	if g.identifyErr != nil {
		return nil, g.identifyErr
	}
	if g.identity != nil {
		return g.identity, nil
	}
	return &acs.Identity{
		SerialNumber:    device.SerialNumber,
		SoftwareVersion: device.SoftwareVersion,
	}, nil
}

func (g *fakeGateway) Provision(ctx context.Context, device *models.Device, params models.Variables) (*acs.OperationResult, error) {
	g.mu.Lock()
	g.provisionCalls++
	gate := g.provisionGate
	err := g.provisionErr
	g.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.lastProvisionParams = params
	g.mu.Unlock()
	return g.result(device, "provision"), nil
}

func (g *fakeGateway) provisioned() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.provisionCalls
}

func (g *fakeGateway) Reboot(ctx context.Context, device *models.Device) (*acs.OperationResult, error) {
	if g.rebootErr != nil {
		return nil, g.rebootErr
	}
	return g.result(device, "reboot"), nil
}

func (g *fakeGateway) FactoryReset(ctx context.Context, device *models.Device) (*acs.OperationResult, error) {
	if g.resetErr != nil {
		return nil, g.resetErr
	}
	return g.result(device, "factory-reset"), nil
}

func (g *fakeGateway) UpgradeFirmware(ctx context.Context, device *models.Device, version, url string) (*acs.OperationResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.upgradeCalls++
	if g.upgradeErr != nil {
		return nil, g.upgradeErr
	}
	return g.result(device, "upgrade"), nil
}

func (g *fakeGateway) WriteParameter(ctx context.Context, device *models.Device, name, value string) (*acs.OperationResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.writeErr != nil {
		return nil, g.writeErr
	}
	g.writtenParams[name] = value
	return g.result(device, "write-parameter"), nil
}

func (g *fakeGateway) GetStatus(ctx context.Context, device *models.Device) (*acs.StatusInfo, error) {
	return &acs.StatusInfo{SerialNumber: device.SerialNumber, Online: true}, nil
}

func (g *fakeGateway) GetMetrics(ctx context.Context, device *models.Device) (*acs.Metrics, error) {
	return &acs.Metrics{SerialNumber: device.SerialNumber}, nil
}

func (g *fakeGateway) GetConfig(ctx context.Context) (*acs.ServerConfig, error) {
	return &acs.ServerConfig{}, nil
}

func (g *fakeGateway) UpdateConfig(ctx context.Context, cfg *acs.ServerConfig) error {
	return nil
}

func (g *fakeGateway) GetStats(ctx context.Context) (*acs.ServerStats, error) {
	return &acs.ServerStats{}, nil
}

func (g *fakeGateway) GetSupportedModels(ctx context.Context) ([]acs.SupportedModel, error) {
	return nil, nil
}

// fakeAlerts records raised alerts
type fakeAlerts struct {
	mu     sync.Mutex
	alerts []alerting.Alert
}

func (a *fakeAlerts) Raise(ctx context.Context, alert alerting.Alert) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
}

func (a *fakeAlerts) raised() []alerting.Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]alerting.Alert, len(a.alerts))
	copy(out, a.alerts)
	return out
}

func seedDevice(store storage.Store, tenantID uuid.UUID, serial string, provisioned bool) *models.Device {
	dev := &models.Device{
		TenantModel: models.TenantModel{
			TenantID: tenantID,
		},
		SerialNumber:  serial,
		Name:          "test " + serial,
		DeviceType:    models.DeviceTypeRouter,
		Status:        models.DeviceStatusInactive,
		IsProvisioned: provisioned,
	}
	if provisioned {
		dev.Status = models.DeviceStatusActive
	}
	if err := store.CreateDevice(context.Background(), dev); err != nil {
		panic(err)
	}
	return dev
}
