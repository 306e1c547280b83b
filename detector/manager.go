package detector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nasa-jpl/detctl/capture"
	"github.com/nasa-jpl/detctl/sdk"
)

// Manager is the registry of detector services.  It is constructed once and
// passed to whatever serves requests.
type Manager struct {
	driver sdk.Driver
	cfg    Config

	mu       sync.RWMutex
	services map[uuid.UUID]*Service
	order    []uuid.UUID
}

// NewManager creates an empty registry that finds detectors with driver
func NewManager(driver sdk.Driver, cfg Config) *Manager {
	return &Manager{driver: driver, cfg: cfg, services: make(map[uuid.UUID]*Service)}
}

func (m *Manager) known(serial string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.services {
		if s.Info.Serial == serial {
			return true
		}
	}
	return false
}

// Connect scans for detectors and brings up a service for each one not
// already registered.  A detector that fails to open is still registered
// and left Disconnected for its heartbeat to retry.  The ids of the new
// services are returned along with any open errors.
func (m *Manager) Connect(ctx context.Context) ([]uuid.UUID, error) {
	infos, err := m.driver.Scan()
	if err != nil {
		return nil, err
	}
	var (
		added []uuid.UUID
		errs  []error
	)
	for _, info := range infos {
		if m.known(info.Serial) {
			continue
		}
		dev, err := m.driver.Open(info)
		if err != nil {
			errs = append(errs, fmt.Errorf("binding detector %s: %w", info.Serial, err))
			continue
		}
		svc := NewService(uuid.New(), info, dev, m.cfg)
		m.mu.Lock()
		m.services[svc.ID] = svc
		m.order = append(m.order, svc.ID)
		m.mu.Unlock()
		added = append(added, svc.ID)

		if err := svc.Connect(ctx); err != nil {
			errs = append(errs, err)
		}
		svc.StartHeartbeat()
	}
	return added, errors.Join(errs...)
}

// Get returns the service for id
func (m *Manager) Get(id uuid.UUID) (*Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.services[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDetectorNotFound, id)
	}
	return s, nil
}

// RunCapture starts a capture on detector id
func (m *Manager) RunCapture(id uuid.UUID, mode capture.Mode) (capture.Report, error) {
	s, err := m.Get(id)
	if err != nil {
		return capture.Report{}, err
	}
	return s.RunCapture(mode)
}

// CancelCapture cancels the capture running on detector id
func (m *Manager) CancelCapture(id uuid.UUID) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.CancelCapture()
}

// List summarizes every detector in registration order
func (m *Manager) List() []Summary {
	m.mu.RLock()
	svcs := make([]*Service, 0, len(m.order))
	for _, id := range m.order {
		svcs = append(svcs, m.services[id])
	}
	m.mu.RUnlock()

	out := make([]Summary, len(svcs))
	for i, s := range svcs {
		out[i] = s.Summary()
	}
	return out
}

// Close closes every service and empties the registry
func (m *Manager) Close() error {
	m.mu.Lock()
	svcs := m.services
	m.services = make(map[uuid.UUID]*Service)
	m.order = nil
	m.mu.Unlock()

	var errs []error
	for _, s := range svcs {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
