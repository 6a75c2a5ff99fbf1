package endpoint

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/casys-ai/pml/pkg/config"
)

// Status captures the health check result for a single endpoint.
type Status struct {
	EndpointID string    `json:"endpoint_id"`
	Healthy    bool      `json:"healthy"`
	LastCheck  time.Time `json:"last_check"`
	Error      string    `json:"error,omitempty"`
	ToolCount  int       `json:"tool_count"`
}

// HealthMonitor periodically probes the endpoint fleet with ListTools and
// attempts session recovery on failure.
type HealthMonitor struct {
	pool     *Pool
	registry *config.EndpointRegistry

	checkInterval time.Duration
	pingTimeout   time.Duration

	statuses   map[string]*Status
	statusesMu sync.RWMutex

	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

// NewHealthMonitor builds a monitor over pool's endpoint fleet.
func NewHealthMonitor(pool *Pool, registry *config.EndpointRegistry) *HealthMonitor {
	return &HealthMonitor{
		pool:          pool,
		registry:      registry,
		checkInterval: HealthInterval,
		pingTimeout:   HealthPingTimeout,
		statuses:      make(map[string]*Status),
		logger:        slog.Default(),
	}
}

// Start launches the background health-check loop. A no-op if already running.
func (m *HealthMonitor) Start(ctx context.Context) {
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx)
}

// Stop gracefully shuts the monitor down. Start may be called again after.
func (m *HealthMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.done != nil {
		<-m.done
	}
	m.statusesMu.Lock()
	m.statuses = make(map[string]*Status)
	m.statusesMu.Unlock()
	m.cancel = nil
	m.done = nil
}

func (m *HealthMonitor) loop(ctx context.Context) {
	defer close(m.done)

	m.checkAll(ctx)

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkAll(ctx)
		}
	}
}

func (m *HealthMonitor) checkAll(ctx context.Context) {
	for _, id := range m.registry.IDs() {
		m.checkEndpoint(ctx, id)
	}
}

func (m *HealthMonitor) checkEndpoint(ctx context.Context, id string) {
	m.pool.InvalidateToolCache(id)

	checkCtx, cancel := context.WithTimeout(ctx, m.pingTimeout)
	defer cancel()

	tools, err := m.pool.ListTools(checkCtx, id)
	if err != nil {
		m.logger.Debug("health check failed, attempting reinitialize", "endpoint", id, "error", err)

		reconCtx, reconCancel := context.WithTimeout(ctx, m.pingTimeout)
		defer reconCancel()
		if reinitErr := m.pool.recreateSession(reconCtx, id); reinitErr != nil {
			m.setStatus(id, false, fmt.Sprintf("health check failed: %s", err.Error()), 0)
			return
		}

		retryCtx, retryCancel := context.WithTimeout(ctx, m.pingTimeout)
		defer retryCancel()
		tools, err = m.pool.ListTools(retryCtx, id)
		if err != nil {
			m.setStatus(id, false, fmt.Sprintf("health check failed after reinit: %s", err.Error()), 0)
			return
		}
	}

	m.setStatus(id, true, "", len(tools))
}

func (m *HealthMonitor) setStatus(id string, healthy bool, errMsg string, toolCount int) {
	m.statusesMu.Lock()
	defer m.statusesMu.Unlock()
	m.statuses[id] = &Status{
		EndpointID: id,
		Healthy:    healthy,
		LastCheck:  time.Now(),
		Error:      errMsg,
		ToolCount:  toolCount,
	}
}

// Statuses returns a copy of the current per-endpoint health status.
func (m *HealthMonitor) Statuses() map[string]*Status {
	m.statusesMu.RLock()
	defer m.statusesMu.RUnlock()
	result := make(map[string]*Status, len(m.statuses))
	for k, v := range m.statuses {
		cp := *v
		result[k] = &cp
	}
	return result
}

// IsHealthy reports whether every monitored endpoint is currently healthy.
// Returns false before the first check completes.
func (m *HealthMonitor) IsHealthy() bool {
	m.statusesMu.RLock()
	defer m.statusesMu.RUnlock()
	if len(m.statuses) == 0 {
		return false
	}
	for _, s := range m.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}
