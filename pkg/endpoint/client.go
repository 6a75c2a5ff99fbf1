// Package endpoint manages connections to the fleet of tool-providing
// endpoints the mediator dispatches tasks to, speaking MCP as the wire
// protocol.
package endpoint

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/casys-ai/pml/pkg/config"
	"github.com/casys-ai/pml/pkg/version"
)

// Pool manages MCP SDK sessions for the endpoint fleet plus a per-endpoint
// inflight cap enforcing FIFO backpressure. A single Pool is
// shared across the process; sessions are safe for concurrent use from
// multiple executing layers.
type Pool struct {
	registry *config.EndpointRegistry

	mu            sync.RWMutex
	sessions      map[string]*mcpsdk.ClientSession
	clients       map[string]*mcpsdk.Client
	failedEndpoints map[string]string

	toolCache   map[string][]*mcpsdk.Tool
	toolCacheMu sync.RWMutex

	// reinitMu serializes session recreation per endpoint to avoid a
	// thundering herd of reconnect attempts.
	reinitMu sync.Map // endpointID → *sync.Mutex

	// inflight gates concurrent calls per endpoint to PerEndpointInflightCap;
	// Acquire blocks (FIFO via buffered channel semantics) until a slot frees.
	inflight   map[string]chan struct{}
	inflightMu sync.Mutex
	defaultCap int

	logger *slog.Logger
}

// NewPool creates a Pool bound to registry, using defaultCap as the
// per-endpoint inflight ceiling for endpoints that don't override it.
func NewPool(registry *config.EndpointRegistry, defaultCap int) *Pool {
	return &Pool{
		registry:        registry,
		sessions:        make(map[string]*mcpsdk.ClientSession),
		clients:         make(map[string]*mcpsdk.Client),
		failedEndpoints: make(map[string]string),
		toolCache:       make(map[string][]*mcpsdk.Tool),
		inflight:        make(map[string]chan struct{}),
		defaultCap:      defaultCap,
		logger:          slog.Default(),
	}
}

// Initialize connects to every endpoint in ids. Endpoints that fail to
// connect are recorded in failedEndpoints rather than aborting the whole
// fleet — a partially available fleet is still useful to the search and
// planning layers.
func (p *Pool) Initialize(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if err := p.InitializeEndpoint(ctx, id); err != nil {
			p.mu.Lock()
			p.failedEndpoints[id] = err.Error()
			p.mu.Unlock()
			p.logger.Warn("endpoint failed to initialize", "endpoint", id, "error", err)
		}
	}
	return nil
}

// InitializeEndpoint connects to a single endpoint. Returns nil if already
// connected.
func (p *Pool) InitializeEndpoint(ctx context.Context, id string) error {
	muI, _ := p.reinitMu.LoadOrStore(id, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	return p.initializeEndpointLocked(ctx, id)
}

func (p *Pool) initializeEndpointLocked(ctx context.Context, id string) error {
	p.mu.RLock()
	if _, exists := p.sessions[id]; exists {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	epCfg, err := p.registry.Get(id)
	if err != nil {
		return fmt.Errorf("endpoint %q not found in registry: %w", id, err)
	}

	transport, err := createTransport(epCfg.Transport)
	if err != nil {
		return fmt.Errorf("failed to create transport for %q: %w", id, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, InitTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		return fmt.Errorf("failed to connect to %q: %w", id, err)
	}

	p.mu.Lock()
	p.sessions[id] = session
	p.clients[id] = client
	delete(p.failedEndpoints, id)
	p.mu.Unlock()

	p.ensureInflight(id, epCfg.PerEndpointInflightCap)

	p.logger.Info("endpoint connected", "endpoint", id)
	return nil
}

func (p *Pool) ensureInflight(id string, cap int) {
	if cap <= 0 {
		cap = p.defaultCap
	}
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()
	if _, ok := p.inflight[id]; !ok {
		p.inflight[id] = make(chan struct{}, cap)
	}
}

// acquire blocks until a slot is free for endpoint id, FIFO-ordered by
// channel send order, or ctx is canceled.
func (p *Pool) acquire(ctx context.Context, id string) error {
	p.inflightMu.Lock()
	slots, ok := p.inflight[id]
	p.inflightMu.Unlock()
	if !ok {
		p.ensureInflight(id, 0)
		p.inflightMu.Lock()
		slots = p.inflight[id]
		p.inflightMu.Unlock()
	}
	select {
	case slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) release(id string) {
	p.inflightMu.Lock()
	slots := p.inflight[id]
	p.inflightMu.Unlock()
	if slots != nil {
		<-slots
	}
}

// ListTools returns the cached tool list for an endpoint, probing it on a
// cache miss.
func (p *Pool) ListTools(ctx context.Context, id string) ([]*mcpsdk.Tool, error) {
	p.toolCacheMu.RLock()
	if cached, ok := p.toolCache[id]; ok {
		p.toolCacheMu.RUnlock()
		return cached, nil
	}
	p.toolCacheMu.RUnlock()

	p.mu.RLock()
	session, exists := p.sessions[id]
	p.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("no session for endpoint %q", id)
	}

	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()

	result, err := session.ListTools(opCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools from %q: %w", id, err)
	}

	tools := result.Tools
	if tools == nil {
		tools = []*mcpsdk.Tool{}
	}
	p.toolCacheMu.Lock()
	p.toolCache[id] = tools
	p.toolCacheMu.Unlock()

	return tools, nil
}

// ListAllTools returns tools from all connected endpoints, tolerating
// per-endpoint failures; it only errors when every endpoint fails.
func (p *Pool) ListAllTools(ctx context.Context) (map[string][]*mcpsdk.Tool, error) {
	p.mu.RLock()
	ids := make([]string, 0, len(p.sessions))
	for id := range p.sessions {
		ids = append(ids, id)
	}
	p.mu.RUnlock()

	result := make(map[string][]*mcpsdk.Tool)
	var lastErr error
	for _, id := range ids {
		tools, err := p.ListTools(ctx, id)
		if err != nil {
			lastErr = err
			p.logger.Warn("failed to list tools from endpoint", "endpoint", id, "error", err)
			continue
		}
		result[id] = tools
	}

	if len(result) == 0 && lastErr != nil {
		return nil, fmt.Errorf("all endpoints failed to list tools: %w", lastErr)
	}
	return result, nil
}

// CallTool invokes a tool on the named endpoint. It blocks on the
// endpoint's inflight slot (FIFO backpressure) before dispatching, and
// retries once with session recreation on recoverable transport errors.
func (p *Pool) CallTool(ctx context.Context, endpointID, toolName string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	if err := p.acquire(ctx, endpointID); err != nil {
		return nil, fmt.Errorf("acquiring inflight slot for %q: %w", endpointID, err)
	}
	defer p.release(endpointID)

	params := &mcpsdk.CallToolParams{Name: toolName, Arguments: args}

	result, err := p.callToolOnce(ctx, endpointID, params)
	if err == nil {
		return result, nil
	}

	action := ClassifyError(err)
	if action == NoRetry {
		return nil, err
	}

	p.logger.Info("tool call failed, retrying", "endpoint", endpointID, "tool", toolName, "action", action, "error", err)

	backoff := RetryBackoffMin + time.Duration(rand.Int64N(int64(RetryBackoffMax-RetryBackoffMin)))
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if action == RetryNewSession {
		if err := p.recreateSession(ctx, endpointID); err != nil {
			return nil, fmt.Errorf("session recreation failed for %q: %w", endpointID, err)
		}
	}

	result, err = p.callToolOnce(ctx, endpointID, params)
	if err != nil {
		return nil, fmt.Errorf("retry failed for %q.%s: %w", endpointID, toolName, err)
	}
	return result, nil
}

func (p *Pool) callToolOnce(ctx context.Context, endpointID string, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error) {
	p.mu.RLock()
	session, exists := p.sessions[endpointID]
	p.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("no session for endpoint %q", endpointID)
	}

	opCtx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()

	return session.CallTool(opCtx, params)
}

// recreateSession tears down and recreates the session for an endpoint.
//
// Racing callers may both see the broken session and both recreate it; the
// cost is one extra reconnect, accepted for simplicity over a generation
// counter.
func (p *Pool) recreateSession(ctx context.Context, id string) error {
	muI, _ := p.reinitMu.LoadOrStore(id, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	p.mu.Lock()
	if session, exists := p.sessions[id]; exists {
		_ = session.Close()
		delete(p.sessions, id)
		delete(p.clients, id)
	}
	p.mu.Unlock()

	p.InvalidateToolCache(id)

	reinitCtx, cancel := context.WithTimeout(ctx, ReinitTimeout)
	defer cancel()

	return p.initializeEndpointLocked(reinitCtx, id)
}

// Close shuts down all sessions gracefully.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for id, session := range p.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close session %q: %w", id, err)
		}
	}

	p.sessions = make(map[string]*mcpsdk.ClientSession)
	p.clients = make(map[string]*mcpsdk.Client)
	p.failedEndpoints = make(map[string]string)

	p.toolCacheMu.Lock()
	p.toolCache = make(map[string][]*mcpsdk.Tool)
	p.toolCacheMu.Unlock()

	return firstErr
}

// InvalidateToolCache forces the next ListTools call for id to re-probe.
func (p *Pool) InvalidateToolCache(id string) {
	p.toolCacheMu.Lock()
	delete(p.toolCache, id)
	p.toolCacheMu.Unlock()
}

// HasSession reports whether id has an active session.
func (p *Pool) HasSession(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, exists := p.sessions[id]
	return exists
}

// FailedEndpoints returns a copy of the endpoints that failed to initialize.
func (p *Pool) FailedEndpoints() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	result := make(map[string]string, len(p.failedEndpoints))
	for k, v := range p.failedEndpoints {
		result[k] = v
	}
	return result
}
