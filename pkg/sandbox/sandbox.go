// Package sandbox runs a crystallized capability's StaticDAG in a
// zero-ambient-permission child process (cmd/pmlworker) and proxies every
// tool call the child makes back through the mediator's own Endpoint
// Client Pool, enforcing wall-time, RPC fan-in, and output-size limits the
// child cannot see or bypass.
//
// Capability.Code itself is never interpreted here — it exists as an
// audit/dedup artifact (hashed for crystallization dedup, readable for
// review), not an executable. Replaying the frozen StaticDAG is what
// actually runs.
package sandbox

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/casys-ai/pml/pkg/config"
	"github.com/casys-ai/pml/pkg/endpoint"
	"github.com/casys-ai/pml/pkg/models"
	"github.com/casys-ai/pml/pkg/pii"
	"github.com/casys-ai/pml/pkg/pmlerrors"
	"github.com/casys-ai/pml/pkg/rpcbridge"
)

// Runner executes a sandboxed capability. Its signature matches both
// executor.CodeRunner and speculative.Runner, so a single *Executor value
// serves both callers without either package importing this one.
type Runner interface {
	RunCapability(ctx context.Context, cap models.Capability, args map[string]any) (any, error)
}

// Executor spawns one pmlworker child per capability invocation.
type Executor struct {
	cfg    config.SandboxConfig
	pool   *endpoint.Pool
	logger *slog.Logger
}

func New(cfg config.SandboxConfig, pool *endpoint.Pool, logger *slog.Logger) *Executor {
	return &Executor{cfg: cfg, pool: pool, logger: logger}
}

// RunCapability replays cap.StaticDAG in a fresh child process and
// returns the capability's final output.
func (e *Executor) RunCapability(ctx context.Context, cap models.Capability, args map[string]any) (any, error) {
	wallTime := e.cfg.MaxWallTime
	if wallTime <= 0 {
		wallTime = defaultMaxWallTime
	}
	ctx, cancel := context.WithTimeout(ctx, wallTime)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.cfg.WorkerBinary)
	cmd.Env = []string{} // zero ambient permissions: no inherited env, no network/file hints
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("opening sandbox stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening sandbox stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, pmlerrors.Wrap(pmlerrors.KindSandboxCrashed, err, "starting sandbox worker for %q", cap.FQDN)
	}

	writer := rpcbridge.NewWriter(stdin)
	reader := rpcbridge.NewReader(bufio.NewReaderSize(stdout, 64*1024))

	session := &bridgeSession{
		exec:     e,
		fqdn:     cap.FQDN,
		writer:   writer,
		reader:   reader,
		maxFanIn: e.maxRPCFanIn(),
	}
	if e.cfg.PIIRedaction {
		session.pii = pii.NewSession()
	}

	result, runErr := session.run(ctx, cap.StaticDAG, args)

	stdin.Close()
	waitErr := cmd.Wait()
	if runErr != nil {
		return nil, runErr
	}
	if waitErr != nil {
		if ctx.Err() != nil {
			return nil, pmlerrors.SandboxLimitExceeded("wall_time")
		}
		return nil, pmlerrors.Wrap(pmlerrors.KindSandboxCrashed, waitErr, "sandbox worker for %q exited abnormally", cap.FQDN)
	}
	return result, nil
}

func (e *Executor) maxRPCFanIn() int {
	if e.cfg.MaxRPCFanIn > 0 {
		return e.cfg.MaxRPCFanIn
	}
	return defaultMaxRPCFanIn
}

func (e *Executor) maxOutputBytes() int {
	if e.cfg.MaxOutputBytes > 0 {
		return e.cfg.MaxOutputBytes
	}
	return defaultMaxOutputBytes
}

const (
	defaultMaxWallTime    = 30 * time.Second
	defaultMaxRPCFanIn    = 32
	defaultMaxOutputBytes = 512 * 1024
)

// bridgeSession tracks per-invocation RPC fan-in against the sandbox's
// configured ceiling; sync.Mutex rather than an atomic because fan-in
// rejection has to be checked-then-incremented.
type bridgeSession struct {
	exec     *Executor
	fqdn     string
	writer   *rpcbridge.Writer
	reader   *rpcbridge.Reader

	mu       sync.Mutex
	fanIn    int
	maxFanIn int

	// pii is non-nil only when SandboxConfig.PIIRedaction is set; every
	// proxied tool result is redacted through it before crossing back to
	// the child, one Session per capability invocation.
	pii *pii.Session
}
