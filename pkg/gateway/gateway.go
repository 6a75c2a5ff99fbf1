// Package gateway exposes the mediator's eight meta-operations over
// HTTP/gin: search_tools, search_capabilities, execute_dag, execute_code,
// continue, abort, replan, and approval_response, plus a WebSocket route
// for live trace/state events.
package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/casys-ai/pml/pkg/capability"
	"github.com/casys-ai/pml/pkg/eventbus"
	"github.com/casys-ai/pml/pkg/executor"
	"github.com/casys-ai/pml/pkg/models"
	"github.com/casys-ai/pml/pkg/planner"
	"github.com/casys-ai/pml/pkg/pmlerrors"
	"github.com/casys-ai/pml/pkg/search"
	"github.com/casys-ai/pml/pkg/speculative"
)

// searchK/minScore mirror the defaults pkg/planner uses internally, so a
// direct search_tools/search_capabilities call ranks consistently with
// what the planner itself would have retrieved.
const (
	defaultSearchK    = 8
	defaultMinScore   = 0.3
)

// Gateway wires the mediator's core services to gin routes.
type Gateway struct {
	search *search.Engine
	caps   *capability.Store
	plan   *planner.Planner
	exec   *executor.Executor
	bus    *eventbus.Bus
	spec   *speculative.Executor
	router *gin.Engine
}

// New builds a Gateway and registers all routes on a fresh gin.Engine.
// spec may be nil, in which case execute_code always falls through to a
// live sandbox run.
func New(searchEngine *search.Engine, caps *capability.Store, plan *planner.Planner, exec *executor.Executor, bus *eventbus.Bus, spec *speculative.Executor) *Gateway {
	g := &Gateway{search: searchEngine, caps: caps, plan: plan, exec: exec, bus: bus, spec: spec, router: gin.Default()}
	g.setupRoutes()
	return g
}

// Router returns the underlying gin.Engine, e.g. for http.Server wiring.
func (g *Gateway) Router() *gin.Engine {
	return g.router
}

func (g *Gateway) setupRoutes() {
	v1 := g.router.Group("/api/v1")

	v1.POST("/search/tools", g.searchToolsHandler)
	v1.POST("/search/capabilities", g.searchCapabilitiesHandler)
	v1.POST("/dags", g.executeDAGHandler)
	v1.POST("/capabilities/:fqdn/execute", g.executeCodeHandler)
	v1.POST("/dags/:id/continue", g.continueHandler)
	v1.POST("/dags/:id/abort", g.abortHandler)
	v1.POST("/dags/:id/pause", g.pauseHandler)
	v1.POST("/dags/:id/replan", g.replanHandler)
	v1.POST("/dags/:id/tasks/:task_id/approval", g.approvalResponseHandler)

	v1.GET("/ws", g.websocketHandler)
}

type searchRequest struct {
	Intent   string  `json:"intent" binding:"required"`
	K        int     `json:"k"`
	MinScore float64 `json:"min_score"`
}

func (g *Gateway) searchToolsHandler(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, pmlerrors.New(pmlerrors.KindInvalidIntent, "%v", err))
		return
	}
	k, minScore := req.withDefaults()

	candidates, err := g.search.SearchTools(c.Request.Context(), req.Intent, k, minScore)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"candidates": candidates})
}

func (g *Gateway) searchCapabilitiesHandler(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, pmlerrors.New(pmlerrors.KindInvalidIntent, "%v", err))
		return
	}
	k, minScore := req.withDefaults()

	candidates, err := g.search.SearchCapabilities(c.Request.Context(), req.Intent, k, minScore)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"candidates": candidates})
}

func (r searchRequest) withDefaults() (int, float64) {
	k := r.K
	if k <= 0 {
		k = defaultSearchK
	}
	minScore := r.MinScore
	if minScore <= 0 {
		minScore = defaultMinScore
	}
	return k, minScore
}

type executeDAGRequest struct {
	Intent string     `json:"intent"`
	DAG    *models.DAG `json:"dag"`
}

// executeDAGHandler builds (or accepts) a DAG and runs the Controlled
// Executor on it synchronously until the DAG reaches a terminal state; the
// request stays open while Run waits at a gate or a pause.
func (g *Gateway) executeDAGHandler(c *gin.Context) {
	var req executeDAGRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, pmlerrors.New(pmlerrors.KindInvalidIntent, "%v", err))
		return
	}

	var d *models.DAG
	var err error
	switch {
	case req.DAG != nil:
		if req.DAG.ID == "" {
			req.DAG.ID = uuid.NewString()
		}
		d, err = g.plan.PlanFromSpec(c.Request.Context(), req.DAG)
	case req.Intent != "":
		d, err = g.plan.PlanFromIntent(c.Request.Context(), req.Intent)
	default:
		err = pmlerrors.New(pmlerrors.KindInvalidIntent, "request must set either intent or dag")
	}
	if err != nil {
		respondError(c, err)
		return
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.CreatedAt = time.Now()

	if err := g.exec.Run(c.Request.Context(), d); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, d)
}

// executeCodeHandler runs a single previously-crystallized capability by
// FQDN against caller-supplied arguments, outside of any DAG.
func (g *Gateway) executeCodeHandler(c *gin.Context) {
	fqdn := c.Param("fqdn")
	var args map[string]any
	if err := c.ShouldBindJSON(&args); err != nil && c.Request.ContentLength > 0 {
		respondError(c, pmlerrors.New(pmlerrors.KindInvalidIntent, "%v", err))
		return
	}

	cap, err := g.caps.Lookup(c.Request.Context(), fqdn)
	if err != nil {
		respondError(c, err)
		return
	}

	if g.spec != nil {
		if value, execErr, ok := g.spec.TryGet(cap.FQDN, args); ok {
			if execErr != nil {
				respondError(c, execErr)
				return
			}
			c.JSON(http.StatusOK, gin.H{"fqdn": cap.FQDN, "output": value, "speculative": true})
			return
		}
	}

	d := singleCapabilityDAG(cap.FQDN, args)
	if err := g.exec.Run(c.Request.Context(), d); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func singleCapabilityDAG(fqdn string, args map[string]any) *models.DAG {
	return &models.DAG{
		ID: uuid.NewString(),
		Tasks: []models.Task{
			{ID: 0, ToolID: fqdn, Args: args, Status: models.TaskPending},
		},
		CreatedAt: time.Now(),
	}
}

func (g *Gateway) continueHandler(c *gin.Context) {
	if err := g.exec.Continue(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (g *Gateway) abortHandler(c *gin.Context) {
	if err := g.exec.Abort(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (g *Gateway) pauseHandler(c *gin.Context) {
	if err := g.exec.Pause(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (g *Gateway) replanHandler(c *gin.Context) {
	var tasks []models.Task
	if err := c.ShouldBindJSON(&tasks); err != nil {
		respondError(c, pmlerrors.New(pmlerrors.KindInvalidDagSpec, "%v", err))
		return
	}
	if err := g.exec.Replan(c.Request.Context(), c.Param("id"), tasks); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type approvalRequest struct {
	Approved bool `json:"approved"`
}

func (g *Gateway) approvalResponseHandler(c *gin.Context) {
	var req approvalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, pmlerrors.New(pmlerrors.KindInvalidIntent, "%v", err))
		return
	}
	taskID, err := strconv.Atoi(c.Param("task_id"))
	if err != nil {
		respondError(c, pmlerrors.New(pmlerrors.KindInvalidIntent, "invalid task_id: %v", err))
		return
	}
	if err := g.exec.ApprovalResponse(c.Param("id"), taskID, req.Approved); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// respondError maps a pmlerrors.Error to an HTTP status: malformed-input
// kinds are 400, transient/backpressure kinds are 503, everything else
// is 500.
func respondError(c *gin.Context, err error) {
	kind := pmlerrors.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case pmlerrors.KindInvalidIntent, pmlerrors.KindInvalidDagSpec, pmlerrors.KindCyclicDag,
		pmlerrors.KindReplanConflict, pmlerrors.KindResolutionError:
		status = http.StatusBadRequest
	case pmlerrors.KindEmbeddingUnavailable, pmlerrors.KindToolEndpointUnavailable, pmlerrors.KindBackpressureBusy:
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"kind": kind, "error": err.Error(), "retryable": pmlerrors.IsRetryable(err)})
}
