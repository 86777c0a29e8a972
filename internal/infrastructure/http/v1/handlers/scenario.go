package handlers

import (
	"github.com/gin-gonic/gin"

	"txprop/internal/domain/scenario"
	"txprop/internal/infrastructure/http/v1/dto"
)

// ScenarioHandler runs the built-in propagation scenarios.
type ScenarioHandler struct {
	*BaseHandler
	runner *scenario.Runner
}

// NewScenarioHandler creates a new scenario handler.
func NewScenarioHandler(base *BaseHandler, runner *scenario.Runner) *ScenarioHandler {
	return &ScenarioHandler{BaseHandler: base, runner: runner}
}

// List returns scenario names.
// GET /api/v1/scenarios
func (h *ScenarioHandler) List(c *gin.Context) {
	h.OK(c, dto.ScenarioListResponse{Names: scenario.Names()})
}

// Run executes one scenario, or all of them for the name "all".
// POST /api/v1/scenarios/:name
func (h *ScenarioHandler) Run(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Param("name")

	var reports []*scenario.Report
	if name == "all" {
		all, err := h.runner.RunAll(ctx)
		if err != nil {
			h.Error(c, err)
			return
		}
		reports = all
	} else {
		report, err := h.runner.Run(ctx, name)
		if err != nil {
			h.Error(c, err)
			return
		}
		reports = []*scenario.Report{report}
	}

	resp := dto.ScenarioResponse{OK: true, Reports: reports}
	for _, r := range reports {
		resp.OK = resp.OK && r.OK
	}
	h.OK(c, resp)
}
