package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lukaizhi5559/command-service-sub000/internal/executor"
	"github.com/lukaizhi5559/command-service-sub000/internal/skills"
	"github.com/lukaizhi5559/command-service-sub000/internal/store"
	"github.com/lukaizhi5559/command-service-sub000/pkg/config"
)

// HTTPGateway exposes the skill router and plan executor over HTTP. It is
// the only transport; the engine itself never listens on anything.
type HTTPGateway struct {
	router    *skills.Router
	plans     *executor.PlanExecutor
	audit     *store.AuditStore
	threshold float64
	server    *http.Server
}

func NewHTTPGateway(cfg config.GatewayConfig, router *skills.Router, plans *executor.PlanExecutor, audit *store.AuditStore) *HTTPGateway {
	g := &HTTPGateway{
		router:    router,
		plans:     plans,
		audit:     audit,
		threshold: executor.DefaultPartialSuccessThreshold,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", g.handleHealth)
	r.Post("/skill", g.handleSkill)
	r.Post("/plan", g.handlePlan)
	r.Get("/audit/validations", g.handleValidations)
	r.Get("/audit/plans", g.handlePlans)

	g.server = &http.Server{
		Addr:         cfg.Listen,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute, // plans can run long
	}
	return g
}

// WithPartialSuccessThreshold overrides the completion ratio above which a
// failed plan is reported as a partial success.
func (g *HTTPGateway) WithPartialSuccessThreshold(t float64) *HTTPGateway {
	if t > 0 && t <= 1 {
		g.threshold = t
	}
	return g
}

func (g *HTTPGateway) Start() error {
	err := g.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (g *HTTPGateway) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return g.server.Shutdown(ctx)
}

func (g *HTTPGateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.router.HealthReport())
}

func (g *HTTPGateway) handleSkill(w http.ResponseWriter, r *http.Request) {
	var req skills.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Skill == "" {
		writeError(w, http.StatusBadRequest, "skill is required")
		return
	}

	resp := g.router.Dispatch(r.Context(), req)
	status := http.StatusOK
	if !resp.OK {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

func (g *HTTPGateway) handlePlan(w http.ResponseWriter, r *http.Request) {
	var plan executor.Plan
	if err := json.NewDecoder(r.Body).Decode(&plan); err != nil {
		writeError(w, http.StatusBadRequest, "invalid plan body: "+err.Error())
		return
	}
	if len(plan.Steps) == 0 {
		writeError(w, http.StatusBadRequest, "plan has no steps")
		return
	}

	res := g.plans.ExecutePlan(r.Context(), plan)
	if g.audit != nil {
		_ = g.audit.RecordPlanResult(res)
	}
	writeJSON(w, http.StatusOK, planResponse{
		PlanResult:     res,
		PartialSuccess: res.PartialSuccess(g.threshold),
	})
}

// planResponse annotates the raw result with the partial-success verdict so
// callers need not know the threshold.
type planResponse struct {
	executor.PlanResult
	PartialSuccess bool `json:"partialSuccess"`
}

func (g *HTTPGateway) handleValidations(w http.ResponseWriter, r *http.Request) {
	if g.audit == nil {
		writeError(w, http.StatusNotFound, "audit store disabled")
		return
	}
	recs, err := g.audit.RecentValidations(queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"validations": recs})
}

func (g *HTTPGateway) handlePlans(w http.ResponseWriter, r *http.Request) {
	if g.audit == nil {
		writeError(w, http.StatusNotFound, "audit store disabled")
		return
	}
	recs, err := g.audit.RecentPlans(queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": recs})
}

func queryLimit(r *http.Request) int {
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
