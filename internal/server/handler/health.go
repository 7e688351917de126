package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/storeledger/internal/domain"
	"github.com/alanyoungcy/storeledger/internal/service"
)

// StatusSource reports ledger identity and progress.
type StatusSource interface {
	Deployment() domain.Deployment
	Status() service.Status
}

// SnapshotTrigger takes a snapshot on demand.
type SnapshotTrigger interface {
	Snapshot(ctx context.Context, force bool) (string, error)
}

// HealthHandler serves health, status, deployment and the operator's
// snapshot trigger.
type HealthHandler struct {
	source    StatusSource
	snapshots SnapshotTrigger
	checks    map[string]func(context.Context) error
	startedAt time.Time
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler. snapshots may be nil when no
// archive is configured.
func NewHealthHandler(source StatusSource, snapshots SnapshotTrigger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		source:    source,
		snapshots: snapshots,
		startedAt: time.Now().UTC(),
		logger:    logger.With(slog.String("handler", "health")),
	}
}

// WithChecks registers the dependency probes reported by Ready.
func (h *HealthHandler) WithChecks(checks map[string]func(context.Context) error) *HealthHandler {
	h.checks = checks
	return h
}

// HealthCheck reports liveness.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready probes every registered dependency and reports 503 if any fails.
// GET /api/ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status, results := http.StatusOK, make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.WarnContext(ctx, "handler: readiness check failed",
				slog.String("check", name),
				slog.String("error", err.Error()),
			)
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	writeJSON(w, status, map[string]any{"checks": results})
}

// GetStatus reports journal position and ledger counters.
// GET /api/status
func (h *HealthHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         h.source.Status(),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}

// GetDeployment returns the operator, registry and factory addresses.
// GET /api/deployment
func (h *HealthHandler) GetDeployment(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.source.Deployment())
}

// TriggerSnapshot archives a snapshot now. Operator only.
// POST /api/snapshots
func (h *HealthHandler) TriggerSnapshot(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	if caller != h.source.Deployment().Operator {
		writeServiceError(w, r, h.logger, domain.ErrUnauthorized)
		return
	}
	if h.snapshots == nil {
		writeError(w, http.StatusNotImplemented, "snapshot archive not configured")
		return
	}
	path, err := h.snapshots.Snapshot(r.Context(), true)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.logger.InfoContext(r.Context(), "handler: snapshot triggered", slog.String("path", path))
	writeJSON(w, http.StatusCreated, map[string]string{"path": path})
}
