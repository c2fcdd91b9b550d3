package api

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// Pinger is the readiness check of the storage adapter.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	storage Pinger
	redis   *redis.Client
	mode    string
	env     string
	version string
	now     func() time.Time
}

func NewHealthHandler(storage Pinger, redis *redis.Client, mode, env, version string) *HealthHandler {
	return &HealthHandler{
		storage: storage,
		redis:   redis,
		mode:    mode,
		env:     env,
		version: version,
		now:     time.Now,
	}
}

type StatusResponse struct {
	Status    string    `json:"status"`
	Mode      string    `json:"mode"`
	Database  string    `json:"database"`
	Env       string    `json:"env"`
	Timestamp time.Time `json:"timestamp"`
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Env     string `json:"env,omitempty"`
}

type ReadinessResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Env          string            `json:"env,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

func (h *HealthHandler) database() string {
	if h.mode == "cloud" {
		return "postgres"
	}
	return "sqlite"
}

// Status is the client-facing health summary.
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:    "ok",
		Mode:      h.mode,
		Database:  h.database(),
		Env:       h.env,
		Timestamp: h.now().UTC(),
	})
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	resp := LivenessResponse{
		Status:  "ok",
		Version: h.version,
		Env:     h.env,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]string)
	status := "ok"

	storeCtx, storeCancel := context.WithTimeout(ctx, 1*time.Second)
	err := h.storage.Ping(storeCtx)
	storeCancel()
	if err != nil {
		deps[h.database()] = "down"
		status = "error"
	} else {
		deps[h.database()] = "ok"
	}

	// Redis only guards appointment scheduling, so losing it degrades
	if h.redis != nil {
		redisCtx, redisCancel := context.WithTimeout(ctx, 1*time.Second)
		err = h.redis.Ping(redisCtx).Err()
		redisCancel()
		if err != nil {
			deps["redis"] = "down"
			if status == "ok" {
				status = "degraded"
			}
		} else {
			deps["redis"] = "ok"
		}
	}

	resp := ReadinessResponse{
		Status:       status,
		Version:      h.version,
		Env:          h.env,
		Dependencies: deps,
	}

	httpStatus := http.StatusOK
	if status == "error" {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, resp)
}
