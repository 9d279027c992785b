// Package health reports process liveness and exposes metrics.
package health

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/mood-coach/backend/internal/metrics"
	chatService "github.com/zhouzirui/mood-coach/backend/internal/service/chat"
	"github.com/zhouzirui/mood-coach/backend/pkg/utils"
)

// Handler 健康检查处理器
type Handler struct {
	store       chatService.Store
	metrics     *metrics.Metrics
	environment string
	started     time.Time
	now         func() time.Time
}

// New 创建健康检查处理器
func New(store chatService.Store, m *metrics.Metrics, environment string) *Handler {
	return &Handler{
		store:       store,
		metrics:     m,
		environment: environment,
		started:     time.Now(),
		now:         time.Now,
	}
}

// RegisterRoutes 注册 /health；/metrics 由 MetricsHandler 在根路由挂载
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.handleHealth)
}

// MetricsHandler serves the prometheus registry.
func (h *Handler) MetricsHandler() http.Handler {
	return h.metrics.Handler()
}

// Memory 以字节为单位的内存占用
type Memory struct {
	RSS       uint64 `json:"rss"`
	HeapTotal uint64 `json:"heapTotal"`
	HeapUsed  uint64 `json:"heapUsed"`
}

// Status is the health payload.
type Status struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	Uptime        float64   `json:"uptime"`
	Memory        Memory    `json:"memory"`
	Conversations int       `json:"conversations"`
	Environment   string    `json:"environment"`
	PID           int       `json:"pid"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	now := h.now()
	utils.RespondJSON(w, http.StatusOK, Status{
		Status:    "ok",
		Timestamp: now.UTC(),
		Uptime:    now.Sub(h.started).Seconds(),
		Memory: Memory{
			// Sys is the closest portable stand-in for resident set size.
			RSS:       stats.Sys,
			HeapTotal: stats.HeapSys,
			HeapUsed:  stats.HeapAlloc,
		},
		Conversations: h.store.Len(),
		Environment:   h.environment,
		PID:           os.Getpid(),
	})
}
