package handler

import (
	"net/http"
	"runtime"
	"time"

	"microhub-redistribution-api/internal/directory"
	"microhub-redistribution-api/internal/repository"
	"microhub-redistribution-api/internal/service"
	"microhub-redistribution-api/pkg/response"
)

// AdminHandler handles admin-related HTTP requests.
type AdminHandler struct {
	svc           *service.RedistributionService
	ranker        *directory.Ranker
	scheduler     *service.Scheduler
	inventoryRepo repository.InventoryRepository
	sourceType    string
	cacheType     string
	startTime     time.Time
}

// AdminConfig lists what the stats endpoint reports on. Nil parts are reported as
// not configured.
type AdminConfig struct {
	Service       *service.RedistributionService
	Ranker        *directory.Ranker
	Scheduler     *service.Scheduler
	InventoryRepo repository.InventoryRepository
	SourceType    string // csv, sqlite, postgres or mongodb
	CacheType     string // memory or redis
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(cfg AdminConfig) *AdminHandler {
	return &AdminHandler{
		svc:           cfg.Service,
		ranker:        cfg.Ranker,
		scheduler:     cfg.Scheduler,
		inventoryRepo: cfg.InventoryRepo,
		sourceType:    cfg.SourceType,
		cacheType:     cfg.CacheType,
		startTime:     time.Now(),
	}
}

// GetStats handles GET /api/v1/admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats := make(map[string]interface{})

	stats["uptime_seconds"] = int64(time.Since(h.startTime).Seconds())
	stats["uptime_human"] = time.Since(h.startTime).Round(time.Second).String()
	stats["server_time"] = time.Now().Format(time.RFC3339)
	stats["inventory_source"] = h.sourceType
	stats["cache_type"] = h.cacheType

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats["memory"] = map[string]interface{}{
		"alloc_mb":      float64(memStats.Alloc) / 1024 / 1024,
		"sys_mb":        float64(memStats.Sys) / 1024 / 1024,
		"heap_inuse_mb": float64(memStats.HeapInuse) / 1024 / 1024,
		"num_gc":        memStats.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}

	if h.svc != nil {
		runs := map[string]interface{}{"status": "ok"}
		if list, err := h.svc.Runs(ctx); err == nil {
			runs["stored"] = len(list)
		} else {
			runs["status"] = "error"
			runs["error"] = err.Error()
		}
		stats["runs"] = runs
		stats["retry_queue"] = map[string]interface{}{
			"depth":              h.svc.Queue().Len(),
			"default_escalation": h.svc.DefaultEscalation(),
		}
	}

	if h.ranker != nil {
		dir := h.ranker.Directory()
		stats["directory"] = map[string]interface{}{
			"buyers":  dir.Len(),
			"zones":   dir.Zones(),
			"version": dir.Version(),
		}
	}

	if h.scheduler != nil {
		stats["scheduler"] = h.scheduler.Status()
	} else {
		stats["scheduler"] = map[string]interface{}{"status": "not_configured"}
	}

	if h.inventoryRepo != nil {
		dbStats, err := h.inventoryRepo.GetStats(ctx)
		if err == nil {
			dbStats["status"] = "connected"
			stats["inventory_db"] = dbStats
		} else {
			stats["inventory_db"] = map[string]interface{}{
				"status": "error",
				"error":  err.Error(),
			}
		}
	} else {
		stats["inventory_db"] = map[string]interface{}{
			"status": "not_configured",
		}
	}

	stats["runtime"] = map[string]interface{}{
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"cpus":       runtime.NumCPU(),
	}

	response.OK(w, stats)
}
