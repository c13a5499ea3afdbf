package query

import (
	"context"
	"time"

	"github.com/dhegstad/AdsX-sub003/internal/obs"
	"github.com/dhegstad/AdsX-sub003/internal/queue"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type SystemStatus string

const (
	SystemStatusRunning     SystemStatus = "running"
	SystemStatusMaintenance SystemStatus = "maintenance"
	SystemStatusDegraded    SystemStatus = "degraded"
)

// StatusHandler reports service health and the counters from stats. It
// always answers 200 so dashboards can render the reason.
func StatusHandler(db *gorm.DB, publisher queue.Publisher, stats *obs.Stats, maintenanceMode bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		out := gin.H{
			"status": SystemStatusRunning,
			"stats":  stats.Snapshot(),
		}
		if maintenanceMode {
			out["status"] = SystemStatusMaintenance
			out["message"] = "maintenance"
			respondOK(c, out)
			return
		}

		var problems []string
		if db == nil {
			problems = append(problems, "database not configured")
		} else {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
				problems = append(problems, "database unavailable")
			}
		}
		if publisher == nil {
			problems = append(problems, "queue not configured")
		} else if p, ok := publisher.(queue.Pinger); ok {
			if err := p.Ping(); err != nil {
				problems = append(problems, "queue unavailable")
			}
		}
		if len(problems) > 0 {
			out["status"] = SystemStatusDegraded
			out["problems"] = problems
		}
		respondOK(c, out)
	}
}
