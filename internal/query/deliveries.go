package query

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dhegstad/AdsX-sub003/internal/store"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ListDeliveriesHandler returns recent outbox rows, newest first. Filters:
// ruleId, status (pending|sent|failed) and limit (max 500).
func ListDeliveriesHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db == nil {
			respondErr(c, http.StatusNotImplemented, "database not configured")
			return
		}
		orgID, ok := orgParam(c)
		if !ok {
			return
		}

		var f store.DeliveryFilter
		if raw := strings.TrimSpace(c.Query("ruleId")); raw != "" {
			id, err := strconv.Atoi(raw)
			if err != nil || id <= 0 {
				respondErr(c, http.StatusBadRequest, "invalid ruleId")
				return
			}
			f.RuleID = id
		}
		switch status := strings.ToLower(strings.TrimSpace(c.Query("status"))); status {
		case "", store.DeliveryPending, store.DeliverySent, store.DeliveryFailed:
			f.Status = status
		default:
			respondErr(c, http.StatusBadRequest, "invalid status (expected pending|sent|failed)")
			return
		}
		if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > 500 {
				respondErr(c, http.StatusBadRequest, "invalid limit (1-500)")
				return
			}
			f.Limit = n
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		items, err := store.ListDeliveries(ctx, db, orgID, f)
		if err != nil {
			respondErr(c, http.StatusServiceUnavailable, err.Error())
			return
		}
		respondOK(c, gin.H{"items": items})
	}
}
