package query

import (
	"context"
	"net/http"
	"time"

	"github.com/dhegstad/AdsX-sub003/internal/alert"
	"github.com/dhegstad/AdsX-sub003/internal/store"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// DigestStatusHandler reports how many entries are buffered for a rule and
// when its next digest is due.
func DigestStatusHandler(db *gorm.DB, digests alert.DigestStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		row, ok := loadRule(c, db)
		if !ok {
			return
		}
		rule, err := alert.RuleFromModel(row)
		if err != nil {
			respondErr(c, http.StatusUnprocessableEntity, err.Error())
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		out := gin.H{
			"ruleId":     rule.ID,
			"digestMode": rule.DigestMode,
			"pending":    0,
		}
		if digests != nil {
			n, err := alert.PendingDigest(ctx, digests, rule.ID)
			if err != nil {
				respondErr(c, http.StatusServiceUnavailable, err.Error())
				return
			}
			out["pending"] = n
		}
		if next, ok := alert.NextDigestAt(rule, time.Now()); ok {
			out["nextDigestAt"] = next.UTC()
		}
		run, found, err := store.GetDigestRun(ctx, db, rule.ID)
		if err != nil {
			respondErr(c, http.StatusServiceUnavailable, err.Error())
			return
		}
		if found {
			out["lastFlushedAt"] = run.LastFlushedAt
			out["lastCount"] = run.LastCount
		}
		respondOK(c, out)
	}
}

// FlushDigestHandler releases a rule's buffered digest now, regardless of
// its schedule.
func FlushDigestHandler(db *gorm.DB, worker *alert.DigestWorker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if worker == nil {
			respondErr(c, http.StatusNotImplemented, "digest worker not configured")
			return
		}
		row, ok := loadRule(c, db)
		if !ok {
			return
		}
		rule, err := alert.RuleFromModel(row)
		if err != nil {
			respondErr(c, http.StatusUnprocessableEntity, err.Error())
			return
		}
		if rule.DigestMode != alert.DigestHourly && rule.DigestMode != alert.DigestDaily {
			respondErr(c, http.StatusConflict, "rule does not use digests")
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()

		sent, err := worker.FlushRule(ctx, rule, worker.Now(), true)
		if err != nil {
			respondErr(c, http.StatusServiceUnavailable, err.Error())
			return
		}
		respondOK(c, gin.H{"flushed": sent})
	}
}
