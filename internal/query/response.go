package query

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/dhegstad/AdsX-sub003/internal/alert"
	"github.com/dhegstad/AdsX-sub003/internal/org"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgconn"
)

// API response envelope.
//
// Success:
//
//	{"code":0,"data":...}
//
// Error:
//
//	{"code":<http status>,"err":"..."}
func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code": 0,
		"data": data,
	})
}

func respondErr(c *gin.Context, status int, errMsg string) {
	errMsg = strings.TrimSpace(errMsg)
	if errMsg == "" {
		errMsg = http.StatusText(status)
	}
	c.JSON(status, gin.H{
		"code": status,
		"err":  errMsg,
	})
}

// respondValidation reports every problem of a ValidationError.
func respondValidation(c *gin.Context, err error) {
	var ve *alert.ValidationError
	if errors.As(err, &ve) {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":     http.StatusBadRequest,
			"err":      "validation failed",
			"problems": ve.Problems,
		})
		return
	}
	respondErr(c, http.StatusBadRequest, err.Error())
}

func orgParam(c *gin.Context) (string, bool) {
	orgID, err := org.ParseID(c.Param("orgId"))
	if err != nil {
		respondErr(c, http.StatusBadRequest, err.Error())
		return "", false
	}
	return orgID, true
}

func ruleIDParam(c *gin.Context) (int, bool) {
	id64, err := strconv.ParseInt(strings.TrimSpace(c.Param("ruleId")), 10, 32)
	if err != nil || id64 <= 0 {
		respondErr(c, http.StatusBadRequest, "invalid ruleId")
		return 0, false
	}
	return int(id64), true
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "sqlstate 23505") ||
		strings.Contains(s, "unique constraint") ||
		strings.Contains(s, "duplicate key")
}
