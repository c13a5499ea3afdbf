package ingest

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dhegstad/AdsX-sub003/internal/alert"
	"github.com/dhegstad/AdsX-sub003/internal/org"
	"github.com/dhegstad/AdsX-sub003/internal/queue"
	"github.com/gin-gonic/gin"
)

const maxBatch = 500

// ChangeHandler accepts one change event or an array of them for the
// organization in the path, validates them and publishes each to topic.
// Nothing is published unless every event in the body is valid.
func ChangeHandler(publisher queue.Publisher, topic string) gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, err := org.ParseID(c.Param("orgId"))
		if err != nil {
			respondErr(c, http.StatusBadRequest, err.Error())
			return
		}

		body, err := readBody(c, 5<<20)
		if err != nil {
			respondErr(c, http.StatusBadRequest, "invalid body")
			return
		}
		items, err := decodeOneOrMany[alert.ChangeEvent](body)
		if err != nil {
			respondErr(c, http.StatusBadRequest, "invalid json: "+err.Error())
			return
		}
		if len(items) > maxBatch {
			respondErr(c, http.StatusRequestEntityTooLarge, "too many events in one request")
			return
		}

		now := time.Now().UTC()
		meta := &MessageMeta{ClientIP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
		bodies := make([][]byte, 0, len(items))
		ids := make([]string, 0, len(items))
		for i := range items {
			ev := items[i]
			if ev.OrganizationID != "" && ev.OrganizationID != orgID {
				respondErr(c, http.StatusBadRequest, "organizationId does not match path")
				return
			}
			ev.OrganizationID = orgID
			alert.NormalizeEvent(&ev, now)
			if err := alert.ValidateEvent(ev); err != nil {
				respondErr(c, http.StatusBadRequest, err.Error())
				return
			}
			b, err := EncodeChange(ev, now, meta)
			if err != nil {
				respondErr(c, http.StatusBadRequest, err.Error())
				return
			}
			bodies = append(bodies, b)
			ids = append(ids, ev.ID)
		}

		if err := publish(publisher, topic, bodies); err != nil {
			respondErr(c, http.StatusServiceUnavailable, "queue unavailable")
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"code": 0, "data": gin.H{"accepted": len(ids), "ids": ids}})
	}
}

func publish(p queue.Publisher, topic string, bodies [][]byte) error {
	if bp, ok := p.(queue.BatchPublisher); ok && len(bodies) > 1 {
		return bp.MultiPublish(topic, bodies)
	}
	for _, b := range bodies {
		if err := p.Publish(topic, b); err != nil {
			return err
		}
	}
	return nil
}

func respondErr(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"code": status, "err": msg})
}

func decodeOneOrMany[T any](body []byte) ([]T, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}
	if body[0] == byte('[') {
		var items []T
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, errors.New("empty array")
		}
		return items, nil
	}
	var item T
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, err
	}
	return []T{item}, nil
}

func readBody(c *gin.Context, limit int64) ([]byte, error) {
	defer c.Request.Body.Close()

	raw := io.LimitReader(c.Request.Body, limit)
	enc := strings.ToLower(strings.TrimSpace(c.GetHeader("Content-Encoding")))
	if strings.Contains(enc, "gzip") {
		zr, err := gzip.NewReader(raw)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(io.LimitReader(zr, limit))
	}
	return io.ReadAll(raw)
}
