package testkit

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dhegstad/AdsX-sub003/internal/alert"
	"github.com/dhegstad/AdsX-sub003/internal/config"
	"github.com/dhegstad/AdsX-sub003/internal/consumer"
	"github.com/dhegstad/AdsX-sub003/internal/httpserver"
	"github.com/dhegstad/AdsX-sub003/internal/obs"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

// Server is the full API stack over sqlite and an in-memory digest store.
// The delivery and digest workers are not started; tests drive them with
// ProcessOnce and FlushDue.
type Server struct {
	DB           *gorm.DB
	Digests      *alert.MemoryDigestStore
	Engine       *alert.Engine
	Deliveries   *alert.Worker
	DigestWorker *alert.DigestWorker
	Publisher    *InlinePublisher
	Stats        *obs.Stats
	Config       config.Config
	HTTP         *httptest.Server
}

// SetNow pins the clock of the engine and both workers.
func (s *Server) SetNow(now func() time.Time) {
	s.Engine.Now = now
	s.Deliveries.Now = now
	s.DigestWorker.Now = now
}

func NewServer(t testing.TB) *Server {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := OpenTestDB(t)
	log := zaptest.NewLogger(t)
	stats := obs.New()
	cfg := config.Config{
		HTTPAddr:            "127.0.0.1:0",
		NSQChangeTopic:      "ad-changes",
		ChangeBatchSize:     1,
		ChangeFlushInterval: 10 * time.Millisecond,
	}

	digests := alert.NewMemoryDigestStore()
	engine := alert.NewEngine(db, digests, log, stats)
	handler := consumer.NewChangeHandler(cfg, db, engine, log, stats)
	t.Cleanup(handler.Close)
	publisher := &InlinePublisher{Handler: handler}

	deliveries := alert.NewWorker(db, cfg, log, stats)
	digestWorker := alert.NewDigestWorker(db, digests, log, stats)

	srv := httpserver.New(cfg, httpserver.Deps{
		Publisher:    publisher,
		DB:           db,
		Digests:      digests,
		DigestWorker: digestWorker,
		Matcher:      engine.Matcher,
		Stats:        stats,
		Logger:       log,
	})
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)

	return &Server{
		DB:           db,
		Digests:      digests,
		Engine:       engine,
		Deliveries:   deliveries,
		DigestWorker: digestWorker,
		Publisher:    publisher,
		Stats:        stats,
		Config:       cfg,
		HTTP:         ts,
	}
}
