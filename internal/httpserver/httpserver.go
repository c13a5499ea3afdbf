package httpserver

import (
	"net/http"
	"time"

	"github.com/dhegstad/AdsX-sub003/internal/alert"
	"github.com/dhegstad/AdsX-sub003/internal/config"
	"github.com/dhegstad/AdsX-sub003/internal/ingest"
	"github.com/dhegstad/AdsX-sub003/internal/obs"
	"github.com/dhegstad/AdsX-sub003/internal/openapi"
	"github.com/dhegstad/AdsX-sub003/internal/query"
	"github.com/dhegstad/AdsX-sub003/internal/queue"
	"github.com/gin-gonic/gin"
	swgui "github.com/swaggest/swgui/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps are the collaborators the API routes need. Nil members disable the
// routes that depend on them.
type Deps struct {
	Publisher    queue.Publisher
	DB           *gorm.DB
	Digests      alert.DigestStore
	DigestWorker *alert.DigestWorker
	Matcher      alert.Matcher
	Stats        *obs.Stats
	Logger       *zap.Logger
}

func New(cfg config.Config, deps Deps) *http.Server {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()
	router.Use(recoveryMiddleware(log))
	router.Use(observabilityMiddleware(deps.Stats))
	router.Use(requestLogMiddleware(log.Named("http")))
	router.Use(corsMiddleware())
	router.Use(maintenanceMiddleware(cfg.MaintenanceMode))

	router.GET("/openapi.json", func(c *gin.Context) { c.JSON(http.StatusOK, openapi.Spec()) })
	router.GET("/docs/*any", gin.WrapH(swgui.New("AdsX alerts API", "/openapi.json", "/docs")))
	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	if deps.Stats != nil {
		router.GET("/metrics", gin.WrapH(deps.Stats.Handler()))
	}

	api := router.Group("/api")
	api.GET("/status", query.StatusHandler(deps.DB, deps.Publisher, deps.Stats, cfg.MaintenanceMode))

	orgAPI := api.Group("/:orgId")
	if deps.Publisher != nil {
		topic := cfg.NSQChangeTopic
		if topic == "" {
			topic = "ad-changes"
		}
		orgAPI.POST("/changes", ingest.ChangeHandler(deps.Publisher, topic))
	}
	if deps.DB != nil {
		orgAPI.GET("/rules", query.ListRulesHandler(deps.DB))
		orgAPI.POST("/rules", query.CreateRuleHandler(deps.DB))
		orgAPI.GET("/rules/:ruleId", query.GetRuleHandler(deps.DB))
		orgAPI.PUT("/rules/:ruleId", query.UpdateRuleHandler(deps.DB, deps.DigestWorker))
		orgAPI.DELETE("/rules/:ruleId", query.DeleteRuleHandler(deps.DB, deps.Digests))
		orgAPI.POST("/rules/:ruleId/test", query.TestRuleHandler(deps.DB, deps.Matcher))
		orgAPI.GET("/rules/:ruleId/digest", query.DigestStatusHandler(deps.DB, deps.Digests))
		orgAPI.POST("/rules/:ruleId/digest/flush", query.FlushDigestHandler(deps.DB, deps.DigestWorker))
		orgAPI.GET("/deliveries", query.ListDeliveriesHandler(deps.DB))
	}

	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
