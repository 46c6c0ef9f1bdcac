package routes

import (
	"net/http"
	"strconv"
	"time"

	"financerag/internal/telemetry"
	"financerag/middleware"
	"financerag/services"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Services is everything the HTTP API calls into.
type Services struct {
	Registry  *services.RegistryService
	Ingestion *services.IngestionService
	Questions *services.QuestionService
	History   *services.HistoryService
	Settings  *services.SettingsService
	Status    *services.StatusService
}

// RouterConfig holds the HTTP-level knobs.
type RouterConfig struct {
	CORSOrigins      []string
	MaxFileSize      int64
	RequestBodyLimit int64
	RateLimitReqs    int
	RateLimitWindow  time.Duration
	TracingEnabled   bool
}

// NewRouter builds the gin engine with middleware and every route group.
// rdb and metrics may be nil.
func NewRouter(cfg RouterConfig, svc Services, authMiddleware *middleware.AuthMiddleware, rdb *redis.Client, metrics *telemetry.Metrics) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	if cfg.TracingEnabled {
		router.Use(middleware.TracingMiddleware())
		router.Use(middleware.EnrichTrace())
	}
	router.Use(middleware.MetricsMiddleware(metrics))
	if len(cfg.CORSOrigins) > 0 {
		router.Use(middleware.CORSMiddlewareWithOrigins(cfg.CORSOrigins))
	}
	router.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitReqs, cfg.RateLimitWindow))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/rag/status", handleStatus(svc.Status))

	// Uploads get the file size limit, everything else the JSON body limit.
	uploadLimit := middleware.RequestSizeLimit(cfg.MaxFileSize + 1<<20)
	bodyLimit := middleware.RequestSizeLimit(cfg.RequestBodyLimit)

	SetupCompanyRoutes(router, svc, bodyLimit)
	SetupDocumentRoutes(router, svc.Ingestion, uploadLimit, bodyLimit)
	SetupQuestionRoutes(router, svc, bodyLimit)
	SetupHistoryRoutes(router, svc.History)
	SetupSettingsRoutes(router, svc.Settings, authMiddleware, bodyLimit)

	return router
}

func handleStatus(status *services.StatusService) gin.HandlerFunc {
	return func(c *gin.Context) {
		st := status.Status(c.Request.Context())
		code := http.StatusOK
		if st.Status != "ok" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, st)
	}
}

// pagination reads page and limit query parameters.
func pagination(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}

func pageResponse(items any, total int64, page, limit int) gin.H {
	pages := (total + int64(limit) - 1) / int64(limit)
	return gin.H{
		"items": items,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
			"pages": pages,
		},
	}
}
