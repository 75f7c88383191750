// Package devserver serves the expense service HTTP contract over any
// service.Backend, usually the in-memory one. It exists for local runs and
// end-to-end tests of the client.
package devserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"spesync/internal/log"
	"spesync/internal/observability"
	"spesync/internal/service"
)

type Options struct {
	Logger  *log.Logger
	Metrics *observability.Metrics
	// MetricsHandler, when set, is mounted at /metrics.
	MetricsHandler http.Handler
	// LoginAttemptsPerMinute caps login requests per client IP.
	LoginAttemptsPerMinute int
	// Debug keeps gin in debug mode.
	Debug bool
}

// NewRouter wires the /api routes onto a gin engine.
func NewRouter(backend service.Backend, opts Options) *gin.Engine {
	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentDevServer)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(securityHeaders())
	r.Use(requestLogger(logger))
	r.Use(opts.Metrics.GinMiddleware())

	h := &handler{backend: backend, logger: logger}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if opts.MetricsHandler != nil {
		r.GET("/metrics", gin.WrapH(opts.MetricsHandler))
	}

	api := r.Group("/api")
	auth := api.Group("/auth")
	loginLimit := newLimiter(opts.LoginAttemptsPerMinute)
	auth.POST("/login", loginLimit.middleware("Too many login attempts, please try again later"), h.login)
	auth.GET("/user", h.currentUser)

	expenses := api.Group("/expenses")
	expenses.GET("", h.listExpenses)
	expenses.POST("", h.createExpense)
	expenses.PUT("/:id", h.updateExpense)
	expenses.DELETE("/:id", h.deleteExpense)

	users := api.Group("/users")
	users.GET("", h.listUsers)
	users.POST("", h.createUser)
	users.PUT("/:id", h.updateUser)
	users.DELETE("/:id", h.deleteUser)

	return r
}
