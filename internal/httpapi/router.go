package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/common"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/httpapi/handlers"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/httpapi/middleware"
	"go.uber.org/zap"
)

type Options struct {
	JWTSecret string
	// UploadDir is served under /uploads when set.
	UploadDir string
}

func NewRouter(h *handlers.Handler, log *zap.Logger, opts Options) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.GET("/healthz", h.Health)
	if opts.UploadDir != "" {
		r.Static("/uploads", opts.UploadDir)
	}

	api := r.Group("/api/v1")
	api.Use(middleware.AuthRequired(opts.JWTSecret))
	api.POST("/chat", h.Chat)
	return r
}
