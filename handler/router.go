package handler

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouterConfig collects what NewRouter mounts. Sessions may be nil to serve
// the proxy routes only.
type RouterConfig struct {
	FrontendURL string
	Logger      *zap.Logger
	Proxy       *ProxyHandler
	Sessions    *SessionHandler
}

func NewRouter(rc RouterConfig) *gin.Engine {
	logger := rc.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(Recovery(logger), RequestLogger(logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{rc.FrontendURL},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.POST("/send-message", rc.Proxy.Handle)
	r.POST("/api/chat", rc.Proxy.Handle)

	if rc.Sessions != nil {
		if rc.Sessions.Logger == nil {
			rc.Sessions.Logger = logger
		}
		g := r.Group("/session", rc.Sessions.Resolve())
		rc.Sessions.Register(g)
	}
	return r
}
