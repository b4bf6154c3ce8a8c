package webserver

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/stake-plus/chat-proxy/src/config"
)

func attachRoutes(r *gin.Engine, cfg config.Config, deps Deps) {
	r.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length", "X-Request-Id"},
	}))

	chatH := NewChat(deps.Orchestrator, deps.Audit, cfg.AI.Model)
	healthH := Health{
		Completion: cfg.AI.APIKey != "",
		Search:     cfg.Search.APIKey != "",
	}

	chatRoutes := []gin.HandlerFunc{chatH.Create}
	if cfg.ChatRateLimit > 0 {
		limiter := NewRateLimiter(cfg.ChatRateLimit, time.Minute)
		chatRoutes = append([]gin.HandlerFunc{RateLimitMiddleware(limiter)}, chatRoutes...)
	}

	r.POST("/chat", chatRoutes...)
	r.POST("/api/chat", chatRoutes...)
	r.GET("/healthz", healthH.Get)
}
