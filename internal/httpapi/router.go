package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/polylog/internal/common"
	"github.com/suPer8Hu/polylog/internal/httpapi/handlers"
	"github.com/suPer8Hu/polylog/internal/httpapi/middleware"
)

func NewRouter(deps handlers.Deps) *gin.Engine {
	h := handlers.NewHandler(deps)

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(h.Log))
	r.Use(middleware.Logger(h.Log))
	r.Use(middleware.CORS(deps.Cfg.CORSOrigins))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)
	r.GET("/health", h.Health)
	r.GET("/ws-debug", h.WSDebug)

	// realtime relay; token optional
	r.GET("/ws/:conversation_id", h.ServeWS)

	// users
	r.POST("/users", h.CreateUser)
	r.GET("/users/:id", h.GetUserByID)
	r.POST("/login", h.Login)

	// conversations
	r.GET("/conversations/:id/recent", h.RecentEvents)
	r.GET("/conversations/:id/summary", h.ConversationSummary)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(deps.Cfg.JWTSecret))
	authGroup.GET("/me", h.Me)
	authGroup.GET("/conversations/:id/messages", h.ListMessages)
	authGroup.POST("/conversations/:id/reset", h.ResetConversation)
	return r
}
