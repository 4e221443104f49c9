package handlers

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"

	"github.com/suPer8Hu/polylog/internal/archive"
	"github.com/suPer8Hu/polylog/internal/assistant"
	"github.com/suPer8Hu/polylog/internal/auth"
	"github.com/suPer8Hu/polylog/internal/chat"
	"github.com/suPer8Hu/polylog/internal/common"
	"github.com/suPer8Hu/polylog/internal/config"
	"github.com/suPer8Hu/polylog/internal/httpapi/middleware"
	"github.com/suPer8Hu/polylog/internal/store/rabbitmq"
	"github.com/suPer8Hu/polylog/internal/store/redisstore"
)

// Deps are the collaborators the handlers need. DB, Redis and Publisher may
// be nil; the matching endpoints then degrade.
type Deps struct {
	DB        *gorm.DB
	Cfg       config.Config
	Redis     *redisstore.Store
	Publisher *rabbitmq.Publisher
	Relay     *chat.Relay
	Sessions  *assistant.Store
	Log       *slog.Logger
}

type Handler struct {
	DB        *gorm.DB
	Cfg       config.Config
	Redis     *redisstore.Store
	Publisher *rabbitmq.Publisher
	Relay     *chat.Relay
	Sessions  *assistant.Store
	Users     *auth.UserRepo
	Auth      *auth.Authenticator
	Archive   *archive.Repo
	Log       *slog.Logger

	upgrader websocket.Upgrader
}

func NewHandler(d Deps) *Handler {
	h := &Handler{
		DB:        d.DB,
		Cfg:       d.Cfg,
		Redis:     d.Redis,
		Publisher: d.Publisher,
		Relay:     d.Relay,
		Sessions:  d.Sessions,
		Log:       d.Log,
	}
	if h.Log == nil {
		h.Log = slog.Default()
	}
	if d.DB != nil {
		h.Users = auth.NewUserRepo(d.DB)
		h.Archive = archive.NewRepo(d.DB)
	}
	h.Auth = auth.NewAuthenticator(d.Cfg.JWTSecret, h.Users)

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     middleware.CheckOrigin(d.Cfg.CORSOrigins),
	}
	return h
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}
