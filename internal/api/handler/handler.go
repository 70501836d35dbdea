package handler

import (
	"anonchat/backend/internal/chathub"
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger is any dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler містить посилання на ChatHub і все, що потрібно HTTP-шару
type Handler struct {
	Hub       *chathub.ManagerService
	Web       *chathub.WebHub
	JWTSecret []byte
	TokenTTL  time.Duration
	Now       func() time.Time
}

func NewHandler(hub *chathub.ManagerService, web *chathub.WebHub, jwtSecret string, tokenTTL time.Duration) *Handler {
	return &Handler{
		Hub:       hub,
		Web:       web,
		JWTSecret: []byte(jwtSecret),
		TokenTTL:  tokenTTL,
		Now:       time.Now,
	}
}

// Register mounts every route on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/anonid", h.GetAnonID)
	r.GET("/ws", h.ServeWebSocket)

	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/rooms", h.ListRooms)
	r.GET("/stats/moods", h.MoodStats)
}
