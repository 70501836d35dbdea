package handler

import (
	"anonchat/backend/internal/chathub"
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// roomView is the public shape of a room; member ids stay private.
type roomView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Members   int       `json:"members"`
	Capacity  int       `json:"capacity"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz pings the session store and the profile database.
func (h *Handler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]Pinger{"redis": h.Hub.Storage}
	if h.Hub.Profiles != nil {
		checks["database"] = h.Hub.Profiles
	}
	status := gin.H{}
	ready := true
	for name, p := range checks {
		if err := p.Ping(ctx); err != nil {
			log.Warn().Str("module", "api").Str("dependency", name).Err(err).Msg("readiness check failed")
			status[name] = err.Error()
			ready = false
			continue
		}
		status[name] = "ok"
	}
	if !ready {
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.Hub.Rooms.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		return
	}
	views := make([]roomView, 0, len(rooms))
	for _, r := range rooms {
		views = append(views, roomView{ID: r.ID, Name: r.Name, Members: len(r.Members), Capacity: r.Capacity, CreatedAt: r.CreatedAt})
	}
	c.JSON(http.StatusOK, views)
}

func (h *Handler) MoodStats(c *gin.Context) {
	if h.Hub.Profiles == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database unavailable"})
		return
	}
	stats, err := h.Hub.Profiles.GetMoodStats(c.Request.Context())
	if err != nil {
		log.Error().Str("module", "api").Err(err).Msg("mood stats failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database unavailable"})
		return
	}
	c.JSON(http.StatusOK, chathub.SortMoodStats(stats))
}
