package handler

import (
	"anonchat/backend/internal/chathub"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Дозволяє з'єднання з будь-якого домену; токен і так обов'язковий
	CheckOrigin: func(r *http.Request) bool { return true },
}

// bearerToken reads the token from the Authorization header, or from the
// token query parameter for browsers that cannot set headers on WebSocket.
func bearerToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return c.Query("token")
}

// ServeWebSocket оновлює HTTP-з'єднання до WebSocket
func (h *Handler) ServeWebSocket(c *gin.Context) {
	tokenString := bearerToken(c)
	if tokenString == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization token missing"})
		return
	}
	anonID, err := h.validateAndGetAnonID(tokenString)
	if err != nil {
		log.Debug().Str("module", "api").Err(err).Msg("websocket auth rejected")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token or expired"})
		return
	}
	if h.Web == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "web sessions are disabled"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the error response
		log.Warn().Str("module", "api").Err(err).Msg("websocket upgrade failed")
		return
	}
	chathub.NewWebSocketClient(anonID, conn, h.Web).Run(c.Request.Context())
}
