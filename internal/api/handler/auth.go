package handler

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	jwt "github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "anonchat-service"

var ErrInvalidToken = errors.New("invalid token")

// newAnonSessionID derives a negative session id from a random UUID. Web
// sessions are negative so they never collide with Telegram chat ids.
func newAnonSessionID() int64 {
	u := uuid.New()
	v := binary.BigEndian.Uint64(u[:8]) & (1<<52 - 1)
	if v == 0 {
		v = 1
	}
	return -int64(v)
}

// generateJWT генерує JWT з анонімним ID
func (h *Handler) generateJWT(anonID int64) (string, error) {
	now := h.Now()
	claims := jwt.MapClaims{
		"anon_id": strconv.FormatInt(anonID, 10),
		"iat":     now.Unix(),
		"exp":     now.Add(h.TokenTTL).Unix(),
		"iss":     tokenIssuer,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.JWTSecret)
}

// validateAndGetAnonID checks the signature and expiry and returns the web
// session id carried by the token.
func (h *Handler) validateAndGetAnonID(tokenString string) (int64, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return h.JWTSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(h.Now),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	raw, ok := claims["anon_id"].(string)
	if !ok {
		return 0, fmt.Errorf("%w: anon_id claim missing", ErrInvalidToken)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id >= 0 {
		return 0, fmt.Errorf("%w: bad anon_id %q", ErrInvalidToken, raw)
	}
	return id, nil
}

// GetAnonID створює анонімну web-сесію та повертає JWT
func (h *Handler) GetAnonID(c *gin.Context) {
	if len(h.JWTSecret) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "web sessions are disabled"})
		return
	}
	anonID := newAnonSessionID()
	token, err := h.generateJWT(anonID)
	if err != nil {
		log.Error().Str("module", "api").Err(err).Msg("failed to sign token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "anon_id": strconv.FormatInt(anonID, 10)})
}
