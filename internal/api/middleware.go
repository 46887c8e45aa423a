package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ibimina/saccopay/internal/models"
)

// requestLogger emits one structured line per request.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	}
}

// actorFrom builds the acting identity from the gateway-verified headers.
// The upstream gateway authenticates staff and forwards who they are; this
// service only enforces sacco scoping.
func actorFrom(c *gin.Context) models.Actor {
	actor := models.Actor{
		ID:   c.GetHeader("X-Actor-Id"),
		Role: models.Role(c.GetHeader("X-Actor-Role")),
	}
	if actor.ID == "" {
		actor.ID = "anonymous"
	}
	if raw := c.GetHeader("X-Sacco-Id"); raw != "" {
		if saccoID, err := uuid.Parse(raw); err == nil {
			actor.SaccoID = &saccoID
		}
	}
	return actor
}
