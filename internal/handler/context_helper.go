package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-attendance-api/internal/middleware"
	"github.com/noah-isme/sma-attendance-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// actorFromContext builds the workflow actor of the request. Missing claims
// yield an actor without ID, which the workflow rejects as unauthenticated.
func actorFromContext(c *gin.Context) models.Actor {
	return claimsFromContext(c).Actor(middleware.AuditContextInfo(c))
}
