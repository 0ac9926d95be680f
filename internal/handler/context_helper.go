package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/freshnest/booking-api/internal/middleware"
	"github.com/freshnest/booking-api/internal/models"
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

// actorID returns the authenticated account id, or "" when the route
// is unauthenticated.
func actorID(c *gin.Context) string {
	if claims := claimsFromContext(c); claims != nil {
		return claims.AccountID
	}
	return ""
}

// subjectID returns the worker or client record id bound to the
// authenticated account.
func subjectID(c *gin.Context) string {
	if claims := claimsFromContext(c); claims != nil {
		return claims.SubjectID
	}
	return ""
}
