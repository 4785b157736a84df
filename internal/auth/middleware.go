package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/onboarding-service/internal/model"
	"go.uber.org/zap"
)

const identityKey = "auth.identity"

// Middleware resolves the session cookie (or a Bearer token) into an identity
// and stores it on the gin context. Requests without a valid token stop here.
func Middleware(m *SessionManager, cookieName string, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		token, _ := c.Cookie(cookieName)
		if token == "" {
			if h := c.GetHeader("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
				token = strings.TrimSpace(h[7:])
			}
		}
		id, err := m.Parse(token)
		if err != nil {
			log.Debug("auth: rejected session", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Please sign in to continue.",
			})
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// IdentityFrom returns the caller resolved by Middleware. The zero Identity
// holds no roles, so every service operation refuses it.
func IdentityFrom(c *gin.Context) model.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return model.Identity{}
	}
	id, _ := v.(model.Identity)
	return id
}
