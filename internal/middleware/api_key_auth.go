package middleware

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/premiumcollect/premiumcollect/internal/apperr"
	"github.com/premiumcollect/premiumcollect/internal/auth"
	"github.com/premiumcollect/premiumcollect/internal/logger"
	"github.com/premiumcollect/premiumcollect/internal/tenant"
)

// PrincipalKey is the gin key holding the authenticated *auth.Principal.
const PrincipalKey = "api_principal"

// Authenticator resolves an Authorization header into a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, header string) (*auth.Principal, error)
}

// APIKeyAuth requires a valid bearer API key and scopes the request to the
// key's cell captive.
func APIKeyAuth(authn Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := authn.Authenticate(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			log := logger.FromGin(c)
			if apperr.CodeOf(err) == apperr.CodeAuthError {
				log.Error("api key authentication failed", zap.Error(err))
			} else {
				log.Info("api key rejected", zap.String("code", apperr.CodeOf(err)))
			}
			c.AbortWithStatusJSON(apperr.Render(err))
			return
		}

		l := logger.FromGin(c).With(
			zap.String("cell_captive", p.CaptiveCode),
			zap.String("api_key_id", p.KeyID.String()))
		ctx := tenant.WithPrincipal(c.Request.Context(), p)
		ctx = logger.WithContext(ctx, l)
		c.Request = c.Request.WithContext(ctx)
		c.Set(PrincipalKey, p)
		c.Set(logger.GinKey, l)

		c.Next()
	}
}

// RequirePermission rejects principals lacking scope. It must run after
// APIKeyAuth.
func RequirePermission(scope auth.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := GetPrincipal(c)
		if p == nil {
			c.AbortWithStatusJSON(apperr.Render(apperr.Unauthorized(apperr.CodeMissingAPIKey, "API key required")))
			return
		}
		if !p.Scopes.Has(scope) {
			c.AbortWithStatusJSON(apperr.Render(apperr.Forbidden(apperr.CodeInsufficientPerms,
				fmt.Sprintf("API key lacks the %s permission", scope))))
			return
		}
		c.Next()
	}
}

// GetPrincipal returns the principal set by APIKeyAuth, or nil.
func GetPrincipal(c *gin.Context) *auth.Principal {
	if v, ok := c.Get(PrincipalKey); ok {
		if p, ok := v.(*auth.Principal); ok {
			return p
		}
	}
	return nil
}
