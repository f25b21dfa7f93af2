package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/book-chat/internal/auth"
)

const (
	AuthCookie  = "auth_token"
	IdentityKey = "identity"
	TokenKey    = "session_token"
)

type SessionResolver interface {
	Resolve(token string) (auth.Identity, bool)
}

// TokenFromRequest reads the session token from the auth cookie or a Bearer header.
func TokenFromRequest(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if v, err := c.Cookie(AuthCookie); err == nil {
		return v
	}
	return ""
}

// Session attaches the caller's identity. Unknown or missing tokens yield the anonymous identity.
func Session(resolver SessionResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFromRequest(c)
		id := auth.Anonymous()
		if token != "" {
			if resolved, ok := resolver.Resolve(token); ok {
				id = resolved
			}
		}
		c.Set(TokenKey, token)
		c.Set(IdentityKey, id)
		c.Next()
	}
}

func IdentityFrom(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return auth.Identity{}, false
	}
	id, ok := v.(auth.Identity)
	return id, ok
}
