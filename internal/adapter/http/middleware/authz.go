package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/aq2208/group-order-api/configs"
)

// Principal is the caller identity resolved once per request. Zero value
// means anonymous.
type Principal struct {
	UserID string
	Name   string
	Perms  map[string]struct{}
}

func (p Principal) Anonymous() bool { return p.UserID == "" }

func (p Principal) Has(perm string) bool {
	_, ok := p.Perms[perm]
	return ok
}

const principalKey = "principal"

// PrincipalFrom returns the request principal, anonymous when none was set.
func PrincipalFrom(c *gin.Context) Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(Principal); ok {
			return p
		}
	}
	return Principal{}
}

type Authz struct {
	cfg configs.Config
}

func NewAuthz(cfg configs.Config) *Authz {
	return &Authz{cfg: cfg}
}

// Identity resolves an OPTIONAL bearer token into a Principal. A missing
// header means anonymous and the request proceeds; a present but invalid
// token is rejected so callers never operate under a half-trusted identity.
func (a *Authz) Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.Next()
			return
		}
		if !strings.HasPrefix(auth, "Bearer ") {
			unauth(c, "invalid_request", "malformed authorization header")
			return
		}
		p, ok := a.parse(c, strings.TrimPrefix(auth, "Bearer "))
		if !ok {
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

// Require checks the bearer token and ensures all required permissions are
// present. Used only on administrative routes.
func (a *Authz) Require(requiredPerms ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			unauth(c, "invalid_request", "missing bearer token")
			return
		}
		p, ok := a.parse(c, strings.TrimPrefix(auth, "Bearer "))
		if !ok {
			return
		}
		for _, perm := range requiredPerms {
			if !p.Has(perm) {
				forbidden(c, "insufficient_scope", "missing required permissions")
				return
			}
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

func (a *Authz) parse(c *gin.Context, raw string) (Principal, bool) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(a.cfg.Security.JWTSecret), nil
	}, jwt.WithLeeway(30*time.Second)) // small clock skew
	if err != nil || !token.Valid {
		unauth(c, "invalid_token", "invalid jwt")
		return Principal{}, false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		unauth(c, "invalid_token", "claims parsing error")
		return Principal{}, false
	}
	if claims["iss"] != a.cfg.Security.Issuer || claims["aud"] != a.cfg.Security.Audience {
		unauth(c, "invalid_token", "iss/aud mismatch")
		return Principal{}, false
	}

	p := Principal{Perms: extractPerms(claims)}
	if sub, ok := claims["sub"].(string); ok {
		p.UserID = sub
	}
	if name, ok := claims["name"].(string); ok {
		p.Name = name
	}
	return p, true
}

func extractPerms(claims jwt.MapClaims) map[string]struct{} {
	out := map[string]struct{}{}
	if arr, ok := claims["perms"].([]any); ok {
		for _, v := range arr {
			if s, ok := v.(string); ok && s != "" {
				out[s] = struct{}{}
			}
		}
	}
	return out
}

func unauth(c *gin.Context, code, desc string) {
	c.Header("WWW-Authenticate", `Bearer error="`+code+`", error_description="`+desc+`"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": code, "error_description": desc})
}

func forbidden(c *gin.Context, code, desc string) {
	c.Header("WWW-Authenticate", `Bearer error="`+code+`", error_description="`+desc+`"`)
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": code, "error_description": desc})
}
