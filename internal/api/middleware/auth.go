package middleware

import (
	"bytes"
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"keyward/internal/api/handlers"
	"keyward/internal/security"
)

const (
	HeaderAPIKey    = "X-API-Key"
	HeaderSignature = "X-Signature"

	// ContextAdminSubject holds the subject of a verified admin token.
	ContextAdminSubject = "admin_subject"

	maxBodyBytes = 1 << 20
)

func abortAuth(c *gin.Context, reason string) {
	slog.Warn("Request rejected", "reason", reason, "ip", c.ClientIP(), "path", c.FullPath())
	c.AbortWithStatusJSON(http.StatusUnauthorized, handlers.Envelope(false, "Authentication failed"))
}

// APIKeyAuth checks the X-API-Key header against the configured allow-list.
func APIKeyAuth(validKeys []string, required bool) gin.HandlerFunc {
	keys := make([][]byte, 0, len(validKeys))
	for _, k := range validKeys {
		keys = append(keys, []byte(k))
	}

	return func(c *gin.Context) {
		if !required {
			c.Next()
			return
		}

		provided := []byte(c.GetHeader(HeaderAPIKey))
		if len(provided) == 0 {
			abortAuth(c, "missing api key")
			return
		}

		match := 0
		for _, k := range keys {
			match |= subtle.ConstantTimeCompare(provided, k)
		}
		if match != 1 {
			abortAuth(c, "invalid api key")
			return
		}
		c.Next()
	}
}

// HMACAuth verifies X-Signature over the canonical form of the request body.
// The body is restored for downstream handlers.
func HMACAuth(signer *security.Signer, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !required {
			c.Next()
			return
		}

		signature := c.GetHeader(HeaderSignature)
		if signature == "" {
			abortAuth(c, "missing signature")
			return
		}

		var raw []byte
		if c.Request.Body != nil {
			var err error
			raw, err = io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
			if err != nil {
				abortAuth(c, "unreadable body")
				return
			}
			c.Request.Body = io.NopCloser(bytes.NewReader(raw))
		}

		canonical, err := security.CanonicalJSON(raw)
		if err != nil {
			abortAuth(c, "body is not valid json")
			return
		}
		if !signer.Verify(canonical, signature) {
			abortAuth(c, "invalid signature")
			return
		}
		c.Next()
	}
}

// AdminJWTAuth requires a bearer token with admin rights and a future expiry.
func AdminJWTAuth(secret []byte, clock func() time.Time) gin.HandlerFunc {
	if clock == nil {
		clock = time.Now
	}
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handlers.Envelope(false, "Admin authentication required"))
			return
		}

		claims, ok := security.VerifyAdminToken(token, secret, clock())
		if !ok {
			slog.Warn("Admin token rejected", "ip", c.ClientIP(), "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusUnauthorized, handlers.Envelope(false, "Admin authentication required"))
			return
		}

		c.Set(ContextAdminSubject, claims.Subject)
		c.Next()
	}
}
