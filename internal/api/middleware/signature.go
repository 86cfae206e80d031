package middleware

import (
	"bytes"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"keyward/internal/security"
)

const (
	HeaderResponseSignature = "X-Response-Signature"
	HeaderResponseTimestamp = "X-Response-Timestamp"
)

// bufferedWriter holds the body back until the signature headers are set.
type bufferedWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *bufferedWriter) Write(b []byte) (int, error) {
	return w.body.Write(b)
}

func (w *bufferedWriter) WriteString(s string) (int, error) {
	return w.body.WriteString(s)
}

func (w *bufferedWriter) WriteHeaderNow() {}

func (w *bufferedWriter) Written() bool {
	return w.body.Len() > 0
}

func ResponseSigningMiddleware(privateKeyBase64 string) gin.HandlerFunc {
	if privateKeyBase64 == "" {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	privateKey, err := security.ParsePrivateKey(privateKeyBase64)
	if err != nil {
		slog.Error("Invalid response signing key, responses will not be signed", "error", err)
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		original := c.Writer
		w := &bufferedWriter{body: &bytes.Buffer{}, ResponseWriter: original}
		c.Writer = w

		c.Next()

		c.Writer = original
		timestamp := time.Now().UTC().Format(time.RFC3339)
		body := w.body.Bytes()

		original.Header().Set(HeaderResponseSignature, security.SignResponse(privateKey, timestamp, body))
		original.Header().Set(HeaderResponseTimestamp, timestamp)
		original.WriteHeaderNow()
		if len(body) > 0 {
			if _, err := original.Write(body); err != nil {
				slog.Error("Failed to write signed response", "error", err)
			}
		}
	}
}
