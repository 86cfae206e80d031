package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"keyward/internal/models"
	"keyward/internal/security"
	"keyward/internal/store"
)

// GetActivationLogsHandler lists the audit trail. A plaintext license_key
// query parameter is hashed before lookup; key_hash is used as is.
func GetActivationLogsHandler(logStore store.LogStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		var filter store.LogFilter
		if keyHash := c.Query("key_hash"); keyHash != "" {
			filter.KeyHash = &keyHash
		} else if key := c.Query("license_key"); key != "" {
			hash := security.HashKey(key)
			filter.KeyHash = &hash
		}

		if successStr := c.Query("success"); successStr != "" {
			success, err := strconv.ParseBool(successStr)
			if err != nil {
				c.JSON(http.StatusBadRequest, Envelope(false, "Invalid success parameter"))
				return
			}
			filter.Success = &success
		}

		pagination := ParsePaginationParams(c)
		logs, totalCount, err := logStore.ListActivationLogs(ctx, filter, pagination)
		if err != nil {
			slog.Error("Failed to fetch activation logs", "error", err)
			c.JSON(http.StatusInternalServerError, Envelope(false, "Internal server error"))
			return
		}

		c.JSON(http.StatusOK, models.NewPaginatedList(logs, totalCount, pagination))
	}
}
