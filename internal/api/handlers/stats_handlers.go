package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"keyward/internal/service"
)

func GetStatsHandler(engine *service.ActivationEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		stats, err := engine.Stats(ctx)
		if err != nil {
			slog.Error("Failed to get key stats", "error", err)
			c.JSON(http.StatusInternalServerError, Envelope(false, "Internal server error"))
			return
		}

		resp := Envelope(true, "Key statistics")
		resp["stats"] = stats
		c.JSON(http.StatusOK, resp)
	}
}
