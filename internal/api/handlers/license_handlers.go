package handlers

import (
	"context"
	"crypto/ed25519"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"keyward/internal/models"
	"keyward/internal/security"
	"keyward/internal/service"
	"keyward/internal/store"
)

type ValidateRequest struct {
	LicenseKey  string `json:"license_key"`
	LicenseType string `json:"license_type"`
	Timestamp   any    `json:"timestamp"`
	ClientInfo  string `json:"client_info"`
	DeviceID    string `json:"device_id"`
}

func (r *ValidateRequest) missingField() string {
	switch {
	case r.LicenseKey == "":
		return "license_key"
	case r.LicenseType == "":
		return "license_type"
	case r.Timestamp == nil:
		return "timestamp"
	default:
		return ""
	}
}

// ValidateLicenseHandler redeems a license key. Every request reaching it is
// audited exactly once. receiptKey may be nil to disable receipts.
func ValidateLicenseHandler(engine *service.ActivationEngine, receiptKey ed25519.PrivateKey) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()

		var req ValidateRequest
		attempt := service.Attempt{ClientIP: c.ClientIP()}

		if err := c.ShouldBindJSON(&req); err != nil {
			engine.RecordFailure(ctx, "", attempt, models.ReasonInvalidFormat)
			c.JSON(http.StatusBadRequest, Envelope(false, "Invalid request body"))
			return
		}
		attempt.ClientInfo = req.ClientInfo

		if field := req.missingField(); field != "" {
			engine.RecordFailure(ctx, "", attempt, models.ReasonInvalidFormat)
			c.JSON(http.StatusBadRequest, Envelope(false, "Missing required field: "+field))
			return
		}

		licenseType := models.LicenseType(req.LicenseType)
		if !licenseType.IsValid() {
			engine.RecordFailure(ctx, "", attempt, models.ReasonInvalidFormat)
			c.JSON(http.StatusBadRequest, Envelope(false, "Invalid license type"))
			return
		}

		attempt.Key = req.LicenseKey
		attempt.LicenseType = licenseType
		result := engine.Validate(ctx, attempt)

		resp := Envelope(result.OK(), result.Message)
		if result.OK() {
			resp["license_type"] = licenseType
			if receiptKey != nil {
				receipt, err := service.SignReceipt(receiptKey, security.HashKey(req.LicenseKey), licenseType, req.DeviceID, time.Now())
				if err != nil {
					slog.Error("Failed to sign activation receipt", "error", err)
				} else {
					resp["receipt"] = receipt
				}
			}
		}
		c.JSON(result.Kind.HTTPStatus(), resp)
	}
}

type GenerateKeysRequest struct {
	LicenseType  string `json:"license_type"`
	Count        int    `json:"count"`
	ValidityDays int    `json:"validity_days"`
	Validity     string `json:"validity"`
}

func GenerateKeysHandler(generator *service.KeyGenerator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
		defer cancel()

		var req GenerateKeysRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, Envelope(false, "Invalid request body"))
				return
			}
		}

		if req.Count < 0 || req.Count > 10000 {
			c.JSON(http.StatusBadRequest, Envelope(false, "count must be between 0 and 10000 (0 = default)"))
			return
		}

		validityDays := req.ValidityDays
		if req.Validity != "" {
			days, err := ParseValidityDays(req.Validity)
			if err != nil {
				c.JSON(http.StatusBadRequest, Envelope(false, "Invalid validity format. Use '7d', '2w', '1mo' or '1y'"))
				return
			}
			validityDays = days
		}

		results := map[models.LicenseType]models.GenerationResult{}
		if req.LicenseType != "" {
			licenseType := models.LicenseType(req.LicenseType)
			if !licenseType.IsValid() {
				c.JSON(http.StatusBadRequest, Envelope(false, "Invalid license type"))
				return
			}
			res, err := generator.GenerateForType(ctx, licenseType, req.Count, validityDays)
			if err != nil {
				slog.Error("Failed to generate keys", "error", err, "license_type", licenseType)
				c.JSON(http.StatusInternalServerError, Envelope(false, "Internal server error"))
				return
			}
			results[licenseType] = res
		} else {
			all, err := generator.GenerateForAllTypes(ctx, validityDays)
			if err != nil {
				slog.Error("Failed to generate keys", "error", err)
				c.JSON(http.StatusInternalServerError, Envelope(false, "Internal server error"))
				return
			}
			results = all
		}

		total := 0
		for _, r := range results {
			total += r.SuccessCount
		}
		slog.Info("Admin generated license keys", "total", total, "ip", c.ClientIP())

		resp := Envelope(true, "License keys generated")
		resp["results"] = results
		c.JSON(http.StatusOK, resp)
	}
}

type RevokeRequest struct {
	LicenseKey string `json:"license_key" binding:"required"`
}

func RevokeLicenseHandler(engine *service.ActivationEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		var req RevokeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, Envelope(false, "Missing required field: license_key"))
			return
		}

		if err := engine.Revoke(ctx, req.LicenseKey); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, Envelope(false, "Invalid license key"))
				return
			}
			slog.Error("Failed to revoke license key", "error", err)
			c.JSON(http.StatusInternalServerError, Envelope(false, "Internal server error"))
			return
		}

		c.JSON(http.StatusOK, Envelope(true, "License key revoked"))
	}
}
