package handlers

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/gin-gonic/gin"

	"keyward/internal/models"
)

// Envelope builds the standard response body shared by every endpoint.
func Envelope(success bool, message string) gin.H {
	status := "error"
	if success {
		status = "success"
	}
	return gin.H{
		"status":    status,
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
}

var validityUnits = map[string]int{"d": 1, "w": 7, "mo": 30, "y": 365}

// ParseValidityDays converts "30", "3d", "2w", "1mo" or "1y" into days. A bare
// number is a count of days.
func ParseValidityDays(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	num := strings.TrimRightFunc(s, unicode.IsLetter)
	unit := s[len(num):]
	if unit == "" {
		unit = "d"
	}

	days, ok := validityUnits[unit]
	if !ok {
		return 0, fmt.Errorf("unknown validity unit %q", unit)
	}
	n, err := strconv.Atoi(num)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid validity %q", s)
	}
	return n * days, nil
}

// ParsePaginationParams extracts page and limit from query parameters
func ParsePaginationParams(c *gin.Context) models.PaginationParams {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}

	return models.PaginationParams{
		Page:  page,
		Limit: limit,
	}
}
