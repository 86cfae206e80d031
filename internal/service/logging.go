package service

import (
	"context"
	"log/slog"

	"keyward/internal/models"
	"keyward/internal/store"
)

func logValidation(keyHash, clientIP string, result models.Result) {
	if result.Kind == models.KindInternal {
		slog.Error("License validation",
			"key_hash", keyHash,
			"reason", result.Reason,
			"ip", clientIP,
		)
		return
	}
	slog.Info("License validation",
		"key_hash", keyHash,
		"success", result.OK(),
		"reason", result.Reason,
		"kind", result.Kind.String(),
		"ip", clientIP,
	)
}

// recordAttempt writes an audit entry outside a redemption transaction. A
// failure is logged and swallowed so the caller's response is unaffected.
func recordAttempt(ctx context.Context, keyStore store.KeyStore, entry *models.ActivationLog) {
	if err := keyStore.RecordAttempt(context.WithoutCancel(ctx), entry); err != nil {
		slog.Error("Failed to create activation log", "error", err, "reason", entry.Reason, "ip", entry.ClientIP)
	}
}
