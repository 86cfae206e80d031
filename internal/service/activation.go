package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"keyward/internal/models"
	"keyward/internal/security"
	"keyward/internal/store"
)

const DefaultValidityDays = 30

type ActivationOptions struct {
	AllowMultipleActivations bool
	MaxActivationsPerKey     int
	DefaultValidityDays      int
	Clock                    func() time.Time
}

// ActivationEngine owns the license key lifecycle on the server.
type ActivationEngine struct {
	store  store.KeyStore
	codec  KeyCodec
	opts   ActivationOptions
	policy models.ActivationPolicy
}

func NewActivationEngine(keyStore store.KeyStore, codec KeyCodec, opts ActivationOptions) *ActivationEngine {
	if opts.MaxActivationsPerKey <= 0 {
		opts.MaxActivationsPerKey = 1
	}
	if opts.DefaultValidityDays <= 0 {
		opts.DefaultValidityDays = DefaultValidityDays
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &ActivationEngine{
		store:  keyStore,
		codec:  codec,
		opts:   opts,
		policy: models.ActivationPolicy{AllowMultipleActivations: opts.AllowMultipleActivations},
	}
}

func (e *ActivationEngine) Codec() KeyCodec {
	return e.codec
}

func (e *ActivationEngine) now() time.Time {
	return e.opts.Clock().UTC()
}

// AddKey stores a new key. It returns false without error when the key hash
// already exists.
func (e *ActivationEngine) AddKey(ctx context.Context, plaintext string, licenseType models.LicenseType, validityDays int) (bool, error) {
	if !e.codec.Validate(plaintext, licenseType) {
		return false, fmt.Errorf("invalid key format for %s", licenseType)
	}
	if validityDays <= 0 {
		validityDays = e.opts.DefaultValidityDays
	}
	now := e.now()
	key := &models.LicenseKey{
		KeyHash:        security.HashKey(plaintext),
		LicenseType:    licenseType,
		CreatedAt:      now,
		ExpiresAt:      now.AddDate(0, 0, validityDays),
		IsActive:       true,
		MaxActivations: e.opts.MaxActivationsPerKey,
	}
	if err := e.store.AddKey(ctx, key); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Attempt is one validation request as received by the server.
type Attempt struct {
	Key         string
	LicenseType models.LicenseType
	ClientIP    string
	ClientInfo  string
}

// Validate runs the format check and the atomic redemption. Every call
// produces exactly one audit entry. Storage faults are reported as an
// internal result, never as an error.
func (e *ActivationEngine) Validate(ctx context.Context, attempt Attempt) models.Result {
	now := e.now()

	if !e.codec.Validate(attempt.Key, attempt.LicenseType) {
		result := models.NewResult(models.ReasonInvalidFormat)
		e.RecordFailure(ctx, "", attempt, result.Reason)
		return result
	}

	keyHash := security.HashKey(attempt.Key)
	reason, err := e.store.Redeem(ctx, store.RedeemRequest{
		KeyHash:    keyHash,
		ClientIP:   attempt.ClientIP,
		ClientInfo: attempt.ClientInfo,
		Now:        now,
		Policy:     e.policy,
	})
	if err != nil {
		slog.Error("Failed to redeem license key", "error", err, "key_hash", keyHash)
		result := models.NewResult(models.ReasonInternalError)
		e.RecordFailure(ctx, keyHash, attempt, result.Reason)
		return result
	}

	result := models.NewResult(reason)
	logValidation(keyHash, attempt.ClientIP, result)
	return result
}

// RecordFailure audits an attempt that never reached the redemption step.
func (e *ActivationEngine) RecordFailure(ctx context.Context, keyHash string, attempt Attempt, reason models.Reason) {
	entry := &models.ActivationLog{
		KeyHash:    keyHash,
		Timestamp:  e.now(),
		ClientIP:   attempt.ClientIP,
		ClientInfo: attempt.ClientInfo,
		Success:    false,
		Reason:     reason,
	}
	logValidation(keyHash, attempt.ClientIP, models.NewResult(reason))
	recordAttempt(ctx, e.store, entry)
}

// Revoke moves a key to the terminal REVOKED state.
func (e *ActivationEngine) Revoke(ctx context.Context, plaintext string) error {
	keyHash := security.HashKey(plaintext)
	if err := e.store.RevokeKey(ctx, keyHash); err != nil {
		return err
	}
	slog.Info("License key revoked", "key_hash", keyHash)
	return nil
}

func (e *ActivationEngine) Stats(ctx context.Context) (models.KeyStats, error) {
	return e.store.Stats(ctx, e.now())
}
