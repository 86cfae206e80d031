package service

import (
	"context"
	"fmt"
	"log/slog"

	"keyward/internal/models"
)

const DefaultKeysPerType = 100

// KeyGenerator issues batches of fresh keys through the activation engine.
type KeyGenerator struct {
	engine      *ActivationEngine
	types       []models.LicenseType
	keysPerType int
}

func NewKeyGenerator(engine *ActivationEngine, types []models.LicenseType, keysPerType int) *KeyGenerator {
	if len(types) == 0 {
		types = models.AllLicenseTypes
	}
	if keysPerType <= 0 {
		keysPerType = DefaultKeysPerType
	}
	return &KeyGenerator{engine: engine, types: types, keysPerType: keysPerType}
}

func (g *KeyGenerator) Types() []models.LicenseType {
	return g.types
}

// GenerateForType attempts count keys. Collisions and store failures count as
// failed attempts and never abort the batch.
func (g *KeyGenerator) GenerateForType(ctx context.Context, licenseType models.LicenseType, count, validityDays int) (models.GenerationResult, error) {
	result := models.GenerationResult{Keys: []string{}}
	if !licenseType.IsValid() {
		return result, fmt.Errorf("invalid license type: %q", licenseType)
	}
	if count <= 0 {
		count = g.keysPerType
	}

	codec := g.engine.Codec()
	for i := 0; i < count; i++ {
		result.TotalAttempted++
		if err := ctx.Err(); err != nil {
			return result, err
		}

		key, err := codec.Encode(licenseType)
		if err != nil {
			return result, fmt.Errorf("failed to encode key: %w", err)
		}
		added, err := g.engine.AddKey(ctx, key, licenseType, validityDays)
		if err != nil {
			slog.Warn("Failed to store generated key", "error", err, "license_type", licenseType)
			continue
		}
		if !added {
			continue
		}
		result.SuccessCount++
		result.Keys = append(result.Keys, key)
	}

	slog.Info("Generated license keys",
		"license_type", licenseType,
		"success", result.SuccessCount,
		"attempted", result.TotalAttempted,
	)
	return result, nil
}

func (g *KeyGenerator) GenerateForAllTypes(ctx context.Context, validityDays int) (map[models.LicenseType]models.GenerationResult, error) {
	results := make(map[models.LicenseType]models.GenerationResult, len(g.types))
	for _, t := range g.types {
		res, err := g.GenerateForType(ctx, t, g.keysPerType, validityDays)
		if err != nil {
			return results, err
		}
		results[t] = res
	}
	return results, nil
}
