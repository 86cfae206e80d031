package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"keyward/internal/config"
	"keyward/internal/models"
	"keyward/internal/security"
	"keyward/internal/service"
	"keyward/internal/store"
)

// withEngine opens the configured storage and runs fn against an engine
// built from the licensing settings.
func withEngine(ctx context.Context, fn func(cfg config.Config, engine *service.ActivationEngine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	stores, err := store.Open(ctx, cfg.DatabaseURL, cfg.MigrationsPath)
	if err != nil {
		return err
	}
	defer stores.Close()

	engine := service.NewActivationEngine(stores.Keys, service.NewKeyCodec(cfg.Licensing.KeyLength), service.ActivationOptions{
		AllowMultipleActivations: cfg.Licensing.AllowMultipleActivations,
		MaxActivationsPerKey:     cfg.Licensing.MaxActivationsPerKey,
		DefaultValidityDays:      cfg.Licensing.DefaultValidityDays,
	})
	return fn(cfg, engine)
}

var (
	generateType     string
	generateCount    int
	generateValidity int
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Issue license keys directly into the configured database",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(cfg config.Config, engine *service.ActivationEngine) error {
			generator := service.NewKeyGenerator(engine, cfg.Licensing.LicenseTypes, cfg.Licensing.KeysPerType)

			results := map[models.LicenseType]models.GenerationResult{}
			if generateType != "" {
				licenseType := models.LicenseType(strings.ToUpper(generateType))
				if !licenseType.IsValid() {
					return fmt.Errorf("unknown license type %q", generateType)
				}
				res, err := generator.GenerateForType(cmd.Context(), licenseType, generateCount, generateValidity)
				if err != nil {
					return err
				}
				results[licenseType] = res
			} else {
				all, err := generator.GenerateForAllTypes(cmd.Context(), generateValidity)
				if err != nil {
					return err
				}
				results = all
			}

			out := cmd.OutOrStdout()
			for _, t := range models.AllLicenseTypes {
				res, ok := results[t]
				if !ok {
					continue
				}
				fmt.Fprintf(out, "# %s: %d/%d issued\n", t, res.SuccessCount, res.TotalAttempted)
				for _, key := range res.Keys {
					fmt.Fprintln(out, key)
				}
			}
			return nil
		})
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke KEY",
	Short: "Deactivate a license key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(_ config.Config, engine *service.ActivationEngine) error {
			if err := engine.Revoke(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Revoked %s\n", security.HashKey(args[0]))
			return nil
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print license key counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(_ config.Config, engine *service.ActivationEngine) error {
			stats, err := engine.Stats(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		})
	},
}

var (
	receiptPublicKey string
	receiptDevice    string
)

var verifyReceiptCmd = &cobra.Command{
	Use:   "verify-receipt KEY RECEIPT",
	Short: "Check an activation receipt against a license key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pubB64 := receiptPublicKey
		if pubB64 == "" {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pubB64 = cfg.ResponseSigningPublicKey
		}
		pub, err := security.ParsePublicKey(pubB64)
		if err != nil {
			return err
		}

		claims, err := service.VerifyReceipt(args[1], pub, security.HashKey(args[0]), receiptDevice)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Receipt is valid")
		fmt.Fprintf(out, "- License type: %s\n", claims.LicenseType)
		fmt.Fprintf(out, "- Device: %s\n", claims.DeviceID)
		if claims.IssuedAt != nil {
			fmt.Fprintf(out, "- Issued: %s\n", claims.IssuedAt.UTC().Format(time.RFC3339))
		}
		return nil
	},
}

func init() {
	generateCmd.Flags().StringVar(&generateType, "type", "", "License type (BUSINESS, PRO or STUDENT); all configured types when empty")
	generateCmd.Flags().IntVar(&generateCount, "count", 0, "Keys to issue (defaults to licensing.keys_per_type)")
	generateCmd.Flags().IntVar(&generateValidity, "validity-days", 0, "Validity in days (defaults to licensing.default_validity_days)")

	verifyReceiptCmd.Flags().StringVar(&receiptPublicKey, "pubkey", "", "Base64 Ed25519 public key (defaults to response_signing_public_key)")
	verifyReceiptCmd.Flags().StringVar(&receiptDevice, "device", "", "Device id the receipt must be bound to")

	rootCmd.AddCommand(generateCmd, revokeCmd, statsCmd, verifyReceiptCmd)
}
