package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"keyward/internal/config"
	"keyward/internal/security"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate an Ed25519 key pair for response signing and activation receipts",
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, priv, err := security.GenerateEd25519Keys()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "config.yaml:\n")
		fmt.Fprintf(out, "  response_signing_private_key: %q\n", priv)
		fmt.Fprintf(out, "  response_signing_public_key: %q\n", pub)
		fmt.Fprintf(out, "\nEnvironment Variables:\n")
		fmt.Fprintf(out, "  RESPONSE_SIGNING_PRIVATE_KEY=%s\n", priv)
		fmt.Fprintf(out, "  RESPONSE_SIGNING_PUBLIC_KEY=%s\n", pub)
		fmt.Fprintf(out, "\nAgents verify responses with server_public_key: %q\n", pub)
		return nil
	},
}

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Generate an HMAC secret, a JWT secret and a client API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		hmacSecret, err := security.RandomSecret(32)
		if err != nil {
			return err
		}
		jwtSecret, err := security.RandomSecret(32)
		if err != nil {
			return err
		}
		apiKey, err := security.NewAPIKey()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "HMAC_SECRET=%s\n", hmacSecret)
		fmt.Fprintf(out, "JWT_SECRET=%s\n", jwtSecret)
		fmt.Fprintf(out, "API_KEYS=%s\n", apiKey)
		return nil
	},
}

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an admin bearer token signed with the configured JWT secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		token, err := issueToken(cfg, tokenSubject, tokenTTL, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var errNoJWTSecret = errors.New("no JWT secret configured: set security.jwt_secret or JWT_SECRET to the value the server uses")

// issueToken signs an admin token with the server's JWT secret. A secret
// generated at load time would produce a token no server accepts.
func issueToken(cfg config.Config, subject string, ttl time.Duration, now time.Time) (string, error) {
	if cfg.Security.EphemeralJWTSecret || cfg.Security.JWTSecret == "" {
		return "", errNoJWTSecret
	}
	if ttl <= 0 {
		ttl = cfg.Security.JWTExpiration
	}
	return security.IssueAdminToken([]byte(cfg.Security.JWTSecret), subject, true, ttl, now)
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "administrator", "Token subject")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (defaults to security.jwt_expiration)")

	rootCmd.AddCommand(keysCmd, secretCmd, tokenCmd)
}
