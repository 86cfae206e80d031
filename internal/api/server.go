package api

import (
	"crypto/ed25519"
	"log/slog"

	"github.com/gin-gonic/gin"

	"keyward/internal/api/handlers"
	"keyward/internal/api/middleware"
	"keyward/internal/config"
	"keyward/internal/security"
	"keyward/internal/service"
	"keyward/internal/store"
)

type Server struct {
	Router *gin.Engine
	Config config.Config

	Engine    *service.ActivationEngine
	Generator *service.KeyGenerator
	LogStore  store.LogStore

	receiptKey ed25519.PrivateKey
}

func NewServer(cfg config.Config, keyStore store.KeyStore, logStore store.LogStore) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.Debug {
		r.Use(gin.Logger())
	}

	r.Use(middleware.ResponseSigningMiddleware(cfg.ResponseSigningPrivateKey))
	if len(cfg.TrustedProxies) > 0 {
		if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
			slog.Error("Invalid trusted proxies", "error", err)
		}
	} else {
		r.SetTrustedProxies(nil)
	}

	engine := service.NewActivationEngine(keyStore, service.NewKeyCodec(cfg.Licensing.KeyLength), service.ActivationOptions{
		AllowMultipleActivations: cfg.Licensing.AllowMultipleActivations,
		MaxActivationsPerKey:     cfg.Licensing.MaxActivationsPerKey,
		DefaultValidityDays:      cfg.Licensing.DefaultValidityDays,
	})

	server := &Server{
		Router:    r,
		Config:    cfg,
		Engine:    engine,
		Generator: service.NewKeyGenerator(engine, cfg.Licensing.LicenseTypes, cfg.Licensing.KeysPerType),
		LogStore:  logStore,
	}

	if cfg.Security.IssueReceipts && cfg.ResponseSigningPrivateKey != "" {
		key, err := security.ParsePrivateKey(cfg.ResponseSigningPrivateKey)
		if err != nil {
			slog.Error("Invalid signing key, activation receipts disabled", "error", err)
		} else {
			server.receiptKey = key
		}
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	sec := s.Config.Security
	signer := security.NewSigner(security.DecodeSecret(sec.HMACSecret))

	apiKeyAuth := middleware.APIKeyAuth(sec.ValidAPIKeys, sec.APIKeyRequired)
	hmacAuth := middleware.HMACAuth(signer, sec.RequireEncryptedCommunication)
	ipRestriction := middleware.IPRestriction(sec.AllowedIPs, sec.BlockedIPs)

	// Public routes
	s.Router.GET("/health", handlers.HealthHandler())

	// Client validation
	client := s.Router.Group("/api",
		middleware.RateLimitMiddleware("check", s.Config.RateLimitCheck),
		apiKeyAuth,
		hmacAuth,
		ipRestriction,
	)
	client.POST("/validate", handlers.ValidateLicenseHandler(s.Engine, s.receiptKey))

	// Administration
	admin := s.Router.Group("/api/admin",
		middleware.RateLimitMiddleware("admin", s.Config.RateLimitAdmin),
		apiKeyAuth,
		hmacAuth,
		ipRestriction,
		middleware.AdminJWTAuth([]byte(sec.JWTSecret), nil),
	)
	{
		admin.POST("/generate-keys", handlers.GenerateKeysHandler(s.Generator))
		admin.GET("/stats", handlers.GetStatsHandler(s.Engine))
		admin.POST("/revoke", handlers.RevokeLicenseHandler(s.Engine))
		admin.GET("/logs", handlers.GetActivationLogsHandler(s.LogStore))
	}
}
