package agent

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"keyward/internal/config"
	"keyward/internal/models"
	"keyward/internal/security"
	"keyward/internal/service"
)

var (
	ErrNotVerified    = errors.New("license key has not been confirmed by the server on this device, activate online")
	ErrDeviceMismatch = errors.New("license key was activated on a different device, activate online")
	ErrOfflineExpired = errors.New("offline license grace period has ended, activate online")
)

// RejectedError is an authoritative rejection from the server.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("activation rejected (%d): %s", e.StatusCode, e.Message)
}

type ActivationResult struct {
	LicenseKey  string
	LicenseType models.LicenseType
	Offline     bool
	Message     string
	Features    map[string]bool
}

type Info struct {
	Licensed    bool               `json:"licensed" yaml:"licensed"`
	LicenseType models.LicenseType `json:"license_type,omitempty" yaml:"license_type,omitempty"`
	Offline     bool               `json:"offline" yaml:"offline"`
	DeviceID    string             `json:"device_id" yaml:"device_id"`
	Degraded    bool               `json:"device_id_degraded" yaml:"device_id_degraded"`
	ActivatedAt *time.Time         `json:"activated_at,omitempty" yaml:"activated_at,omitempty"`
	Features    map[string]bool    `json:"features" yaml:"features"`
}

// Agent drives license activation for one installation.
type Agent struct {
	transport   *Transport
	state       *StateStore
	device      *DeviceIdentity
	serverKey   ed25519.PublicKey
	gracePeriod time.Duration
	clientInfo  string
	clock       func() time.Time

	session *Session
}

type Option func(*Agent)

func WithClock(clock func() time.Time) Option {
	return func(a *Agent) {
		a.clock = clock
	}
}

func WithDeviceIdentity(device *DeviceIdentity) Option {
	return func(a *Agent) {
		a.device = device
	}
}

func WithTransport(transport *Transport) Option {
	return func(a *Agent) {
		a.transport = transport
	}
}

// New builds an agent from client configuration.
func New(cfg config.AgentConfig, opts ...Option) (*Agent, error) {
	a := &Agent{
		state:       NewStateStore(cfg.StateDir),
		device:      NewDeviceIdentity(cfg.StateDir),
		gracePeriod: cfg.OfflineGracePeriod,
		clientInfo:  cfg.ClientName + "_" + runtime.GOOS,
		clock:       time.Now,
	}

	transportOpts := []TransportOption{WithInsecureRetry(cfg.AllowInsecureRetry)}
	if cfg.ServerPublicKey != "" {
		key, err := security.ParsePublicKey(cfg.ServerPublicKey)
		if err != nil {
			return nil, fmt.Errorf("invalid server public key: %w", err)
		}
		a.serverKey = key
		transportOpts = append(transportOpts, WithServerPublicKey(key))
	}
	client, err := NewHTTPClient(cfg.Timeout, cfg.CACert)
	if err != nil {
		return nil, err
	}
	transportOpts = append(transportOpts, WithHTTPClient(client))
	a.transport = NewTransport(cfg.ServerURL, cfg.APIKey, security.DecodeSecret(cfg.HMACSecret), transportOpts...)

	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Agent) DeviceID() string {
	return a.device.ID()
}

// Activate redeems key with the server. When the server cannot give an
// authoritative answer the key is checked against the verified-keys cache.
func (a *Agent) Activate(ctx context.Context, key string) (*ActivationResult, error) {
	key = strings.ToUpper(strings.TrimSpace(key))
	licenseType := models.DetectLicenseType(key)
	deviceID := a.device.ID()

	resp, err := a.transport.Validate(ctx, ValidateRequest{
		ClientInfo:  a.clientInfo,
		DeviceID:    deviceID,
		LicenseKey:  key,
		LicenseType: licenseType,
		Timestamp:   a.clock().Unix(),
	})
	if err != nil {
		slog.Warn("Online activation unavailable, trying offline validation", "error", err)
		return a.activateOffline(key)
	}
	if !resp.OK() {
		return nil, &RejectedError{StatusCode: resp.StatusCode, Message: resp.Message}
	}

	if resp.LicenseType.IsValid() {
		licenseType = resp.LicenseType
	}
	now := a.clock()

	cache, err := a.state.LoadVerified()
	if err != nil {
		slog.Warn("Starting a new verified-keys cache", "error", err)
	}
	cache.Keys[key] = VerifiedKey{
		LicenseType: licenseType,
		VerifiedAt:  now,
		DeviceID:    deviceID,
		Receipt:     resp.Receipt,
	}
	if err := a.state.SaveVerified(cache); err != nil {
		return nil, err
	}

	if err := a.startSession(key, licenseType, false, now); err != nil {
		return nil, err
	}
	slog.Info("License activated", "license_type", licenseType)
	return &ActivationResult{
		LicenseKey:  key,
		LicenseType: licenseType,
		Message:     resp.Message,
		Features:    models.FeaturesFor(licenseType),
	}, nil
}

func (a *Agent) activateOffline(key string) (*ActivationResult, error) {
	entry, err := a.checkVerified(key)
	if err != nil {
		return nil, err
	}
	if err := a.startSession(key, entry.LicenseType, true, a.clock()); err != nil {
		return nil, err
	}
	slog.Info("License activated offline", "license_type", entry.LicenseType)
	return &ActivationResult{
		LicenseKey:  key,
		LicenseType: entry.LicenseType,
		Offline:     true,
		Message:     "License validated offline",
		Features:    models.FeaturesFor(entry.LicenseType),
	}, nil
}

// checkVerified applies the offline trust rules to a cached key. With a
// server key configured the returned entry carries the type and time from the
// signed receipt, not the cache file.
func (a *Agent) checkVerified(key string) (VerifiedKey, error) {
	cache, err := a.state.LoadVerified()
	if err != nil {
		return VerifiedKey{}, err
	}
	entry, ok := cache.Keys[key]
	if !ok {
		return VerifiedKey{}, ErrNotVerified
	}

	deviceID := a.device.ID()
	if entry.DeviceID != "" && entry.DeviceID != deviceID {
		return VerifiedKey{}, ErrDeviceMismatch
	}
	if a.serverKey != nil {
		claims, err := service.VerifyReceipt(entry.Receipt, a.serverKey, security.HashKey(key), deviceID)
		if err != nil {
			return VerifiedKey{}, fmt.Errorf("%w: %v", ErrNotVerified, err)
		}
		if claims.LicenseType != entry.LicenseType {
			return VerifiedKey{}, fmt.Errorf("%w: cached license type does not match receipt", ErrNotVerified)
		}
		if claims.IssuedAt == nil {
			return VerifiedKey{}, fmt.Errorf("%w: receipt has no issue time", ErrNotVerified)
		}
		entry.VerifiedAt = claims.IssuedAt.Time
	}
	if a.gracePeriod > 0 && a.clock().Sub(entry.VerifiedAt) > a.gracePeriod {
		return VerifiedKey{}, ErrOfflineExpired
	}
	return entry, nil
}

func (a *Agent) startSession(key string, licenseType models.LicenseType, offline bool, now time.Time) error {
	session := &Session{
		LicenseKey:  key,
		LicenseType: licenseType,
		Valid:       true,
		Offline:     offline,
		Features:    models.FeaturesFor(licenseType),
		DeviceID:    a.device.ID(),
		UpdatedAt:   now,
	}
	if err := a.state.SaveSession(session); err != nil {
		return err
	}
	a.session = session
	return nil
}

// AutoLoad restores the persisted session. It reports false and clears the
// session when it was recorded on another device or its key no longer passes
// the offline trust rules. Features are rebuilt from the verified type.
func (a *Agent) AutoLoad() (bool, error) {
	session, err := a.state.LoadSession()
	if err != nil {
		return false, err
	}
	if session == nil || !session.Valid {
		return false, nil
	}

	if session.DeviceID != a.device.ID() {
		slog.Warn("Stored license belongs to another device, discarding")
		return false, a.Reset()
	}
	entry, err := a.checkVerified(session.LicenseKey)
	switch {
	case errors.Is(err, ErrNotVerified), errors.Is(err, ErrDeviceMismatch), errors.Is(err, ErrOfflineExpired):
		slog.Warn("Stored license is no longer verified, discarding", "error", err)
		return false, a.Reset()
	case err != nil:
		return false, err
	}

	session.LicenseType = entry.LicenseType
	session.Features = models.FeaturesFor(entry.LicenseType)
	a.session = session
	return true, nil
}

// Reset clears the session and its file. The verified-keys cache is kept.
func (a *Agent) Reset() error {
	a.session = nil
	return a.state.DeleteSession()
}

func (a *Agent) Licensed() bool {
	return a.session != nil && a.session.Valid
}

func (a *Agent) HasFeature(name string) bool {
	if a.Licensed() {
		return a.session.Features[name]
	}
	return models.DefaultFeatures()[name]
}

func (a *Agent) Info() Info {
	info := Info{
		DeviceID: a.device.ID(),
		Degraded: a.device.Degraded(),
		Features: models.DefaultFeatures(),
	}
	if a.Licensed() {
		updated := a.session.UpdatedAt
		info.Licensed = true
		info.LicenseType = a.session.LicenseType
		info.Offline = a.session.Offline
		info.ActivatedAt = &updated
		info.Features = a.session.Features
	}
	return info
}
