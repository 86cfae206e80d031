package models

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

type LicenseType string

const (
	LicenseTypeStudent  LicenseType = "STUDENT"
	LicenseTypePro      LicenseType = "PRO"
	LicenseTypeBusiness LicenseType = "BUSINESS"
)

// AllLicenseTypes lists the tiers in ascending privilege order.
var AllLicenseTypes = []LicenseType{LicenseTypeStudent, LicenseTypePro, LicenseTypeBusiness}

var licensePrefixes = map[LicenseType]string{
	LicenseTypeBusiness: "BUS",
	LicenseTypePro:      "PRO",
	LicenseTypeStudent:  "STU",
}

// Prefix returns the fixed key prefix for the type, or "" for unknown types.
func (t LicenseType) Prefix() string {
	return licensePrefixes[t]
}

func (t LicenseType) IsValid() bool {
	_, ok := licensePrefixes[t]
	return ok
}

// DetectLicenseType infers the tier from a key prefix. Unrecognized prefixes
// map to the least privileged tier.
func DetectLicenseType(key string) LicenseType {
	upper := strings.ToUpper(key)
	for _, t := range []LicenseType{LicenseTypeBusiness, LicenseTypePro, LicenseTypeStudent} {
		if strings.HasPrefix(upper, t.Prefix()) {
			return t
		}
	}
	return LicenseTypeStudent
}

// LicenseKey is a stored license. Only the hash of the plaintext key is kept.
type LicenseKey struct {
	ID              uuid.UUID   `json:"id" gorm:"type:text;primaryKey"`
	KeyHash         string      `json:"key_hash" gorm:"size:64;uniqueIndex;not null"`
	LicenseType     LicenseType `json:"license_type" gorm:"size:20;index;not null"`
	CreatedAt       time.Time   `json:"created_at"`
	ExpiresAt       time.Time   `json:"expires_at" gorm:"not null"`
	IsActive        bool        `json:"is_active" gorm:"not null"`
	IsUsed          bool        `json:"is_used" gorm:"not null"`
	UsedAt          *time.Time  `json:"used_at,omitempty"`
	ClientInfo      string      `json:"client_info,omitempty"`
	ActivationCount int         `json:"activation_count" gorm:"not null"`
	MaxActivations  int         `json:"max_activations" gorm:"not null"`
}

func (LicenseKey) TableName() string { return "license_keys" }

type KeyState string

const (
	KeyStateIssued    KeyState = "ISSUED"
	KeyStateActivated KeyState = "ACTIVATED"
	KeyStateExhausted KeyState = "EXHAUSTED"
	KeyStateExpired   KeyState = "EXPIRED"
	KeyStateRevoked   KeyState = "REVOKED"
)

// State derives the lifecycle state at the given instant. Expiry is never
// stored, it is a read-time comparison.
func (k *LicenseKey) State(now time.Time) KeyState {
	switch {
	case !k.IsActive:
		return KeyStateRevoked
	case now.After(k.ExpiresAt):
		return KeyStateExpired
	case k.ActivationCount >= k.MaxActivations:
		return KeyStateExhausted
	case k.IsUsed:
		return KeyStateActivated
	default:
		return KeyStateIssued
	}
}

// ActivationPolicy holds the server-wide redemption rules.
type ActivationPolicy struct {
	AllowMultipleActivations bool
}

// CheckRedeemable is the guard of the ISSUED/ACTIVATED -> ACTIVATED
// transition. It returns ReasonSuccess when a redemption may proceed.
func (k *LicenseKey) CheckRedeemable(now time.Time, policy ActivationPolicy) Reason {
	if !k.IsActive {
		return ReasonKeyInactive
	}
	if now.After(k.ExpiresAt) {
		return ReasonKeyExpired
	}
	if k.IsUsed && !policy.AllowMultipleActivations {
		return ReasonKeyAlreadyUsed
	}
	if k.ActivationCount >= k.MaxActivations {
		return ReasonQuotaExhausted
	}
	return ReasonSuccess
}

// ActivationLog is one append-only audit row per validation attempt.
type ActivationLog struct {
	ID         uuid.UUID `json:"id" gorm:"type:text;primaryKey"`
	KeyHash    string    `json:"key_hash" gorm:"size:64;index"`
	Timestamp  time.Time `json:"timestamp" gorm:"index"`
	ClientIP   string    `json:"client_ip" gorm:"size:45"`
	ClientInfo string    `json:"client_info"`
	Success    bool      `json:"success"`
	Reason     Reason    `json:"reason"`
}

func (ActivationLog) TableName() string { return "activation_logs" }

type Reason string

const (
	ReasonKeyNotFound    Reason = "key-not-found"
	ReasonKeyInactive    Reason = "key-inactive"
	ReasonKeyAlreadyUsed Reason = "key-already-used"
	ReasonKeyExpired     Reason = "key-expired"
	ReasonQuotaExhausted Reason = "quota-exhausted"
	ReasonInvalidFormat  Reason = "invalid-format"
	ReasonSuccess        Reason = "success"
	ReasonInternalError  Reason = "internal-error"
)

var reasonMessages = map[Reason]string{
	ReasonKeyNotFound:    "Invalid license key",
	ReasonKeyInactive:    "License key is inactive",
	ReasonKeyAlreadyUsed: "License key has already been used",
	ReasonKeyExpired:     "License key has expired",
	ReasonQuotaExhausted: "Maximum activations reached",
	ReasonInvalidFormat:  "Invalid key format or prefix mismatch",
	ReasonSuccess:        "License validated successfully",
	ReasonInternalError:  "Internal server error",
}

// Message is the user-facing text for a reason. It never carries internal detail.
func (r Reason) Message() string {
	if m, ok := reasonMessages[r]; ok {
		return m
	}
	return "License validation failed"
}

// Kind classifies the reason for protocol mapping.
func (r Reason) Kind() ErrorKind {
	switch r {
	case ReasonSuccess:
		return KindNone
	case ReasonInvalidFormat:
		return KindFormat
	case ReasonInternalError:
		return KindInternal
	default:
		return KindBusiness
	}
}

type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindFormat
	KindAuth
	KindAuthorization
	KindBusiness
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindFormat:
		return "format"
	case KindAuth:
		return "auth"
	case KindAuthorization:
		return "authorization"
	case KindBusiness:
		return "business"
	default:
		return "internal"
	}
}

func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindNone:
		return http.StatusOK
	case KindFormat:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindAuthorization, KindBusiness:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Result is the outcome of a validation attempt. Expected rejections are
// values, not errors.
type Result struct {
	Kind    ErrorKind
	Reason  Reason
	Message string
}

func NewResult(reason Reason) Result {
	return Result{Kind: reason.Kind(), Reason: reason, Message: reason.Message()}
}

func (r Result) OK() bool {
	return r.Kind == KindNone
}

type KeyStats struct {
	TotalKeys   int `json:"total_keys"`
	ActiveKeys  int `json:"active_keys"`
	UsedKeys    int `json:"used_keys"`
	ExpiredKeys int `json:"expired_keys"`
}

// GenerationResult reports a bulk key issue for one license type.
type GenerationResult struct {
	SuccessCount   int      `json:"success_count"`
	TotalAttempted int      `json:"total_attempted"`
	Keys           []string `json:"keys"`
}
