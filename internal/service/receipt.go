package service

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"keyward/internal/models"
)

const receiptIssuer = "keyward"

// ReceiptClaims bind a successful activation to a key hash and device.
type ReceiptClaims struct {
	LicenseType models.LicenseType `json:"license_type"`
	DeviceID    string             `json:"device_id,omitempty"`
	jwt.RegisteredClaims
}

// SignReceipt returns an EdDSA JWT that a client can verify offline.
func SignReceipt(privateKey ed25519.PrivateKey, keyHash string, licenseType models.LicenseType, deviceID string, issuedAt time.Time) (string, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("invalid private key size: %d", len(privateKey))
	}
	claims := ReceiptClaims{
		LicenseType: licenseType,
		DeviceID:    deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  keyHash,
			Issuer:   receiptIssuer,
			IssuedAt: jwt.NewNumericDate(issuedAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(privateKey)
}

var ErrReceiptMismatch = errors.New("receipt does not match license")

// VerifyReceipt checks the signature and that the receipt was issued for the
// given key hash and device.
func VerifyReceipt(receipt string, publicKey ed25519.PublicKey, keyHash, deviceID string) (*ReceiptClaims, error) {
	claims := &ReceiptClaims{}
	_, err := jwt.ParseWithClaims(receipt, claims, func(t *jwt.Token) (interface{}, error) {
		return publicKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(receiptIssuer),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to verify receipt: %w", err)
	}
	if claims.Subject != keyHash {
		return nil, ErrReceiptMismatch
	}
	if claims.DeviceID != "" && claims.DeviceID != deviceID {
		return nil, ErrReceiptMismatch
	}
	return claims, nil
}
