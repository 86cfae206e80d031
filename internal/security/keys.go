package security

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
)

// GenerateEd25519Keys returns a base64 encoded key pair.
func GenerateEd25519Keys() (publicKey, privateKey string, err error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate keys: %w", err)
	}
	return base64.StdEncoding.EncodeToString(pub), base64.StdEncoding.EncodeToString(priv), nil
}

func ParsePrivateKey(privateKeyBase64 string) (ed25519.PrivateKey, error) {
	if privateKeyBase64 == "" {
		return nil, fmt.Errorf("private key is empty")
	}
	b, err := base64.StdEncoding.DecodeString(privateKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size: %d", len(b))
	}
	return ed25519.PrivateKey(b), nil
}

func ParsePublicKey(publicKeyBase64 string) (ed25519.PublicKey, error) {
	if publicKeyBase64 == "" {
		return nil, fmt.Errorf("public key is empty")
	}
	b, err := base64.StdEncoding.DecodeString(publicKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode public key: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key size: %d", len(b))
	}
	return ed25519.PublicKey(b), nil
}

func responsePayload(timestamp string, body []byte) []byte {
	payload := make([]byte, 0, len(timestamp)+1+len(body))
	payload = append(payload, timestamp...)
	payload = append(payload, '.')
	return append(payload, body...)
}

// SignResponse signs timestamp + "." + body so a body cannot be replayed
// under a different timestamp.
func SignResponse(privateKey ed25519.PrivateKey, timestamp string, body []byte) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(privateKey, responsePayload(timestamp, body)))
}

func VerifyResponse(publicKey ed25519.PublicKey, timestamp string, body []byte, signature string) bool {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(publicKey, responsePayload(timestamp, body), sig)
}
