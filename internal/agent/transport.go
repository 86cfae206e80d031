package agent

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"keyward/internal/models"
	"keyward/internal/security"
)

const (
	validatePath = "/api/validate"

	headerAPIKey            = "X-API-Key"
	headerSignature         = "X-Signature"
	headerResponseSignature = "X-Response-Signature"
	headerResponseTimestamp = "X-Response-Timestamp"

	maxResponseBytes = 1 << 20
)

// ErrUnreachable covers every outcome that does not carry an authoritative
// answer from the server: network and TLS failures, timeouts, 5xx responses
// and responses that fail signature verification.
var ErrUnreachable = errors.New("license server unreachable")

type ValidateRequest struct {
	ClientInfo  string             `json:"client_info"`
	DeviceID    string             `json:"device_id"`
	LicenseKey  string             `json:"license_key"`
	LicenseType models.LicenseType `json:"license_type"`
	Timestamp   int64              `json:"timestamp"`
}

type ValidateResponse struct {
	StatusCode  int                `json:"-"`
	Status      string             `json:"status"`
	Message     string             `json:"message"`
	Timestamp   string             `json:"timestamp"`
	LicenseType models.LicenseType `json:"license_type,omitempty"`
	Receipt     string             `json:"receipt,omitempty"`
}

func (r *ValidateResponse) OK() bool {
	return r.StatusCode == http.StatusOK && r.Status == "success"
}

// Transport sends signed validation requests to the license server.
type Transport struct {
	serverURL          string
	apiKey             string
	signer             *security.Signer
	serverKey          ed25519.PublicKey
	client             *http.Client
	allowInsecureRetry bool
}

type TransportOption func(*Transport)

func WithHTTPClient(client *http.Client) TransportOption {
	return func(t *Transport) {
		t.client = client
	}
}

// WithServerPublicKey enables verification of X-Response-Signature.
func WithServerPublicKey(key ed25519.PublicKey) TransportOption {
	return func(t *Transport) {
		t.serverKey = key
	}
}

// WithInsecureRetry allows a single retry without certificate verification
// after a TLS verification failure.
func WithInsecureRetry(allow bool) TransportOption {
	return func(t *Transport) {
		t.allowInsecureRetry = allow
	}
}

func NewTransport(serverURL, apiKey string, hmacSecret []byte, opts ...TransportOption) *Transport {
	t := &Transport{
		serverURL: strings.TrimRight(serverURL, "/"),
		apiKey:    apiKey,
		signer:    security.NewSigner(hmacSecret),
		client:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewHTTPClient builds a client with the given timeout, trusting caCertPath
// in addition to the system roots when set.
func NewHTTPClient(timeout time.Duration, caCertPath string) (*http.Client, error) {
	if caCertPath == "" {
		return &http.Client{Timeout: timeout}, nil
	}

	pem, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", caCertPath)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	return &http.Client{Timeout: timeout, Transport: transport}, nil
}

// Validate posts a signed validation request. A non-nil error always wraps
// ErrUnreachable; 2xx and 4xx answers are returned as responses.
func (t *Transport) Validate(ctx context.Context, req ValidateRequest) (*ValidateResponse, error) {
	payload, err := security.CanonicalPayload(req)
	if err != nil {
		return nil, err
	}
	signature := t.signer.Sign(payload)

	resp, err := t.post(ctx, t.client, payload, signature)
	if err != nil && t.allowInsecureRetry && isCertificateError(err) {
		slog.Warn("Certificate verification failed, retrying without verification", "server", t.serverURL, "error", err)
		resp, err = t.post(ctx, insecureClient(t.client), payload, signature)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return resp, nil
}

func (t *Transport) post(ctx context.Context, client *http.Client, payload []byte, signature string) (*ValidateResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.serverURL+validatePath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerSignature, signature)
	if t.apiKey != "" {
		req.Header.Set(headerAPIKey, t.apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("server returned %d", resp.StatusCode)
	}

	if t.serverKey != nil {
		ts := resp.Header.Get(headerResponseTimestamp)
		sig := resp.Header.Get(headerResponseSignature)
		if !security.VerifyResponse(t.serverKey, ts, body, sig) {
			return nil, errors.New("response signature verification failed")
		}
	}

	out := &ValidateResponse{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(body, out); err != nil {
		return nil, fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}
	return out, nil
}

func isCertificateError(err error) bool {
	var verifyErr *tls.CertificateVerificationError
	var unknownAuthority x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var invalidErr x509.CertificateInvalidError
	return errors.As(err, &verifyErr) ||
		errors.As(err, &unknownAuthority) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidErr)
}

func insecureClient(base *http.Client) *http.Client {
	var transport *http.Transport
	if t, ok := base.Transport.(*http.Transport); ok {
		transport = t.Clone()
	} else {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}
	if transport.TLSClientConfig == nil {
		transport.TLSClientConfig = &tls.Config{}
	}
	transport.TLSClientConfig.InsecureSkipVerify = true
	return &http.Client{Timeout: base.Timeout, Transport: transport}
}
