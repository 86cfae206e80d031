package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"
)

const (
	deviceIDFile = "device_id"
	// machineAppID scopes the hashed machine id to this product.
	machineAppID = "keyward"
)

// DeviceIdentity derives a stable identifier for this installation. The value
// is computed once per process.
type DeviceIdentity struct {
	stateDir string
	collect  func() map[string]string

	once     sync.Once
	id       string
	degraded bool
}

func NewDeviceIdentity(stateDir string) *DeviceIdentity {
	return &DeviceIdentity{stateDir: stateDir, collect: hostComponents}
}

// ID returns the device identifier. When the machine id cannot be read a
// random one is persisted under the state directory instead, and device
// binding becomes best-effort (see Degraded).
func (d *DeviceIdentity) ID() string {
	d.once.Do(d.compute)
	return d.id
}

// Degraded reports whether ID fell back to a random persisted identifier.
func (d *DeviceIdentity) Degraded() bool {
	d.once.Do(d.compute)
	return d.degraded
}

func (d *DeviceIdentity) compute() {
	components := d.collect()
	if components["machine_id"] != "" {
		d.id = hashComponents(components)
		return
	}

	d.degraded = true
	id, err := loadOrCreateFallbackID(d.stateDir)
	if err != nil {
		slog.Warn("Failed to persist fallback device id, binding is per-process", "error", err)
	}
	d.id = id
	slog.Warn("Machine id unavailable, using random device id", "state_dir", d.stateDir)
}

func hashComponents(components map[string]string) string {
	keys := make([]string, 0, len(components))
	for k := range components {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s;", k, components[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:32]
}

// hostComponents collects the identifiers the device id is derived from. The
// machine id is the OS installation id, HMAC-hashed with machineAppID so the
// raw value never leaves the host.
func hostComponents() map[string]string {
	components := map[string]string{
		"os":   runtime.GOOS,
		"arch": runtime.GOARCH,
	}
	if hostname, err := os.Hostname(); err == nil {
		components["hostname"] = hostname
	}
	id, err := machineid.ProtectedID(machineAppID)
	if err != nil {
		slog.Warn("Failed to read machine id", "error", err)
		return components
	}
	components["machine_id"] = id
	return components
}

func loadOrCreateFallbackID(stateDir string) (string, error) {
	path := filepath.Join(stateDir, deviceIDFile)
	if raw, err := os.ReadFile(path); err == nil {
		if id, err := uuid.Parse(strings.TrimSpace(string(raw))); err == nil {
			return id.String(), nil
		}
	}

	id := uuid.NewString()
	if err := writeFileAtomic(path, []byte(id+"\n")); err != nil {
		return id, err
	}
	return id, nil
}
