package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"keyward/internal/models"
)

const (
	SchemaVersion = 1

	verifiedKeysFile = "verified_keys.json"
	sessionFile      = "session.json"
)

var ErrCorruptState = errors.New("corrupt license state")

// VerifiedKey is evidence that the server confirmed a key for a device.
type VerifiedKey struct {
	LicenseType models.LicenseType `json:"type"`
	VerifiedAt  time.Time          `json:"verified_at"`
	DeviceID    string             `json:"device_id,omitempty"`
	Receipt     string             `json:"receipt,omitempty"`
}

type VerifiedKeys struct {
	SchemaVersion int                    `json:"schema_version"`
	Keys          map[string]VerifiedKey `json:"keys"`
}

// Session is the snapshot of the current license, restored at startup.
type Session struct {
	SchemaVersion int                `json:"schema_version"`
	LicenseKey    string             `json:"license_key"`
	LicenseType   models.LicenseType `json:"license_type"`
	Valid         bool               `json:"valid"`
	Offline       bool               `json:"offline"`
	Features      map[string]bool    `json:"features"`
	DeviceID      string             `json:"device_id"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// StateStore persists agent state as versioned JSON files.
type StateStore struct {
	Dir string
}

func NewStateStore(dir string) *StateStore {
	return &StateStore{Dir: dir}
}

func (s *StateStore) path(name string) string {
	return filepath.Join(s.Dir, name)
}

// LoadVerified returns the verified-keys cache. A missing file is an empty cache.
func (s *StateStore) LoadVerified() (*VerifiedKeys, error) {
	cache := &VerifiedKeys{}
	found, err := s.readJSON(verifiedKeysFile, cache, func() int { return cache.SchemaVersion })
	if err != nil {
		return &VerifiedKeys{SchemaVersion: SchemaVersion, Keys: map[string]VerifiedKey{}}, err
	}
	if !found {
		cache.SchemaVersion = SchemaVersion
	}
	if cache.Keys == nil {
		cache.Keys = map[string]VerifiedKey{}
	}
	return cache, nil
}

func (s *StateStore) SaveVerified(cache *VerifiedKeys) error {
	cache.SchemaVersion = SchemaVersion
	return s.writeJSON(verifiedKeysFile, cache)
}

// LoadSession returns the persisted session, or nil when there is none.
func (s *StateStore) LoadSession() (*Session, error) {
	session := &Session{}
	found, err := s.readJSON(sessionFile, session, func() int { return session.SchemaVersion })
	if err != nil || !found {
		return nil, err
	}
	return session, nil
}

func (s *StateStore) SaveSession(session *Session) error {
	session.SchemaVersion = SchemaVersion
	return s.writeJSON(sessionFile, session)
}

func (s *StateStore) DeleteSession() error {
	if err := os.Remove(s.path(sessionFile)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *StateStore) readJSON(name string, out any, version func() int) (bool, error) {
	path := s.path(name)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return false, quarantine(path, err.Error())
	}
	if v := version(); v != SchemaVersion {
		return false, quarantine(path, fmt.Sprintf("unsupported schema version %d", v))
	}
	return true, nil
}

func (s *StateStore) writeJSON(name string, v any) error {
	if err := os.MkdirAll(s.Dir, 0o700); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	return writeFileAtomic(s.path(name), raw)
}

// quarantine moves an unreadable file aside so the next run starts clean.
func quarantine(path, reason string) error {
	slog.Warn("Moving corrupt state file aside", "path", path, "reason", reason)
	if err := os.Rename(path, path+".corrupt"); err != nil {
		slog.Error("Failed to move corrupt state file", "path", path, "error", err)
	}
	return fmt.Errorf("%w: %s: %s", ErrCorruptState, filepath.Base(path), reason)
}

// writeFileAtomic writes through a temp file in the same directory and renames
// it over the target.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
