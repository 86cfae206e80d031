package service

import (
	"strings"
	"testing"

	"keyward/internal/models"
)

func TestKeyCodecEncode(t *testing.T) {
	codec := NewKeyCodec(16)

	for _, lt := range models.AllLicenseTypes {
		key, err := codec.Encode(lt)
		if err != nil {
			t.Fatalf("Encode(%s) unexpected error: %v", lt, err)
		}
		if len(key) != 16 {
			t.Errorf("expected length 16, got %d (%s)", len(key), key)
		}
		if !strings.HasPrefix(key, lt.Prefix()) {
			t.Errorf("expected prefix %s, got %s", lt.Prefix(), key)
		}
		if !codec.Validate(key, lt) {
			t.Errorf("Validate(%s, %s) = false, want true", key, lt)
		}
		if got := models.DetectLicenseType(key); got != lt {
			t.Errorf("DetectLicenseType(%s) = %s, want %s", key, got, lt)
		}
	}

	if _, err := codec.Encode("ENTERPRISE"); err == nil {
		t.Error("expected error for unknown license type")
	}
	if _, err := (KeyCodec{Length: 3}).Encode(models.LicenseTypePro); err == nil {
		t.Error("expected error for length not longer than prefix")
	}
	if NewKeyCodec(0).Length != DefaultKeyLength {
		t.Errorf("expected default length %d", DefaultKeyLength)
	}
}

func TestKeyCodecValidate(t *testing.T) {
	codec := NewKeyCodec(16)

	tests := []struct {
		name     string
		key      string
		lt       models.LicenseType
		expected bool
	}{
		{"Valid", "PROABC123XYZ0000", models.LicenseTypePro, true},
		{"PrefixMismatch", "PROABC123XYZ0000", models.LicenseTypeBusiness, false},
		{"TooShort", "PROABC", models.LicenseTypePro, false},
		{"TooLong", "PROABC123XYZ00001", models.LicenseTypePro, false},
		{"Lowercase", "PROabc123xyz0000", models.LicenseTypePro, false},
		{"Separator", "PRO-BC123XYZ0000", models.LicenseTypePro, false},
		{"UnknownType", "PROABC123XYZ0000", "GOLD", false},
		{"Empty", "", models.LicenseTypeStudent, false},
		{"NonASCII", "STUÄÖÜ1234567", models.LicenseTypeStudent, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := codec.Validate(tt.key, tt.lt); got != tt.expected {
				t.Errorf("Validate(%q, %s) = %v, want %v", tt.key, tt.lt, got, tt.expected)
			}
		})
	}
}
