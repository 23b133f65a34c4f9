package analyze

import (
	"strings"
	"testing"
	"time"

	"github.com/vthunder/moments/internal/types"
)

func fixtureItem() types.ContentItem {
	return types.ContentItem{
		ID:        "company/acme/news.md",
		Path:      "/data/companies/acme/news.md",
		Title:     "Acme News",
		Body:      "Acme announced a new robotics division today.",
		UpdatedAt: time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC),
		Source:    types.SourceCompany,
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	a := fixtureItem()
	b := fixtureItem()

	if Fingerprint(a, 2048) != Fingerprint(b, 2048) {
		t.Error("Expected identical fingerprints for identical items")
	}
}

func TestFingerprint_ChangesWithContent(t *testing.T) {
	base := fixtureItem()

	modified := fixtureItem()
	modified.Body = "Acme cancelled the robotics division."
	if Fingerprint(base, 2048) == Fingerprint(modified, 2048) {
		t.Error("Expected different fingerprint for different body")
	}

	touched := fixtureItem()
	touched.UpdatedAt = touched.UpdatedAt.Add(24 * time.Hour)
	if Fingerprint(base, 2048) == Fingerprint(touched, 2048) {
		t.Error("Expected different fingerprint for different update time")
	}

	moved := fixtureItem()
	moved.Path = "/data/companies/acme/archive/news.md"
	if Fingerprint(base, 2048) == Fingerprint(moved, 2048) {
		t.Error("Expected different fingerprint for different path")
	}
}

func TestFingerprint_BodyPrefixLimit(t *testing.T) {
	prefix := strings.Repeat("a", 100)

	a := fixtureItem()
	a.Body = prefix + "tail one"
	b := fixtureItem()
	b.Body = prefix + "tail two"

	// Difference beyond the hashed prefix is invisible
	if Fingerprint(a, 100) != Fingerprint(b, 100) {
		t.Error("Expected identical fingerprints when bodies differ past the prefix")
	}

	// The same difference inside the prefix is visible
	if Fingerprint(a, 200) == Fingerprint(b, 200) {
		t.Error("Expected different fingerprints when the prefix covers the change")
	}
}

func TestFingerprint_NormalizesTimezone(t *testing.T) {
	utc := fixtureItem()

	shifted := fixtureItem()
	shifted.UpdatedAt = utc.UpdatedAt.In(time.FixedZone("CET", 3600))

	// Same instant in a different zone must not look like a change
	if Fingerprint(utc, 2048) != Fingerprint(shifted, 2048) {
		t.Error("Expected identical fingerprints for the same instant in different zones")
	}
}

func TestFingerprint_Format(t *testing.T) {
	h := Fingerprint(fixtureItem(), 2048)
	if len(h) != 64 {
		t.Errorf("Expected 64 hex chars, got %d", len(h))
	}
	for _, c := range h {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Fatalf("Unexpected character %q in fingerprint", c)
		}
	}
}
