package util

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNewIDWithPrefix(t *testing.T) {
	id := NewID("note")
	if !strings.HasPrefix(id, "note_") {
		t.Fatalf("expected note_ prefix, got %q", id)
	}
	if _, err := uuid.Parse(strings.TrimPrefix(id, "note_")); err != nil {
		t.Fatalf("expected uuid suffix, got %q: %v", id, err)
	}
}

func TestNewIDWithoutPrefixIsUnique(t *testing.T) {
	a, b := NewID(""), NewID("")
	if a == b {
		t.Fatalf("expected unique ids, got %q twice", a)
	}
	if strings.Contains(a, "_") {
		t.Fatalf("expected bare uuid, got %q", a)
	}
}
