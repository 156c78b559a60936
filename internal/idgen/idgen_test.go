package idgen

import (
	"strings"
	"testing"
)

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("sess_")
	if !strings.HasPrefix(id, "sess_") {
		t.Fatalf("id %q missing prefix", id)
	}
	if len(id) != len("sess_")+24 {
		t.Errorf("id length = %d, want prefix + 24 hex chars", len(id))
	}
	for _, r := range id[len("sess_"):] {
		if !strings.ContainsRune("0123456789abcdef", r) {
			t.Fatalf("id %q contains non-hex char %q", id, r)
		}
	}
}

func TestWithPrefixUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := WithPrefix("evt_")
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestHexLength(t *testing.T) {
	if got := Hex(16); len(got) != 32 {
		t.Errorf("Hex(16) length = %d, want 32", len(got))
	}
}
