package xid

import (
	"strings"
	"testing"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	seen := make(map[string]struct{}, 100)
	for n := 0; n < 100; n++ {
		id := New("sale")
		if !strings.HasPrefix(id, "sale-") {
			t.Fatalf("expected sale- prefix, got %q", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}
