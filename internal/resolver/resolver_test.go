package resolver

import (
	"reflect"
	"testing"
)

func newTestResolver() *Resolver {
	return New(map[string]string{
		"Meskel Square": "cluster_2505",
		"Arat Kilo":     "joinedS_10",
	}, []string{"gneJ44", "cluster_2505"})
}

func TestResolve(t *testing.T) {
	r := newTestResolver()

	tests := []struct {
		name     string
		in       string
		expected string
	}{
		{"friendly name", "Meskel Square", "cluster_2505"},
		{"another friendly name", "Arat Kilo", "joinedS_10"},
		{"internal id passes through", "gneJ44", "gneJ44"},
		{"unknown name passes through", "unknown_name", "unknown_name"},
		{"empty passes through", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Resolve(tt.in); got != tt.expected {
				t.Errorf("Resolve(%q) = %q, want %q", tt.in, got, tt.expected)
			}
		})
	}
}

func TestFriendlyFor(t *testing.T) {
	r := newTestResolver()

	if friendly, ok := r.FriendlyFor("cluster_2505"); !ok || friendly != "Meskel Square" {
		t.Errorf("FriendlyFor(cluster_2505) = %q, %v", friendly, ok)
	}
	if _, ok := r.FriendlyFor("gneJ44"); ok {
		t.Error("gneJ44 has no alias, FriendlyFor should report false")
	}
}

func TestKnownIDs_SortedAndDeduplicated(t *testing.T) {
	r := newTestResolver()

	want := []string{"cluster_2505", "gneJ44", "joinedS_10"}
	if got := r.KnownIDs(); !reflect.DeepEqual(got, want) {
		t.Errorf("KnownIDs() = %v, want %v", got, want)
	}

	total, friendly := r.Counts()
	if total != 3 || friendly != 2 {
		t.Errorf("Counts() = %d, %d, want 3, 2", total, friendly)
	}
}

func TestMapping_ReturnsCopy(t *testing.T) {
	r := newTestResolver()

	m := r.Mapping()
	m["Meskel Square"] = "tampered"
	if r.Resolve("Meskel Square") != "cluster_2505" {
		t.Error("mutating the returned mapping must not affect the resolver")
	}
}
