package utils

import "testing"

func TestMatchRoute(t *testing.T) {
	cases := []struct {
		value   string
		pattern string
		want    bool
	}{
		{"GET /obligations", "GET /obligations", true},
		{"get /obligations", "GET /obligations", true},
		{"POST /obligations", "GET /obligations", false},
		{"POST /exports/q3", "POST /exports/*", true},
		{"POST /exports/q3/items", "POST /exports/*", true},
		{"GET /tasks/t-1", "GET /tasks/:id", true},
		{"GET /tasks/t-1/assign", "GET /tasks/:id", false},
		{"GET /obligations", "* /obligations", true},
		{"GET /obligations", "/obligations", true},
	}
	for _, c := range cases {
		if got := MatchRoute(c.value, c.pattern); got != c.want {
			t.Fatalf("MatchRoute(%q, %q) = %v, want %v", c.value, c.pattern, got, c.want)
		}
	}
}

func TestSegmentHelpers(t *testing.T) {
	if !HasSegment("/tasks/t-1/assign", "assign") {
		t.Fatalf("expected assign segment")
	}
	if HasSegment("/tasks/reassign", "assign") {
		t.Fatalf("partial segment must not match")
	}
	if got := LastSegment("/reports/generate"); got != "generate" {
		t.Fatalf("last segment: got %q", got)
	}
	if got := LastSegment("/"); got != "" {
		t.Fatalf("empty path: got %q", got)
	}
}
