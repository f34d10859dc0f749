package cli

import (
	"testing"
	"time"

	"github.com/agusx1211/parley/internal/chat"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly-10", 10, "exactly-10"},
		{"a much longer string", 10, "a much lo…"},
		{"héllo wörld", 6, "héllo…"},
		{"ab", 1, "a"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestFormatAge(t *testing.T) {
	now := time.Now()
	tests := []struct {
		t    time.Time
		want string
	}{
		{time.Time{}, ""},
		{now.Add(-10 * time.Second), "just now"},
		{now.Add(-5 * time.Minute), "5m ago"},
		{now.Add(-3 * time.Hour), "3h ago"},
		{now.Add(-49 * time.Hour), "2d ago"},
	}
	for _, tt := range tests {
		if got := formatAge(tt.t); got != tt.want {
			t.Errorf("formatAge(%v) = %q, want %q", tt.t, got, tt.want)
		}
	}
}

func TestMaskToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", colorDim + "(unset)" + colorReset},
		{"short", "****"},
		{"abcdefghijklmnop", "abcd...mnop"},
	}
	for _, tt := range tests {
		if got := maskToken(tt.in); got != tt.want {
			t.Errorf("maskToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFilterCachedMatchesKeyOrTitle(t *testing.T) {
	sessions := []chat.SessionMeta{
		{Key: "work-main", Title: "Refactor the parser"},
		{Key: "scratch", Title: "Quick question"},
	}

	got := filterCached(sessions, "PARSER")
	if len(got) != 1 || got[0].Key != "work-main" {
		t.Fatalf("filterCached by title = %v, want [work-main]", got)
	}

	got = filterCached(sessions, "scratch")
	if len(got) != 1 || got[0].Key != "scratch" {
		t.Fatalf("filterCached by key = %v, want [scratch]", got)
	}

	if got := filterCached(sessions, ""); len(got) != 2 {
		t.Fatalf("filterCached with empty filter dropped entries: %v", got)
	}
}
