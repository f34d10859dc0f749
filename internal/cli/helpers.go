package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agusx1211/parley/internal/cache"
	"github.com/agusx1211/parley/internal/debug"
	"github.com/agusx1211/parley/internal/remote"
)

// knownSessionKeys collects session keys to open when none were named,
// preferring the backend's list and falling back to the local cache. An
// empty result yields a fresh default session.
func knownSessionKeys(cmd *cobra.Command, client *remote.Client, store *cache.Store) []string {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	if sessions, err := client.ListSessions(ctx, ""); err == nil && len(sessions) > 0 {
		keys := make([]string, 0, len(sessions))
		for _, s := range sessions {
			keys = append(keys, s.Key)
		}
		return keys
	} else if err != nil {
		debug.Logf("cli", "session listing failed, trying cache: %v", err)
	}

	if cached, err := store.Sessions(); err == nil && len(cached) > 0 {
		keys := make([]string, 0, len(cached))
		for _, s := range cached {
			keys = append(keys, s.Key)
		}
		return keys
	}

	return []string{"default"}
}

// truncate shortens s to max runes, appending an ellipsis when cut.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 1 {
		return string(r[:max])
	}
	return string(r[:max-1]) + "…"
}

// formatAge renders how long ago t was, coarsely.
func formatAge(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
