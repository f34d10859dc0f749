package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agusx1211/parley/internal/cache"
	"github.com/agusx1211/parley/internal/chat"
	"github.com/agusx1211/parley/internal/debug"
	"github.com/agusx1211/parley/internal/remote"
	"github.com/agusx1211/parley/pkg/protocol"
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"ls"},
	Short:   "List sessions known to the backend",
	Long: `List the chat sessions the backend currently knows about.

When the backend is unreachable, falls back to sessions present in the
local cache (marked as cached).`,
	RunE: runSessions,
}

func init() {
	sessionsCmd.Flags().String("filter", "", "Only show sessions whose key or title contains this string")
	sessionsCmd.Flags().Bool("cached", false, "List the local cache only, without contacting the backend")
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	filter, _ := cmd.Flags().GetString("filter")
	cachedOnly, _ := cmd.Flags().GetBool("cached")

	if !cachedOnly {
		client, err := dialBackend(cmd.Context(), cfg)
		if err == nil {
			defer client.Close()
			return printRemoteSessions(cmd.Context(), client, filter)
		}
		debug.Logf("cli", "backend unreachable, listing cache: %v", err)
		fmt.Printf("%sBackend unreachable, showing cached sessions.%s\n", styleBoldYellow, colorReset)
	}

	store, err := openCache(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return printCachedSessions(store, filter)
}

func printRemoteSessions(ctx context.Context, client *remote.Client, filter string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	sessions, err := client.ListSessions(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions on the backend.")
		return nil
	}

	fmt.Printf("%s%-28s %-32s %-10s %s%s\n", colorBold, "KEY", "TITLE", "STATE", "UPDATED", colorReset)
	for _, s := range sessions {
		state := colorDim + "idle" + colorReset
		if s.Active {
			state = colorGreen + "active" + colorReset
		}
		updated := ""
		if s.UpdatedAt > 0 {
			updated = formatAge(time.UnixMilli(s.UpdatedAt))
		}
		fmt.Printf("%-28s %-32s %-19s %s\n", truncate(s.Key, 28), truncate(sessionTitle(s), 32), state, updated)
	}
	return nil
}

func printCachedSessions(store *cache.Store, filter string) error {
	sessions, err := store.Sessions()
	if err != nil {
		return fmt.Errorf("reading cache: %w", err)
	}
	sessions = filterCached(sessions, filter)
	if len(sessions) == 0 {
		fmt.Println("No cached sessions.")
		return nil
	}

	fmt.Printf("%s%-28s %-40s %s%s\n", colorBold, "KEY", "TITLE", "UPDATED", colorReset)
	for _, s := range sessions {
		fmt.Printf("%-28s %-40s %s\n", truncate(s.Key, 28), truncate(s.Title, 40), formatAge(s.UpdatedAt))
	}
	return nil
}

func sessionTitle(s protocol.SessionInfo) string {
	if s.Title != "" {
		return s.Title
	}
	return colorDim + "(untitled)" + colorReset
}

func filterCached(sessions []chat.SessionMeta, filter string) []chat.SessionMeta {
	if filter == "" {
		return sessions
	}
	var out []chat.SessionMeta
	for _, s := range sessions {
		if containsFold(s.Key, filter) || containsFold(s.Title, filter) {
			out = append(out, s)
		}
	}
	return out
}
