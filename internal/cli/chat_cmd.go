package cli

import (
	"github.com/spf13/cobra"

	"github.com/agusx1211/parley/internal/chattui"
	"github.com/agusx1211/parley/internal/debug"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the interactive chat TUI",
	Long: `Connect to the backend and open the full-screen chat interface.

Sessions named with --session are opened immediately; otherwise the
backend's known sessions are offered. This is also what running plain
'parley' in a terminal does.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringArray("session", nil, "Session key to open (repeatable; first becomes active)")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	store, err := openCache(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	client, err := dialBackend(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	keys, _ := cmd.Flags().GetStringArray("session")
	if len(keys) == 0 {
		keys = knownSessionKeys(cmd, client, store)
	}
	debug.LogKV("cli", "launching chat tui", "sessions", len(keys))

	return chattui.Run(chattui.RunConfig{
		Engine:      buildEngine(cfg, client, store),
		Client:      client,
		SessionKeys: keys,
	})
}
