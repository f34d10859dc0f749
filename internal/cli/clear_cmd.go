package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var clearCmd = &cobra.Command{
	Use:   "clear <session-key>",
	Short: "Drop a session's locally cached history",
	Long: `Remove a session's messages from the local cache.

The backend's copy of the conversation is untouched; the next time the
session is opened its history is fetched fresh.`,
	Args: cobra.ExactArgs(1),
	RunE: runClear,
}

func init() {
	clearCmd.Flags().Bool("forget", false, "Also drop the session's cache entry entirely")
	rootCmd.AddCommand(clearCmd)
}

func runClear(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := openCache(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	key := args[0]
	forget, _ := cmd.Flags().GetBool("forget")
	if forget {
		if err := store.DeleteSession(key); err != nil {
			return fmt.Errorf("deleting session %s: %w", key, err)
		}
		fmt.Printf("%sForgot session %s.%s\n", colorGreen, key, colorReset)
		return nil
	}
	if err := store.Clear(key); err != nil {
		return fmt.Errorf("clearing session %s: %w", key, err)
	}
	fmt.Printf("%sCleared cached history for %s.%s\n", colorGreen, key, colorReset)
	return nil
}
