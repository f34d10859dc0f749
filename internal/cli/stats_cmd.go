package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats <session-key>",
	Short: "Show token usage and cost for a session",
	Long: `Query the backend for a session's accumulated usage.

Examples:
  parley stats main
  parley stats main --json`,
	Args: cobra.ExactArgs(1),
	RunE: runStats,
}

func init() {
	statsCmd.Flags().Bool("json", false, "Output as JSON")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	asJSON, _ := cmd.Flags().GetBool("json")

	client, err := dialBackend(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	usage, err := client.SessionStats(ctx, args[0])
	if err != nil {
		return fmt.Errorf("fetching stats for %s: %w", args[0], err)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(usage)
	}

	fmt.Printf("%sSession %s%s\n", colorBold, args[0], colorReset)
	fmt.Printf("  Input tokens:  %d\n", usage.InputTokens)
	fmt.Printf("  Output tokens: %d\n", usage.OutputTokens)
	fmt.Printf("  Turns:         %d\n", usage.NumTurns)
	if usage.CostUSD > 0 {
		fmt.Printf("  Cost:          $%.4f\n", usage.CostUSD)
	}
	return nil
}
