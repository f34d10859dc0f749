package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/agusx1211/parley/internal/config"
)

var configCmd = &cobra.Command{
	Use:     "config",
	Aliases: []string{"cfg"},
	Short:   "Show or change parley configuration",
	Long: `Show or change settings stored in ~/.parley/config.json.

Use subcommands like:
  parley config show
  parley config set backend ws://host:7133/ws
  parley config set token <bearer-token>`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		fmt.Printf("%sbackend%s        %s\n", colorCyan, colorReset, orUnset(cfg.BackendURL))
		fmt.Printf("%stoken%s          %s\n", colorCyan, colorReset, maskToken(cfg.AuthToken))
		fmt.Printf("%scache%s          %s\n", colorCyan, colorReset, cfg.CacheFile())
		fmt.Printf("%ssession bound%s  %d\n", colorCyan, colorReset, cfg.SessionBound)
		fmt.Printf("%shistory limit%s  %d\n", colorCyan, colorReset, cfg.HistoryLimit)
		fmt.Printf("%sspawn tool%s     %s\n", colorCyan, colorReset, cfg.SpawnToolName)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set one configuration value and persist it.

Keys: backend, token, cache, session-bound, history-limit, spawn-tool`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	key, value := args[0], args[1]
	switch key {
	case "backend":
		cfg.BackendURL = value
	case "token":
		cfg.AuthToken = value
	case "cache":
		cfg.CachePath = value
	case "session-bound":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("session-bound must be a positive integer, got %q", value)
		}
		cfg.SessionBound = n
	case "history-limit":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("history-limit must be a positive integer, got %q", value)
		}
		cfg.HistoryLimit = n
	case "spawn-tool":
		cfg.SpawnToolName = value
	default:
		return fmt.Errorf("unknown config key %q", key)
	}

	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	fmt.Printf("%sSet %s.%s\n", colorGreen, key, colorReset)
	return nil
}

func orUnset(s string) string {
	if s == "" {
		return colorDim + "(unset)" + colorReset
	}
	return s
}

func maskToken(s string) string {
	if s == "" {
		return colorDim + "(unset)" + colorReset
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
