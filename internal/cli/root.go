package cli

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/agusx1211/parley/internal/buildinfo"
	"github.com/agusx1211/parley/internal/debug"
)

const (
	// ANSI color codes
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"

	// Combined styles
	styleBoldCyan   = "\033[1;36m"
	styleBoldYellow = "\033[1;33m"
	styleBoldWhite  = "\033[1;37m"
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Terminal client for streaming agent chat sessions",
	Long: colorBold + `
  _ __   __ _ _ __| | ___ _   _
 | '_ \ / _` + "`" + ` | '__| |/ _ \ | | |
 | |_) | (_| | |  | |  __/ |_| |
 | .__/ \__,_|_|  |_|\___|\__, |
 |_|                      |___/` + colorReset + `

  ` + styleBoldCyan + `parley` + colorReset + ` v` + buildinfo.Current().Version + ` - talk to your agent backend from the terminal.

  parley keeps a bounded set of chat sessions in sync with a remote
  agent backend: streamed replies, tool activity, and spawned
  subagents all land in one scrollback, with history cached locally
  for instant reopening.

` + colorBold + `Getting Started:` + colorReset + `
  parley --backend ws://host:7133/ws   Connect and open the chat TUI
  parley sessions                      List sessions on the backend
  parley discover                      Find backends on the local network
  parley config set backend ws://...   Remember a backend

` + colorBold + `More Info:` + colorReset + `
  https://github.com/agusx1211/parley`,

	RunE: func(cmd *cobra.Command, args []string) error {
		if !isatty.IsTerminal(os.Stdout.Fd()) {
			// Non-interactive: the TUI would be garbage, show what
			// the backend has instead.
			return runSessions(cmd, args)
		}
		return runChat(cmd, args)
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	rootCmd.PersistentFlags().Bool("debug", false, "Enable verbose debug logging to ~/.parley/debug/")
	rootCmd.PersistentFlags().String("backend", "", "Backend websocket URL (overrides config)")
	rootCmd.PersistentFlags().String("token", "", "Bearer token for the backend (overrides config)")
	rootCmd.Flags().StringArray("session", nil, "Session key to open (repeatable; first becomes active)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		debugFlag, _ := cmd.Flags().GetBool("debug")
		if !debugFlag && !debug.ShouldEnableFromEnv() {
			return nil
		}
		logPath, err := debug.Init()
		if err != nil {
			return fmt.Errorf("initializing debug logger: %w", err)
		}
		fmt.Fprintf(os.Stderr, "%s[debug]%s logging to %s\n", colorDim, colorReset, logPath)
		bi := buildinfo.Current()
		debug.LogKV("cli", "parley starting",
			"version", bi.Version,
			"commit", bi.CommitHash,
			"build_date", bi.BuildDate,
			"pid", os.Getpid(),
			"command", cmd.Name(),
			"args", args,
		)
		return nil
	}
}

// Execute runs the root command.
func Execute() {
	defer debug.Close()
	if err := rootCmd.Execute(); err != nil {
		debug.Logf("cli", "exit with error: %v", err)
		fmt.Fprintf(os.Stderr, "%sError: %s%s\n", colorRed, err, colorReset)
		os.Exit(1)
	}
	debug.Log("cli", "exit success")
}
