package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agusx1211/parley/internal/buildinfo"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		bi := buildinfo.Current()
		fmt.Printf("parley %s\n", bi.Version)
		if bi.CommitHash != "" {
			fmt.Printf("commit: %s\n", bi.CommitHash)
		}
		if bi.BuildDate != "" {
			fmt.Printf("built:  %s\n", bi.BuildDate)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
