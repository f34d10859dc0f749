package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agusx1211/parley/internal/discover"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find agent backends on the local network",
	Long: `Scan the local network for backends advertising themselves over mDNS.

Pick one and save it with:
  parley config set backend <url>`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().Duration("timeout", 3*time.Second, "How long to wait for answers")
	rootCmd.AddCommand(discoverCmd)
}

func runDiscover(cmd *cobra.Command, args []string) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")

	fmt.Printf("%sScanning for backends...%s\n", colorDim, colorReset)
	backends, err := discover.Backends(timeout)
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}
	if len(backends) == 0 {
		fmt.Println("No backends found.")
		return nil
	}

	fmt.Printf("%s%-24s %-20s %s%s\n", colorBold, "NAME", "HOST", "URL", colorReset)
	for _, b := range backends {
		fmt.Printf("%-24s %-20s %s\n", truncate(b.Name, 24), truncate(b.Host, 20), b.URL)
	}
	return nil
}
