// Command safelink-sensord is the sensor's process entrypoint: it
// resolves configuration, opens the database, wires the capture,
// analysis, storage, broadcast, and learning components together with
// the metrics and control-surface layer, and runs until signaled.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "safelink-sensord",
	Short: "ARP spoofing and AITM network-defense sensor",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
