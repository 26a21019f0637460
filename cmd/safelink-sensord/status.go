package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var (
	statusAddrFlag string

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Query a running sensor's sniffer status over the control surface",
		RunE:  runStatus,
	}
)

func init() {
	statusCmd.Flags().StringVarP(&statusAddrFlag, "addr", "a", "http://127.0.0.1:8765",
		"Base URL of the running sensor's control surface")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(statusAddrFlag + "/sniffer/status")
	if err != nil {
		return fmt.Errorf("query sniffer status: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("control surface returned %s: %s", resp.Status, body)
	}

	var pretty map[string]any
	if err := json.Unmarshal(body, &pretty); err != nil {
		fmt.Println(string(body))
		return nil
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Println(string(out))
	return nil
}
