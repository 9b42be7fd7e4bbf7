package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var healthQueryAddr string

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Query a running sentinel's GET /health endpoint and pretty-print the response",
	RunE:  runHealth,
}

func init() {
	healthCmd.Flags().StringVar(&healthQueryAddr, "addr", "http://localhost:8080", "base address of the running sentinel's health server")
}

func runHealth(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(healthQueryAddr + "/health")
	if err != nil {
		return fmt.Errorf("query health endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read health response: %w", err)
	}

	var pretty map[string]any
	if err := json.Unmarshal(body, &pretty); err != nil {
		fmt.Println(string(body))
		return nil
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
