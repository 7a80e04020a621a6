package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rmax-ai/acebot/pkg/client"
	"github.com/rmax-ai/acebot/pkg/mcp"
)

func main() {
	var endpoint, channel string
	cmd := &cobra.Command{
		Use:   "acebot-mcp",
		Short: "Expose acebot-d card views to MCP clients over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return mcp.NewServer(endpoint, channel).Serve()
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", envOr("ACEBOT_ENDPOINT", client.DefaultEndpoint), "daemon URL")
	cmd.Flags().StringVar(&channel, "channel", "mcp", "host channel the tools act on")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "acebot-mcp: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
