package main

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/aretw0/stratum"
	"github.com/aretw0/stratum/pkg/adapters/mcp"
	"github.com/spf13/cobra"
)

// mcpCmd represents the mcp command
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Starts a coordinator node as an MCP Server.
This allows AI agents to execute strategies and inspect sessions as tools.

Supported Transports:
- stdio (default): Uses Standard Input/Output. Ideal for local process integration.
- sse: Uses Server-Sent Events over HTTP. Ideal for remote agents or debuggers.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		transport, _ := cmd.Flags().GetString("transport")
		port, _ := cmd.Flags().GetInt("port")

		sc := newSignalContext(cmd)
		defer sc.Cancel()

		rt, err := openRuntime(sc)
		if err != nil {
			return err
		}
		defer rt.Close()

		srv := mcp.NewServer(rt.Coordinator, strings.TrimSpace(stratum.Version), mcp.WithLogger(logger))

		switch transport {
		case "stdio":
			// Ensure logs don't corrupt JSON-RPC on Stdout
			log.SetOutput(os.Stderr)
			logger.Info("Starting Stratum MCP Server (Stdio)", "node", rt.Coordinator.NodeID())
			return srv.ServeStdio()
		case "sse":
			logger.Info("Starting Stratum MCP Server (SSE)", "node", rt.Coordinator.NodeID(), "port", port)
			if err := srv.ServeSSE(sc, port); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			logger.Info("MCP Server stopped gracefully")
			return nil
		default:
			return fmt.Errorf("unknown transport: %s. Supported: stdio, sse", transport)
		}
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().String("transport", "stdio", "Transport type: stdio or sse")
	mcpCmd.Flags().Int("port", 8080, "Port for SSE server")
}
