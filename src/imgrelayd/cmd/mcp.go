package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/q-controller/imgrelay/src/pkg/settings"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serves process_image over MCP on stdio, with the HTTP endpoint alongside",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, configPathErr := cmd.Flags().GetString("config")
		if configPathErr != nil {
			return fmt.Errorf("failed to get config: %w", configPathErr)
		}

		config, configErr := settings.Load(configPath)
		if configErr != nil {
			return configErr
		}
		slog.Debug("Read config", "config", config)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return ServeMCP(ctx, config, &mcp.StdioTransport{})
	},
}

// ServeMCP runs the MCP server on transport and the HTTP endpoint that
// serves its artifact URLs. Both stop when the MCP client disconnects or
// ctx is cancelled.
func ServeMCP(ctx context.Context, config *settings.Config, transport mcp.Transport) (retErr error) {
	r, startErr := startRelay(config)
	if startErr != nil {
		return startErr
	}
	defer func() {
		retErr = errors.Join(retErr, r.Close())
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.serveHTTP(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return r.tool.ServeMCP(gctx, transport, Version)
	})
	return g.Wait()
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().StringP("config", "c", "", "Path to the server's config file (defaults are used when empty)")
}
