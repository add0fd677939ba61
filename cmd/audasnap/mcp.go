package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/audasnap/harvest"
)

func mcpCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the audasnap tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout carries the protocol; logs go to stderr.
			a, err := opts.load(os.Stderr)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			h, err := a.harvester(context.WithoutCancel(ctx))
			if err != nil {
				return err
			}
			defer h.Close()

			srv := mcp.NewServer(&mcp.Implementation{Name: "audasnap", Version: version}, nil)
			tools := &harvest.Tools{Extractor: h, Archive: a.arc}
			tools.RegisterMCP(srv)

			return srv.Run(ctx, &mcp.StdioTransport{})
		},
	}
}
