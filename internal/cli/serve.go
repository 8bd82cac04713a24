// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wolfgrimmm/comfyui-runpod-installer/internal/server"
)

func newServeCmd(ro *RootOpts) *cobra.Command {
	var (
		addr      string
		port      int
		modelsDir string
		conns     int
		active    int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the download-manager HTTP API",
		Long: `Start an HTTP server exposing download management for the control panel:
start, list, inspect and cancel model downloads.

Output paths are configured server-side only (not via API) for security.

Example:
  modeldl serve
  modeldl serve --port 3000 --models-dir ./ComfyUI/models`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := server.DefaultConfig()
			cfg.Addr = addr
			cfg.Port = port
			cfg.ModelsDir = modelsDir
			cfg.CacheDir = ro.CacheDir
			cfg.Connections = conns
			cfg.MaxActive = active
			cfg.Token = resolveToken(ro)

			srv := server.New(cfg, cmd.Root().Version)

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "0.0.0.0", "Address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	cmd.Flags().StringVar(&modelsDir, "models-dir", "./Models", "Output directory for models")
	cmd.Flags().IntVarP(&conns, "connections", "c", 16, "Connections per large file")
	cmd.Flags().IntVar(&active, "max-active", 3, "Max concurrent downloads")

	return cmd
}
