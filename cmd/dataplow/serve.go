package main

import (
	"fmt"
	"net"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/saltyorg/dataplow/internal/scheduler"
	"github.com/saltyorg/dataplow/internal/web"
	"github.com/saltyorg/dataplow/internal/web/handlers"
)

func serveCmd() *cobra.Command {
	var (
		port        int
		bind        string
		allowSubnet string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run scheduled jobs",
		RunE: withApp(func(cmd *cobra.Command, args []string, a *app) error {
			// Check for PORT env var if flag not set
			if port == 0 {
				if envPort := os.Getenv("PORT"); envPort != "" {
					if _, err := fmt.Sscanf(envPort, "%d", &port); err != nil {
						return fmt.Errorf("invalid PORT environment variable %q: %w", envPort, err)
					}
				}
			}
			if port == 0 {
				return fmt.Errorf("--port flag or PORT environment variable is required")
			}

			if bind != "" {
				if ip := net.ParseIP(bind); ip == nil {
					return fmt.Errorf("invalid bind address: %s", bind)
				}
			}

			var allowedNet *net.IPNet
			if allowSubnet != "" {
				_, parsedNet, err := net.ParseCIDR(allowSubnet)
				if err != nil {
					return fmt.Errorf("invalid allow-subnet CIDR: %s", allowSubnet)
				}
				allowedNet = parsedNet
			}

			if (bind == "" || bind == "0.0.0.0" || bind == "::") && allowSubnet == "" {
				log.Warn().Msg("Server is accessible from all interfaces without subnet restrictions. Consider using --bind or --allow-subnet for security.")
			}

			sched := scheduler.New(a.repo, a.db)
			if err := sched.Configure(a.opts); err != nil {
				return err
			}
			sched.Start()
			defer sched.Stop()

			h := handlers.New(a.repo, a.db, sched, a.opts.PageSize)
			server := web.NewServer(h, port, bind, allowedNet)

			log.Info().
				Str("version", version).
				Int("port", port).
				Str("bind", bind).
				Str("allow_subnet", allowSubnet).
				Str("database", a.db.Path()).
				Msg("Starting Dataplow")

			if err := server.Start(cmd.Context()); err != nil {
				return fmt.Errorf("server error: %w", err)
			}

			log.Info().Msg("Dataplow stopped")
			return nil
		}),
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP server port (required, or set PORT env var)")
	cmd.Flags().StringVarP(&bind, "bind", "b", "", "IP address to bind to (e.g., 127.0.0.1, 0.0.0.0)")
	cmd.Flags().StringVarP(&allowSubnet, "allow-subnet", "a", "", "CIDR subnet allowed to connect (e.g., 192.168.1.0/24)")
	return cmd
}
