package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/badu/httpd/internal/config"
	"github.com/badu/httpd/message"
	"github.com/badu/httpd/middleware"
	"github.com/badu/httpd/router"
	"github.com/badu/httpd/server"
	"github.com/badu/httpd/timeout"
)

// newRootCmd builds the command tree, in the shape of the retrieval pack's
// docker-compose/ecs cmd/commands.NewRootCmd: a root command carrying
// persistent flags, with a single RunE doing the actual work (this binary
// has only one job, so there is one subcommand's worth of behavior on the
// root itself rather than a tree of verbs).
func newRootCmd() *cobra.Command {
	var (
		configPath string
		listen     string
		staticDir  string
		poolMin    int
		poolMax    int
	)

	cmd := &cobra.Command{
		Use:   "httpd",
		Short: "An experimental non-blocking HTTP/1.1 origin server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if cmd.Flags().Changed("listen") {
				cfg.Listen = listen
			}
			if cmd.Flags().Changed("static-dir") {
				cfg.StaticDir = staticDir
			}
			if cmd.Flags().Changed("pool-min") {
				cfg.Pool.Min = poolMin
			}
			if cmd.Flags().Changed("pool-max") {
				cfg.Pool.Max = poolMax
			}
			return run(cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "path to a YAML config file")
	flags.StringVar(&listen, "listen", ":8080", "address to listen on")
	flags.StringVar(&staticDir, "static-dir", "", "directory to serve static files from, if set")
	flags.IntVar(&poolMin, "pool-min", 2, "permanent worker pool floor")
	flags.IntVar(&poolMax, "pool-max", 32, "worker pool ceiling")

	return cmd
}

// run builds the route table and logger, then binds and serves until an
// interrupt stops it.
func run(cfg config.Config) error {
	logger := newStumpyLogger()

	if cfg.MaxHeaderBytes > 0 {
		message.MaxHeaderLineLength = cfg.MaxHeaderBytes
		message.MaxRequestLineLength = cfg.MaxHeaderBytes
	}

	b := router.NewBuilder()
	healthHandler := router.Handler(func(*message.Request) *message.Response {
		return message.NewResponse(200, []byte("ok"))
	})
	b.Handle(message.MethodGET, "/healthz", middleware.Logging(logger, healthHandler))
	if cfg.StaticDir != "" {
		staticHandler := middleware.Logging(logger, middleware.FileServer(cfg.StaticDir))
		b.Handle(message.MethodGET, "/", staticHandler)
		b.Handle(message.MethodHEAD, "/", staticHandler)
	}
	routes := b.Freeze()

	srv := server.New(server.Config{
		Timeouts: timeout.Policy{
			ReadRequestHead: cfg.Timeouts.ReadRequestHead,
			ReadRequestBody: cfg.Timeouts.ReadRequestBody,
			WriteResponse:   cfg.Timeouts.WriteResponse,
			KeepAliveIdle:   cfg.Timeouts.KeepAliveIdle,
		},
		PoolMin:          cfg.Pool.Min,
		PoolMax:          cfg.Pool.Max,
		PoolIdleInterval: cfg.Pool.IdleInterval,
		MaxBodyBuffer:    cfg.MaxBodyBuffer,
		ShutdownGrace:    cfg.ShutdownGrace,
		Logger:           logger,
	})

	if err := srv.Run(cfg.Listen, routes); err != nil {
		return fmt.Errorf("httpd: %w", err)
	}
	logger.Printf("httpd: listening on %s", srv.Addr())

	waitForSignal()
	logger.Printf("httpd: shutting down")

	done := make(chan error, 1)
	go func() { done <- srv.Wait() }()
	if err := srv.Shutdown(); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-time.After(cfg.ShutdownGrace + 5*time.Second):
		return fmt.Errorf("httpd: shutdown did not complete in time")
	}
}
