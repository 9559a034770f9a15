package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spherical/booklet-extractor/internal/api"
	"github.com/spherical/booklet-extractor/pkg/extractor"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the conversion HTTP API",
	Long: `Run an HTTP API that accepts booklet uploads and serves conversion results.

  POST /v1/conversions                      multipart upload (field "file")
  GET  /v1/conversions                      recent runs
  GET  /v1/conversions/{id}                 run detail with figures and links
  GET  /v1/conversions/{id}/markdown        converted Markdown
  GET  /v1/conversions/{id}/images/{name}   extracted figure

Each conversion is written to <output.dir>/<run-id>/.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (default: server.host)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (default: server.port)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}

	logger := newLogger(cfg, "")

	client, err := extractor.NewClientWithConfig(cfg, extractor.WithLogger(logger))
	if err != nil {
		return err
	}
	defer client.Close()

	var history api.History
	if cfg.Database.Enabled {
		h, err := openHistory(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("open run history: %w", err)
		}
		defer h.Close()
		history = h
	}

	router := api.NewRouter(logger, client.Converter(), history, api.Config{
		OutputRoot:     cfg.Output.Dir,
		ImagesDir:      cfg.Output.ImagesDir,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		RequestTimeout: cfg.Server.RequestTimeout,
		ServiceName:    cfg.Observability.ServiceName,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	logger.Info().
		Str("addr", addr).
		Str("layout", cfg.Layout.Engine).
		Str("cache", cfg.Cache.Driver).
		Bool("history", history != nil).
		Msg("Starting booklet-extractor API")

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case <-cmd.Context().Done():
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("Forced shutdown failed")
		}
	}

	logger.Info().Msg("Server stopped")
	return nil
}
