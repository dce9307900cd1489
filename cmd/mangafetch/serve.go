package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/mangafetch/kit"
	"github.com/hazyhaar/mangafetch/scrape"
	"github.com/hazyhaar/mangafetch/shield"
)

var (
	serveAddr     string
	serveMCPStdio bool
	clientRPM     int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the scrape API over HTTP (and MCP over HTTP or stdio).",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", env("MANGAFETCH_ADDR", ":8090"), "HTTP listen address")
	serveCmd.Flags().BoolVar(&serveMCPStdio, "mcp-stdio", false, "serve MCP on stdin/stdout instead of HTTP")
	serveCmd.Flags().IntVar(&clientRPM, "client-rpm", 120, "per-client requests per minute on the HTTP API (0 disables)")
}

func newMCPServer(s *scrape.Scraper) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "mangafetch", Version: "1.0.0"}, nil)
	s.RegisterMCP(srv)
	return srv
}

func newRouter(s *scrape.Scraper, mcpSrv *mcp.Server, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(shield.StackConfig{
		Logger:         logger,
		ClientRequests: clientRPM,
		ClientWindow:   time.Minute,
		Exclude:        []string{"/healthz", "/health"},
	}) {
		r.Use(mw)
	}
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		kit.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.Routes(r)
	r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil))
	return r
}

func serve(ctx context.Context) error {
	logger := slog.Default()
	s, err := openScraper()
	if err != nil {
		return err
	}
	defer s.Close()

	bgCtx, stopBg := context.WithCancel(ctx)
	defer stopBg()
	go s.Run(bgCtx)

	mcpSrv := newMCPServer(s)
	if serveMCPStdio {
		logger.Info("mcp: serving on stdio")
		if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	srv := &http.Server{
		Addr:              serveAddr,
		Handler:           newRouter(s, mcpSrv, logger),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", serveAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	// In-flight scrapes return ErrAborted instead of holding the shutdown.
	if n := s.AbortAll(); n > 0 {
		logger.Info("aborted in-flight scrapes", "count", n)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	logger.Info("server stopped")
	return nil
}
