// Command meshserver runs a single mesh storage node: a Put/Get address
// substrate exposed over HTTP, suitable as one of the N unlinkable storage
// addresses a Magic Ratchet session writes to and reads from.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/zentalk-labs/magicratchet/pkg/meshstore"
	"github.com/zentalk-labs/magicratchet/pkg/meshstore/api"
)

func main() {
	port := flag.Int("port", 8080, "HTTP API port")
	dataDir := flag.String("data", "./mesh-data", "data directory for the address store")
	enableCORS := flag.Bool("cors", true, "enable CORS headers")
	rateLimit := flag.Int("rate-limit", 600, "rate limit (requests per minute per client)")
	maxUploadMB := flag.Int("max-upload", 16, "multipart form memory limit in MB (PUT bodies are always capped at 16 MB)")
	logJSON := flag.Bool("log-json", false, "emit structured JSON logs instead of text")
	flag.Parse()

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if *logJSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	store, err := meshstore.Open(*dataDir, logger.With("component", "meshstore"))
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	server := api.NewServer(store, &api.Config{
		Port:            *port,
		EnableCORS:      *enableCORS,
		RateLimit:       *rateLimit,
		MaxUploadSizeMB: *maxUploadMB,
	}, logger.With("component", "api"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("shutdown signal received")
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			logger.Error("server exited with error", "error", err)
			os.Exit(1)
		}
	}
}
