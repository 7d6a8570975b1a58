// Command mockserver runs the in-memory gallery backend for local development.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/evlasova/capgallery/internal/mockserver"
)

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	prefix := flag.String("prefix", "/api/v1", "base path prefix")
	jwtKey := flag.String("jwt-key", "", "HS256 signing key (required)")
	accessTTL := flag.Duration("access-ttl", 15*time.Minute, "access token TTL")
	noPatch := flag.Bool("no-patch", false, "answer 405 to PATCH (exercises PUT fallback)")
	flag.Parse()

	_ = godotenv.Load()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	if *jwtKey == "" {
		*jwtKey = os.Getenv("CAPGALLERY_JWT_KEY")
	}
	if *jwtKey == "" {
		logger.Fatal("missing jwt signing key (--jwt-key or CAPGALLERY_JWT_KEY)")
	}

	opts := []mockserver.Option{
		mockserver.WithLogger(logger),
		mockserver.WithAccessTTL(*accessTTL),
	}
	if *noPatch {
		opts = append(opts, mockserver.WithoutPatch())
	}
	srv := mockserver.New([]byte(*jwtKey), opts...)

	root := chi.NewRouter()
	root.Mount(*prefix, srv.Router())

	hs := &http.Server{
		Addr:              *addr,
		Handler:           root,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", *addr), zap.String("prefix", *prefix))
		errCh <- hs.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hs.Shutdown(shutdownCtx); err != nil {
			_ = hs.Close()
		}
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
