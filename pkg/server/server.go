package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// DefaultShutdownTimeout bounds how long in-flight requests may drain.
const DefaultShutdownTimeout = 10 * time.Second

// Serve runs srv on ln until ctx is cancelled, then shuts it down gracefully.
// It returns only after in-flight requests have drained or grace elapsed, so
// resources closed by the caller afterwards are no longer in use.
func Serve(ctx context.Context, srv *http.Server, ln net.Listener, logger zerolog.Logger, grace time.Duration) error {
	if grace <= 0 {
		grace = DefaultShutdownTimeout
	}

	drained := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
		defer cancel()
		drained <- srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", ln.Addr().String()).Msg("listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	// Serve returns as soon as Shutdown begins.
	if err := <-drained; err != nil {
		logger.Error().Err(err).Msg("server shutdown")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func ListenAndServe(ctx context.Context, srv *http.Server, addr string, logger zerolog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return Serve(ctx, srv, ln, logger, DefaultShutdownTimeout)
}
