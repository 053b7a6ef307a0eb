package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/zeropr/onion/internal/log"
)

const shutdownTimeout = 5 * time.Second

// node is one HTTP node of the overlay.
type node interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

// listener binds a node to the address it serves on.
type listener struct {
	name string
	addr string
	node node
}

// serve runs every listener until SIGINT/SIGTERM or until one of them fails,
// then shuts them all down. SIGHUP rotates the log.
func serve(backend *log.Backend, logger *logging.Logger, listeners []listener) error {
	defer backend.Close()

	// Setup the signal handling.
	haltCh := make(chan os.Signal, 1)
	signal.Notify(haltCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(haltCh)

	rotateCh := make(chan os.Signal, 1)
	signal.Notify(rotateCh, syscall.SIGHUP)
	defer signal.Stop(rotateCh)

	errCh := make(chan error, len(listeners))
	for _, l := range listeners {
		go func(l listener) {
			if err := l.node.ListenAndServe(l.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("%s: %w", l.name, err)
			}
		}(l)
	}

	var err error
wait:
	for {
		select {
		case <-haltCh:
			logger.Notice("Shutting down...")
			break wait
		case <-rotateCh:
			if rerr := backend.Rotate(); rerr != nil {
				logger.Errorf("Failed to rotate log: %v", rerr)
			}
		case err = <-errCh:
			logger.Errorf("Node failed: %v", err)
			break wait
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, l := range listeners {
		if serr := l.node.Shutdown(ctx); serr != nil {
			logger.Warningf("%s forced to shutdown: %v", l.name, serr)
		}
	}

	logger.Notice("Stopped")
	return err
}
