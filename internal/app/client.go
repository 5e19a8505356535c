package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ttrace/internal/daemon"
	"ttrace/internal/ledger"
	"ttrace/internal/protocol"
)

// ErrNotRunning is returned when no daemon answers on the configured socket.
// It wraps daemon.ErrDaemonUnreachable.
var ErrNotRunning = fmt.Errorf("daemon is not running (%w)", daemon.ErrDaemonUnreachable)

// daemonClient is the part of daemon.Client the facade uses.
type daemonClient interface {
	Ping(ctx context.Context) (string, error)
	Send(ctx context.Context, req protocol.Request) error
	Stats(ctx context.Context) (ledger.Stats, error)
}

var (
	daemonIsRunning = daemon.IsRunning
	newDaemonClient = func(socketPath string) daemonClient {
		return daemon.NewClient(socketPath)
	}
)

func resetDaemonDeps() {
	daemonIsRunning = daemon.IsRunning
	newDaemonClient = func(socketPath string) daemonClient {
		return daemon.NewClient(socketPath)
	}
}

// withClient checks that the daemon is up before handing a client to fn.
func (a *App) withClient(ctx context.Context, timeout time.Duration, fn func(context.Context, daemonClient) error) error {
	if timeout <= 0 {
		return errors.New("timeout must be greater than 0")
	}
	cfg, err := a.Config()
	if err != nil {
		return err
	}
	if !daemonIsRunning(cfg.SocketPath) {
		return ErrNotRunning
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return fn(ctx, newDaemonClient(cfg.SocketPath))
}

// send skips the liveness probe: hooks run on every prompt and one
// connection is all they can afford.
func (a *App) send(ctx context.Context, timeout time.Duration, req protocol.Request) error {
	if timeout <= 0 {
		return errors.New("timeout must be greater than 0")
	}
	cfg, err := a.Config()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return newDaemonClient(cfg.SocketPath).Send(ctx, req)
}
