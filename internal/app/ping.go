package app

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Ping contacts the daemon and returns its health response, lowercased ("pong").
func (a *App) Ping(ctx context.Context, timeout time.Duration) (string, error) {
	var msg string
	err := a.withClient(ctx, timeout, func(ctx context.Context, client daemonClient) error {
		reply, err := client.Ping(ctx)
		if err != nil {
			return fmt.Errorf("daemon ping failed: %w", err)
		}
		msg = strings.ToLower(reply)
		return nil
	})
	return msg, err
}
