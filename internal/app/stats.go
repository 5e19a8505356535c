package app

import (
	"context"
	"fmt"
	"time"

	"ttrace/internal/ledger"
)

// Stats fetches the aggregated statistics. The daemon persists them as a side effect.
func (a *App) Stats(ctx context.Context, timeout time.Duration) (ledger.Stats, error) {
	var stats ledger.Stats
	err := a.withClient(ctx, timeout, func(ctx context.Context, client daemonClient) error {
		s, err := client.Stats(ctx)
		if err != nil {
			return fmt.Errorf("daemon stats request failed: %w", err)
		}
		stats = s
		return nil
	})
	return stats, err
}
