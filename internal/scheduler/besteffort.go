package scheduler

import (
	"context"
	"fmt"

	"github.com/wearable-sync/internal/logging"
)

// BestEffort runs fn and only logs its error or panic. Downstream processing
// and notifications go through here so they can never fail a fetch.
func BestEffort(ctx context.Context, logger *logging.Logger, operation string, fn func(context.Context) error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.WithFields(map[string]interface{}{
				"operation": operation,
				"panic":     fmt.Sprint(rec),
			}).Error("Best-effort operation panicked")
		}
	}()

	if err := fn(ctx); err != nil {
		logger.WithError(err).WithField("operation", operation).Warn("Best-effort operation failed")
	}
}
