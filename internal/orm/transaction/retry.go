package transaction

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dynejs/db/internal/orm/connection"
	"github.com/dynejs/db/internal/orm/dberr"
)

const (
	// DefaultMaxRetries is the default number of attempts on conflicts
	DefaultMaxRetries = 3
	// DefaultBaseBackoff is the default base backoff duration
	DefaultBaseBackoff = 100 * time.Millisecond
)

// RetryConfig configures retry behavior for transactions
type RetryConfig struct {
	MaxRetries  int
	BaseBackoff time.Duration
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  DefaultMaxRetries,
		BaseBackoff: DefaultBaseBackoff,
	}
}

// WithRetry runs fn in a transaction, retrying with exponential backoff
// while the failure is a deadlock, serialization failure or busy database
func (m *Manager) WithRetry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context, db *connection.DB) error) error {
	var lastErr error

	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("transaction cancelled before attempt %d: %w", attempt+1, ctx.Err())
		}

		err := m.WithTransaction(ctx, fn)
		if err == nil {
			return nil
		}
		if !dberr.IsConflict(err) {
			return err
		}

		lastErr = err
		backoff := cfg.BaseBackoff * time.Duration(1<<uint(attempt))
		m.conn.Logger().Debug("retrying conflicting transaction",
			zap.Int("attempt", attempt+1), zap.Duration("backoff", backoff), zap.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("transaction cancelled during retry: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("%w: failed after %d attempts: %v", ErrConflict, cfg.MaxRetries, lastErr)
}
