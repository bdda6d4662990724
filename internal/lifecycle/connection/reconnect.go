package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"lifecycle/internal/lifecycle"
)

// ErrReconnectDisabled is returned by Reconnect when the policy allows no
// attempts.
var ErrReconnectDisabled = errors.New("reconnect disabled")

// ReconnectPolicy bounds explicit reconnection. The zero value disables it,
// leaving a FAILED manager FAILED until Connect is called again.
type ReconnectPolicy struct {
	MaxAttempts     uint          `env:"KAFKA_RECONNECT_MAX_ATTEMPTS" envDefault:"0"`
	InitialInterval time.Duration `env:"KAFKA_RECONNECT_INITIAL_INTERVAL" envDefault:"500ms"`
	MaxInterval     time.Duration `env:"KAFKA_RECONNECT_MAX_INTERVAL" envDefault:"30s"`
	CheckInterval   time.Duration `env:"KAFKA_RECONNECT_CHECK_INTERVAL" envDefault:"5s"`
}

// Enabled reports whether the policy allows any reconnect attempt.
func (p ReconnectPolicy) Enabled() bool {
	return p.MaxAttempts > 0
}

func (p ReconnectPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	return b
}

// Reconnect calls Connect with exponential backoff until it succeeds, the
// policy's attempts run out, or ctx is done. It runs on the caller's
// goroutine and never on the publish path.
func (m *Manager) Reconnect(ctx context.Context) (lifecycle.Handle, error) {
	if !m.policy.Enabled() {
		return nil, ErrReconnectDisabled
	}

	h, err := backoff.Retry(
		ctx,
		func() (lifecycle.Handle, error) {
			h, err := m.Connect(ctx)
			if errors.Is(err, ErrClosed) {
				return nil, backoff.Permanent(err)
			}
			return h, err
		},
		backoff.WithBackOff(m.policy.backOff()),
		backoff.WithMaxTries(m.policy.MaxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.logger.Debug("reconnect attempt failed", zap.Duration("next", next), zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to reconnect after %d attempts: %w", m.policy.MaxAttempts, err)
	}

	return h, nil
}

// Watch reconnects in the background whenever the manager is FAILED. It
// returns when ctx is done or immediately if reconnect is disabled.
func (m *Manager) Watch(ctx context.Context) {
	if !m.policy.Enabled() {
		return
	}

	interval := m.policy.CheckInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.State() != lifecycle.Failed {
				continue
			}
			if _, err := m.Reconnect(ctx); err != nil {
				m.logger.Warn("broker still unavailable", zap.Error(err))
			}
		}
	}
}
