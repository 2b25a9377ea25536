package pvpmatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/park285/pawnline-match-server/internal/obslog"
)

// Sweeper periodically abandons idle matches.
type Sweeper struct {
	m        *Manager
	interval time.Duration
}

func NewSweeper(m *Manager, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{m: m, interval: interval}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	obslog.L().Info("sweeper_start", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			obslog.L().Info("sweeper_stop")
			return
		case <-t.C:
			n, err := s.m.SweepExpired(ctx, s.m.now())
			if err != nil { // 다음 주기에 다시 시도
				obslog.L().Warn("sweep_error", zap.Error(err))
				continue
			}
			if n > 0 {
				obslog.L().Info("sweep_done", zap.Int("expired", n))
			}
		}
	}
}
