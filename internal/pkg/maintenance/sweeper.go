package maintenance

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CobroFox/internal/pkg/metrics"
)

// Sweeper flips pending debts past their due date to overdue.
type Sweeper struct {
	repo Repository
	now  func() time.Time
}

func NewSweeper(repo Repository, now func() time.Time) *Sweeper {
	if now == nil {
		now = time.Now
	}
	return &Sweeper{repo: repo, now: now}
}

// Sweep is idempotent: a second run finds nothing left to change.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	n, err := s.repo.MarkOverdueDebts(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Infof("[Sweeper] Marked %d debt(s) overdue", n)
		metrics.MaintenanceTransitions.WithLabelValues("debt_overdue").Add(float64(n))
	}
	return n, nil
}
