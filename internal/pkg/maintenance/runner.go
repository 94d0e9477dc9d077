package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
)

// Runner executes one maintenance tick: the debt sweep, then the
// subscription lifecycle. Overlapping calls are serialized.
type Runner struct {
	mu      sync.Mutex
	sweeper *Sweeper
	engine  *Engine
}

func NewRunner(repo Repository, notifier Notifier, cfg Config, now func() time.Time) (*Runner, error) {
	engine, err := NewEngine(repo, notifier, cfg, now)
	if err != nil {
		return nil, err
	}
	return &Runner{sweeper: NewSweeper(repo, now), engine: engine}, nil
}

func NewRunnerFromDB(db *gorm.DB, notifier Notifier, cfg Config) (*Runner, error) {
	return NewRunner(NewRepository(db), notifier, cfg, time.Now)
}

// Location is the zone ticks are aligned to.
func (r *Runner) Location() *time.Location {
	return r.engine.cfg.Location
}

func (r *Runner) RunOnce(ctx context.Context) (Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	overdue, err := r.sweeper.Sweep(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("debt sweep: %w", err)
	}
	report, err := r.engine.Run(ctx)
	report.DebtsOverdue = overdue
	return report, err
}
