package jobqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CobroFox/internal/pkg/maintenance"
	metrics "github.com/ManuelReschke/CobroFox/internal/pkg/metrics/counter"
)

// DefaultWorkers is the worker count of the global queue.
var DefaultWorkers = 5

// MaintenanceRunner is the periodic debt sweep and subscription lifecycle run.
type MaintenanceRunner interface {
	RunOnce(ctx context.Context) (maintenance.Report, error)
	Location() *time.Location
}

// Manager manages the global job queue and background tasks
type Manager struct {
	queue              *Queue
	maintenance        MaintenanceRunner
	flushCounters      func(ctx context.Context) error
	counterFlushTicker *time.Ticker
	stopCh             chan struct{}
	cancel             context.CancelFunc
	wg                 sync.WaitGroup
	mu                 sync.Mutex
	running            bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		globalManager = NewManager(NewQueue(DefaultWorkers))
	})
	return globalManager
}

func NewManager(queue *Queue) *Manager {
	return &Manager{
		queue:         queue,
		flushCounters: metrics.FlushAll,
		stopCh:        make(chan struct{}),
	}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// SetMaintenance registers the runner executed on every quarter hour.
// It must be called before Start.
func (m *Manager) SetMaintenance(r MaintenanceRunner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maintenance = r
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	// Start the job queue
	m.queue.Start()

	// Start counter flush worker (Redis -> DB) every 5 seconds
	m.counterFlushTicker = time.NewTicker(5 * time.Second)
	m.wg.Add(1)
	go m.counterFlushWorker(ctx, m.stopCh)

	if m.maintenance != nil {
		m.wg.Add(1)
		go m.maintenanceWorker(ctx, m.maintenance, m.stopCh)
	} else {
		log.Warn("[JobQueue Manager] No maintenance runner registered, scheduled maintenance disabled")
	}

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.counterFlushTicker != nil {
		m.counterFlushTicker.Stop()
	}

	// Signal workers to stop and abort an in-flight maintenance run
	close(m.stopCh)
	m.cancel()
	m.running = false

	// Wait for background workers to finish
	m.wg.Wait()

	// Final flush so no usage increments are stranded in Redis
	if err := m.flushCounters(context.Background()); err != nil {
		log.Errorf("[JobQueue Manager] Final counter flush error: %v", err)
	}

	// Stop the job queue
	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// counterFlushWorker periodically flushes usage counters from Redis to DB
func (m *Manager) counterFlushWorker(ctx context.Context, stopCh <-chan struct{}) {
	defer m.wg.Done()
	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue Manager] Counter flush worker stopping")
			return
		case <-m.counterFlushTicker.C:
			if err := m.flushCounters(ctx); err != nil {
				log.Errorf("[JobQueue Manager] Counter flush error: %v", err)
			}
		}
	}
}

// maintenanceWorker fires at :00, :15, :30 and :45 in the runner's timezone.
func (m *Manager) maintenanceWorker(ctx context.Context, runner MaintenanceRunner, stopCh <-chan struct{}) {
	defer m.wg.Done()
	loc := runner.Location()
	log.Infof("[JobQueue Manager] Started maintenance worker (every %s, %s)", maintenance.TickInterval, loc)

	for {
		next := maintenance.NextTick(time.Now(), maintenance.TickInterval, loc)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-stopCh:
			timer.Stop()
			log.Info("[JobQueue Manager] Maintenance worker stopping")
			return
		case <-timer.C:
			m.runMaintenance(ctx, runner)
		}
	}
}

func (m *Manager) runMaintenance(ctx context.Context, runner MaintenanceRunner) {
	start := time.Now()
	report, err := runner.RunOnce(ctx)
	if err != nil {
		log.Errorf("[JobQueue Manager] Maintenance run failed: %v", err)
		return
	}
	log.Debugf("[JobQueue Manager] Maintenance run finished in %s: %+v", time.Since(start), report)
}

// RunMaintenanceOnce exposes a manual trigger for a single maintenance run (admin use).
func (m *Manager) RunMaintenanceOnce(ctx context.Context) (maintenance.Report, error) {
	m.mu.Lock()
	runner := m.maintenance
	m.mu.Unlock()
	if runner == nil {
		return maintenance.Report{}, errors.New("maintenance runner not configured")
	}
	return runner.RunOnce(ctx)
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
