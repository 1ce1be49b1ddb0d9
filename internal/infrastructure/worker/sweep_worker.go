package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/service"
)

// Sweeper applies due timeouts, escalations and expirations
type Sweeper interface {
	Sweep(ctx context.Context, limit int) (*service.SweepReport, error)
}

// SweepObserver is told the outcome of every sweep
type SweepObserver func(report *service.SweepReport, err error)

// SweepWorkerConfig holds configuration for the sweep worker
type SweepWorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	SweepTimeout time.Duration
}

// DefaultSweepWorkerConfig returns default configuration
func DefaultSweepWorkerConfig() SweepWorkerConfig {
	return SweepWorkerConfig{
		PollInterval: time.Minute,
		BatchSize:    100,
		SweepTimeout: 30 * time.Second,
	}
}

// SweepStatus is a snapshot of the worker's counters
type SweepStatus struct {
	Running   bool
	Runs      int
	Applied   int
	Failed    int
	LastRun   time.Time
	LastError error
}

// SweepWorker periodically calls Sweeper.Sweep. One sweep runs at a time.
type SweepWorker struct {
	config   SweepWorkerConfig
	sweeper  Sweeper
	observer SweepObserver
	logger   *zap.Logger

	mu        sync.RWMutex
	cancel    context.CancelFunc
	done      chan struct{}
	isRunning bool
	runs      int
	applied   int
	failed    int
	lastRun   time.Time
	lastError error
}

// NewSweepWorker creates a sweep worker. observer may be nil.
func NewSweepWorker(config SweepWorkerConfig, sweeper Sweeper, observer SweepObserver, logger *zap.Logger) *SweepWorker {
	defaults := DefaultSweepWorkerConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.SweepTimeout <= 0 {
		config.SweepTimeout = defaults.SweepTimeout
	}
	return &SweepWorker{
		config:   config,
		sweeper:  sweeper,
		observer: observer,
		logger:   logger,
	}
}

// Start begins the polling loop
func (w *SweepWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isRunning {
		return fmt.Errorf("sweep worker already running")
	}

	var loopCtx context.Context
	loopCtx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.isRunning = true

	w.logger.Info("SweepWorker started",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Int("batch_size", w.config.BatchSize))

	go w.pollLoop(loopCtx, w.done)
	return nil
}

// Stop cancels the loop and waits for an in-flight sweep to return
func (w *SweepWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	status := w.Status()
	w.logger.Info("SweepWorker stopped",
		zap.Int("runs", status.Runs),
		zap.Int("applied", status.Applied),
		zap.Int("failed", status.Failed))
	return nil
}

// Name returns the worker name for identification
func (w *SweepWorker) Name() string {
	return "SweepWorker"
}

// Status returns the current counters
func (w *SweepWorker) Status() SweepStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return SweepStatus{
		Running:   w.isRunning,
		Runs:      w.runs,
		Applied:   w.applied,
		Failed:    w.failed,
		LastRun:   w.lastRun,
		LastError: w.lastError,
	}
}

func (w *SweepWorker) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep with the configured timeout
func (w *SweepWorker) RunOnce(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, w.config.SweepTimeout)
	defer cancel()

	report, err := w.sweeper.Sweep(sweepCtx, w.config.BatchSize)

	w.mu.Lock()
	w.runs++
	w.lastRun = time.Now()
	w.lastError = err
	if report != nil {
		w.applied += report.Applied
		w.failed += report.Failed
	}
	w.mu.Unlock()

	if w.observer != nil {
		w.observer(report, err)
	}

	if err != nil {
		w.logger.Error("Sweep failed", zap.Error(err))
		return
	}
	if report != nil && report.Applied+report.Failed > 0 {
		w.logger.Info("Sweep applied timeouts",
			zap.Int("scanned", report.Scanned),
			zap.Int("applied", report.Applied),
			zap.Int("escalated", report.Escalated),
			zap.Int("expired", report.Expired),
			zap.Int("completed", report.Completed),
			zap.Int("failed", report.Failed))
	}
}
