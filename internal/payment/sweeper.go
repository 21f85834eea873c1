package payment

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pasalku/payment-gateway/internal"
	datamodel "github.com/pasalku/payment-gateway/internal/core/datamodel/session"
	"github.com/pasalku/payment-gateway/internal/provider"
	sessionpkg "github.com/pasalku/payment-gateway/internal/session"
)

type SweepJob struct {
	QRID     string
	Provider string
}

type sweepWorker struct {
	ID         int
	WorkerPool chan chan SweepJob
	JobChannel chan SweepJob
	Logger     *slog.Logger
}

func newSweepWorker(id int, workerPool chan chan SweepJob, logger *slog.Logger) *sweepWorker {
	return &sweepWorker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan SweepJob),
		Logger:     logger,
	}
}

func (w *sweepWorker) Start(ctx context.Context, wg *sync.WaitGroup, processFunc func(context.Context, SweepJob)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {

			w.WorkerPool <- w.JobChannel

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("sweep worker processing session", "worker_id", w.ID, "qr_id", job.QRID)
				processFunc(ctx, job)
			case <-ctx.Done():
				w.Logger.Debug("sweep worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

type SweeperConfig struct {
	MaxWorkers    int
	JobQueueSize  int
	BatchSize     int
	SweepInterval time.Duration
}

// Sweeper periodically lists sessions still pending and runs one
// reconciliation poll for each, so sessions abandoned by their client still
// converge on the state the provider knows about.
type Sweeper struct {
	registry   *provider.Registry
	store      sessionpkg.Store
	reconciler *Reconciler
	logger     *slog.Logger

	batchSize     int
	sweepInterval time.Duration

	jobQueue   chan SweepJob
	workerPool chan chan SweepJob
	maxWorkers int
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	once       sync.Once
}

func NewSweeper(config SweeperConfig, registry *provider.Registry, store sessionpkg.Store, reconciler *Reconciler, logger *slog.Logger) *Sweeper {
	ctx, cancel := context.WithCancel(context.Background())

	maxWorkers := config.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	jobQueueSize := config.JobQueueSize
	if jobQueueSize <= 0 {
		jobQueueSize = 100
	}

	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	sweepInterval := config.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}

	return &Sweeper{
		registry:   registry,
		store:      store,
		reconciler: reconciler,
		logger:     logger,

		batchSize:     batchSize,
		sweepInterval: sweepInterval,

		maxWorkers: maxWorkers,
		jobQueue:   make(chan SweepJob, jobQueueSize),
		workerPool: make(chan chan SweepJob, maxWorkers),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (s *Sweeper) Start() {
	s.once.Do(func() {

		for i := 0; i < s.maxWorkers; i++ {
			worker := newSweepWorker(i, s.workerPool, s.logger)
			worker.Start(s.ctx, &s.wg, s.processSweepJob)
		}

		s.wg.Add(2)
		go s.dispatch()
		go s.sweepLoop()

		s.logger.Info("session sweeper started",
			"max_workers", s.maxWorkers,
			"batch_size", s.batchSize,
			"sweep_interval", s.sweepInterval)
	})
}

func (s *Sweeper) dispatch() {
	defer s.wg.Done()

	for {
		select {
		case job := <-s.jobQueue:

			select {
			case jobChannel := <-s.workerPool:

				select {
				case jobChannel <- job:

				case <-s.ctx.Done():
					s.logger.Info("sweep dispatcher shutting down")
					return
				}
			case <-s.ctx.Done():
				s.logger.Info("sweep dispatcher shutting down")
				return
			}
		case <-s.ctx.Done():
			s.logger.Info("sweep dispatcher shutting down")
			return
		}
	}
}

func (s *Sweeper) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.enqueuePending()
		case <-s.ctx.Done():
			s.logger.Info("sweep loop shutting down")
			return
		}
	}
}

func (s *Sweeper) enqueuePending() {
	pending, err := s.store.ListPending(s.batchSize)
	if err != nil {
		s.logger.Error("failed to list pending sessions", "error", err)
		return
	}

	queued := 0
	for _, sess := range pending {
		job := SweepJob{QRID: sess.QRID, Provider: sess.Provider}

		select {
		case s.jobQueue <- job:
			queued++
		default:
			s.logger.Warn("sweep job queue full, deferring remaining sessions",
				"queued", queued,
				"pending", len(pending))
			return
		}
	}

	if queued > 0 {
		s.logger.Info("queued pending sessions for sweep", "count", queued)
	}
}

func (s *Sweeper) processSweepJob(ctx context.Context, job SweepJob) {
	ctx, cancel := internal.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	adapter, err := s.registry.Resolve(job.Provider)
	if err != nil {
		s.logger.Error("sweep: unsupported provider on session",
			"qr_id", job.QRID,
			"provider", job.Provider)
		return
	}

	normalized, err := adapter.CheckStatus(ctx, job.QRID)
	if err != nil {
		// transient; the next sweep picks the session up again
		s.logger.Warn("sweep: status check failed",
			"qr_id", job.QRID,
			"provider", job.Provider,
			"error", err)
		return
	}

	updated, err := s.reconciler.Reconcile(ctx, job.QRID, normalized, datamodel.SourcePoll)
	if err != nil {
		s.logger.Error("sweep: reconciliation failed",
			"qr_id", job.QRID,
			"error", err)
		return
	}

	if updated.IsTerminal() {
		s.logger.Info("sweep: session resolved",
			"qr_id", job.QRID,
			"status", updated.Status)
	}
}

func (s *Sweeper) Shutdown() {
	s.logger.Info("shutting down session sweeper")
	s.cancel()
	s.wg.Wait()
	s.logger.Info("session sweeper shutdown complete")
}
