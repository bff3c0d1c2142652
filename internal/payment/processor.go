package payment

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/tagfinder/internal/paymentgateway"
	"gorm.io/datatypes"
)

// EnrichmentJob asks for the gateway's view of a captured payment.
type EnrichmentJob struct {
	RecordID  int64
	PaymentID string
}

type detailStore interface {
	SaveDetails(ctx context.Context, id int64, details datatypes.JSON) error
}

type Worker struct {
	ID         int
	WorkerPool chan chan EnrichmentJob
	JobChannel chan EnrichmentJob
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan EnrichmentJob, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan EnrichmentJob),
		Logger:     logger,
	}
}

func (w *Worker) Start(quit <-chan struct{}, wg *sync.WaitGroup, process func(EnrichmentJob)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			w.WorkerPool <- w.JobChannel

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("worker processing job", "worker_id", w.ID, "payment_id", job.PaymentID)
				process(job)
			case <-quit:
				w.Logger.Debug("worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

type ProcessorConfig struct {
	MaxWorkers   int
	JobQueueSize int
	FetchTimeout time.Duration
}

// DetailProcessor fetches payment details off the request path and stores
// them on the record. Jobs are dropped when the queue is full.
type DetailProcessor struct {
	gateway paymentgateway.Gateway
	store   detailStore
	timeout time.Duration
	logger  *slog.Logger

	jobQueue   chan EnrichmentJob
	workerPool chan chan EnrichmentJob
	maxWorkers int
	quit       chan struct{}

	// ctx is cancelled only when a shutdown deadline expires.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewDetailProcessor(cfg ProcessorConfig, gateway paymentgateway.Gateway, store detailStore, logger *slog.Logger) *DetailProcessor {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.JobQueueSize <= 0 {
		cfg.JobQueueSize = 100
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &DetailProcessor{
		gateway:    gateway,
		store:      store,
		timeout:    cfg.FetchTimeout,
		logger:     logger,
		jobQueue:   make(chan EnrichmentJob, cfg.JobQueueSize),
		workerPool: make(chan chan EnrichmentJob, cfg.MaxWorkers),
		maxWorkers: cfg.MaxWorkers,
		quit:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}

	for i := 0; i < p.maxWorkers; i++ {
		NewWorker(i, p.workerPool, logger).Start(p.quit, &p.wg, p.process)
	}
	p.wg.Add(1)
	go p.dispatch()

	logger.Info("payment detail processor started",
		"max_workers", p.maxWorkers,
		"queue_size", cap(p.jobQueue))
	return p
}

// dispatch hands queued jobs to idle workers until the queue is closed and
// empty, then stops the workers.
func (p *DetailProcessor) dispatch() {
	defer p.wg.Done()
	defer close(p.quit)

	for job := range p.jobQueue {
		select {
		case jobChannel := <-p.workerPool:
			jobChannel <- job
		case <-p.ctx.Done():
			p.logger.Warn("dispatcher aborted, dropping queued jobs", "pending", len(p.jobQueue)+1)
			return
		}
	}
}

// Enqueue never blocks. It reports false when the job was not accepted.
func (p *DetailProcessor) Enqueue(job EnrichmentJob) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.logger.Warn("detail processor is shut down, dropping job", "payment_id", job.PaymentID)
		return false
	}
	select {
	case p.jobQueue <- job:
		return true
	default:
		p.logger.Warn("detail queue full, dropping job",
			"payment_id", job.PaymentID,
			"payment_record_id", job.RecordID)
		return false
	}
}

func (p *DetailProcessor) process(job EnrichmentJob) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	details, err := p.gateway.FetchPayment(ctx, job.PaymentID)
	if err != nil {
		p.logger.Warn("payment detail fetch failed", "payment_id", job.PaymentID, "error", err)
		return
	}
	raw, err := json.Marshal(details.Raw)
	if err != nil {
		p.logger.Error("failed to encode payment details", "payment_id", job.PaymentID, "error", err)
		return
	}
	if err := p.store.SaveDetails(ctx, job.RecordID, raw); err != nil {
		p.logger.Error("failed to store payment details",
			"payment_id", job.PaymentID,
			"payment_record_id", job.RecordID,
			"error", err)
		return
	}
	p.logger.Debug("payment details stored", "payment_id", job.PaymentID, "method", details.Method)
}

// Shutdown stops intake and waits for queued jobs. When ctx expires first,
// in-flight gateway calls are cancelled and the rest of the queue is dropped.
func (p *DetailProcessor) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobQueue)
	p.mu.Unlock()

	p.logger.Info("shutting down payment detail processor")
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("payment detail processor shutdown complete")
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
