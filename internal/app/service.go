// Package service runs the hiring workflow: it owns the job queue and
// worker pool the HTTP layer feeds, and drives each offer from the /hire
// command through confirmation to the submitted onboarding form.
package service

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	jobqueue "github.com/Dan-Hightower/hirebot/internal/adapters/mq/queue"
	workerpool "github.com/Dan-Hightower/hirebot/internal/adapters/mq/worker"
	"github.com/Dan-Hightower/hirebot/internal/adapters/repository"
	"github.com/Dan-Hightower/hirebot/internal/domain/dedupe"
	"github.com/Dan-Hightower/hirebot/internal/domain/model"
	"github.com/Dan-Hightower/hirebot/internal/domain/offer"
	"github.com/Dan-Hightower/hirebot/internal/domain/resume"
	"github.com/Dan-Hightower/hirebot/pkg/logger"
	"github.com/Dan-Hightower/hirebot/pkg/metrics"
)

// Service implements the workflow and the HTTP layer's dependencies.
type Service struct {
	mu sync.RWMutex

	// Collaborators
	parser      Parser
	records     RecordStore
	provisioner Provisioner
	messenger   Messenger
	ledger      repository.Ledger
	sealer      *resume.Sealer

	// Async execution
	deduper    dedupe.Deduper
	jobQueue   jobqueue.Queue
	workerPool *workerpool.Pool

	// Configuration
	workerCount int
	queueSize   int
	dedupeSize  int
	jobTimeout  time.Duration
	totalShares int64
	now         func() time.Time

	started bool
	logger  logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the job queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the deduplication cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithJobTimeout bounds one job end to end.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.jobTimeout = d
		}
	}
}

// WithTotalShares sets the share count equity is measured against.
func WithTotalShares(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.totalShares = n
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithParser sets the /hire text parser.
func WithParser(p Parser) Option { return func(s *Service) { s.parser = p } }

// WithRecordStore sets the hire log.
func WithRecordStore(r RecordStore) Option { return func(s *Service) { s.records = r } }

// WithProvisioner sets the payroll client.
func WithProvisioner(p Provisioner) Option { return func(s *Service) { s.provisioner = p } }

// WithMessenger sets the chat transport.
func WithMessenger(m Messenger) Option { return func(s *Service) { s.messenger = m } }

// WithLedger sets the workflow ledger.
func WithLedger(l repository.Ledger) Option { return func(s *Service) { s.ledger = l } }

// WithSealer sets the button payload sealer.
func WithSealer(sl *resume.Sealer) Option { return func(s *Service) { s.sealer = sl } }

// New constructs a Service. Collaborators are supplied with options and
// checked by Start.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount: runtime.NumCPU() * 2,
		queueSize:   1024,
		dedupeSize:  10_000,
		jobTimeout:  2 * time.Minute,
		totalShares: offer.DefaultTotalShares,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the queue and starts the worker pool.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("workflow")
	}
	if err := s.checkDependencies(); err != nil {
		return err
	}

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.jobQueue = jobqueue.NewInMemoryQueue(jobqueue.WithCapacity(s.queueSize))
	s.workerPool = workerpool.NewPool(s.workerCount, s.jobQueue, s,
		workerpool.WithJobTimeout(s.jobTimeout),
	)
	s.workerPool.Start(ctx)

	s.started = true
	s.logger.Info(ctx, "workflow service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queue_size", s.queueSize),
		logger.Int("dedupe_size", s.dedupeSize),
	)
	return nil
}

func (s *Service) checkDependencies() error {
	deps := []struct {
		name    string
		missing bool
	}{
		{"parser", s.parser == nil},
		{"record store", s.records == nil},
		{"provisioner", s.provisioner == nil},
		{"messenger", s.messenger == nil},
		{"ledger", s.ledger == nil},
		{"sealer", s.sealer == nil},
	}
	for _, d := range deps {
		if d.missing {
			return fmt.Errorf("%w: %s", ErrNotConfigured, d.name)
		}
	}
	return nil
}

// Stop drains queued jobs and stops the workers. The ledger belongs to the
// caller and is left open.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping workflow service")
	err := s.workerPool.Shutdown(ctx)
	s.started = false
	s.logger.Info(ctx, "workflow service stopped", logger.Int64("jobs_processed", s.workerPool.Processed()))
	return err
}

// SeenAndRecord atomically checks if a delivery key was seen and records it if not.
func (s *Service) SeenAndRecord(ctx context.Context, key string) bool {
	seen := s.deduper.SeenAndRecord(ctx, key)
	if seen {
		metrics.RecordDuplicate("delivery")
	}
	return seen
}

// Unrecord forgets a delivery key so a redelivery is processed.
func (s *Service) Unrecord(ctx context.Context, key string) {
	s.deduper.Unrecord(ctx, key)
}

// Size returns the current number of remembered delivery keys.
func (s *Service) Size() int64 {
	if s.deduper == nil {
		return 0
	}
	return s.deduper.Size()
}

// Enqueue submits a job for asynchronous processing. It returns false on
// backpressure or when the job is malformed.
func (s *Service) Enqueue(ctx context.Context, job model.Job) bool {
	if !job.Valid() {
		s.logger.Warn(ctx, "dropping malformed job", logger.String("job_id", job.ID), logger.String("kind", string(job.Kind)))
		return false
	}
	if job.ReceivedAt.IsZero() {
		job.ReceivedAt = s.now()
	}
	ok := s.jobQueue.Enqueue(ctx, job)
	if ok {
		s.logger.Debug(ctx, "job queued", logger.String("job_id", job.ID), logger.String("kind", string(job.Kind)))
	}
	return ok
}

// Handle runs one job. It implements the worker pool's Handler.
func (s *Service) Handle(ctx context.Context, job model.Job) error {
	switch job.Kind {
	case model.KindHireCommand:
		return s.HandleHireCommand(ctx, *job.Command)
	case model.KindConfirm:
		return s.Confirm(ctx, *job.Action)
	case model.KindCancel:
		return s.Cancel(ctx, *job.Action)
	case model.KindSubmit:
		return s.SubmitOnboarding(ctx, *job.Action)
	}
	return fmt.Errorf("%w: %q", ErrUnknownJob, job.Kind)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
	}
	if !s.started {
		return stats
	}

	queueLen := s.jobQueue.Len(ctx)
	stats["queueLength"] = queueLen
	stats["jobsProcessed"] = s.workerPool.Processed()
	stats["deliveriesRemembered"] = s.deduper.Size()
	metrics.UpdateQueueSize(queueLen)

	if byState, err := s.ledger.Stats(ctx); err == nil {
		offers := make(map[string]int, len(byState))
		for st, n := range byState {
			offers[string(st)] = n
		}
		stats["offers"] = offers
	} else {
		s.logger.Warn(ctx, "ledger stats unavailable", logger.Error(err))
	}
	return stats
}
