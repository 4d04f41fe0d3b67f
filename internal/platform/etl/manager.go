package etl

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/eureka/eureka/internal/domain/job"
	"github.com/eureka/eureka/internal/platform/metrics"
)

var errShutdown = errors.New("task manager is shut down")

// TaskManager runs queued tasks on a fixed set of worker goroutines.
type TaskManager struct {
	jobs    Jobs
	runner  Runner
	workers int
	logger  zerolog.Logger

	queue     chan *job.TaskRequest
	stop      chan struct{}
	runCtx    context.Context
	cancelRun context.CancelFunc
	wg        sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	running map[int64]bool
}

func NewTaskManager(jobs Jobs, runner Runner, workers, queueSize int, logger zerolog.Logger) *TaskManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &TaskManager{
		jobs:      jobs,
		runner:    runner,
		workers:   workers,
		logger:    logger.With().Str("component", "etl").Logger(),
		queue:     make(chan *job.TaskRequest, queueSize),
		stop:      make(chan struct{}),
		runCtx:    ctx,
		cancelRun: cancel,
		running:   make(map[int64]bool),
	}
}

// Start launches the workers.
func (m *TaskManager) Start() {
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.work()
	}
	m.logger.Info().Int("workers", m.workers).Int("queue_size", cap(m.queue)).Msg("task manager started")
}

// Submit queues req. It fails with job.ErrQueueFull when the queue is at
// capacity.
func (m *TaskManager) Submit(_ context.Context, req *job.TaskRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errShutdown
	}
	select {
	case m.queue <- req:
		metrics.RecordJobSubmitted()
		metrics.SetQueueDepth(len(m.queue))
		m.logger.Info().Int64("job_id", req.JobID).Str("username", req.Username).Msg("job queued")
		return nil
	default:
		return job.ErrQueueFull
	}
}

func (m *TaskManager) work() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stop:
			return
		case req := <-m.queue:
			metrics.SetQueueDepth(len(m.queue))
			m.run(req)
		}
	}
}

func (m *TaskManager) run(req *job.TaskRequest) {
	m.mu.Lock()
	m.running[req.JobID] = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.running, req.JobID)
		m.mu.Unlock()
	}()

	m.logger.Info().Int64("job_id", req.JobID).Str("username", req.Username).Msg("job picked up")
	NewTask(req, m.jobs, m.runner, m.logger).Run(m.runCtx)
}

// IsRunning reports whether job id is executing. Queued jobs do not count.
func (m *TaskManager) IsRunning(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running[id]
}

// Running lists the ids of executing jobs.
func (m *TaskManager) Running() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Shutdown stops intake and waits for executing tasks. When ctx ends first
// the tasks are cancelled. Queued tasks that never started are left for
// the sweeper.
func (m *TaskManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.stop)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.cancelRun()
		return nil
	case <-ctx.Done():
		m.cancelRun()
		<-done
		return ctx.Err()
	}
}
