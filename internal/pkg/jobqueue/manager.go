package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// ErrProcessTimeout is reported when a job exceeds the processing timeout.
var ErrProcessTimeout = errors.New("jobqueue: processing timeout")

// Handler processes jobs handed out by the Manager.
type Handler interface {
	Handle(ctx context.Context, job *Job) error
	// OnFailure is called after MarkFailed decided between retry and dead letter.
	OnFailure(ctx context.Context, job *Job, cause error, decision RetryDecision)
}

// Task is a periodic background job run by the Manager
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// ManagerOptions configures the worker pool
type ManagerOptions struct {
	Workers        int
	ProcessTimeout time.Duration
	PollInterval   time.Duration
	PromoteEvery   time.Duration
	SweepEvery     time.Duration
}

// Manager runs the worker pool and the background tasks
type Manager struct {
	queue   *Queue
	handler Handler
	opts    ManagerOptions
	tasks   []Task

	workerPool chan struct{}
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
}

// NewManager creates a manager; the delayed-job promoter and the stuck sweeper
// are registered as tasks automatically.
func NewManager(queue *Queue, handler Handler, opts ManagerOptions) *Manager {
	if opts.Workers <= 0 {
		opts.Workers = 5
	}
	if opts.ProcessTimeout <= 0 {
		opts.ProcessTimeout = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.PromoteEvery <= 0 {
		opts.PromoteEvery = time.Second
	}
	if opts.SweepEvery <= 0 {
		opts.SweepEvery = time.Minute
	}

	m := &Manager{
		queue:      queue,
		handler:    handler,
		opts:       opts,
		workerPool: make(chan struct{}, opts.Workers),
	}
	m.AddTask(Task{Name: "promoter", Interval: opts.PromoteEvery, Run: func(ctx context.Context) error {
		_, err := queue.PromoteDue(ctx)
		return err
	}})
	m.AddTask(Task{Name: "stuck-sweeper", Interval: opts.SweepEvery, Run: func(ctx context.Context) error {
		_, err := queue.RecoverStuck(ctx)
		return err
	}})
	return m
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// AddTask registers a periodic task. Tasks added after Start run on the next start.
func (m *Manager) AddTask(task Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, task)
}

// Start starts the workers and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Infof("[JobQueue Manager] Starting %d workers and %d background tasks", m.opts.Workers, len(m.tasks))

	for i := 0; i < m.opts.Workers; i++ {
		m.workerPool <- struct{}{}
	}
	for i := 0; i < m.opts.Workers; i++ {
		m.wg.Add(1)
		go m.worker(i)
	}
	for _, task := range m.tasks {
		m.wg.Add(1)
		go m.runTask(task)
	}

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops taking new work and waits for in-flight jobs and tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping workers and background tasks...")
	close(m.stopCh)
	m.running = false
	m.wg.Wait()

	// drain the pool so a restart starts from zero slots
	for len(m.workerPool) > 0 {
		<-m.workerPool
	}
	log.Info("[JobQueue Manager] Stopped successfully")
}

func (m *Manager) worker(id int) {
	defer m.wg.Done()
	log.Debugf("[JobQueue] Worker %d started", id)

	for {
		select {
		case <-m.stopCh:
			log.Debugf("[JobQueue] Worker %d stopping", id)
			return
		default:
		}

		<-m.workerPool
		processed, err := m.ProcessOne(context.Background())
		m.workerPool <- struct{}{}

		if err != nil {
			log.Errorf("[JobQueue] Worker %d: %v", id, err)
		}
		if processed {
			continue
		}
		// Nothing to do; backoff happens via the delayed set, never by sleeping on a job
		select {
		case <-m.stopCh:
			return
		case <-time.After(m.opts.PollInterval):
		}
	}
}

// ProcessOne dequeues and processes a single job. It reports false when the
// queue was empty.
func (m *Manager) ProcessOne(ctx context.Context) (bool, error) {
	job, err := m.queue.DequeueNext(ctx)
	if errors.Is(err, ErrEmpty) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}

	cause := m.handle(ctx, job)
	if cause == nil {
		if err := m.queue.Ack(ctx, job); err != nil {
			return true, fmt.Errorf("ack %s: %w", job.ID, err)
		}
		return true, nil
	}

	log.Warnf("[JobQueue] Job %s (type=%s) failed: %v", job.ID, job.EventType, cause)
	decision, err := m.queue.MarkFailed(ctx, job, cause)
	if err != nil {
		// left in the processing set; the stuck sweeper puts it back
		return true, fmt.Errorf("mark failed %s: %w", job.ID, err)
	}
	m.handler.OnFailure(ctx, job, cause, decision)
	return true, nil
}

func (m *Manager) handle(ctx context.Context, job *Job) (err error) {
	jobCtx, cancel := context.WithTimeout(ctx, m.opts.ProcessTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing %s: %v", job.ID, r)
		}
	}()

	err = m.handler.Handle(jobCtx, job)
	if err != nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded) && !IsPermanent(err) {
		err = fmt.Errorf("%w after %s: %v", ErrProcessTimeout, m.opts.ProcessTimeout, err)
	}
	return err
}

func (m *Manager) runTask(task Task) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started task %s (interval: %s)", task.Name, task.Interval)

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			log.Infof("[JobQueue Manager] Task %s stopping", task.Name)
			return
		case <-ticker.C:
			if err := task.Run(context.Background()); err != nil {
				log.Errorf("[JobQueue Manager] Task %s failed: %v", task.Name, err)
			}
		}
	}
}
