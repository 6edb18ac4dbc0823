package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrDispatcherBusy    = errors.New("dispatcher queue is full")
	ErrDispatcherStopped = errors.New("dispatcher stopped")
	ErrJobCanceled       = errors.New("job canceled")
)

type DispatcherConfig struct {
	MinWorkers        int
	MaxWorkers        int
	QueueSize         int
	WorkerIdleTimeout time.Duration
}

type keyQueue struct {
	jobs     []Job
	enqueued bool // is in the ready list
	running  bool // a job of this key is on a worker
}

// Dispatcher runs jobs on an elastic worker pool. Keys take turns round-robin
// and each key has at most one job running.
type Dispatcher struct {
	pool     *jobChannelPool
	jobQueue chan Job
	wake     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}

	mu        sync.Mutex
	queues    map[string]*keyQueue
	ready     *list.List // keys with a runnable job, least recently served first
	positions map[string]*list.Element
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		jobQueue:  make(chan Job, cfg.QueueSize),
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		queues:    make(map[string]*keyQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
	}
	d.pool = newJobChannelPool(ctx, cfg.MinWorkers, cfg.MaxWorkers, cfg.WorkerIdleTimeout, d.finish)

	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit queues a job without blocking.
func (d *Dispatcher) Submit(job Job) error {
	if job.Run == nil {
		return errors.New("job has nothing to run")
	}
	if d.ctx.Err() != nil {
		return ErrDispatcherStopped
	}
	select {
	case d.jobQueue <- job:
		return nil
	default:
		return ErrDispatcherBusy
	}
}

// Stop cancels running jobs, waits for the dispatch loop to exit and aborts
// every job that never started.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.pool.close()
	<-d.done

	d.mu.Lock()
	var dropped []Job
	for key, q := range d.queues {
		dropped = append(dropped, q.jobs...)
		q.jobs = nil
		if !q.running {
			delete(d.queues, key)
		}
	}
	d.ready.Init()
	d.positions = make(map[string]*list.Element)
	d.mu.Unlock()

	for drained := false; !drained; {
		select {
		case job := <-d.jobQueue:
			dropped = append(dropped, job)
		default:
			drained = true
		}
	}
	for _, job := range dropped {
		abort(job, ErrDispatcherStopped)
	}
}

func abort(job Job, err error) {
	if job.Abort == nil {
		return
	}
	debugLog("abort job", zap.String("job", job.Name), zap.String("key", job.Key), zap.Error(err))
	job.Abort(err)
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		if d.ctx.Err() != nil {
			return
		}
		if d.dispatchOne() {
			// pick up a waiting submission without blocking
			select {
			case job := <-d.jobQueue:
				d.enqueueJob(job)
			default:
			}
			continue
		}
		select {
		case job := <-d.jobQueue:
			d.enqueueJob(job)
		case <-d.wake:
		case <-d.ctx.Done():
			return
		}
	}
}

// CancelKey drops the queued jobs of key. A running job is not interrupted.
func (d *Dispatcher) CancelKey(key string) {
	d.mu.Lock()
	q, ok := d.queues[key]
	if !ok {
		d.mu.Unlock()
		return
	}
	dropped := q.jobs
	q.jobs = nil
	if elem, ok := d.positions[key]; ok {
		d.ready.Remove(elem)
		delete(d.positions, key)
	}
	q.enqueued = false
	if !q.running {
		delete(d.queues, key)
	}
	d.mu.Unlock()

	for _, job := range dropped {
		abort(job, ErrJobCanceled)
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.Key]
	if q == nil {
		q = &keyQueue{}
		d.queues[job.Key] = q
	}
	q.jobs = append(q.jobs, job)
	d.markReadyLocked(job.Key, q)
}

func (d *Dispatcher) markReadyLocked(key string, q *keyQueue) {
	if q.enqueued || q.running || len(q.jobs) == 0 {
		return
	}
	q.enqueued = true
	d.positions[key] = d.ready.PushBack(key)
}

// finish runs on the worker once a job returns.
func (d *Dispatcher) finish(job Job) {
	d.mu.Lock()
	if q, ok := d.queues[job.Key]; ok {
		q.running = false
		if len(q.jobs) == 0 {
			delete(d.queues, job.Key)
		} else {
			d.markReadyLocked(job.Key, q)
		}
	}
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// dispatchOne hands the job of the least recently served key to a worker
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	key := elem.Value.(string)
	q := d.queues[key]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	q.enqueued = false
	q.running = true
	d.ready.Remove(elem)
	delete(d.positions, key)
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	if workerChan == nil {
		abort(job, ErrDispatcherStopped)
		return false
	}
	debugLog("dispatch job",
		zap.String("job", job.Name),
		zap.String("key", key),
		zap.Int("worker", d.pool.workerID(workerChan)),
	)
	select {
	case workerChan <- job:
		return true
	case <-d.ctx.Done():
		abort(job, ErrDispatcherStopped)
		return false
	}
}
