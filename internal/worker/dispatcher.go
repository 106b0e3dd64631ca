package worker

import (
	"container/list"
	"errors"
	"sync"
	"time"
)

var ErrQueueFull = errors.New("worker: job queue full")

// DispatcherConfig sizes the effect pool.
type DispatcherConfig struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
}

type visitorQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher hands jobs to the pool round-robin across visitors. Jobs of one
// visitor are dispatched in submission order.
type Dispatcher struct {
	pool     *jobChannelPool
	jobQueue chan Job

	mu        sync.Mutex
	queues    map[int64]*visitorQueue
	ready     *list.List // visitor ids with pending jobs, least recently served first
	positions map[int64]*list.Element
	done      chan struct{}
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = 2
	}
	if cfg.MaxWorkers < cfg.MinWorkers {
		cfg.MaxWorkers = cfg.MinWorkers * 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	d := &Dispatcher{
		pool:      newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout),
		jobQueue:  make(chan Job, cfg.QueueSize),
		queues:    make(map[int64]*visitorQueue),
		ready:     list.New(),
		positions: make(map[int64]*list.Element),
		done:      make(chan struct{}),
	}
	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}
	go d.run()
	return d
}

// Submit queues a job without blocking.
func (d *Dispatcher) Submit(job Job) error {
	select {
	case <-d.done:
		return errors.New("worker: dispatcher stopped")
	default:
	}
	select {
	case d.jobQueue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) run() {
	for {
		if !d.dispatchOne() {
			select {
			case job := <-d.jobQueue:
				d.enqueueJob(job)
			case <-d.done:
				return
			}
			continue
		}
		select {
		case job := <-d.jobQueue:
			d.enqueueJob(job)
		case <-d.done:
			return
		default:
		}
	}
}

// CancelVisitor removes queued jobs of the visitor matching drop and reports
// how many were removed. Jobs already handed to a worker still run.
func (d *Dispatcher) CancelVisitor(visitorID int64, drop func(Job) bool) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[visitorID]
	if q == nil {
		return 0
	}
	kept := q.jobs[:0]
	for _, job := range q.jobs {
		if drop == nil || !drop(job) {
			kept = append(kept, job)
		}
	}
	removed := len(q.jobs) - len(kept)
	q.jobs = kept
	if len(q.jobs) == 0 {
		delete(d.queues, visitorID)
		if elem, ok := d.positions[visitorID]; ok {
			d.ready.Remove(elem)
			delete(d.positions, visitorID)
		}
	}
	return removed
}

func (d *Dispatcher) Stop() {
	select {
	case <-d.done:
		return
	default:
		close(d.done)
	}
	d.pool.close()
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.VisitorID]
	if q == nil {
		q = &visitorQueue{}
		d.queues[job.VisitorID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.VisitorID] = d.ready.PushBack(job.VisitorID)
}

// dispatchOne sends the next job of the front visitor to an idle worker.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	visitorID := elem.Value.(int64)
	q := d.queues[visitorID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, visitorID)
		delete(d.queues, visitorID)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	debugLog("[dispatcher] assign %s job %q for visitor %d to worker-%d", job.Type, job.Name, visitorID, d.pool.workerID(workerChan))
	workerChan <- job
	return true
}
