// Package worker runs background jobs on a bounded, elastic pool of goroutines.
// Jobs sharing a key run one at a time in submission order; distinct keys are
// served round-robin so one busy room cannot starve the others.
package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"yasmin/internal/config"
)

var (
	// ErrDispatcherBusy is returned when the intake queue is full.
	ErrDispatcherBusy = errors.New("dispatcher queue full")
	// ErrDispatcherClosed is returned by Submit after Close.
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

// Job is one unit of work. Run receives a context cancelled on Close.
type Job struct {
	Key string
	Run func(ctx context.Context)
}

type keyQueue struct {
	jobs     []Job
	enqueued bool // key sits in the ready list
	running  bool // a job for this key is on a worker
}

type Dispatcher struct {
	pool   *jobChannelPool
	intake chan Job
	wake   chan struct{}
	log    *zap.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	queues    map[string]*keyQueue
	ready     *list.List // keys with pending jobs, least recently served first
	positions map[string]*list.Element
}

// NewDispatcher starts the dispatch loop and warms up MinWorkers workers.
func NewDispatcher(cfg config.BotConfig, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	d := newDispatcher(queueSize, log)
	d.pool = newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout, d.execute, log)
	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}
	go d.run()
	return d
}

func newDispatcher(queueSize int, log *zap.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		intake:    make(chan Job, queueSize),
		wake:      make(chan struct{}, 1),
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		queues:    make(map[string]*keyQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
	}
}

// Submit queues run under key without blocking.
func (d *Dispatcher) Submit(key string, run func(ctx context.Context)) error {
	if run == nil {
		return errors.New("nil job")
	}
	if d.ctx.Err() != nil {
		return ErrDispatcherClosed
	}
	select {
	case d.intake <- Job{Key: key, Run: run}:
		return nil
	default:
		return ErrDispatcherBusy
	}
}

// Close stops intake, drops queued jobs and waits for running ones to return.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.cancel()
		d.pool.stop()
		<-d.done
		d.pool.wg.Wait()
	})
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		if d.ctx.Err() != nil {
			return
		}
		if d.dispatchOne() {
			select {
			case job := <-d.intake:
				d.enqueueJob(job)
			default:
			}
			continue
		}
		select {
		case job := <-d.intake:
			d.enqueueJob(job)
		case <-d.wake:
		case <-d.ctx.Done():
			return
		}
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
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.Key] = d.ready.PushBack(job.Key)
}

// next pops the first job of the least recently served key that is not
// already running.
func (d *Dispatcher) next() (Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for elem := d.ready.Front(); elem != nil; elem = elem.Next() {
		key := elem.Value.(string)
		q := d.queues[key]
		if q.running {
			continue
		}
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		q.running = true
		if len(q.jobs) == 0 {
			q.enqueued = false
			d.ready.Remove(elem)
			delete(d.positions, key)
		} else {
			d.ready.MoveToBack(elem)
		}
		return job, true
	}
	return Job{}, false
}

func (d *Dispatcher) dispatchOne() bool {
	job, ok := d.next()
	if !ok {
		return false
	}
	ch := d.pool.acquire()
	if ch == nil {
		return false
	}
	d.log.Debug("dispatch job", zap.String("key", job.Key))
	ch <- job
	return true
}

// execute runs on a worker goroutine.
func (d *Dispatcher) execute(job Job) {
	defer d.finish(job.Key)
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("job panicked", zap.String("key", job.Key), zap.Any("panic", r))
		}
	}()
	job.Run(d.ctx)
}

func (d *Dispatcher) finish(key string) {
	d.mu.Lock()
	if q := d.queues[key]; q != nil {
		q.running = false
		if !q.enqueued {
			delete(d.queues, key)
		}
	}
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}
