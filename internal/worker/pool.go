package worker

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type workerMeta struct {
	ch        chan Job
	lastUsed  time.Time
	enqueued  bool // sitting in the idle list
	discarded bool // retired, never hand it out again
}

type jobChannelPool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	idle     []*workerMeta
	metadata map[chan Job]*workerMeta
	min      int
	max      int
	running  int
	expiry   time.Duration
	stopped  bool
	quit     chan struct{}
	wg       sync.WaitGroup
	runJob   func(Job)
	log      *zap.Logger
}

const defaultWorkerIdle = 30 * time.Second

func newJobChannelPool(minWorkers, maxWorkers int, idle time.Duration, runJob func(Job), log *zap.Logger) *jobChannelPool {
	if idle <= 0 {
		idle = defaultWorkerIdle
	}
	if minWorkers < 0 {
		minWorkers = 0
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if maxWorkers < minWorkers {
		maxWorkers = minWorkers
	}
	p := &jobChannelPool{
		metadata: make(map[chan Job]*workerMeta),
		min:      minWorkers,
		max:      maxWorkers,
		expiry:   idle,
		quit:     make(chan struct{}),
		runJob:   runJob,
		log:      log,
	}
	p.cond = sync.NewCond(&p.mu)
	go p.purgeStaleWorkers()
	return p
}

// spawnWorker adds an idle worker when below max. Used to warm up the pool.
func (p *jobChannelPool) spawnWorker() {
	p.mu.Lock()
	if p.stopped || p.running >= p.max {
		p.mu.Unlock()
		return
	}
	meta := p.newWorkerLocked()
	meta.enqueued = true
	meta.lastUsed = time.Now()
	p.idle = append(p.idle, meta)
	p.mu.Unlock()
}

func (p *jobChannelPool) newWorkerLocked() *workerMeta {
	meta := &workerMeta{ch: make(chan Job)}
	p.metadata[meta.ch] = meta
	p.running++
	p.wg.Add(1)
	go p.work(meta.ch)
	return meta
}

// work runs jobs until its channel is closed or the pool refuses it back.
func (p *jobChannelPool) work(ch chan Job) {
	defer p.wg.Done()
	for job := range ch {
		p.runJob(job)
		if !p.release(ch) {
			break
		}
	}
	p.retire(ch)
}

// acquire returns an idle worker, spawning one when below max and waiting
// otherwise. It returns nil once the pool is stopped.
func (p *jobChannelPool) acquire() chan Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.stopped {
			return nil
		}
		if meta := p.popIdleLocked(); meta != nil {
			return meta.ch
		}
		if p.running < p.max {
			return p.newWorkerLocked().ch
		}
		p.cond.Wait()
	}
}

// release puts a worker back into the idle list. False means the worker should exit.
func (p *jobChannelPool) release(ch chan Job) bool {
	p.mu.Lock()
	meta, ok := p.metadata[ch]
	if !ok || meta.discarded || p.stopped {
		p.mu.Unlock()
		return false
	}
	if !meta.enqueued {
		meta.enqueued = true
		meta.lastUsed = time.Now()
		p.idle = append(p.idle, meta)
	}
	p.mu.Unlock()
	p.cond.Signal()
	return true
}

func (p *jobChannelPool) retire(ch chan Job) {
	p.mu.Lock()
	if meta, ok := p.metadata[ch]; ok {
		delete(p.metadata, ch)
		meta.discarded = true
		if p.running > 0 {
			p.running--
		}
	}
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *jobChannelPool) popIdleLocked() *workerMeta {
	for len(p.idle) > 0 {
		meta := p.idle[0]
		p.idle = p.idle[1:]
		if meta.discarded {
			continue
		}
		meta.enqueued = false
		return meta
	}
	return nil
}

func (p *jobChannelPool) purgeStaleWorkers() {
	ticker := time.NewTicker(p.expiry)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.shutdownExpired()
		case <-p.quit:
			return
		}
	}
}

// shutdownExpired retires idle workers unused for longer than expiry, keeping min alive.
func (p *jobChannelPool) shutdownExpired() {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle) == 0 || p.running <= p.min {
		return
	}
	stale := 0
	remaining := p.idle[:0]
	for _, meta := range p.idle {
		if meta.discarded {
			continue
		}
		if now.Sub(meta.lastUsed) >= p.expiry && p.running-stale > p.min {
			meta.discarded = true
			meta.enqueued = false
			stale++
			// Idle workers are parked in range; closing ends the loop.
			close(meta.ch)
			continue
		}
		remaining = append(remaining, meta)
	}
	p.idle = remaining
	if stale > 0 {
		p.log.Debug("retired idle bot workers", zap.Int("count", stale))
	}
}

// stop closes idle workers and makes busy ones exit after their current job.
func (p *jobChannelPool) stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.quit)
	for _, meta := range p.idle {
		if !meta.discarded {
			meta.discarded = true
			close(meta.ch)
		}
	}
	p.idle = nil
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *jobChannelPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
