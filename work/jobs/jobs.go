package jobs

import (
	"sync"

	"github.com/panjf2000/ants/v2"

	"sfvip-launcher/work/logger"
)

// Group hosts the supervisor-side job runners on one shared worker pool.
// Each runner occupies a single worker for its consumer loop, so the pool is
// sized to the number of runners, not to throughput.
type Group struct {
	pool *ants.Pool
	mu   sync.Mutex
	stop []func()
}

// NewGroup creates a worker pool sized for the given number of runners.
func NewGroup(runners int) (*Group, error) {
	pool, err := ants.NewPool(runners, ants.WithPreAlloc(true))
	if err != nil {
		return nil, err
	}
	return &Group{pool: pool}, nil
}

// Close stops every runner started on the group and releases the pool.
func (g *Group) Close() {
	g.mu.Lock()
	stops := g.stop
	g.stop = nil
	g.mu.Unlock()
	for _, stop := range stops {
		stop()
	}
	g.pool.Release()
}

func (g *Group) register(stop func()) {
	g.mu.Lock()
	g.stop = append(g.stop, stop)
	g.mu.Unlock()
}

// Runner is a single-consumer job queue. Jobs are consumed in order on one
// goroutine, so the handler never runs concurrently with itself.
type Runner[T any] struct {
	name    string
	ch      chan T
	handler func(T)
	done    chan struct{}
	once    sync.Once
}

// NewRunner starts a runner with the given queue depth on the group's pool.
func NewRunner[T any](g *Group, name string, depth int, handler func(T)) *Runner[T] {
	if depth < 1 {
		depth = 1
	}
	r := &Runner[T]{
		name:    name,
		ch:      make(chan T, depth),
		handler: handler,
		done:    make(chan struct{}),
	}
	if err := g.pool.Submit(r.loop); err != nil {
		// Pool exhausted means the group was mis-sized; fall back to a plain
		// goroutine rather than silently dropping the runner.
		logger.Warn("jobs: pool refused runner %s: %v", name, err)
		go r.loop()
	}
	g.register(r.Stop)
	return r
}

func (r *Runner[T]) loop() {
	defer close(r.done)
	for job := range r.ch {
		r.run(job)
	}
}

func (r *Runner[T]) run(job T) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("jobs: runner %s panicked: %v", r.name, rec)
		}
	}()
	r.handler(job)
}

// Post enqueues a job, dropping it when the queue is full. Returns false on
// drop so producers with must-deliver semantics can react.
func (r *Runner[T]) Post(job T) bool {
	select {
	case r.ch <- job:
		return true
	default:
		logger.Debug("jobs: runner %s queue full, job dropped", r.name)
		return false
	}
}

// PostLatest enqueues a job, first discarding any still-queued older jobs.
// Used by runners where only the newest value matters (EPG URL, confidence).
func (r *Runner[T]) PostLatest(job T) {
	for {
		select {
		case r.ch <- job:
			return
		default:
		}
		select {
		case <-r.ch: // shed the oldest queued job
		default:
		}
	}
}

// Stop closes the queue and waits for the consumer loop to drain.
func (r *Runner[T]) Stop() {
	r.once.Do(func() {
		close(r.ch)
		<-r.done
	})
}
