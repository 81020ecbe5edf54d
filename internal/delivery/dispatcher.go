package delivery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrQueueFull is returned by Enqueue when the buffer is saturated.
var ErrQueueFull = errors.New("delivery queue full")

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("delivery dispatcher closed")

// Job is one unit of outbound work. Send receives a context bounded by the
// dispatcher timeout and detached from the enqueuing request.
type Job struct {
	Kind string
	// Ref identifies the job's subject in result reporting, such as a user
	// id. It must not carry secrets.
	Ref  string
	Send func(ctx context.Context) error
}

// Config controls worker count, buffering and per-job timeout.
type Config struct {
	Workers    int
	BufferSize int
	Timeout    time.Duration
}

// Dispatcher runs jobs on a fixed worker pool. Results are reported through
// the OnResult callback; failed jobs are never retried.
type Dispatcher struct {
	cfg      Config
	ch       chan Job
	done     chan struct{}
	wg       sync.WaitGroup
	closed   atomic.Bool
	closeMu  sync.RWMutex
	onResult func(job Job, err error)
}

func NewDispatcher(cfg Config, onResult func(job Job, err error)) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if onResult == nil {
		onResult = func(Job, error) {}
	}

	d := &Dispatcher{
		cfg:      cfg,
		ch:       make(chan Job, cfg.BufferSize),
		done:     make(chan struct{}),
		onResult: onResult,
	}

	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.run()
	}

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case job := <-d.ch:
			d.execute(job)
		case <-d.done:
			for {
				select {
				case job := <-d.ch:
					d.execute(job)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) execute(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()

	err := job.Send(ctx)
	d.onResult(job, err)
}

// Enqueue hands the job to the pool without blocking.
func (d *Dispatcher) Enqueue(job Job) error {
	if d == nil {
		return ErrClosed
	}

	d.closeMu.RLock()
	defer d.closeMu.RUnlock()

	if d.closed.Load() {
		return ErrClosed
	}

	select {
	case d.ch <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting jobs, drains the queue and waits for the workers.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}

	d.closeMu.Lock()
	if d.closed.Swap(true) {
		d.closeMu.Unlock()
		return
	}
	close(d.done)
	d.closeMu.Unlock()

	d.wg.Wait()
}
