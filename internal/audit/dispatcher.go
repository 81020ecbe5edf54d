package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Redacted replaces metadata values whose key names a secret.
const Redacted = "[redacted]"

// secretKeyParts are matched case-insensitively against metadata keys.
var secretKeyParts = []string{"password", "token", "assertion", "secret", "cookie", "authorization", "hash"}

// Config controls buffering and the overflow policy.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull discards events when the buffer is saturated instead of
	// blocking the caller until space frees up or its context ends.
	DropIfFull bool
	// Now stamps events that arrive without a timestamp.
	Now func() time.Time
}

// Dispatcher scrubs audit events and relays them to a sink on a single
// background worker. Events are scrubbed before they are buffered, so a
// secret never sits in the queue.
type Dispatcher struct {
	cfg  Config
	sink Sink

	queue    chan Event
	finished chan struct{}

	closeMu sync.RWMutex
	closed  bool

	dropped  atomic.Uint64
	redacted atomic.Uint64
}

// NewDispatcher starts the worker. It returns nil when auditing is
// disabled; every method is safe on a nil Dispatcher.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:      cfg,
		sink:     sink,
		queue:    make(chan Event, cfg.BufferSize),
		finished: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.finished)
	for event := range d.queue {
		d.sink.Emit(context.Background(), event)
	}
}

// Emit scrubs event and queues it. After Close it is a no-op.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	event = d.scrub(event)

	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		return
	}

	if d.cfg.DropIfFull {
		select {
		case d.queue <- event:
		default:
			d.dropped.Add(1)
		}
		return
	}
	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.dropped.Add(1)
	}
}

func (d *Dispatcher) scrub(event Event) Event {
	if event.Timestamp.IsZero() {
		event.Timestamp = d.cfg.Now().UTC()
	}
	if event.SessionID != "" {
		event.SessionID = Fingerprint(event.SessionID)
	}
	if len(event.Metadata) == 0 {
		return event
	}

	clean := make(map[string]string, len(event.Metadata))
	for k, v := range event.Metadata {
		if secretKey(k) {
			clean[k] = Redacted
			d.redacted.Add(1)
			continue
		}
		clean[k] = v
	}
	event.Metadata = clean
	return event
}

func secretKey(key string) bool {
	key = strings.ToLower(key)
	for _, part := range secretKeyParts {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}

// Fingerprint shortens a bearer identifier to a stable, non-reversible
// label that still correlates events of the same session.
func Fingerprint(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:6])
}

// Close stops accepting events, drains the buffer into the sink and waits
// for the worker. A blocked Emit finishes before Close proceeds.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}

	d.closeMu.Lock()
	if d.closed {
		d.closeMu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.closeMu.Unlock()

	<-d.finished
}

// Dropped reports events lost to a full buffer or a canceled caller.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Redactions reports metadata values replaced during scrubbing.
func (d *Dispatcher) Redactions() uint64 {
	if d == nil {
		return 0
	}
	return d.redacted.Load()
}
