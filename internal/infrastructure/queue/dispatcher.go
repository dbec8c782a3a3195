package queue

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/globalvalve/valve-record/internal/api/metrics"
	"github.com/globalvalve/valve-record/internal/core/domain"
	"github.com/globalvalve/valve-record/internal/core/ports"
)

const (
	defaultWorkers = 2
	channelBuffer  = 256
	writeTimeout   = 10 * time.Second
)

// AuditWriter persists a single audit entry.
type AuditWriter interface {
	Write(ctx context.Context, entry domain.AuditLogEntry) error
}

// Dispatcher delivers audit entries to the backend off the caller's path.
// Entries are sharded by actor so one operator's events keep their order.
type Dispatcher struct {
	workers []chan domain.AuditLogEntry
	writer  AuditWriter
	log     zerolog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

var _ ports.AuditQueue = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher with numWorkers sharded workers.
// If numWorkers <= 0, defaultWorkers is used.
func NewDispatcher(numWorkers int, writer AuditWriter, log zerolog.Logger) *Dispatcher {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	d := &Dispatcher{
		workers: make([]chan domain.AuditLogEntry, numWorkers),
		writer:  writer,
		log:     log,
	}
	for i := range d.workers {
		d.workers[i] = make(chan domain.AuditLogEntry, channelBuffer)
	}
	return d
}

// Start launches the workers. Writes inherit ctx values but not its
// cancellation, so Close can drain after shutdown began.
func (d *Dispatcher) Start(ctx context.Context) {
	for i, ch := range d.workers {
		d.wg.Add(1)
		go d.runWorker(ctx, i, ch)
	}
}

// Enqueue hands the entry to its worker without blocking. A full worker
// channel or a closed dispatcher drops the entry.
func (d *Dispatcher) Enqueue(entry domain.AuditLogEntry) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		metrics.AuditWritesTotal.WithLabelValues("dropped").Inc()
		return false
	}

	idx := d.shardIndex(actorKey(entry))
	select {
	case d.workers[idx] <- entry:
		metrics.AuditQueueDepth.WithLabelValues(strconv.Itoa(idx)).Inc()
		return true
	default:
		metrics.AuditWritesTotal.WithLabelValues("dropped").Inc()
		d.log.Warn().Str("action", entry.Action).Int("worker_id", idx).Msg("audit queue full, entry dropped")
		return false
	}
}

// Close stops accepting entries and waits until every queued entry was
// written.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, ch := range d.workers {
		close(ch)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func actorKey(entry domain.AuditLogEntry) string {
	if entry.ActorEmail != nil && *entry.ActorEmail != "" {
		return *entry.ActorEmail
	}
	return entry.UserID
}

// shardIndex maps an actor deterministically to a worker index.
func (d *Dispatcher) shardIndex(actor string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(actor))
	return int(h.Sum32() % uint32(len(d.workers)))
}

func (d *Dispatcher) runWorker(ctx context.Context, id int, ch <-chan domain.AuditLogEntry) {
	defer d.wg.Done()
	depth := metrics.AuditQueueDepth.WithLabelValues(strconv.Itoa(id))
	for entry := range ch {
		depth.Dec()
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
		if err := d.writer.Write(writeCtx, entry); err != nil {
			d.log.Error().Err(err).
				Str("action", entry.Action).
				Int("worker_id", id).
				Msg("audit write failed")
		}
		cancel()
	}
}
