// Package bulk implements the Bulk Batcher of spec section 4.6: a single
// process-wide FIFO queue of BulkItems, flushed on a size trigger or a
// time trigger whose ticker only runs while at least one bulk_listener is
// registered — mirroring api/internal/websocket/handlers.go's "skip
// broadcasts when no clients connected" periodic-broadcast-goroutine
// idiom, generalized from a fixed interval into a start/stop-on-demand
// ticker.
package bulk

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/sensor-relay/relay/internal/connection"
	"github.com/sensor-relay/relay/internal/wsmsg"
)

// Batcher owns the bulk queue and its flush triggers. All mutation of the
// queue happens inside the single goroutine started by Run, so the size
// and time triggers can never race each other (spec section 5).
type Batcher struct {
	registry      *connection.Registry
	maxBatchSize  int
	batchInterval time.Duration
	log           zerolog.Logger

	itemCh  chan wsmsg.BulkItem
	joinCh  chan struct{}
	leaveCh chan struct{}
	drainCh chan chan struct{}
	stopCh  chan struct{}

	queueLen chan chan int // request/response pair for QueueLen()
}

// New constructs a Batcher. Call Run in its own goroutine before Enqueue.
func New(registry *connection.Registry, maxBatchSize int, batchInterval time.Duration, log zerolog.Logger) *Batcher {
	return &Batcher{
		registry:      registry,
		maxBatchSize:  maxBatchSize,
		batchInterval: batchInterval,
		log:           log,
		itemCh:        make(chan wsmsg.BulkItem, 4096),
		joinCh:        make(chan struct{}),
		leaveCh:       make(chan struct{}),
		drainCh:       make(chan chan struct{}),
		stopCh:        make(chan struct{}),
		queueLen:      make(chan chan int),
	}
}

// Enqueue adds item to the bulk queue. Safe to call concurrently; never
// blocks the ingest pipeline beyond the itemCh buffer.
func (b *Batcher) Enqueue(item wsmsg.BulkItem) {
	b.itemCh <- item
}

// OnListenerJoin must be called when a bulk_listener connection is
// registered; it starts the flush ticker if this is the first listener.
func (b *Batcher) OnListenerJoin() { b.joinCh <- struct{}{} }

// OnListenerLeave must be called when a bulk_listener connection is
// removed; it stops the flush ticker once no listeners remain.
func (b *Batcher) OnListenerLeave() { b.leaveCh <- struct{}{} }

// Drain flushes the remainder of the queue unconditionally (spec section
// 4.8, used during shutdown) and blocks until the flush completes.
func (b *Batcher) Drain() {
	done := make(chan struct{})
	b.drainCh <- done
	<-done
}

// Stop terminates the batcher's goroutine.
func (b *Batcher) Stop() { close(b.stopCh) }

// QueueLen returns the current queue length for telemetry (spec section
// 3's StatsSnapshot.bulkQueueSize).
func (b *Batcher) QueueLen() int {
	reply := make(chan int, 1)
	select {
	case b.queueLen <- reply:
		return <-reply
	case <-b.stopCh:
		return 0
	}
}

// Run executes the batcher's event loop. It must run in its own goroutine
// for the lifetime of the process.
func (b *Batcher) Run() {
	var queue []wsmsg.BulkItem
	var ticker *time.Ticker
	var tickC <-chan time.Time
	listeners := 0

	stopTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker = nil
			tickC = nil
		}
	}
	defer stopTicker()

	for {
		select {
		case item := <-b.itemCh:
			queue = append(queue, item)
			for len(queue) >= b.maxBatchSize {
				queue = b.flush(queue, b.maxBatchSize)
			}

		case <-b.joinCh:
			listeners++
			if listeners == 1 && ticker == nil {
				ticker = time.NewTicker(b.batchInterval)
				tickC = ticker.C
			}

		case <-b.leaveCh:
			if listeners > 0 {
				listeners--
			}
			if listeners == 0 {
				stopTicker()
			}

		case <-tickC:
			if len(queue) > 0 {
				n := len(queue)
				if n > b.maxBatchSize {
					n = b.maxBatchSize
				}
				queue = b.flush(queue, n)
			}

		case reply := <-b.queueLen:
			reply <- len(queue)

		case done := <-b.drainCh:
			for len(queue) > 0 {
				n := len(queue)
				if n > b.maxBatchSize {
					n = b.maxBatchSize
				}
				queue = b.flush(queue, n)
			}
			close(done)

		case <-b.stopCh:
			return
		}
	}
}

// flush constructs one BulkBatch from the first n items of queue,
// broadcasts it to the current bulk_listener snapshot, and returns the
// remaining queue (spec section 4.6).
func (b *Batcher) flush(queue []wsmsg.BulkItem, n int) []wsmsg.BulkItem {
	if n <= 0 || n > len(queue) {
		n = len(queue)
	}
	if n == 0 {
		return queue
	}

	batch := wsmsg.BulkBatch{
		Type:      wsmsg.TypeBulkDataBatch,
		Timestamp: time.Now().UTC(),
		BatchSize: n,
		Data:      append([]wsmsg.BulkItem(nil), queue[:n]...),
	}

	payload, err := json.Marshal(batch)
	if err != nil {
		b.log.Warn().Err(err).Msg("failed to marshal bulk batch")
		return queue[n:]
	}

	for _, listener := range b.registry.Snapshot(connection.RoleBulkListener) {
		if err := listener.Send(payload); err != nil {
			if err == connection.ErrSlowConsumerDeadline {
				listener.Close("slow_consumer")
			}
		}
	}

	return queue[n:]
}
