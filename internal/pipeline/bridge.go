package pipeline

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/aDifferentJT/rpi-cam-control/internal/hal"
)

// BridgeCounters is a snapshot of the bridge's delivery accounting.
type BridgeCounters struct {
	Callbacks       uint64
	Delivered       uint64
	BytesDelivered  uint64
	KeyFrames       uint64
	EmptyBuffers    uint64
	SideInfoBuffers uint64
	Resubmissions   uint64
	PoolExhaustions uint64
	SubmitFailures  uint64
}

// Bridge is the completion handler for the encoder output port. The driver
// invokes OnBufferDone on its own thread for every filled buffer; the
// bridge copies the payload out, enqueues it, and keeps the hardware fed
// by recycling the buffer and resubmitting a fresh one from the pool.
//
// OnBufferDone never blocks on the consumer. Failures that cannot be
// returned to anyone (the driver does not look at us) land in a shared
// abort error read through Err.
type Bridge struct {
	queue *FrameQueue
	pool  hal.Pool

	// Counter fields are touched only with atomic operations.
	seq             uint64
	callbacks       uint64
	delivered       uint64
	bytesDelivered  uint64
	keyFrames       uint64
	emptyBuffers    uint64
	sideInfoBuffers uint64
	resubmissions   uint64
	poolExhaustions uint64
	submitFailures  uint64

	mu          sync.Mutex
	abortErr    error
	lastFrameAt time.Time
}

// NewBridge wires a bridge between the given pool and queue.
func NewBridge(queue *FrameQueue, pool hal.Pool) *Bridge {
	return &Bridge{queue: queue, pool: pool}
}

// OnBufferDone implements hal.CompletionFunc.
//
// Every taken branch releases the driver buffer and, while the port stays
// enabled, resubmits one pool buffer, so the hardware is never starved no
// matter what the payload looked like.
func (b *Bridge) OnBufferDone(port hal.Port, buf hal.Buffer) {
	atomic.AddUint64(&b.callbacks, 1)

	length := buf.Length()
	flags := buf.Flags()

	switch {
	case length == 0:
		atomic.AddUint64(&b.emptyBuffers, 1)

	case flags.Has(hal.FlagCodecSideInfo):
		atomic.AddUint64(&b.sideInfoBuffers, 1)

	default:
		data := buf.Map()
		payload := make([]byte, length)
		n := copy(payload, data)
		buf.Unmap()

		if n != length {
			b.setAbort(fmt.Errorf("%w: copied %d of %d reported bytes", ErrIntegrity, n, length))
			break
		}

		f := Frame{
			Seq:         atomic.AddUint64(&b.seq, 1),
			PTS:         buf.PTS(),
			Timestamp:   time.Now(),
			Data:        payload,
			KeyFrame:    flags.Has(hal.FlagKeyFrame),
			CodecConfig: flags.Has(hal.FlagConfig),
			TraceID:     uuid.New().String(),
		}
		if b.queue.Push(f) {
			atomic.AddUint64(&b.delivered, 1)
			atomic.AddUint64(&b.bytesDelivered, uint64(length))
			if f.KeyFrame {
				atomic.AddUint64(&b.keyFrames, 1)
			}
			b.mu.Lock()
			b.lastFrameAt = f.Timestamp
			b.mu.Unlock()
		}
	}

	buf.Release()

	if !port.Enabled() {
		return
	}
	next, err := b.pool.Get()
	if err != nil {
		atomic.AddUint64(&b.poolExhaustions, 1)
		slog.Warn("picam: no free buffer to resubmit, encoder may stall", "error", err)
		return
	}
	if err := port.Submit(next); err != nil {
		atomic.AddUint64(&b.submitFailures, 1)
		next.Release()
		slog.Warn("picam: buffer resubmission failed", "port", port.Name(), "error", err)
		return
	}
	atomic.AddUint64(&b.resubmissions, 1)
}

func (b *Bridge) setAbort(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.abortErr != nil {
		return
	}
	b.abortErr = err
	slog.Error("picam: capture session aborting", "error", err)
}

// Err returns the first abort condition raised on the callback thread, or
// nil while the session is healthy.
func (b *Bridge) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.abortErr
}

// LastFrameAt reports the delivery time of the most recent frame.
func (b *Bridge) LastFrameAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastFrameAt
}

// Counters returns a snapshot of the delivery accounting.
func (b *Bridge) Counters() BridgeCounters {
	return BridgeCounters{
		Callbacks:       atomic.LoadUint64(&b.callbacks),
		Delivered:       atomic.LoadUint64(&b.delivered),
		BytesDelivered:  atomic.LoadUint64(&b.bytesDelivered),
		KeyFrames:       atomic.LoadUint64(&b.keyFrames),
		EmptyBuffers:    atomic.LoadUint64(&b.emptyBuffers),
		SideInfoBuffers: atomic.LoadUint64(&b.sideInfoBuffers),
		Resubmissions:   atomic.LoadUint64(&b.resubmissions),
		PoolExhaustions: atomic.LoadUint64(&b.poolExhaustions),
		SubmitFailures:  atomic.LoadUint64(&b.submitFailures),
	}
}
