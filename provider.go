package picam

import "context"

// FrameSource defines the contract for encoded frame acquisition
//
// Implementations must guarantee:
//   - Initialize() either completes the full hardware bring-up or rolls
//     back every partial step before returning the error
//   - Start() and Stop() only toggle frame production; resources live
//     from Initialize() to Shutdown()
//   - Pull() is safe for one consumer and delivers frames in completion
//     order with strictly increasing sequence numbers
//   - Stop() never discards queued frames; Pull() drains them and then
//     returns ErrStopped
//   - Shutdown() is idempotent (safe to call multiple times)
//   - Stats() and Err() are thread-safe (callable from any goroutine)
type FrameSource interface {
	// Initialize performs the ordered hardware bring-up: stages created
	// and configured, tunnel connected, buffer pool sized and primed.
	//
	// On failure every completed step is undone in reverse order and the
	// step that failed is named in the returned error. A configuration
	// the hardware cannot admit returns an error wrapping
	// ErrConfigRejected.
	Initialize() error

	// Start begins frame production. Frames arrive asynchronously and
	// are buffered until pulled. Start fails unless Initialize has
	// completed.
	Start() error

	// Pull blocks until the next frame is available, the context is
	// cancelled, or capture has stopped and the queue is drained, in
	// which case it returns ErrStopped.
	//
	// The returned frame owns its payload; it is never overwritten by
	// later deliveries.
	Pull(ctx context.Context) (Frame, error)

	// Stop halts frame production. Frames already queued remain
	// pullable. Stop before Start is a no-op.
	Stop() error

	// Shutdown stops capture if running and tears down every hardware
	// resource in reverse bring-up order.
	Shutdown() error

	// Err reports a fatal asynchronous failure of the session, such as a
	// buffer integrity violation or a dead streaming thread. Nil while
	// healthy. Control loops poll it; Pull never returns it.
	Err() error

	// Stats returns a point-in-time snapshot of delivery counters and
	// buffer accounting.
	Stats() CaptureStats
}
