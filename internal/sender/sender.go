// Package sender implements the sender loop (C7): a single background
// goroutine per sink that heartbeats, batches, posts, and — only after
// a successful post — removes the posted messages from the queue and
// commits any subscriptions whose cursor advanced past them.
package sender

import (
	"context"
	"time"

	"github.com/aaronmbuhr/syslogagent/internal/batcher"
	"github.com/aaronmbuhr/syslogagent/internal/queue"
	"github.com/aaronmbuhr/syslogagent/internal/ratelimit"
	"github.com/aaronmbuhr/syslogagent/internal/sink"
)

// MaxBatch bounds how many messages one Batch call may assemble,
// mirroring spec.md §4.3's MAX_BATCH.
const MaxBatch = 500

// maxIdleSlice bounds how long one iteration waits for the queue to
// become non-empty before heartbeating and looping anyway.
const maxIdleSlice = time.Second

// Committer persists the durable state associated with messages that
// have just been confirmed delivered — normally a subscription's
// bookmark commit (internal/subscription.Subscription.Commit). The
// sender does not know what "commit" means beyond calling this once per
// successful post.
type Committer func()

// FatalAuthPolicy decides what the sender does after a FatalAuth
// result: return true to keep retrying on a long backoff, false to stop
// the sink's loop entirely.
type FatalAuthPolicy func() (continueOnBackoff bool)

// Beater reports sender liveness to a watchdog; internal/watchdog.Heart
// satisfies this.
type Beater interface {
	Beat()
}

// Route pairs one sink with the queue it drains and the framing it
// posts in.
type Route struct {
	Name      string
	Sink      sink.Sink
	Queue     *queue.Queue
	Framing   batcher.Framing
	Commit    Committer
	OnFatal   FatalAuthPolicy
	KeepAlive bool
}

// Loop drives one Route until ctx is cancelled. Each iteration beats
// beater, waits for the queue to have data (or the idle slice to
// elapse), batches, connects if needed, posts, and on success removes
// the batched prefix from the queue and invokes Commit.
type Loop struct {
	route   Route
	beater  Beater
	backoff *ratelimit.Backoff
	bufSize int
}

// NewLoop builds a Loop over route, heartbeating to beater and using a
// batch output buffer of bufSize bytes.
func NewLoop(route Route, beater Beater, bufSize int) *Loop {
	return &Loop{route: route, beater: beater, backoff: ratelimit.DefaultBackoff(), bufSize: bufSize}
}

// Run blocks until ctx is cancelled, driving iterations per spec.md
// §4.7. It never returns an error: all failures are handled internally
// per the error taxonomy (transient retries, fatal logs/halts).
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		l.beater.Beat()
		l.waitForWorkOrIdle(ctx)
		if ctx.Err() != nil {
			return
		}
		out := l.iterate(ctx)
		if out.Halt {
			return
		}
		if out.BackoffDelay > 0 {
			select {
			case <-time.After(out.BackoffDelay):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (l *Loop) waitForWorkOrIdle(ctx context.Context) {
	if !l.route.Queue.IsEmpty() {
		return
	}
	done := make(chan struct{})
	go func() {
		l.route.Queue.WaitNonEmpty(maxIdleSlice)
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// iterate runs one batch/post/commit cycle for the route. It is a method
// (not a free function) so tests can drive one cycle directly without
// running the full Run loop.
func (l *Loop) iterate(ctx context.Context) Outcome {
	if l.route.Queue.IsEmpty() {
		return Outcome{Skipped: true}
	}

	buf := make([]byte, l.bufSize)
	res := batcher.Batch(l.route.Queue, buf, l.route.Framing, MaxBatch)
	if res.Status != batcher.Success {
		return Outcome{Skipped: true, BatchStatus: res.Status}
	}

	if !l.route.Sink.Connected() {
		if err := l.route.Sink.Connect(ctx); err != nil {
			return Outcome{ConnectFailed: true}
		}
	}

	postResult := l.route.Sink.Post(ctx, buf[:res.BytesWritten])
	switch postResult.Status {
	case sink.Success:
		l.route.Queue.RemoveFrontN(res.MessagesBatched)
		l.backoff.Reset()
		if !l.route.KeepAlive {
			l.route.Sink.Close()
		}
		if l.route.Commit != nil {
			l.route.Commit()
		}
		return Outcome{Posted: true, MessagesSent: res.MessagesBatched}

	case sink.Transient:
		l.route.Sink.Close()
		delay := l.backoff.Failure()
		return Outcome{Transient: true, BackoffDelay: delay}

	case sink.FatalAuth:
		keepGoing := true
		if l.route.OnFatal != nil {
			keepGoing = l.route.OnFatal()
		}
		if !keepGoing {
			return Outcome{FatalAuth: true, Halt: true}
		}
		delay := l.backoff.Failure()
		return Outcome{FatalAuth: true, BackoffDelay: delay}
	}
	return Outcome{}
}

// Outcome reports what one iterate() call did, for tests and logging.
type Outcome struct {
	Skipped       bool
	ConnectFailed bool
	Posted        bool
	Transient     bool
	FatalAuth     bool
	Halt          bool
	MessagesSent  int
	BackoffDelay  time.Duration
	BatchStatus   batcher.Status
}

// Iterate exposes one iteration for direct testing without spinning up
// the full Run goroutine loop.
func (l *Loop) Iterate(ctx context.Context) Outcome {
	return l.iterate(ctx)
}
