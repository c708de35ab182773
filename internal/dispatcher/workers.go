package dispatcher

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// pollQuantum is the inner sleep of every worker loop. Computed delays
// are consumed in quantized slices so pause and shutdown are never
// blocked behind a multi-second backoff sleep.
const pollQuantum = 50 * time.Millisecond

const (
	cartRetryDelay = 300 * time.Millisecond
	cartEmptyMin   = 1 * time.Second
	cartEmptyMax   = 11 * time.Second
	cartFullMin    = 10 * time.Second
	cartFullMax    = 20 * time.Second

	reserveMin = 200 * time.Millisecond
	reserveMax = 1 * time.Second

	orderMin = 100 * time.Millisecond
	orderMax = 300 * time.Millisecond

	unpaidMin = 55 * time.Second
	unpaidMax = 65 * time.Second
)

// retryableCode reports whether a platform result code signals a
// transient contention condition worth an immediate re-attempt. The set
// is empirical.
func retryableCode(code int) bool {
	return code == 5001 || code == 5003
}

// sleepQuantum sleeps one quantum; false means the group is shutting
// down and the loop must exit.
func sleepQuantum(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(pollQuantum):
		return true
	}
}

// cartWorker keeps the cart snapshot fresh: mark-all-selected, then
// refresh. Failure retries on a short fixed delay; a valid-but-empty
// cart on a shorter randomized delay than the multi-second jittered
// interval of a full cart. The jitter on the success path matters:
// many racing clients polling at a fixed period would synchronize and
// get rate limited together.
func (d *Dispatcher) cartWorker(ctx context.Context, g *workerGroup) {
	defer g.wg.Done()
	log := d.logger().Named("cart")
	log.Info("cart worker started")
	defer log.Info("cart worker stopped")

	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	seen := d.forceRetry.Load()
	var last time.Time
	var delay time.Duration
	for sleepQuantum(ctx) {
		if gen := d.forceRetry.Load(); gen != seen {
			seen = gen
			delay = 0
		}
		if !last.IsZero() && time.Since(last) < delay {
			continue
		}
		// in-flight calls run to completion; cancellation only gates
		// the next cycle
		callCtx := context.WithoutCancel(ctx)
		switch {
		case d.Session.CartCheckAll(callCtx) != nil:
			delay = cartRetryDelay
		case d.Session.RefreshCart(callCtx) != nil:
			delay = cartRetryDelay
		case !d.Session.HasCart():
			delay = between(rnd, cartEmptyMin, cartEmptyMax)
		default:
			delay = between(rnd, cartFullMin, cartFullMax)
		}
		last = time.Now()
	}
}

// reserveWorker polls window discovery eagerly on a randomized
// sub-second delay regardless of outcome; open windows are the scarce,
// time-critical signal.
func (d *Dispatcher) reserveWorker(ctx context.Context, g *workerGroup) {
	defer g.wg.Done()
	log := d.logger().Named("reserve")
	log.Info("reserve time worker started")
	defer log.Info("reserve time worker stopped")

	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	var last time.Time
	var delay time.Duration
	for sleepQuantum(ctx) {
		if !last.IsZero() && time.Since(last) < delay {
			continue
		}
		if err := d.Session.DiscoverReserveTimes(context.WithoutCancel(ctx)); err != nil {
			log.Debug("discovery came up empty", zap.Error(err))
		}
		delay = between(rnd, reserveMin, reserveMax)
		last = time.Now()
	}
}

// orderWorker races check-then-submit against the open window set on a
// short randomized delay, skipping the remaining delay whenever the
// force-retry generation moves.
func (d *Dispatcher) orderWorker(ctx context.Context, g *workerGroup, idx int) {
	defer g.wg.Done()
	log := d.logger().Named(fmt.Sprintf("order-%d", idx))
	log.Info("order worker started")
	defer log.Info("order worker stopped")

	rnd := rand.New(rand.NewSource(time.Now().UnixNano() + int64(idx)))
	seen := d.forceRetry.Load()
	var last time.Time
	var delay time.Duration
	for sleepQuantum(ctx) {
		if gen := d.forceRetry.Load(); gen != seen {
			seen = gen
			delay = 0
		}
		if !last.IsZero() && time.Since(last) < delay {
			continue
		}
		d.tryOrder(context.WithoutCancel(ctx), log, rnd)
		delay = between(rnd, orderMin, orderMax)
		last = time.Now()
	}
}

// tryOrder runs one order cycle: pick an open window uniformly at
// random, quote it, submit it. Losing a race on a just-taken window is
// expected; retryable codes wake every worker for the next attempt.
func (d *Dispatcher) tryOrder(ctx context.Context, log *zap.Logger, rnd *rand.Rand) {
	times := d.Session.ReserveTimes()
	if len(times) == 0 {
		return
	}
	rt := times[rnd.Intn(len(times))]
	log.Debug("trying reserve time",
		zap.Time("start", rt.Start),
		zap.Time("end", rt.End))

	order, code, err := d.Session.CheckOrder(ctx, rt)
	if err != nil {
		if retryableCode(code) {
			d.forceRetry.Add(1)
		}
		log.Warn("check order failed", zap.Int("code", code), zap.Error(err))
		return
	}

	code, err = d.Session.SubmitOrder(ctx, order)
	if err != nil {
		if retryableCode(code) {
			d.forceRetry.Add(1)
		}
		log.Warn("submit order failed", zap.Int("code", code), zap.Error(err))
		return
	}

	log.Info("order placed", zap.Int("items", code))
	d.notify(fmt.Sprintf("Grabbed %d items, go pay now!", code))
}

// unpaidWorker runs for the dispatcher's whole life, independent of
// Running/Paused, and nags about orders awaiting payment. Purely
// informational; it never feeds back into the order workers.
func (d *Dispatcher) unpaidWorker(ctx context.Context) {
	defer d.rootWG.Done()
	log := d.logger().Named("unpaid")
	log.Info("unpaid worker started")
	defer log.Info("unpaid worker stopped")

	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	var last time.Time
	var delay time.Duration
	for sleepQuantum(ctx) {
		if !last.IsZero() && time.Since(last) < delay {
			continue
		}
		n, err := d.Session.HasUnpaidOrder(context.WithoutCancel(ctx))
		if err != nil {
			log.Warn("unpaid order check failed", zap.Error(err))
		} else if n > 0 {
			d.notify(fmt.Sprintf("You have %d unpaid order(s), go pay!", n))
		}
		delay = between(rnd, unpaidMin, unpaidMax)
		last = time.Now()
	}
}

// between draws a uniform duration from [lo, hi).
func between(rnd *rand.Rand, lo, hi time.Duration) time.Duration {
	return lo + time.Duration(rnd.Int63n(int64(hi-lo)))
}
