// Package dispatcher orchestrates the polling workers that race for
// delivery windows: a cart refresher, a window discoverer, N order
// workers, an always-on unpaid-order watcher and an optional schedule
// evaluator that starts and pauses the racing set as configured
// time-of-day windows open and close.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fentensoft/maicai/internal/maicai"
	"github.com/fentensoft/maicai/internal/notify"
	"go.uber.org/zap"
)

// Session is the slice of the platform client the workers drive.
// *maicai.Session satisfies it; tests substitute a fake.
type Session interface {
	CartCheckAll(ctx context.Context) error
	RefreshCart(ctx context.Context) error
	HasCart() bool
	DiscoverReserveTimes(ctx context.Context) error
	ReserveTimes() []maicai.ReserveTime
	CheckOrder(ctx context.Context, rt maicai.ReserveTime) (*maicai.Order, int, error)
	SubmitOrder(ctx context.Context, order *maicai.Order) (int, error)
	HasUnpaidOrder(ctx context.Context) (int, error)
}

// State is the dispatcher lifecycle state. Running and Paused alternate
// under schedule control; Stopped is terminal.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

const defaultOrderWorkers = 2

// Dispatcher owns a Session and an optional Notifier and runs the
// worker set against them. Collaborator fields must be set before
// Start and not touched afterwards.
type Dispatcher struct {
	Session      Session
	Notifier     notify.Notifier
	OnSuccess    func(msg string)
	OrderWorkers int
	Log          *zap.Logger

	state atomic.Int32

	// forceRetry is a broadcast generation counter: any worker seeing a
	// retryable platform code bumps it, and every polling worker whose
	// remembered generation is stale fires its next cycle immediately.
	// Unlike a shared consumable flag, no worker can steal another's
	// wake-up and concurrent bumps coalesce.
	forceRetry atomic.Uint64

	// now is the schedule evaluator's clock; tests substitute a fake
	now func() time.Time

	mu         sync.Mutex
	schedules  []Schedule
	started    bool
	stopped    bool
	rootCtx    context.Context
	rootCancel context.CancelFunc
	rootWG     sync.WaitGroup
	group      *workerGroup
}

// workerGroup is one spawn of the racing set (cart + reserve + order
// workers). pause cancels and fully joins a group before the next one
// may spawn, so duplicate groups cannot coexist.
type workerGroup struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SetSchedule installs the active windows. Degenerate entries are
// dropped with a warning. With no (valid) schedule the dispatcher runs
// continuously once started. Must be called before Start.
func (d *Dispatcher) SetSchedule(schedules []Schedule) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.schedules = d.schedules[:0]
	for _, s := range schedules {
		if !s.Valid() {
			d.logger().Warn("dropping invalid schedule", zap.Stringer("window", s))
			continue
		}
		d.logger().Info("scheduling", zap.Stringer("window", s))
		d.schedules = append(d.schedules, s)
	}
}

// Start brings the dispatcher live: the unpaid watcher always, plus
// either the racing workers directly (no schedule) or the schedule
// evaluator that will start and pause them. Returns an error without
// side effects when no session is attached.
func (d *Dispatcher) Start() error {
	if d.Session == nil {
		return errors.New("dispatcher: session required before start")
	}
	if d.OrderWorkers <= 0 {
		d.OrderWorkers = defaultOrderWorkers
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return errors.New("dispatcher: already stopped")
	}
	if d.started {
		return nil
	}
	d.started = true
	d.rootCtx, d.rootCancel = context.WithCancel(context.Background())

	d.rootWG.Add(1)
	go d.unpaidWorker(d.rootCtx)

	if len(d.schedules) == 0 {
		d.spawnLocked()
	} else {
		d.state.Store(int32(StatePaused))
		d.rootWG.Add(1)
		go d.scheduleWorker(d.rootCtx)
	}
	return nil
}

// Stop transitions to Stopped from any state: halts the schedule loop
// and the unpaid watcher, pauses the racing set and joins every spawned
// goroutine before returning. Idempotent.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	if !d.started {
		d.state.Store(int32(StateStopped))
		d.mu.Unlock()
		return
	}
	cancel := d.rootCancel
	d.mu.Unlock()

	cancel()
	// schedule evaluator and unpaid watcher exit first so no respawn
	// can race the final pause
	d.rootWG.Wait()

	d.mu.Lock()
	d.pauseLocked()
	d.state.Store(int32(StateStopped))
	d.mu.Unlock()
	d.logger().Info("dispatcher stopped")
}

// State reports the current lifecycle state.
func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

// spawnLocked starts a fresh racing group. Caller holds d.mu and has
// ensured no group is live.
func (d *Dispatcher) spawnLocked() {
	ctx, cancel := context.WithCancel(d.rootCtx)
	g := &workerGroup{cancel: cancel}
	g.wg.Add(2 + d.OrderWorkers)
	go d.cartWorker(ctx, g)
	go d.reserveWorker(ctx, g)
	for i := 0; i < d.OrderWorkers; i++ {
		go d.orderWorker(ctx, g, i)
	}
	d.group = g
	d.state.Store(int32(StateRunning))
}

// pauseLocked cancels the racing group and joins it. Caller holds d.mu;
// the join is safe under the lock because workers never take it.
func (d *Dispatcher) pauseLocked() {
	if d.group == nil {
		return
	}
	d.group.cancel()
	d.group.wg.Wait()
	d.group = nil
	if d.State() == StateRunning {
		d.state.Store(int32(StatePaused))
	}
}

// scheduleWorker flips the racing set between Running and Paused as the
// configured windows open and close, re-evaluating every quantum.
func (d *Dispatcher) scheduleWorker(ctx context.Context) {
	defer d.rootWG.Done()
	log := d.logger().Named("schedule")
	log.Info("schedule worker started")
	defer log.Info("schedule worker stopped")

	for sleepQuantum(ctx) {
		d.mu.Lock()
		should := anyActive(d.schedules, d.clock())
		switch {
		case should && d.group == nil && !d.stopped:
			log.Info("schedule start")
			d.spawnLocked()
		case !should && d.group != nil:
			log.Info("schedule stop")
			d.pauseLocked()
		}
		d.mu.Unlock()
	}
}

// notify delivers a user-visible success event: best-effort external
// notification first, then the registered callback. Notification
// failure never propagates into the racing path.
func (d *Dispatcher) notify(msg string) {
	if d.Notifier != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.Notifier.Notify(ctx, msg); err != nil {
			d.logger().Warn("notification failed", zap.Error(err))
		}
		cancel()
	}
	if d.OnSuccess != nil {
		d.OnSuccess(msg)
	}
}

func (d *Dispatcher) clock() time.Time {
	if d.now != nil {
		return d.now()
	}
	return time.Now()
}

func (d *Dispatcher) logger() *zap.Logger {
	if d.Log != nil {
		return d.Log
	}
	return zap.L()
}
