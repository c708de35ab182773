package dispatcher

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fentensoft/maicai/internal/maicai"
)

// fakeSession counts calls and lets tests script outcomes per
// operation. The zero value behaves like a healthy session with one
// open window.
type fakeSession struct {
	mu         sync.Mutex
	cartCalls  int
	checkCalls int
	submits    int
	unpaid     int

	windows    []maicai.ReserveTime
	checkCode  int
	checkErr   error
	submitCode int
	submitErr  error
	unpaidN    int

	// winOnce makes the first submit succeed and clear the windows,
	// like the real session; every later submit fails
	winOnce bool
	won     bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		windows: []maicai.ReserveTime{{
			Start: time.Now().Add(time.Hour),
			End:   time.Now().Add(2 * time.Hour),
		}},
	}
}

func (f *fakeSession) CartCheckAll(context.Context) error {
	f.mu.Lock()
	f.cartCalls++
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) RefreshCart(context.Context) error { return nil }
func (f *fakeSession) HasCart() bool                     { return true }

func (f *fakeSession) DiscoverReserveTimes(context.Context) error { return nil }

func (f *fakeSession) ReserveTimes() []maicai.ReserveTime {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]maicai.ReserveTime, len(f.windows))
	copy(out, f.windows)
	return out
}

func (f *fakeSession) CheckOrder(_ context.Context, rt maicai.ReserveTime) (*maicai.Order, int, error) {
	f.mu.Lock()
	f.checkCalls++
	code, err := f.checkCode, f.checkErr
	f.mu.Unlock()
	if err != nil {
		return nil, code, err
	}
	return &maicai.Order{ReserveTime: rt}, code, nil
}

func (f *fakeSession) SubmitOrder(context.Context, *maicai.Order) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.winOnce {
		if f.won {
			return -1, errors.New("no quote")
		}
		f.won = true
		f.windows = nil
		return 2, nil
	}
	return f.submitCode, f.submitErr
}

func (f *fakeSession) HasUnpaidOrder(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unpaid++
	return f.unpaidN, nil
}

func (f *fakeSession) cartCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cartCalls
}

func (f *fakeSession) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

func newTestDispatcher(s Session) *Dispatcher {
	return &Dispatcher{
		Session:      s,
		OrderWorkers: 2,
		Log:          zap.NewNop(),
	}
}

func TestStartRequiresSession(t *testing.T) {
	d := &Dispatcher{Log: zap.NewNop()}
	require.Error(t, d.Start())
	assert.Equal(t, StateIdle, d.State())
}

func TestStartStopLifecycle(t *testing.T) {
	fs := newFakeSession()
	d := newTestDispatcher(fs)

	require.NoError(t, d.Start())
	assert.Equal(t, StateRunning, d.State())

	// starting again is a no-op
	require.NoError(t, d.Start())

	// workers are actually cycling
	require.Eventually(t, func() bool {
		return fs.cartCallCount() > 0
	}, 2*time.Second, 10*time.Millisecond)

	d.Stop()
	assert.Equal(t, StateStopped, d.State())

	// Stop joins everything: no cycle may land afterwards
	after := fs.cartCallCount()
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, after, fs.cartCallCount())

	// terminal: neither restart nor double stop does anything
	require.Error(t, d.Start())
	d.Stop()
	assert.Equal(t, StateStopped, d.State())
}

func TestStopBeforeStart(t *testing.T) {
	d := newTestDispatcher(newFakeSession())
	d.Stop()
	assert.Equal(t, StateStopped, d.State())
	require.Error(t, d.Start())
}

func TestStopReturnsPromptlyDuringBackoff(t *testing.T) {
	fs := newFakeSession()
	d := newTestDispatcher(fs)
	require.NoError(t, d.Start())

	// let the cart worker complete a cycle and enter its 10-20s backoff
	require.Eventually(t, func() bool {
		return fs.cartCallCount() > 0
	}, 2*time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		d.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked behind a worker backoff")
	}
}

func TestScheduleGatedStart(t *testing.T) {
	fs := newFakeSession()
	d := newTestDispatcher(fs)
	now := time.Now()

	// a window that is nowhere near now
	inactive := Schedule{
		StartHour: (now.Hour() + 6) % 24,
		StopHour:  (now.Hour() + 8) % 24,
	}
	d.SetSchedule([]Schedule{inactive})
	require.NoError(t, d.Start())
	defer d.Stop()

	assert.Equal(t, StatePaused, d.State())
	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, fs.cartCallCount())
}

func TestScheduleActivatesWorkers(t *testing.T) {
	fs := newFakeSession()
	d := newTestDispatcher(fs)
	now := time.Now()

	active := Schedule{
		StartHour:   now.Hour(),
		StartMinute: 0,
		StopHour:    (now.Hour() + 2) % 24,
		StopMinute:  0,
	}
	d.SetSchedule([]Schedule{active})
	require.NoError(t, d.Start())
	defer d.Stop()

	require.Eventually(t, func() bool {
		return d.State() == StateRunning && fs.cartCallCount() > 0
	}, 2*time.Second, 10*time.Millisecond)
}

// Walk a fake clock across one schedule window's edges: paused before
// the window, running within a quantum of the start, paused again at
// the stop with every poller joined, and a single fresh group when the
// window reopens.
func TestScheduleTransitionsAcrossWindowEdges(t *testing.T) {
	fs := newFakeSession()
	d := newTestDispatcher(fs)

	var clockMu sync.Mutex
	now := time.Date(2026, time.March, 10, 9, 58, 0, 0, time.Local)
	d.now = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}
	setClock := func(hour, minute int) {
		clockMu.Lock()
		now = time.Date(2026, time.March, 10, hour, minute, 0, 0, time.Local)
		clockMu.Unlock()
	}

	d.SetSchedule([]Schedule{{StartHour: 9, StartMinute: 59, StopHour: 10, StopMinute: 5}})
	require.NoError(t, d.Start())
	defer d.Stop()
	assert.Equal(t, StatePaused, d.State())

	setClock(10, 0)
	require.Eventually(t, func() bool {
		return d.State() == StateRunning && fs.cartCallCount() > 0
	}, 2*time.Second, 10*time.Millisecond)

	setClock(10, 5)
	require.Eventually(t, func() bool {
		return d.State() == StatePaused
	}, 2*time.Second, 10*time.Millisecond)

	// the pause fully joined the group: no cycle may land afterwards
	after := fs.cartCallCount()
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, after, fs.cartCallCount())

	// reopening the window spawns one fresh group whose cart worker
	// cycles immediately
	setClock(10, 1)
	require.Eventually(t, func() bool {
		return d.State() == StateRunning && fs.cartCallCount() > after
	}, 2*time.Second, 10*time.Millisecond)
	d.mu.Lock()
	assert.NotNil(t, d.group)
	d.mu.Unlock()
}

func TestSetScheduleDropsInvalid(t *testing.T) {
	d := newTestDispatcher(newFakeSession())
	d.SetSchedule([]Schedule{
		{StartHour: 25},                              // out of range
		{StartHour: 8, StopHour: 8},                  // zero length
		{StartHour: 8, StopHour: 9},                  // valid
		{StartHour: 8, StartMinute: 61, StopHour: 9}, // out of range
	})
	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Len(t, d.schedules, 1)
}

func TestUnpaidWatcherNotifiesWhilePaused(t *testing.T) {
	fs := newFakeSession()
	fs.unpaidN = 3
	d := newTestDispatcher(fs)

	msgs := make(chan string, 8)
	d.OnSuccess = func(msg string) { msgs <- msg }

	// inactive schedule: racing set paused, watcher still on
	d.SetSchedule([]Schedule{{
		StartHour: (time.Now().Hour() + 6) % 24,
		StopHour:  (time.Now().Hour() + 8) % 24,
	}})
	require.NoError(t, d.Start())
	defer d.Stop()

	select {
	case msg := <-msgs:
		assert.Equal(t, "You have 3 unpaid order(s), go pay!", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no unpaid notification while paused")
	}
	assert.Equal(t, StatePaused, d.State())
}

// Two order workers race one once-succeeding submit: exactly one
// success notification, never two.
func TestOrderRaceSingleSuccess(t *testing.T) {
	fs := newFakeSession()
	fs.winOnce = true
	d := newTestDispatcher(fs)

	var successes atomic.Int32
	got := make(chan struct{}, 1)
	d.OnSuccess = func(msg string) {
		if successes.Add(1) == 1 {
			got <- struct{}{}
		}
	}

	require.NoError(t, d.Start())

	select {
	case <-got:
	case <-time.After(3 * time.Second):
		t.Fatal("no order success")
	}

	// give the losing worker time to run into the cleared windows
	time.Sleep(500 * time.Millisecond)
	d.Stop()
	assert.Equal(t, int32(1), successes.Load())
}

// A force-retry bump must pull the cart worker out of its 10-20s
// success backoff well before the backoff would expire on its own.
func TestForceRetryWakesBackedOffWorker(t *testing.T) {
	fs := newFakeSession()
	d := newTestDispatcher(fs)
	d.OrderWorkers = 1
	// keep the order worker quiet so only the explicit bump moves the
	// generation
	fs.windows = nil

	require.NoError(t, d.Start())
	defer d.Stop()

	require.Eventually(t, func() bool {
		return fs.cartCallCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	d.forceRetry.Add(1)
	require.Eventually(t, func() bool {
		return fs.cartCallCount() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTryOrderBumpsRetryGeneration(t *testing.T) {
	for _, tc := range []struct {
		name string
		code int
		want uint64
	}{
		{"retryable contention", 5001, 1},
		{"retryable stock", 5003, 1},
		{"terminal failure", 4001, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fs := newFakeSession()
			fs.checkCode = tc.code
			fs.checkErr = errors.New("rejected")
			d := newTestDispatcher(fs)

			rnd := rand.New(rand.NewSource(1))
			d.tryOrder(context.Background(), zap.NewNop(), rnd)
			assert.Equal(t, tc.want, d.forceRetry.Load())
		})
	}
}

func TestTryOrderSubmitFailureBumpsGeneration(t *testing.T) {
	fs := newFakeSession()
	fs.submitCode = 5003
	fs.submitErr = errors.New("stock changed")
	d := newTestDispatcher(fs)

	rnd := rand.New(rand.NewSource(1))
	d.tryOrder(context.Background(), zap.NewNop(), rnd)
	assert.Equal(t, uint64(1), d.forceRetry.Load())
}

func TestTryOrderSkipsWithoutWindows(t *testing.T) {
	fs := newFakeSession()
	fs.windows = nil
	d := newTestDispatcher(fs)

	rnd := rand.New(rand.NewSource(1))
	d.tryOrder(context.Background(), zap.NewNop(), rnd)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	assert.Zero(t, fs.checkCalls)
}

func TestTryOrderSuccessMessage(t *testing.T) {
	fs := newFakeSession()
	fs.submitCode = 4
	d := newTestDispatcher(fs)

	var got string
	d.OnSuccess = func(msg string) { got = msg }
	d.tryOrder(context.Background(), zap.NewNop(), rand.New(rand.NewSource(1)))
	assert.Equal(t, "Grabbed 4 items, go pay now!", got)
}

func TestRetryableCode(t *testing.T) {
	assert.True(t, retryableCode(5001))
	assert.True(t, retryableCode(5003))
	assert.False(t, retryableCode(0))
	assert.False(t, retryableCode(5002))
	assert.False(t, retryableCode(-1))
}

func TestBetweenBounds(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		d := between(rnd, 100*time.Millisecond, 300*time.Millisecond)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.Less(t, d, 300*time.Millisecond)
	}
}
