package acquisition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/roman-kulish/spindle-monitor/internal/remote"
	"github.com/roman-kulish/spindle-monitor/internal/spectrum"
)

const (
	// DefaultPollInterval is the time between two fetch ticks.
	DefaultPollInterval = time.Second

	// DefaultRequestTimeout bounds every start, fetch and stop call.
	DefaultRequestTimeout = 3 * time.Second

	// DefaultFailureThreshold is the number of consecutive failed fetches after which the streak
	// is reported as an error.
	DefaultFailureThreshold = 5

	malformedLogInterval = 10 * time.Second
)

// ErrStartAborted is returned by Start when the run was stopped before the collector answered.
var ErrStartAborted = errors.New("acquisition: start aborted")

// Observer is called with a copy of the state after every transition that changed it. Observers
// run one at a time, in transition order, and must not call back into the Controller.
type Observer func(s State)

// Metrics receives the controller's observations.
type Metrics interface {
	ObserveFetch(ch spectrum.Channel, elapsed time.Duration, err error)
	ObserveOutcome(o Outcome)
	SetStatus(s Status)
	SetConsecutiveFailures(ch spectrum.Channel, n int)
}

// WithLogger sets the logger for the controller
func WithLogger(logger *slog.Logger) func(*Controller) {
	return func(c *Controller) {
		c.logger = logger.With(slog.String("component", "acquisition"))
	}
}

// WithPollInterval sets the time between two fetch ticks.
func WithPollInterval(d time.Duration) func(*Controller) {
	return func(c *Controller) {
		c.interval = d
	}
}

// WithRequestTimeout bounds every call made to the collector.
func WithRequestTimeout(d time.Duration) func(*Controller) {
	return func(c *Controller) {
		c.timeout = d
	}
}

// WithFailureThreshold sets the number of consecutive failed fetches reported as an error.
func WithFailureThreshold(n int) func(*Controller) {
	return func(c *Controller) {
		c.failureThreshold = n
	}
}

// WithScheduler replaces the wall clock scheduler driving the poll ticks.
func WithScheduler(s Scheduler) func(*Controller) {
	return func(c *Controller) {
		c.scheduler = s
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) func(*Controller) {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithNormalizer sets the normalizer applied to every received frame before it is displayed.
func WithNormalizer(n Normalizer) func(*Controller) {
	return func(c *Controller) {
		c.normalizer = n
	}
}

// WithSpawner sets the function used to run fetch requests in the background. The default starts
// a goroutine.
func WithSpawner(spawn func(func())) func(*Controller) {
	return func(c *Controller) {
		c.spawn = spawn
	}
}

// Controller drives one acquisition loop: it owns the State, arms the poll timer, calls the
// collector and publishes the frames it returns to observers. It is safe for concurrent use.
type Controller struct {
	source           Collector
	interval         time.Duration
	timeout          time.Duration
	failureThreshold int
	scheduler        Scheduler
	metrics          Metrics
	normalizer       Normalizer
	spawn            func(func())
	logger           *slog.Logger

	malformedLimiter    *rate.Limiter
	malformedSuppressed atomic.Int64

	mu        sync.Mutex
	state     State
	timer     Timer
	cancelRun context.CancelFunc
	runCtx    context.Context

	notifyMu  sync.Mutex
	observers map[uint64]Observer
	nextObs   uint64
}

// New creates a controller in the Idle state.
func New(source Collector, options ...func(*Controller)) *Controller {
	c := Controller{
		source:           source,
		interval:         DefaultPollInterval,
		timeout:          DefaultRequestTimeout,
		failureThreshold: DefaultFailureThreshold,
		scheduler:        TickerScheduler{},
		metrics:          nopMetrics{},
		spawn:            func(fn func()) { go fn() },
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		malformedLimiter: rate.NewLimiter(rate.Every(malformedLogInterval), 1),
		observers:        make(map[uint64]Observer),
	}

	for _, option := range options {
		option(&c)
	}

	return &c
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Subscribe registers an observer and returns a function that removes it.
func (c *Controller) Subscribe(o Observer) (unsubscribe func()) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	id := c.nextObs
	c.nextObs++
	c.observers[id] = o

	return func() {
		c.notifyMu.Lock()
		defer c.notifyMu.Unlock()
		delete(c.observers, id)
	}
}

// Start begins a run on ch. It blocks until the collector has answered the start request; on
// failure the controller returns to Idle without arming the poll timer and the error is returned.
func (c *Controller) Start(ctx context.Context, ch spectrum.Channel) error {
	runID := uuid.New()

	c.mu.Lock()
	st, _, err := c.transition(StartRequested{Channel: ch, RunID: runID})
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.runCtx, c.cancelRun = context.WithCancel(context.Background())
	runCtx, seq := c.runCtx, st.PendingSeq
	c.unlockAndNotify(st)

	logger := c.logger.With(slog.String("channel", ch.String()), slog.String("runID", runID.String()))
	logger.Info("starting acquisition")

	reqCtx, cancel := c.requestContext(ctx, runCtx)
	frame, err := c.source.Start(reqCtx, ch)
	cancel()

	c.mu.Lock()
	if err == nil {
		frame, err = c.normalizeApplied(StartSucceeded{Seq: seq, Frame: frame})
	}
	if err != nil {
		st, out, _ := c.transition(StartFailed{Seq: seq, Err: err})
		if out == Discarded {
			c.mu.Unlock()
			return ErrStartAborted
		}
		c.releaseRun()
		c.unlockAndNotify(st)

		logger.Error("failed to start acquisition", slog.String("error", err.Error()))
		return fmt.Errorf("starting channel %s: %w", ch, err)
	}

	st, out, _ := c.transition(StartSucceeded{Seq: seq, Frame: frame})
	if out != Applied {
		c.mu.Unlock()
		return ErrStartAborted
	}
	c.timer = c.scheduler.Every(c.interval, func() { c.tick(runID) })
	c.unlockAndNotify(st)

	logger.Info("acquisition running", slog.Duration("interval", c.interval))
	return nil
}

// Stop ends the current run: the poll timer is disarmed, outstanding requests are cancelled and
// the collector is asked to stop. A failed collector stop is logged, the controller still returns
// to Idle. Stopping an idle controller does nothing.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	ch := c.state.Channel
	st, out, _ := c.transition(StopRequested{})
	if out == Ignored {
		c.mu.Unlock()
		return nil
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.releaseRun()
	c.unlockAndNotify(st)

	logger := c.logger.With(slog.String("channel", ch.String()))

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	err := c.source.Stop(reqCtx, ch)
	cancel()
	if err != nil {
		logger.Warn("collector stop failed", slog.String("error", err.Error()))
	}

	c.mu.Lock()
	st, _, _ = c.transition(StopCompleted{Err: err})
	c.unlockAndNotify(st)

	logger.Info("acquisition stopped")
	return nil
}

// SetChannel selects the channel. While a run is in progress the old channel is stopped and the new
// one started.
func (c *Controller) SetChannel(ctx context.Context, ch spectrum.Channel) error {
	c.mu.Lock()
	status, current := c.state.Status, c.state.Channel

	if status == Idle {
		st, out, err := c.transition(ChannelSelected{Channel: ch})
		if err != nil || out == Unchanged {
			c.mu.Unlock()
			return err
		}
		c.unlockAndNotify(st)
		return nil
	}
	c.mu.Unlock()

	if status == Running && ch == current {
		return nil
	}

	if err := c.Stop(ctx); err != nil {
		return err
	}
	return c.Start(ctx, ch)
}

// FetchNow requests a frame outside of the poll schedule. It fails with a StateViolation unless the
// controller is running. When a fetch is already in flight the request is dropped.
func (c *Controller) FetchNow(context.Context) error {
	c.mu.Lock()
	runID := c.state.RunID
	c.mu.Unlock()

	return c.fetch(FetchRequested{RunID: runID, Manual: true})
}

// Close stops the run and resets the state to a fresh Idle one. The selected channel is kept.
func (c *Controller) Close(ctx context.Context) error {
	err := c.Stop(ctx)

	c.mu.Lock()
	st := State{
		Channel:   c.state.Channel,
		IssuedSeq: c.state.IssuedSeq,
	}
	c.state = st
	c.unlockAndNotify(st)

	return err
}

func (c *Controller) tick(runID uuid.UUID) {
	if err := c.fetch(FetchRequested{RunID: runID}); err != nil {
		c.logger.Error("tick failed", slog.String("error", err.Error()))
	}
}

func (c *Controller) fetch(ev FetchRequested) error {
	c.mu.Lock()
	st, out, err := c.transition(ev)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if out != Issued {
		c.mu.Unlock()
		if out == Dropped {
			c.logger.Debug("fetch in flight, request dropped", slog.Bool("manual", ev.Manual))
		}
		return nil
	}
	runCtx, ch, seq := c.runCtx, st.Channel, st.PendingSeq
	c.unlockAndNotify(st)

	c.spawn(func() {
		ctx, cancel := context.WithTimeout(runCtx, c.timeout)
		defer cancel()

		started := time.Now()
		frame, err := c.source.NextFrame(ctx, ch)
		if runCtx.Err() == nil {
			c.metrics.ObserveFetch(ch, time.Since(started), err)
		}

		c.complete(ch, seq, frame, err)
	})

	return nil
}

func (c *Controller) complete(ch spectrum.Channel, seq uint64, frame spectrum.Frame, err error) {
	c.mu.Lock()
	if err == nil {
		frame, err = c.normalizeApplied(FetchSucceeded{Seq: seq, Frame: frame})
	}

	var ev Event = FetchSucceeded{Seq: seq, Frame: frame}
	if err != nil {
		ev = FetchFailed{Seq: seq, Err: err}
	}

	st, out, _ := c.transition(ev)
	if out == Discarded {
		c.mu.Unlock()
		c.logger.Debug("late result discarded", slog.String("channel", ch.String()), slog.Uint64("seq", seq))
		return
	}
	c.unlockAndNotify(st)

	if err == nil {
		c.metrics.SetConsecutiveFailures(ch, 0)
		return
	}

	c.metrics.SetConsecutiveFailures(ch, st.ConsecutiveFailures)
	c.logFetchError(ch, seq, err)

	if st.ConsecutiveFailures == c.failureThreshold {
		c.logger.Error("collector keeps failing",
			slog.String("channel", ch.String()),
			slog.Int("consecutiveFailures", st.ConsecutiveFailures),
			slog.String("error", err.Error()))
	}
}

func (c *Controller) logFetchError(ch spectrum.Channel, seq uint64, err error) {
	if !remote.IsMalformed(err) {
		c.logger.Warn("fetch failed",
			slog.String("channel", ch.String()),
			slog.Uint64("seq", seq),
			slog.String("error", err.Error()))
		return
	}

	if !c.malformedLimiter.Allow() {
		c.malformedSuppressed.Add(1)
		return
	}

	c.logger.Warn("malformed collector response",
		slog.String("channel", ch.String()),
		slog.Uint64("seq", seq),
		slog.Int64("suppressed", c.malformedSuppressed.Swap(0)),
		slog.String("error", err.Error()))
}

// normalizeApplied must be called with c.mu held. The frame carried by ev is normalized only when
// the reducer would apply it, so a late or stale result never reaches the normalizer.
func (c *Controller) normalizeApplied(ev Event) (spectrum.Frame, error) {
	var f spectrum.Frame
	switch e := ev.(type) {
	case StartSucceeded:
		f = e.Frame
	case FetchSucceeded:
		f = e.Frame
	}

	if c.normalizer == nil {
		return f, nil
	}
	if _, out, _ := Transition(c.state, ev); out != Applied {
		return f, nil
	}

	n, err := c.normalizer.Normalize(f)
	if err != nil {
		return spectrum.Frame{}, fmt.Errorf("normalizing frame: %w", err)
	}
	return n, nil
}

// requestContext returns a context bounded by the request timeout that is cancelled when either
// the caller's context or the run ends.
func (c *Controller) requestContext(ctx, runCtx context.Context) (context.Context, context.CancelFunc) {
	reqCtx, cancel := context.WithTimeout(runCtx, c.timeout)
	stop := context.AfterFunc(ctx, cancel)

	return reqCtx, func() {
		stop()
		cancel()
	}
}

// transition must be called with c.mu held.
func (c *Controller) transition(ev Event) (State, Outcome, error) {
	prev := c.state.Status

	st, out, err := Transition(c.state, ev)
	if err != nil {
		return c.state, out, err
	}
	c.state = st

	c.metrics.ObserveOutcome(out)
	if st.Status != prev {
		c.metrics.SetStatus(st.Status)
		c.logger.Debug("status changed",
			slog.String("event", ev.event()),
			slog.String("from", prev.String()),
			slog.String("to", st.Status.String()))
	}

	return st, out, nil
}

// releaseRun must be called with c.mu held.
func (c *Controller) releaseRun() {
	if c.cancelRun != nil {
		c.cancelRun()
		c.cancelRun = nil
	}
}

// unlockAndNotify releases c.mu and delivers st to the observers. The notify lock is taken before
// c.mu is released, so observers see states in transition order.
func (c *Controller) unlockAndNotify(st State) {
	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()

	for _, o := range c.observers {
		o(st.Clone())
	}
}

type nopMetrics struct{}

func (nopMetrics) ObserveFetch(spectrum.Channel, time.Duration, error) {}
func (nopMetrics) ObserveOutcome(Outcome)                              {}
func (nopMetrics) SetStatus(Status)                                    {}
func (nopMetrics) SetConsecutiveFailures(spectrum.Channel, int)        {}
