package dispatch

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/friday-assistant/friday/protocol"
)

// Reply receives the single Response of an invocation. It is called from a
// worker goroutine, or from the dispatching goroutine when the invocation
// fails before it is scheduled.
type Reply func(resp protocol.Response)

// Stats is a point-in-time snapshot of dispatcher activity.
type Stats struct {
	Workers      int      `json:"workers"`
	Queued       int      `json:"queued"`
	Running      int64    `json:"running"`
	Completed    uint64   `json:"completed"`
	Failed       uint64   `json:"failed"`
	Faults       uint64   `json:"faults"`
	Closed       bool     `json:"closed"`
	OpenBreakers []string `json:"open_breakers,omitempty"`
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithWorkers bounds concurrent handler execution. Values below 1 are
// raised to 1.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n < 1 {
			n = 1
		}
		d.workers = n
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithBreaker enables per-command circuit breakers.
func WithBreaker(cfg BreakerConfig) Option {
	return func(d *Dispatcher) {
		d.breakerCfg = cfg
	}
}

type job struct {
	inv      protocol.Invocation
	call     Call
	reply    Reply
	enqueued time.Time
}

// Dispatcher resolves invocations against a sealed registry and runs their
// handlers on a bounded pool of workers. Invocations wait in an unbounded
// FIFO backlog when every worker is busy, so Dispatch never blocks.
type Dispatcher struct {
	registry   *SealedRegistry
	env        *ExecutionContext
	logger     *zap.SugaredLogger
	workers    int
	breakerCfg BreakerConfig
	breakers   map[string]*gobreaker.CircuitBreaker[protocol.Response]

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	cond    *sync.Cond
	pending *queue.Queue
	closing bool
	wg      sync.WaitGroup

	running   atomic.Int64
	completed atomic.Uint64
	failed    atomic.Uint64
	faults    atomic.Uint64
}

// New creates a Dispatcher and starts its workers. A nil env gets a default
// execution context.
func New(reg *SealedRegistry, env *ExecutionContext, opts ...Option) *Dispatcher {
	if env == nil {
		env = NewExecutionContext("", "", nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		registry:   reg,
		env:        env,
		logger:     zap.NewNop().Sugar(),
		workers:    runtime.NumCPU(),
		breakerCfg: DefaultBreakerConfig(),
		ctx:        ctx,
		cancel:     cancel,
		pending:    queue.New(),
	}
	d.cond = sync.NewCond(&d.mu)
	for _, opt := range opts {
		opt(d)
	}
	d.breakers = newBreakers(reg.Names(), d.breakerCfg, d.logger)

	d.wg.Add(d.workers)
	for i := 0; i < d.workers; i++ {
		go d.worker()
	}
	d.logger.Debugf("[dispatch] started %d workers for %d commands", d.workers, reg.Len())
	return d
}

// Registry returns the sealed registry the dispatcher serves.
func (d *Dispatcher) Registry() *SealedRegistry {
	return d.registry
}

// Dispatch resolves inv, decodes its arguments and schedules the handler.
// The outcome is delivered to reply exactly once.
func (d *Dispatcher) Dispatch(inv protocol.Invocation, reply Reply) {
	if reply == nil {
		reply = func(protocol.Response) {}
	}

	handler, ok := d.registry.Resolve(inv.Name)
	if !ok {
		d.logger.Debugw("[dispatch] unknown command", "command", inv.Name, "id", inv.ID)
		d.deliver(inv, reply, protocol.Failure(inv.ID, &protocol.Error{
			Kind:    protocol.KindUnknownCommand,
			Message: fmt.Sprintf("unknown command %q", inv.Name),
			Command: inv.Name,
		}))
		return
	}

	call, err := d.bind(handler, inv)
	if err != nil {
		d.deliver(inv, reply, protocol.Failure(inv.ID, err))
		return
	}

	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		d.deliver(inv, reply, protocol.Failure(inv.ID, &protocol.Error{
			Kind:    protocol.KindUnavailable,
			Message: "dispatcher is shutting down",
			Command: inv.Name,
		}))
		return
	}
	d.pending.Add(&job{inv: inv, call: call, reply: reply, enqueued: time.Now()})
	d.cond.Signal()
	d.mu.Unlock()
}

// Call dispatches inv and waits for its Response. If ctx ends first the
// response is discarded when it arrives.
func (d *Dispatcher) Call(ctx context.Context, inv protocol.Invocation) (protocol.Response, error) {
	ch := make(chan protocol.Response, 1)
	d.Dispatch(inv, func(resp protocol.Response) {
		ch <- resp
	})
	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return protocol.Response{}, ctx.Err()
	}
}

// bind decodes the arguments on the calling goroutine.
func (d *Dispatcher) bind(handler Handler, inv protocol.Invocation) (call Call, perr *protocol.Error) {
	defer func() {
		if r := recover(); r != nil {
			d.faults.Add(1)
			d.logger.Errorw("[dispatch] argument binding panicked",
				"command", inv.Name,
				"id", inv.ID,
				"panic", r,
			)
			call = nil
			perr = &protocol.Error{Kind: protocol.KindInternalFault, Message: "command faulted", Command: inv.Name}
		}
	}()

	call, err := handler.Bind(inv.Args)
	if err != nil {
		d.logger.Debugw("[dispatch] argument decode failed", "command", inv.Name, "id", inv.ID, "error", err)
		return nil, &protocol.Error{
			Kind:    protocol.KindArgumentDecode,
			Message: err.Error(),
			Command: inv.Name,
		}
	}
	return call, nil
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		j, ok := d.next()
		if !ok {
			return
		}
		d.run(j)
	}
}

// next blocks until a job is available. It returns false once the
// dispatcher is closing and the backlog is empty.
func (d *Dispatcher) next() (*job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.pending.Length() == 0 && !d.closing {
		d.cond.Wait()
	}
	if d.pending.Length() == 0 {
		return nil, false
	}
	return d.pending.Remove().(*job), true
}

func (d *Dispatcher) run(j *job) {
	d.running.Add(1)
	defer d.running.Add(-1)

	ctx := withCallInfo(d.ctx, CallInfo{
		Command:    j.inv.Name,
		ID:         j.inv.ID,
		Enqueued:   j.enqueued,
		Dispatcher: d,
	})

	start := time.Now()
	resp := d.execute(ctx, j)
	d.logger.Debugw("[dispatch] invocation finished",
		"command", j.inv.Name,
		"id", j.inv.ID,
		"ok", resp.OK(),
		"queued", start.Sub(j.enqueued),
		"took", time.Since(start),
	)
	d.deliver(j.inv, j.reply, resp)
}

func (d *Dispatcher) execute(ctx context.Context, j *job) protocol.Response {
	cb, ok := d.breakers[j.inv.Name]
	if !ok {
		return d.invoke(ctx, j)
	}

	resp, err := cb.Execute(func() (protocol.Response, error) {
		resp := d.invoke(ctx, j)
		if resp.Err != nil && resp.Err.Kind == protocol.KindInternalFault {
			return resp, errFault
		}
		return resp, nil
	})
	if isBreakerRejection(err) {
		return protocol.Failure(j.inv.ID, &protocol.Error{
			Kind:    protocol.KindUnavailable,
			Message: fmt.Sprintf("circuit open: %v", err),
			Command: j.inv.Name,
		})
	}
	return resp
}

// invoke runs the handler and converts its outcome. A panic is contained
// here and becomes an InternalFault for this invocation only.
func (d *Dispatcher) invoke(ctx context.Context, j *job) (resp protocol.Response) {
	defer func() {
		if r := recover(); r != nil {
			d.faults.Add(1)
			d.logger.Errorw("[dispatch] handler panicked",
				"command", j.inv.Name,
				"id", j.inv.ID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			resp = protocol.Failure(j.inv.ID, &protocol.Error{
				Kind:    protocol.KindInternalFault,
				Message: "command faulted",
				Command: j.inv.Name,
			})
		}
	}()

	value, err := j.call(ctx, d.env)
	if err != nil {
		perr := *protocol.AsError(err)
		if perr.Command == "" {
			perr.Command = j.inv.Name
		}
		return protocol.Failure(j.inv.ID, &perr)
	}

	resp, err = protocol.Success(j.inv.ID, value)
	if err != nil {
		d.faults.Add(1)
		d.logger.Errorw("[dispatch] result not serializable", "command", j.inv.Name, "id", j.inv.ID, "error", err)
		return protocol.Failure(j.inv.ID, &protocol.Error{
			Kind:    protocol.KindInternalFault,
			Message: "result not serializable",
			Command: j.inv.Name,
		})
	}
	return resp
}

// deliver hands resp, stamped with the id of inv, to reply. A panicking
// reply is logged and swallowed so it cannot take a worker down.
func (d *Dispatcher) deliver(inv protocol.Invocation, reply Reply, resp protocol.Response) {
	resp = inv.Reply(resp)
	d.completed.Add(1)
	if resp.Err != nil {
		d.failed.Add(1)
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorw("[dispatch] reply panicked", "id", resp.ID, "panic", r)
		}
	}()
	reply(resp)
}

// Stats returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	queued := d.pending.Length()
	closed := d.closing
	d.mu.Unlock()

	return Stats{
		Workers:      d.workers,
		Queued:       queued,
		Running:      d.running.Load(),
		Completed:    d.completed.Load(),
		Failed:       d.failed.Load(),
		Faults:       d.faults.Load(),
		Closed:       closed,
		OpenBreakers: d.openBreakers(),
	}
}

// Close stops accepting invocations and waits until the backlog is drained
// and every running handler has returned. If ctx ends first, invocations
// that never started are answered with Unavailable, the handler context is
// cancelled and ctx.Err() is returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closing {
		d.closing = true
		d.cond.Broadcast()
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
	}

	d.mu.Lock()
	abandoned := make([]*job, 0, d.pending.Length())
	for d.pending.Length() > 0 {
		abandoned = append(abandoned, d.pending.Remove().(*job))
	}
	d.mu.Unlock()
	d.cancel()

	for _, j := range abandoned {
		d.deliver(j.inv, j.reply, protocol.Failure(j.inv.ID, &protocol.Error{
			Kind:    protocol.KindUnavailable,
			Message: "dispatcher shut down before the command started",
			Command: j.inv.Name,
		}))
	}
	d.logger.Warnf("[dispatch] shutdown deadline exceeded, %d queued invocations abandoned", len(abandoned))
	return ctx.Err()
}
