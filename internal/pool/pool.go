package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"ecgbatch/internal/failure"
	"ecgbatch/internal/logging"
)

const (
	defaultStartupTimeout     = 30 * time.Second
	defaultShutdownGrace      = 5 * time.Second
	defaultMaxRespawnFailures = 3
)

// Options configures a pool.
type Options struct {
	Workers int
	// Timeout is the hard per-task deadline measured from dispatch.
	Timeout            time.Duration
	StartupTimeout     time.Duration
	ShutdownGrace      time.Duration
	MaxRespawnFailures int
	// Command builds the worker command. Each call must return a fresh,
	// unstarted *exec.Cmd.
	Command func() *exec.Cmd
	// Settings is forwarded verbatim in every worker's init message.
	Settings json.RawMessage
	// Stderr receives worker stderr (their logs). Defaults to os.Stderr.
	Stderr io.Writer
	Logger *slog.Logger
}

func (o Options) withDefaults() (Options, error) {
	if o.Workers < 1 {
		return o, fmt.Errorf("pool needs at least one worker, got %d", o.Workers)
	}
	if o.Timeout <= 0 {
		return o, fmt.Errorf("pool needs a positive task timeout")
	}
	if o.Command == nil {
		return o, fmt.Errorf("pool needs a worker command")
	}
	if o.StartupTimeout <= 0 {
		o.StartupTimeout = defaultStartupTimeout
	}
	if o.ShutdownGrace < 0 {
		o.ShutdownGrace = 0
	} else if o.ShutdownGrace == 0 {
		o.ShutdownGrace = defaultShutdownGrace
	}
	if o.MaxRespawnFailures < 1 {
		o.MaxRespawnFailures = defaultMaxRespawnFailures
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	return o, nil
}

// SelfCommand returns a Command that re-executes the running binary with
// args.
func SelfCommand(args ...string) (func() *exec.Cmd, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	return func() *exec.Cmd {
		return exec.Command(exe, args...)
	}, nil
}

type slotState int

const (
	stateStarting slotState = iota
	stateIdle
	stateBusy
	stateRetired
)

func (s slotState) String() string {
	switch s {
	case stateStarting:
		return "starting"
	case stateIdle:
		return "idle"
	case stateBusy:
		return "busy"
	default:
		return "retired"
	}
}

type slot struct {
	id         int
	gen        int
	state      slotState
	proc       *process
	task       Task
	seq        uint64
	dispatched time.Time
	timer      *time.Timer
	failures   int
}

func (s *slot) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

type eventKind int

const (
	evReady eventKind = iota
	evInitError
	evResult
	evProtocol
	evExit
	evTaskTimeout
	evStartTimeout
)

type event struct {
	kind   eventKind
	slot   int
	gen    int
	seq    uint64
	msg    *message
	detail string
}

// Pool is a fixed set of worker process slots.
type Pool struct {
	opts   Options
	logger *slog.Logger

	events    chan event
	closed    chan struct{}
	closeOnce sync.Once
	readers   sync.WaitGroup

	// mu serializes Run and Close. Slot state is only touched while it is
	// held.
	mu     sync.Mutex
	slots  []*slot
	seq    uint64
	broken bool
}

// Start launches opts.Workers workers and waits for each to report ready.
// Any start-up failure is a configuration error and leaves no process
// running.
func Start(ctx context.Context, opts Options) (*Pool, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, failure.Configuration("%v", err)
	}
	p := &Pool{
		opts:   opts,
		logger: logging.NewComponentLogger(opts.Logger, "dispatcher"),
		events: make(chan event, 4*opts.Workers+16),
		closed: make(chan struct{}),
	}

	for i := 0; i < opts.Workers; i++ {
		s := &slot{id: i + 1}
		p.slots = append(p.slots, s)
		if err := p.spawn(s); err != nil {
			_ = p.Close()
			return nil, failure.Configuration("start worker %d: %v", s.id, err)
		}
	}

	ready := 0
	for ready < len(p.slots) {
		select {
		case <-ctx.Done():
			_ = p.Close()
			return nil, ctx.Err()
		case ev := <-p.events:
			s := p.slots[ev.slot-1]
			if ev.gen != s.gen {
				continue
			}
			switch ev.kind {
			case evReady:
				if s.state == stateStarting {
					s.stopTimer()
					s.state = stateIdle
					ready++
					p.logger.Debug("worker ready", logging.Int(logging.FieldWorkerID, s.id), logging.Int(logging.FieldPID, ev.msg.PID))
				}
			case evInitError, evStartTimeout, evExit, evProtocol:
				_ = p.Close()
				return nil, failure.Configuration("worker %d failed to start: %s", s.id, ev.detail)
			}
		}
	}
	p.logger.Info("worker pool ready", logging.Int("workers", len(p.slots)), logging.Duration("timeout", opts.Timeout))
	return p, nil
}

// Workers returns the number of slots.
func (p *Pool) Workers() int {
	return len(p.slots)
}

// spawn launches a new generation for s and arms its start-up timer.
func (p *Pool) spawn(s *slot) error {
	s.gen++
	s.state = stateStarting
	s.stopTimer()
	proc, err := p.launch(s.id, s.gen)
	if err != nil {
		s.proc = nil
		return err
	}
	s.proc = proc
	id, gen := s.id, s.gen
	s.timer = time.AfterFunc(p.opts.StartupTimeout, func() {
		p.post(event{kind: evStartTimeout, slot: id, gen: gen, detail: fmt.Sprintf("no ready message within %s", p.opts.StartupTimeout)})
	})
	return nil
}

func (p *Pool) post(ev event) {
	select {
	case p.events <- ev:
	case <-p.closed:
	}
}

// Run dispatches tasks and returns a channel that yields one Result per task
// in completion order. The channel is closed once every result has been
// sent. If ctx is cancelled, all workers are killed, in-flight and queued
// tasks produce no result, and the channel is closed; the pool cannot be
// reused afterwards. Only one Run may be active at a time.
func (p *Pool) Run(ctx context.Context, tasks []Task) <-chan Result {
	results := make(chan Result, len(tasks))
	go func() {
		defer close(results)
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.broken {
			for _, task := range tasks {
				results <- crashResult(task, 0, 0, "worker pool is shut down")
			}
			return
		}
		d := &dispatch{pool: p, queue: append([]Task(nil), tasks...), results: results, remaining: len(tasks)}
		d.loop(ctx)
	}()
	return results
}

type dispatch struct {
	pool      *Pool
	queue     []Task
	results   chan<- Result
	remaining int
}

func (d *dispatch) loop(ctx context.Context) {
	p := d.pool
	for d.remaining > 0 {
		d.assign()
		if d.remaining == 0 {
			return
		}
		if !p.hasLiveSlot() {
			p.logger.Error("all worker slots retired; failing remaining tasks",
				logging.Int("remaining", len(d.queue)),
				logging.String(logging.FieldEventType, "pool_exhausted"),
				logging.String(logging.FieldErrorHint, "check worker stderr for start-up errors"),
			)
			for _, task := range d.queue {
				d.emit(crashResult(task, 0, 0, "no live workers"))
			}
			d.queue = nil
			return
		}
		select {
		case <-ctx.Done():
			p.logger.Warn("run cancelled; killing workers", logging.Int("unfinished", d.remaining))
			p.killAll()
			return
		case ev := <-p.events:
			d.handle(ev)
		}
	}
}

func (d *dispatch) emit(res Result) {
	d.results <- res
	d.remaining--
}

// assign hands queued tasks to idle slots, one per slot.
func (d *dispatch) assign() {
	p := d.pool
	for _, s := range p.slots {
		if len(d.queue) == 0 {
			return
		}
		if s.state != stateIdle {
			continue
		}
		task := d.queue[0]
		d.queue = d.queue[1:]

		p.seq++
		s.seq = p.seq
		s.task = task
		s.dispatched = time.Now()
		if err := s.proc.send(message{Type: msgTask, Seq: s.seq, Task: &task}); err != nil {
			// Never delivered, so the task goes back to the front of the queue.
			d.queue = append([]Task{task}, d.queue...)
			p.replace(s, fmt.Sprintf("send task: %v", err))
			continue
		}
		s.state = stateBusy
		id, gen, seq := s.id, s.gen, s.seq
		s.timer = time.AfterFunc(p.opts.Timeout, func() {
			p.post(event{kind: evTaskTimeout, slot: id, gen: gen, seq: seq})
		})
	}
}

func (d *dispatch) handle(ev event) {
	p := d.pool
	s := p.slots[ev.slot-1]
	if ev.gen != s.gen || s.state == stateRetired {
		return
	}
	switch ev.kind {
	case evReady:
		if s.state == stateStarting {
			s.stopTimer()
			s.state = stateIdle
			s.failures = 0
			p.logger.Debug("replacement worker ready", logging.Int(logging.FieldWorkerID, s.id), logging.Int("generation", s.gen))
		}
	case evResult:
		if s.state != stateBusy || ev.msg.Seq != s.seq {
			return
		}
		s.stopTimer()
		d.emit(resultFromMessage(s, ev.msg))
		if ev.msg.Exiting {
			p.replace(s, "worker reported a fatal task error")
			return
		}
		s.state = stateIdle
	case evTaskTimeout:
		if s.state != stateBusy || ev.seq != s.seq {
			return
		}
		s.timer = nil
		task := s.task
		p.logger.Warn("task exceeded deadline; killing worker",
			logging.Int(logging.FieldWorkerID, s.id),
			logging.String(logging.FieldStudyKey, task.Key),
			logging.Duration("timeout", p.opts.Timeout),
		)
		d.emit(Result{
			Key:      task.Key,
			Locator:  task.Locator,
			Err:      failure.Timeout(p.opts.Timeout),
			WorkerID: s.id,
			Duration: time.Since(s.dispatched),
		})
		p.replace(s, "timeout")
	case evStartTimeout, evInitError:
		if s.state == stateStarting {
			p.startFailed(s, ev.detail)
		}
	case evProtocol, evExit:
		switch s.state {
		case stateBusy:
			s.stopTimer()
			d.emit(crashResult(s.task, s.id, time.Since(s.dispatched), ev.detail))
			p.replace(s, ev.detail)
		case stateStarting:
			p.startFailed(s, ev.detail)
		case stateIdle:
			p.replace(s, ev.detail)
		}
	}
}

func resultFromMessage(s *slot, msg *message) Result {
	res := Result{
		Key:      s.task.Key,
		Locator:  s.task.Locator,
		WorkerID: s.id,
		Duration: time.Since(s.dispatched),
	}
	switch {
	case msg.Error != nil:
		res.Err = msg.Error.decode()
	case msg.OutputPath == "":
		res.Err = failure.New(failure.KindConversionError, "worker returned no output path")
	default:
		res.OutputPath = msg.OutputPath
		res.Skipped = msg.Skipped
	}
	return res
}

func crashResult(task Task, workerID int, elapsed time.Duration, detail string) Result {
	return Result{
		Key:      task.Key,
		Locator:  task.Locator,
		Err:      failure.New(failure.KindWorkerCrash, "%s", detail),
		WorkerID: workerID,
		Duration: elapsed,
	}
}

// replace kills the current generation of s and starts the next one.
func (p *Pool) replace(s *slot, reason string) {
	s.stopTimer()
	if s.proc != nil {
		s.proc.kill()
	}
	p.logger.Info("replacing worker", logging.Int(logging.FieldWorkerID, s.id), logging.String("reason", reason))
	if err := p.spawn(s); err != nil {
		p.startFailed(s, err.Error())
	}
}

// startFailed counts a failed start and either retries or retires the slot.
func (p *Pool) startFailed(s *slot, detail string) {
	s.stopTimer()
	if s.proc != nil {
		s.proc.kill()
	}
	s.failures++
	if s.failures >= p.opts.MaxRespawnFailures {
		s.state = stateRetired
		s.proc = nil
		logging.WarnWithContext(p.logger, "worker slot retired", "worker_retired",
			logging.Int(logging.FieldWorkerID, s.id),
			logging.Int("failures", s.failures),
			logging.String("detail", detail),
			logging.String(logging.FieldImpact, "pool runs with fewer workers"),
		)
		return
	}
	p.logger.Warn("worker failed to start; retrying",
		logging.Int(logging.FieldWorkerID, s.id),
		logging.Int("failures", s.failures),
		logging.String("detail", detail),
	)
	if err := p.spawn(s); err != nil {
		p.startFailed(s, err.Error())
	}
}

func (p *Pool) hasLiveSlot() bool {
	for _, s := range p.slots {
		if s.state != stateRetired {
			return true
		}
	}
	return false
}

func (p *Pool) killAll() {
	p.broken = true
	for _, s := range p.slots {
		s.stopTimer()
		if s.proc != nil {
			s.proc.kill()
		}
		s.state = stateRetired
	}
}

// Close asks every worker to exit by closing its stdin, waits up to the
// shutdown grace period, then kills whatever is left.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.broken = true

		var procs []*process
		for _, s := range p.slots {
			s.stopTimer()
			if s.proc != nil {
				s.proc.closeInput()
				procs = append(procs, s.proc)
			}
		}
		deadline := time.NewTimer(p.opts.ShutdownGrace)
		defer deadline.Stop()
	wait:
		for _, proc := range procs {
			select {
			case <-proc.done:
			case <-deadline.C:
				break wait
			}
		}
		for _, proc := range procs {
			select {
			case <-proc.done:
			default:
				proc.kill()
			}
		}
		close(p.closed)
		p.readers.Wait()
	})
	return nil
}

var errWorkerGone = errors.New("worker process is gone")
