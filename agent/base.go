// Package agent implements the attack-agent lifecycle contract: a typed
// config, a totally-ordered state machine, and the four primitive
// operations (setup, run, teardown, monitor) every concrete agent body
// must satisfy.
package agent

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yahoo/ychaos/ychaoserr"
)

// Config is the configuration shared by every agent type.
type Config struct {
	Name                 string
	Description          string
	Priority             int
	SudoRequired         bool
	RaiseOnStateMismatch bool
	StartDelay           time.Duration
}

// TimedConfig extends Config with a bounded run duration, used by agents
// whose Run body must self-terminate rather than run until told to stop.
type TimedConfig struct {
	Config
	Duration time.Duration
}

// Datapoint is one observation pushed onto an agent's monitor queue.
type Datapoint struct {
	Timestamp time.Time
	State     State
	Data      map[string]any
}

// Body is the behavior a concrete agent type implements. setup/run/
// teardown mirror the original three verbs exactly; Monitor is an optional
// extension (Monitorable) collected when a caller invokes Agent.Monitor.
// The Coordinator does not call it.
type Body interface {
	Setup(ctx context.Context) error
	Run(ctx context.Context, stop <-chan struct{}) error
	Teardown(ctx context.Context) error
}

// Monitorable is an optional extension a Body may implement to contribute
// Datapoints beyond the ones the runtime pushes automatically.
type Monitorable interface {
	Monitor(ctx context.Context) map[string]any
}

// Scratchpad holds agent-specific recovery/preserved-state flags (e.g.
// "ICMP was already disabled before the attack started") alongside the
// two flags every agent carries.
type Scratchpad struct {
	HasError  bool
	IsAborted bool
	Fields    map[string]any
}

// Agent is the process-lifetime wrapper around a Body: it owns the
// config, the state machine and its history, a bounded exception queue,
// a LIFO monitor-datapoint queue, a preserved-state scratchpad, and a
// cooperative stop flag the Run body observes.
type Agent struct {
	config Config
	body   Body
	logger *zap.Logger

	mu      sync.Mutex
	state   State
	history []State

	exceptions   []error
	maxExQueue   int
	monitorQueue []Datapoint

	Scratchpad Scratchpad

	stopCh   chan struct{}
	stopOnce sync.Once
}

const defaultMaxExceptionQueue = 16

// New constructs an Agent wrapping body, starting in StateUndefined.
func New(config Config, body Body, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Agent{
		config:     config,
		body:       body,
		logger:     logger.With(zap.String("agent", config.Name)),
		state:      StateUndefined,
		maxExQueue: defaultMaxExceptionQueue,
		stopCh:     make(chan struct{}),
	}
	a.pushState(StateInit)
	return a
}

// Config returns the agent's static configuration.
func (a *Agent) Config() Config {
	return a.config
}

// CurrentState returns the agent's current lifecycle state.
func (a *Agent) CurrentState() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// History returns a copy of the agent's state-transition history.
func (a *Agent) History() []State {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]State, len(a.history))
	copy(out, a.history)
	return out
}

// pushState appends newState to the history unless it repeats the
// current state, and updates the current state unconditionally.
func (a *Agent) pushState(newState State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.history) == 0 || a.history[len(a.history)-1] != newState {
		a.history = append(a.history, newState)
	}
	a.state = newState
}

// IsRunnable implements the engine's fail-fast runnability predicate:
// false if the current state is a failure state, if the exception queue
// is non-empty, or if the agent requires sudo and the process isn't
// privileged; true otherwise. Callers — the Coordinator's scheduler and
// Run itself — gate on this before proceeding.
func (a *Agent) IsRunnable() bool {
	if a.CurrentState().Failed() {
		return false
	}
	if len(a.Exceptions()) > 0 {
		return false
	}
	if a.config.SudoRequired && !hasEffectiveRoot() {
		return false
	}
	return true
}

// hasEffectiveRoot reports whether the current process has euid 0.
// os.Geteuid is the stdlib's only portable way to ask this; no example
// repo carries a privilege-check library and the check is a single
// syscall wrapper, not a library-shaped concern.
func hasEffectiveRoot() bool {
	return os.Geteuid() == 0
}

// PushException enqueues an error onto the agent's bounded exception
// queue. Both the runner and teardown goroutines may push concurrently;
// the queue drops the oldest entry once full, mirroring a bounded
// multi-producer queue.
func (a *Agent) PushException(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.exceptions = append(a.exceptions, err)
	if len(a.exceptions) > a.maxExQueue {
		a.exceptions = a.exceptions[len(a.exceptions)-a.maxExQueue:]
	}
}

// Exceptions returns a copy of all exceptions raised so far.
func (a *Agent) Exceptions() []error {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]error, len(a.exceptions))
	copy(out, a.exceptions)
	return out
}

// PushDatapoint pushes a monitoring datapoint onto the LIFO queue.
func (a *Agent) PushDatapoint(data map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.monitorQueue = append(a.monitorQueue, Datapoint{
		Timestamp: time.Now().UTC(),
		State:     a.state,
		Data:      data,
	})
}

// PopDatapoint pops the most recently pushed datapoint, LIFO order. The
// second return value is false if the queue is empty.
func (a *Agent) PopDatapoint() (Datapoint, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.monitorQueue) == 0 {
		return Datapoint{}, false
	}
	last := len(a.monitorQueue) - 1
	dp := a.monitorQueue[last]
	a.monitorQueue = a.monitorQueue[:last]
	return dp, true
}

// Datapoints returns a snapshot of the monitor queue without draining it.
func (a *Agent) Datapoints() []Datapoint {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Datapoint, len(a.monitorQueue))
	copy(out, a.monitorQueue)
	return out
}

// StopChan returns the channel the Run body should select on to detect a
// cooperative stop request.
func (a *Agent) StopChan() <-chan struct{} {
	return a.stopCh
}

// Skip transitions the agent directly to SKIPPED, bypassing Run and
// Teardown. Used by the Coordinator's failure barrier for agents that
// never left INIT/SETUP before the attack aborted.
func (a *Agent) Skip() {
	a.pushState(StateSkipped)
}

// Abort transitions the agent to ABORTED, marking its scratchpad. Used
// by the Coordinator's failure barrier for an agent still RUNNING when
// the overall attack has already failed elsewhere.
func (a *Agent) Abort() {
	a.Scratchpad.IsAborted = true
	a.pushState(StateAborted)
}

// RequestStop closes the stop channel exactly once.
func (a *Agent) RequestStop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
}

// Setup transitions INIT -> SETUP and invokes the body's Setup.
func (a *Agent) Setup(ctx context.Context) error {
	a.pushState(StateSetup)
	if err := a.body.Setup(ctx); err != nil {
		wrapped := ychaoserr.NewLifecycleError(a.config.Name, "setup", err)
		a.PushException(wrapped)
		a.pushState(StateError)
		a.Scratchpad.HasError = true
		return wrapped
	}
	return nil
}

// Run requires the agent be in SETUP. If it is not and
// RaiseOnStateMismatch is set, the agent aborts without ever entering
// RUNNING. If RaiseOnStateMismatch is unset, a warning is logged but the
// agent still advances to RUNNING before the body executes, matching the
// upstream control flow where the mismatch check never itself blocks the
// non-raising path.
//
// Independently of that state check, Run also gates on IsRunnable: an
// agent that has already failed, has a pending exception, or requires
// sudo it doesn't have is rejected outright, moved to ERROR, and never
// reaches RUNNING — this is the same predicate the Coordinator's
// scheduler already checked before calling Setup, re-checked here so
// Run is safe to call on its own.
func (a *Agent) Run(ctx context.Context) error {
	if a.CurrentState() != StateSetup {
		if a.config.RaiseOnStateMismatch {
			a.pushState(StateAborted)
			a.Scratchpad.IsAborted = true
			return ychaoserr.NewLifecycleError(a.config.Name, "run",
				ychaoserr.ErrStateMismatch)
		}
		a.logger.Warn("running agent outside SETUP state",
			zap.String("state", a.CurrentState().String()))
	}

	if !a.IsRunnable() {
		wrapped := ychaoserr.NewLifecycleError(a.config.Name, "run", ychaoserr.ErrNotRunnable)
		a.PushException(wrapped)
		a.pushState(StateError)
		a.Scratchpad.HasError = true
		return wrapped
	}

	a.pushState(StateRunning)
	err := a.body.Run(ctx, a.stopCh)
	if err != nil {
		wrapped := ychaoserr.NewLifecycleError(a.config.Name, "run", err)
		a.PushException(wrapped)
		a.pushState(StateError)
		a.Scratchpad.HasError = true
		return wrapped
	}
	a.pushState(StateCompleted)
	return nil
}

// Teardown transitions to TEARDOWN then DONE, regardless of whether Run
// succeeded — teardown must always attempt to undo setup side effects.
func (a *Agent) Teardown(ctx context.Context) error {
	a.pushState(StateTeardown)
	if err := a.body.Teardown(ctx); err != nil {
		wrapped := ychaoserr.NewLifecycleError(a.config.Name, "teardown", err)
		a.PushException(wrapped)
		a.Scratchpad.HasError = true
		a.pushState(StateDone)
		return wrapped
	}
	a.pushState(StateDone)
	return nil
}

// Monitor invokes the body's optional Monitor hook, if implemented, and
// pushes its result onto the monitor queue.
func (a *Agent) Monitor(ctx context.Context) {
	m, ok := a.body.(Monitorable)
	if !ok {
		return
	}
	a.PushDatapoint(m.Monitor(ctx))
}
