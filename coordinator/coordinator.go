// Package coordinator implements the per-host scheduler that configures,
// starts, monitors, and tears down every agent in a plan's attack, and
// produces the resulting attack report.
package coordinator

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yahoo/ychaos/agent"
	"github.com/yahoo/ychaos/hooks"
	"github.com/yahoo/ychaos/internal/ctxkeys"
	"github.com/yahoo/ychaos/testplan"
	"github.com/yahoo/ychaos/ychaoserr"
)

// DefaultDuration is the run duration assigned to an agent whose config
// doesn't specify one (a non-timed agent configured with a bare
// Config rather than a TimedConfig).
const DefaultDuration = 3 * time.Second

// DefaultTeardownTimeout bounds how long the synchronous teardown
// barrier waits for any single agent's Teardown to return.
const DefaultTeardownTimeout = 300 * time.Second

// Hook event names the Coordinator's Bus accepts.
const (
	EventStart          = "on_start"
	EventAgentStart     = "on_agent_start"
	EventAgentEnd       = "on_agent_end"
	EventTeardownStart  = "on_teardown_start"
	EventTeardownEnd    = "on_teardown_end"
	EventEnd            = "on_end"
)

// ConfiguredAgent pairs an Agent with the absolute start/end instants the
// Coordinator computed for it.
type ConfiguredAgent struct {
	Spec      testplan.AgentSpec
	Agent     *agent.Agent
	StartTime time.Time
	EndTime   time.Time

	// runDone/teardownDone are non-nil once the scheduler has started the
	// corresponding async step; they fire when that step's goroutine
	// returns, mirroring the original's agent_start_thread/
	// agent_teardown_thread liveness checks.
	runDone      chan error
	teardownDone chan error
}

// Coordinator schedules and runs every agent for one plan's attack.
type Coordinator struct {
	plan            *testplan.Plan
	registry        *agent.Registry
	bus             *hooks.Bus
	logger          *zap.Logger
	tick            time.Duration
	teardownTimeout time.Duration

	mu         sync.Mutex
	configured []*ConfiguredAgent
}

// New constructs a Coordinator for plan, resolving agent type tags
// against registry.
func New(plan *testplan.Plan, registry *agent.Registry, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		plan:            plan,
		registry:        registry,
		bus:             hooks.New(EventStart, EventAgentStart, EventAgentEnd, EventTeardownStart, EventTeardownEnd, EventEnd),
		logger:          logger.With(zap.String("component", "coordinator")),
		tick:            time.Second,
		teardownTimeout: DefaultTeardownTimeout,
	}
}

// Hooks exposes the Coordinator's Event Hook Bus for registration.
func (c *Coordinator) Hooks() *hooks.Bus {
	return c.bus
}

// Configure instantiates every agent in the plan's attack and computes
// its absolute start/end time per the attack's mode, anchored at now.
//
// SEQUENTIAL chains each agent's start off the previous agent's end time
// (plus its own start delay). CONCURRENT starts every agent at now (plus
// its own start delay). In both modes agents are returned in declared
// order for execution; only the attack window (min start, max end) is
// computed via a separate sort, never mutating execution order.
func (c *Coordinator) Configure(now time.Time) ([]*ConfiguredAgent, error) {
	attack := c.plan.Attack
	configured := make([]*ConfiguredAgent, 0, len(attack.Agents))

	cursor := now
	for _, spec := range attack.Agents {
		a, err := c.registry.New(spec.Type, spec.Config, c.logger)
		if err != nil {
			return nil, err
		}

		duration := DefaultDuration
		if d, ok := spec.Config["duration"]; ok {
			duration = durationOf(d)
		}

		var start time.Time
		switch attack.Mode {
		case testplan.Concurrent:
			start = now.Add(a.Config().StartDelay)
		default: // Sequential
			start = cursor.Add(a.Config().StartDelay)
		}
		end := start.Add(duration)
		if attack.Mode != testplan.Concurrent {
			cursor = end
		}

		configured = append(configured, &ConfiguredAgent{
			Spec:      spec,
			Agent:     a,
			StartTime: start,
			EndTime:   end,
		})
	}

	c.mu.Lock()
	c.configured = configured
	c.mu.Unlock()
	return configured, nil
}

// AttackWindow returns the earliest start and latest end among all
// configured agents, computed independently of execution order.
func AttackWindow(configured []*ConfiguredAgent) (start, end time.Time) {
	if len(configured) == 0 {
		return time.Time{}, time.Time{}
	}
	byStart := append([]*ConfiguredAgent(nil), configured...)
	sort.Slice(byStart, func(i, j int) bool { return byStart[i].StartTime.Before(byStart[j].StartTime) })
	byEnd := append([]*ConfiguredAgent(nil), configured...)
	sort.Slice(byEnd, func(i, j int) bool { return byEnd[i].EndTime.Before(byEnd[j].EndTime) })
	return byStart[0].StartTime, byEnd[len(byEnd)-1].EndTime
}

// StartAttack runs Configure (anchored at time.Now()), then drives the
// single-threaded scheduler scan loop until the attack window closes or
// a setup/run failure aborts it early, then runs the synchronous
// teardown barrier and returns the resulting Report.
//
// The scan loop itself never blocks on an agent's Setup/Run/Teardown
// body: each of those runs in its own goroutine once started, and the
// loop only ever synchronously polls state and starts new steps, at
// c.tick cadence — mirroring the original's single `while` loop over
// `get_next_agent_for_attack`/`get_next_agent_for_teardown` (every
// `sleep(1)`), not one goroutine per agent racing independently.
func (c *Coordinator) StartAttack(ctx context.Context) (*Report, error) {
	ctx = ctxkeys.WithPlanID(ctx, c.plan.ID)
	configured, err := c.Configure(time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if err := c.bus.Execute(EventStart); err != nil {
		return nil, err
	}

	_, attackEnd := AttackWindow(configured)

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	failed := false
scan:
	for {
		if ca := c.nextRunnable(ctx, configured); ca != nil {
			c.startAgent(ctx, ca)
			_ = c.bus.Execute(EventAgentStart, ca)
		}

		if ca := c.nextTeardownable(configured); ca != nil {
			c.startTeardown(ctx, ca)
		}

		if c.checkForFailedAgents(configured) {
			failed = true
			break scan
		}

		if !time.Now().Before(attackEnd) {
			break scan
		}

		select {
		case <-ctx.Done():
			break scan
		case <-ticker.C:
		}
	}

	c.stopAllRunningAgentsSync(ctx, configured, failed)

	report := BuildReport(c.plan.ID, c.plan.Attack.Mode, configured)
	if err := c.bus.Execute(EventEnd, report); err != nil {
		return report, err
	}
	return report, nil
}

// nextRunnable scans configured in declared order for the first agent
// still in INIT whose start time has passed, synchronously invokes its
// Setup, and returns it so the caller can start its Run. An agent that
// fails the runnability predicate (agent.Agent.IsRunnable, e.g. a sudo
// agent in a non-privileged process) is left untouched in INIT — it is
// never selected, and is later marked SKIPPED by the teardown barrier.
//
// A Setup failure aborts the scan for this tick entirely (matching the
// original's `get_next_agent_for_attack`): the failure itself already
// advanced the agent to ERROR, which the checkForFailedAgents call later
// in the same scan pass picks up and stops the whole attack on —
// every agent still in INIT/SETUP at that point is what the teardown
// barrier turns into SKIPPED.
func (c *Coordinator) nextRunnable(ctx context.Context, configured []*ConfiguredAgent) *ConfiguredAgent {
	now := time.Now()
	for _, ca := range configured {
		if ca.Agent.CurrentState() != agent.StateInit || now.Before(ca.StartTime) {
			continue
		}
		if !ca.Agent.IsRunnable() {
			continue
		}
		if err := ca.Agent.Setup(ctx); err != nil {
			c.logger.Warn("agent setup failed, aborting scheduling for this tick",
				zap.String("agent", ca.Agent.Config().Name), zap.Error(err))
			return nil
		}
		return ca
	}
	return nil
}

// startAgent starts ca's Run in its own goroutine, recording completion
// on ca.runDone so the teardown barrier can join it later, and fires
// EventAgentEnd once Run returns.
func (c *Coordinator) startAgent(ctx context.Context, ca *ConfiguredAgent) {
	ca.runDone = make(chan error, 1)
	go func() {
		ca.runDone <- ca.Agent.Run(ctx)
		_ = c.bus.Execute(EventAgentEnd, ca)
	}()
}

// nextTeardownable scans configured in declared order for the first
// RUNNING agent whose end time has passed and whose teardown hasn't
// already been started, matching `get_next_agent_for_teardown`.
func (c *Coordinator) nextTeardownable(configured []*ConfiguredAgent) *ConfiguredAgent {
	now := time.Now()
	for _, ca := range configured {
		if ca.Agent.CurrentState() != agent.StateRunning {
			continue
		}
		if now.Before(ca.EndTime) {
			continue
		}
		if ca.teardownDone != nil {
			continue
		}
		return ca
	}
	return nil
}

// startTeardown starts ca's Teardown in its own goroutine. It first
// requests the agent stop and waits (bounded by the Coordinator's
// teardown timeout) for its Run goroutine to return, matching the
// original's teardown() joining the still-live runner thread before
// running the body's own teardown logic.
func (c *Coordinator) startTeardown(ctx context.Context, ca *ConfiguredAgent) {
	ca.teardownDone = make(chan error, 1)
	go func() {
		ca.Agent.RequestStop()
		if ca.runDone != nil {
			select {
			case <-ca.runDone:
			case <-time.After(c.teardownTimeout):
			}
		}
		ca.teardownDone <- ca.Agent.Teardown(ctx)
	}()
}

// checkForFailedAgents reports whether any configured agent has entered
// a failure state. Pure detection only — matching the original's
// check_for_failed_agents, the fail-fast abort-siblings behavior lives
// entirely in stopAllRunningAgentsSync.
func (c *Coordinator) checkForFailedAgents(configured []*ConfiguredAgent) bool {
	for _, ca := range configured {
		if ca.Agent.CurrentState().Failed() {
			return true
		}
	}
	return false
}

// stopAllRunningAgentsSync is the synchronous barrier the scan loop
// always runs exactly once after it stops, whether that's because the
// attack window closed naturally or because a setup/run failure broke
// the scan early. Matching the original's
// stop_all_running_agents_in_sync:
//
//   - an agent still in INIT or SETUP never got to run at all and is
//     marked SKIPPED — this is what actually realizes the fail-fast
//     contract: once the scan aborts, every not-yet-started agent ends
//     up here instead of being allowed to start.
//   - a RUNNING agent is marked ABORTED if the overall attack already
//     failed (attackFailed), since it would otherwise finish and report
//     as if nothing had gone wrong elsewhere.
//   - every agent not already DONE/SKIPPED (including ERROR and
//     ABORTED ones) is torn down — starting its teardown now if the
//     scheduler hadn't already, then joining it, bounded by the
//     Coordinator's teardown timeout.
func (c *Coordinator) stopAllRunningAgentsSync(ctx context.Context, configured []*ConfiguredAgent, attackFailed bool) {
	_ = c.bus.Execute(EventTeardownStart)
	defer c.bus.Execute(EventTeardownEnd)

	var g errgroup.Group
	for _, ca := range configured {
		ca := ca

		switch ca.Agent.CurrentState() {
		case agent.StateDone, agent.StateSkipped:
			continue
		case agent.StateInit, agent.StateSetup:
			ca.Agent.Skip()
			continue
		case agent.StateRunning:
			if attackFailed {
				ca.Agent.Abort()
			}
		}

		if ca.teardownDone == nil {
			c.startTeardown(ctx, ca)
		}

		g.Go(func() error {
			select {
			case err := <-ca.teardownDone:
				return err
			case <-time.After(c.teardownTimeout):
				timeoutErr := &ychaoserr.TeardownTimeoutError{
					Agent:   ca.Agent.Config().Name,
					Timeout: c.teardownTimeout.String(),
				}
				ca.Agent.PushException(timeoutErr)
				return timeoutErr
			}
		})
	}
	if err := g.Wait(); err != nil {
		c.logger.Warn("teardown barrier reported errors", zap.Error(err))
	}
}

func durationOf(v any) time.Duration {
	switch x := v.(type) {
	case int:
		return time.Duration(x) * time.Second
	case float64:
		return time.Duration(x * float64(time.Second))
	default:
		return DefaultDuration
	}
}
