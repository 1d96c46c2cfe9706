package coordinator

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yahoo/ychaos/agent"
	"github.com/yahoo/ychaos/testplan"
)

// fakeBody is a minimal agent.Body whose Setup/Run/Teardown outcomes are
// fixed at construction, used to drive the Coordinator's scheduler
// deterministically without any real disruption side effects.
type fakeBody struct {
	setupErr error
}

func (f *fakeBody) Setup(ctx context.Context) error { return f.setupErr }
func (f *fakeBody) Run(ctx context.Context, stop <-chan struct{}) error {
	return nil
}
func (f *fakeBody) Teardown(ctx context.Context) error { return nil }

func newTestRegistry() *agent.Registry {
	reg := agent.NewRegistry(nil)
	reg.Register("good", func(raw map[string]any) (agent.Config, agent.Body, error) {
		return agent.Config{Name: raw["name"].(string)}, &fakeBody{}, nil
	})
	reg.Register("bad-setup", func(raw map[string]any) (agent.Config, agent.Body, error) {
		return agent.Config{Name: raw["name"].(string)}, &fakeBody{setupErr: errors.New("setup exploded")}, nil
	})
	return reg
}

func newTestCoordinator(t *testing.T, agents []testplan.AgentSpec) *Coordinator {
	t.Helper()
	plan := testplan.NewPlan(testplan.AttackConfig{
		Mode:   testplan.Concurrent,
		Agents: agents,
	}, nil)
	c := New(plan, newTestRegistry(), nil)
	// Same-package test: drive the scan loop fast instead of waiting on
	// the real 1s production cadence.
	c.tick = 5 * time.Millisecond
	c.teardownTimeout = 200 * time.Millisecond
	return c
}

func zeroDurationSpec(tag, name string) testplan.AgentSpec {
	return testplan.AgentSpec{
		Type:   tag,
		Config: map[string]any{"name": name, "duration": 0},
	}
}

// durationSpec gives the agent a window wide enough to survive several
// scheduler ticks, since nextRunnable only starts one still-INIT agent
// per tick — a zero-width window would close before a second concurrent
// agent ever got its turn.
func durationSpec(tag, name string, seconds float64) testplan.AgentSpec {
	return testplan.AgentSpec{
		Type:   tag,
		Config: map[string]any{"name": name, "duration": seconds},
	}
}

// TestStartAttack_SetupFailureSkipsSiblingAgent reproduces spec.md's
// end-to-end scenario: one agent's setup fails, and every other agent
// still in INIT/SETUP at that point is advanced to SKIPPED by the
// synchronous teardown barrier rather than being allowed to run to
// completion, and the overall report exits 1.
func TestStartAttack_SetupFailureSkipsSiblingAgent(t *testing.T) {
	c := newTestCoordinator(t, []testplan.AgentSpec{
		zeroDurationSpec("bad-setup", "rigged"),
		zeroDurationSpec("good", "bystander"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	report, err := c.StartAttack(ctx)
	require.NoError(t, err)
	require.Len(t, report.Agents, 2)

	rigged := report.Agents[0]
	bystander := report.Agents[1]

	assert.Equal(t, "rigged", rigged.Name)
	assert.NotEmpty(t, rigged.Exceptions)

	assert.Equal(t, "bystander", bystander.Name)
	assert.Equal(t, agent.StateSkipped, bystander.FinalState)

	assert.Equal(t, 1, report.ExitCode)
}

// TestStartAttack_HappyPathReachesDone exercises the non-failure path:
// every agent runs to completion and the report exits 0.
func TestStartAttack_HappyPathReachesDone(t *testing.T) {
	c := newTestCoordinator(t, []testplan.AgentSpec{
		durationSpec("good", "one", 0.05),
		durationSpec("good", "two", 0.05),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	report, err := c.StartAttack(ctx)
	require.NoError(t, err)
	require.Len(t, report.Agents, 2)

	for _, a := range report.Agents {
		assert.Equal(t, agent.StateDone, a.FinalState)
	}
	assert.Equal(t, 0, report.ExitCode)
}

// TestStartAttack_SudoRequiredAgentIsSkippedWhenUnprivileged exercises
// the runnability predicate's privilege-error path end to end: an agent
// requiring sudo never gets past the scheduler's IsRunnable gate and is
// SKIPPED by the teardown barrier instead of running.
func TestStartAttack_SudoRequiredAgentIsSkippedWhenUnprivileged(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("test process runs as root; sudo-required predicate is trivially true")
	}

	reg := newTestRegistry()
	reg.Register("sudo-good", func(raw map[string]any) (agent.Config, agent.Body, error) {
		return agent.Config{Name: raw["name"].(string), SudoRequired: true}, &fakeBody{}, nil
	})

	plan := testplan.NewPlan(testplan.AttackConfig{
		Mode: testplan.Concurrent,
		Agents: []testplan.AgentSpec{
			{Type: "sudo-good", Config: map[string]any{"name": "needs-root", "duration": 0}},
		},
	}, nil)
	c := New(plan, reg, nil)
	c.tick = 5 * time.Millisecond
	c.teardownTimeout = 200 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	report, err := c.StartAttack(ctx)
	require.NoError(t, err)
	require.Len(t, report.Agents, 1)
	assert.Equal(t, agent.StateSkipped, report.Agents[0].FinalState)
	assert.Equal(t, 1, report.ExitCode)
}
