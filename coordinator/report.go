package coordinator

import (
	"time"

	"github.com/yahoo/ychaos/agent"
	"github.com/yahoo/ychaos/testplan"
)

// AgentReport captures one agent's final disposition.
type AgentReport struct {
	Name       string
	Type       string
	StartTime  time.Time
	EndTime    time.Time
	FinalState agent.State
	History    []agent.State
	Exceptions []string
	Datapoints []agent.Datapoint
}

// Report is the Coordinator's single durable artefact of an attack run.
type Report struct {
	PlanID      string
	Mode        testplan.AttackMode
	WindowStart time.Time
	WindowEnd   time.Time
	Agents      []AgentReport
	ExitCode    int
}

// BuildReport assembles a Report from the final state of every
// configured agent. ExitCode is 0 only if every agent reached DONE
// without ever entering a failure state and recorded no exception.
func BuildReport(planID string, mode testplan.AttackMode, configured []*ConfiguredAgent) *Report {
	start, end := AttackWindow(configured)
	report := &Report{
		PlanID:      planID,
		Mode:        mode,
		WindowStart: start,
		WindowEnd:   end,
		Agents:      make([]AgentReport, 0, len(configured)),
	}

	exitCode := 0
	for _, ca := range configured {
		exceptions := ca.Agent.Exceptions()
		excStrings := make([]string, 0, len(exceptions))
		for _, e := range exceptions {
			excStrings = append(excStrings, e.Error())
		}

		finalState := ca.Agent.CurrentState()
		if finalState.Failed() || len(exceptions) > 0 {
			exitCode = 1
		}
		for _, s := range ca.Agent.History() {
			if s.Failed() {
				exitCode = 1
			}
		}

		report.Agents = append(report.Agents, AgentReport{
			Name:       ca.Agent.Config().Name,
			Type:       ca.Spec.Type,
			StartTime:  ca.StartTime,
			EndTime:    ca.EndTime,
			FinalState: finalState,
			History:    ca.Agent.History(),
			Exceptions: excStrings,
			Datapoints: ca.Agent.Datapoints(),
		})
	}
	report.ExitCode = exitCode
	return report
}

// AllExceptions flattens every agent's exception queue into one slice,
// preserving per-agent order.
func (r *Report) AllExceptions() []string {
	var all []string
	for _, a := range r.Agents {
		all = append(all, a.Exceptions...)
	}
	return all
}
