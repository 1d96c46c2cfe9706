package verification

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/yahoo/ychaos/hooks"
	"github.com/yahoo/ychaos/internal/ctxkeys"
	"github.com/yahoo/ychaos/testplan"
	"github.com/yahoo/ychaos/ychaoserr"
)

// Plugin is one concrete verification probe: given its config and its
// accumulated prior data, it returns a state datapoint for the current
// run.
type Plugin interface {
	RunVerification(ctx context.Context) *StateData
}

// Factory builds a Plugin from a verification's raw config and its
// accumulated Data so far.
type Factory func(config map[string]any, data *Data) (Plugin, error)

// Registry maps each verification-type tag to a plugin Factory.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register installs factory under tag.
func (r *Registry) Register(tag string, factory Factory) {
	r.factories[tag] = factory
}

// Hook event names the Controller's Bus accepts.
const (
	EventStart           = "on_start"
	EventEachPluginStart = "on_each_plugin_start"
	EventEachPluginEnd   = "on_each_plugin_end"
	EventPluginNotFound  = "on_plugin_not_found"
	EventEnd             = "on_end"
)

// Controller iterates a plan's verification list in order for a given
// labelled system state, respecting strict/non-strict gating, and
// returns aggregate pass/fail plus per-state data.
type Controller struct {
	verifications []testplan.VerificationSpec
	currentState  testplan.SystemState
	data          []*Data
	registry      *Registry
	bus           *hooks.Bus
	logger        *zap.Logger
}

// NewController constructs a Controller. priorData, if non-nil, must
// have exactly one entry per verification in the plan; pass nil to start
// from empty accumulators.
func NewController(
	verifications []testplan.VerificationSpec,
	currentState testplan.SystemState,
	priorData []*Data,
	registry *Registry,
	logger *zap.Logger,
) (*Controller, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	data := priorData
	if data == nil {
		data = make([]*Data, len(verifications))
		for i := range data {
			data[i] = NewData()
		}
	} else if len(data) != len(verifications) {
		return nil, ychaoserr.ErrDataSizeMismatch
	}

	return &Controller{
		verifications: verifications,
		currentState:  currentState,
		data:          data,
		registry:      registry,
		bus:           hooks.New(EventStart, EventEachPluginStart, EventEachPluginEnd, EventPluginNotFound, EventEnd),
		logger:        logger.With(zap.String("component", "verification_controller")),
	}, nil
}

// Hooks exposes the Controller's Event Hook Bus for registration.
func (c *Controller) Hooks() *hooks.Bus {
	return c.bus
}

// Data returns the accumulated per-verification Data, one entry per
// verification in declared order, suitable for persisting and passing
// as priorData to a later run against a different system state.
func (c *Controller) Data() []*Data {
	return c.data
}

// Execute runs every verification in order, sleeping delay_before/
// delay_after around each, and returns true only if every strict
// verification that applied to the current state returned rc == 0.
// A non-strict verification's outcome never affects the aggregate.
func (c *Controller) Execute(ctx context.Context) (bool, error) {
	ctx = ctxkeys.WithSystemState(ctx, c.currentState.String())
	if err := c.bus.Execute(EventStart); err != nil {
		return false, err
	}

	var verifyList []bool
	for i, spec := range c.verifications {
		sleep(ctx, spec.DelayBefore)

		if spec.AppliesTo(c.currentState) {
			factory, ok := c.registry.factories[spec.Type]
			if !ok {
				_ = c.bus.Execute(EventPluginNotFound, i, spec.Type)
				sleep(ctx, spec.DelayAfter)
				continue
			}

			plugin, err := factory(spec.Config, c.data[i])
			if err != nil {
				return false, ychaoserr.NewConfigError(spec.Type, err)
			}

			if err := c.bus.Execute(EventEachPluginStart, i, spec); err != nil {
				return false, err
			}

			c.logger.Info("starting verification", zap.String("type", spec.Type))
			stateData := plugin.RunVerification(ctx)
			c.logger.Info("completed verification", zap.String("type", spec.Type))

			if err := c.bus.Execute(EventEachPluginEnd, i, spec, stateData); err != nil {
				return false, err
			}

			c.data[i].ReplaceData(c.currentState, stateData)
			if spec.Strict {
				verifyList = append(verifyList, stateData.ReturnCode == 0)
			}
		} else {
			c.data[i].AddData(c.currentState, nil)
		}

		sleep(ctx, spec.DelayAfter)
	}

	if err := c.bus.Execute(EventEnd, verifyList); err != nil {
		return false, err
	}
	return allTrue(verifyList), nil
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func allTrue(bs []bool) bool {
	for _, b := range bs {
		if !b {
			return false
		}
	}
	return true
}

// EncodedData renders every verification's accumulated data, in
// declared order, ready for JSON/YAML encoding.
func (c *Controller) EncodedData() []map[string]any {
	out := make([]map[string]any, len(c.data))
	for i, d := range c.data {
		out[i] = d.EncodedDict()
	}
	return out
}

// DumpJSON marshals the controller's accumulated verification data.
func (c *Controller) DumpJSON() ([]byte, error) {
	return json.MarshalIndent(c.EncodedData(), "", "    ")
}

// DumpYAML marshals the controller's accumulated verification data.
func (c *Controller) DumpYAML() ([]byte, error) {
	return yaml.Marshal(c.EncodedData())
}
