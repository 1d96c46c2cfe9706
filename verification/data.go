// Package verification implements the Verification Controller: it runs
// a plan's ordered verification plugin list against a labelled system
// state and accumulates per-state verification data across runs.
package verification

import (
	"encoding/json"
	"time"

	"github.com/yahoo/ychaos/testplan"
)

// StateData is one verification plugin's datapoint for a single system
// state: a return code (0 success, >0 failure, <0 plugin error), the
// instant it was produced, the plugin's type tag, and a free-form
// payload (a map for most plugins, a list for the HTTP probe's
// per-iteration failure records).
type StateData struct {
	ReturnCode int
	Timestamp  time.Time
	Type       string
	Data       any
}

// encodedStateData is StateData's wire shape: timestamps are encoded as
// POSIX seconds, matching the original implementation's JSON/YAML dump.
type encodedStateData struct {
	ReturnCode int    `json:"rc" yaml:"rc"`
	Timestamp  int64  `json:"timestamp" yaml:"timestamp"`
	Type       string `json:"type" yaml:"type"`
	Data       any    `json:"data" yaml:"data"`
}

func (d *StateData) encode() *encodedStateData {
	if d == nil {
		return nil
	}
	return &encodedStateData{
		ReturnCode: d.ReturnCode,
		Timestamp:  d.Timestamp.UTC().Unix(),
		Type:       d.Type,
		Data:       d.Data,
	}
}

// Data is one verification plugin's accumulated state-data across the
// system states it has been run for. A nil entry for a state means the
// plugin was not applicable in that state.
type Data struct {
	byState map[testplan.SystemState]*StateData
}

// NewData constructs an empty Data accumulator.
func NewData() *Data {
	return &Data{byState: make(map[testplan.SystemState]*StateData)}
}

// AddData records data for state only if nothing is recorded yet for
// that state (non-overwriting). Used when a verification did not apply
// to the current state, to preserve any prior recorded result.
func (d *Data) AddData(state testplan.SystemState, data *StateData) {
	if _, present := d.byState[state]; present {
		return
	}
	d.byState[state] = data
}

// ReplaceData unconditionally overwrites state's entry. Used after an
// applicable plugin actually runs.
func (d *Data) ReplaceData(state testplan.SystemState, data *StateData) {
	d.byState[state] = data
}

// IsDataPresent reports whether state has a (possibly nil) recorded
// entry at all, i.e. whether this plugin has ever been evaluated for it.
func (d *Data) IsDataPresent(state testplan.SystemState) bool {
	_, ok := d.byState[state]
	return ok
}

// GetData returns the recorded StateData for state, or nil if none.
func (d *Data) GetData(state testplan.SystemState) *StateData {
	return d.byState[state]
}

// EncodedDict renders every recorded state's data in POSIX-seconds wire
// form, keyed by the state's string name.
func (d *Data) EncodedDict() map[string]any {
	out := make(map[string]any, len(d.byState))
	for state, data := range d.byState {
		out[state.String()] = data.encode()
	}
	return out
}

// MarshalJSON implements json.Marshaler via EncodedDict.
func (d *Data) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.EncodedDict())
}

// FromEncodedDict reconstructs a Data from the map shape EncodedDict
// produces (or its JSON/YAML-decoded equivalent), used when loading
// verification data persisted by an earlier run.
func FromEncodedDict(encoded map[string]any) *Data {
	d := NewData()
	for stateName, raw := range encoded {
		state, ok := testplan.ParseSystemState(stateName)
		if !ok {
			continue
		}
		if raw == nil {
			d.byState[state] = nil
			continue
		}
		fields, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		d.byState[state] = decodeStateData(fields)
	}
	return d
}

func decodeStateData(fields map[string]any) *StateData {
	sd := &StateData{}
	if rc, ok := fields["rc"].(float64); ok {
		sd.ReturnCode = int(rc)
	}
	if ts, ok := fields["timestamp"].(float64); ok {
		sd.Timestamp = time.Unix(int64(ts), 0).UTC()
	}
	if t, ok := fields["type"].(string); ok {
		sd.Type = t
	}
	sd.Data = fields["data"]
	return sd
}
