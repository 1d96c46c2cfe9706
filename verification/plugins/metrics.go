package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"sort"
	"time"

	"github.com/yahoo/ychaos/testplan"
	"github.com/yahoo/ychaos/verification"
)

const TypeMetrics = "metrics"

// Aggregator reduces one series' NaN-filtered points down to a single
// comparable value.
type Aggregator string

const (
	AggregatorAvg    Aggregator = "avg"
	AggregatorLatest Aggregator = "latest"
	AggregatorOldest Aggregator = "oldest"
	AggregatorMax    Aggregator = "max"
	AggregatorMin    Aggregator = "min"
	AggregatorRandom Aggregator = "random"
	// AggregatorSlope is reserved: the source stubbed it to an
	// unimplemented error and this plugin preserves that contract
	// rather than guess at the intended regression.
	AggregatorSlope Aggregator = "slope"
)

// Comparator is the relation a conditional checks a scalar value
// against.
type Comparator string

const (
	ComparatorLT    Comparator = "lt"
	ComparatorLE    Comparator = "le"
	ComparatorGT    Comparator = "gt"
	ComparatorGE    Comparator = "ge"
	ComparatorEQ    Comparator = "eq"
	ComparatorNEQ   Comparator = "neq"
	ComparatorRange Comparator = "range"
)

// Conditional is one bound check within a criterion. A criterion passes
// if any one of its conditionals holds.
type Conditional struct {
	Comparator     Comparator
	Bound          float64
	Lower          float64
	Upper          float64
	LowerInclusive bool
	UpperInclusive bool
}

func (c Conditional) holds(value float64) bool {
	switch c.Comparator {
	case ComparatorLT:
		return value < c.Bound
	case ComparatorLE:
		return value <= c.Bound
	case ComparatorGT:
		return value > c.Bound
	case ComparatorGE:
		return value >= c.Bound
	case ComparatorEQ:
		return value == c.Bound
	case ComparatorNEQ:
		return value != c.Bound
	case ComparatorRange:
		lowOK := value > c.Lower || (c.LowerInclusive && value == c.Lower)
		highOK := value < c.Upper || (c.UpperInclusive && value == c.Upper)
		return lowOK && highOK
	default:
		return false
	}
}

func conditionalFromConfig(raw map[string]any) Conditional {
	c := Conditional{
		Comparator:     Comparator(stringField(raw, "comparator", string(ComparatorLT))),
		LowerInclusive: boolField(raw, "lower_inclusive", true),
		UpperInclusive: boolField(raw, "upper_inclusive", true),
	}
	if c.Comparator == ComparatorRange {
		if bounds, ok := raw["bound"].([]any); ok && len(bounds) == 2 {
			c.Lower = toFloat(bounds[0])
			c.Upper = toFloat(bounds[1])
		}
	} else {
		c.Bound = floatField(raw, "bound", 0)
	}
	return c
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}

// StatelessCriterion applies its Aggregator to every series and passes
// if any Conditional holds for that series' aggregated value.
type StatelessCriterion struct {
	Aggregator   Aggregator
	Conditionals []Conditional
}

func (sc StatelessCriterion) evaluate(value float64) bool {
	for _, c := range sc.Conditionals {
		if c.holds(value) {
			return true
		}
	}
	return false
}

// StateBoundCriterion additionally compares the current aggregated
// value's percent change against the value recorded for State in a
// prior run of the same plugin.
type StateBoundCriterion struct {
	StatelessCriterion
	State testplan.SystemState
}

type metricsConfig struct {
	QueryURL       string
	StatelessCrits []StatelessCriterion
	StateCrits     []StateBoundCriterion
}

type metrics struct {
	config metricsConfig
	data   *verification.Data
	client *http.Client
}

// NewMetrics builds a time-series verification plugin: it issues one
// query expecting a list of named series, each a dense timestamp->value
// map, reduces each series per criterion, and passes only if every
// criterion passes on every series.
func NewMetrics(config map[string]any, data *verification.Data) (verification.Plugin, error) {
	cfg := metricsConfig{QueryURL: stringField(config, "query_url", "")}

	if raw, ok := config["criteria"].([]any); ok {
		for _, item := range raw {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			cfg.StatelessCrits = append(cfg.StatelessCrits, parseStatelessCriterion(m))
		}
	}
	if raw, ok := config["state_criteria"].([]any); ok {
		for _, item := range raw {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			state, _ := testplan.ParseSystemState(stringField(m, "state", ""))
			cfg.StateCrits = append(cfg.StateCrits, StateBoundCriterion{
				StatelessCriterion: parseStatelessCriterion(m),
				State:              state,
			})
		}
	}

	return &metrics{config: cfg, data: data, client: &http.Client{Timeout: 10 * time.Second}}, nil
}

func parseStatelessCriterion(raw map[string]any) StatelessCriterion {
	sc := StatelessCriterion{Aggregator: Aggregator(stringField(raw, "aggregator", string(AggregatorAvg)))}
	if conds, ok := raw["conditionals"].([]any); ok {
		for _, c := range conds {
			if cm, ok := c.(map[string]any); ok {
				sc.Conditionals = append(sc.Conditionals, conditionalFromConfig(cm))
			}
		}
	}
	return sc
}

type seriesResponse struct {
	Name   string             `json:"name"`
	Values map[string]float64 `json:"values"`
}

func (m *metrics) fetchSeries(ctx context.Context) ([]seriesResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.config.QueryURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var series []seriesResponse
	if err := json.NewDecoder(resp.Body).Decode(&series); err != nil {
		return nil, err
	}
	return series, nil
}

func (m *metrics) RunVerification(ctx context.Context) *verification.StateData {
	series, err := m.fetchSeries(ctx)
	if err != nil {
		return m.errorResult(err)
	}

	aggregated := make(map[string]map[Aggregator]float64, len(series))
	pass := true

	for _, s := range series {
		values := nonNaNValues(s.Values)
		cache := aggregated[s.Name]
		if cache == nil {
			cache = make(map[Aggregator]float64)
			aggregated[s.Name] = cache
		}

		for _, crit := range m.config.StatelessCrits {
			value, err := cachedAggregate(cache, values, crit.Aggregator)
			if err != nil {
				return m.errorResult(err)
			}
			if !crit.evaluate(value) {
				pass = false
			}
		}

		for _, crit := range m.config.StateCrits {
			value, err := cachedAggregate(cache, values, crit.Aggregator)
			if err != nil {
				return m.errorResult(err)
			}
			baseline, ok := m.priorValue(crit.State, s.Name, crit.Aggregator)
			if !ok || baseline == 0 {
				pass = false
				continue
			}
			pctChange := (value - baseline) / baseline * 100
			if !crit.evaluate(pctChange) {
				pass = false
			}
		}
	}

	rc := 1
	if pass {
		rc = 0
	}
	return &verification.StateData{
		ReturnCode: rc,
		Timestamp:  time.Now().UTC(),
		Type:       TypeMetrics,
		Data:       map[string]any{"series_values": aggregated},
	}
}

// priorValue looks up the aggregated value a previous run of this
// plugin recorded for state/series/aggregator, reading it back out of
// the plugin's own prior StateData payload.
func (m *metrics) priorValue(state testplan.SystemState, series string, agg Aggregator) (float64, bool) {
	if m.data == nil {
		return 0, false
	}
	prior := m.data.GetData(state)
	if prior == nil {
		return 0, false
	}
	byState, ok := prior.Data.(map[string]any)
	if !ok {
		return 0, false
	}
	seriesValues, ok := byState["series_values"].(map[string]map[Aggregator]float64)
	if !ok {
		return 0, false
	}
	v, ok := seriesValues[series][agg]
	return v, ok
}

func (m *metrics) errorResult(err error) *verification.StateData {
	return &verification.StateData{
		ReturnCode: -1,
		Timestamp:  time.Now().UTC(),
		Type:       TypeMetrics,
		Data:       map[string]any{"error": err.Error()},
	}
}

// nonNaNValues returns the series' non-NaN values ordered by their
// timestamp keys (lexical key order), oldest first.
func nonNaNValues(raw map[string]float64) []float64 {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]float64, 0, len(raw))
	for _, k := range keys {
		if v := raw[k]; !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

func cachedAggregate(cache map[Aggregator]float64, values []float64, agg Aggregator) (float64, error) {
	if v, ok := cache[agg]; ok {
		return v, nil
	}
	v, err := aggregate(values, agg)
	if err != nil {
		return 0, err
	}
	cache[agg] = v
	return v, nil
}

// aggregate reduces a NaN-filtered series of values to one scalar.
// slope is left reserved: it returns an error rather than computing
// real slope math, since it was never implemented upstream either.
func aggregate(values []float64, agg Aggregator) (float64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("metrics: no non-NaN datapoints in series")
	}

	switch agg {
	case AggregatorAvg:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values)), nil
	case AggregatorLatest:
		return values[len(values)-1], nil
	case AggregatorOldest:
		return values[0], nil
	case AggregatorMax:
		max := values[0]
		for _, v := range values {
			if v > max {
				max = v
			}
		}
		return max, nil
	case AggregatorMin:
		min := values[0]
		for _, v := range values {
			if v < min {
				min = v
			}
		}
		return min, nil
	case AggregatorRandom:
		return values[rand.Intn(len(values))], nil
	case AggregatorSlope:
		return 0, fmt.Errorf("metrics: slope aggregator is not implemented")
	default:
		return 0, fmt.Errorf("metrics: unknown aggregator %q", agg)
	}
}
