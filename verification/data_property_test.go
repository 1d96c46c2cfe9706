package verification

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/yahoo/ychaos/testplan"
)

// TestProperty_DataRoundTrip checks that a Data accumulator survives an
// EncodedDict -> JSON -> FromEncodedDict round trip (the path every
// store.VerificationDataStore backend actually exercises) with every
// StateData field preserved, modulo the POSIX-seconds timestamp
// truncation the wire format itself performs.
func TestProperty_DataRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("EncodedDict/FromEncodedDict round trip preserves rc, type and second-resolution timestamp", prop.ForAll(
		func(rc int, typeTag string, epochSeconds int64) bool {
			d := NewData()
			original := &StateData{
				ReturnCode: rc,
				Timestamp:  time.Unix(epochSeconds, 0).UTC(),
				Type:       typeTag,
				Data:       map[string]any{"k": "v"},
			}
			d.ReplaceData(testplan.Steady, original)

			raw, err := json.Marshal(d.EncodedDict())
			if err != nil {
				t.Logf("marshal failed: %v", err)
				return false
			}

			var decoded map[string]any
			if err := json.Unmarshal(raw, &decoded); err != nil {
				t.Logf("unmarshal failed: %v", err)
				return false
			}

			restored := FromEncodedDict(decoded)
			got := restored.GetData(testplan.Steady)
			if got == nil {
				t.Logf("no data restored for steady state")
				return false
			}

			if got.ReturnCode != original.ReturnCode {
				t.Logf("rc mismatch: got %d want %d", got.ReturnCode, original.ReturnCode)
				return false
			}
			if got.Type != original.Type {
				t.Logf("type mismatch: got %q want %q", got.Type, original.Type)
				return false
			}
			if !got.Timestamp.Equal(original.Timestamp) {
				t.Logf("timestamp mismatch: got %v want %v", got.Timestamp, original.Timestamp)
				return false
			}

			// A state never recorded should not appear after round-tripping.
			return !restored.IsDataPresent(testplan.Chaos) && !restored.IsDataPresent(testplan.Recovered)
		},
		gen.IntRange(-1, 255),
		gen.AlphaString(),
		gen.Int64Range(0, 2000000000),
	))

	properties.TestingRun(t)
}
