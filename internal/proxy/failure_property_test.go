package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: recordFailure excludes (endpoint, model) exactly once the number
// of failures within the window reaches the configured threshold, never
// before, regardless of the threshold chosen.
func TestProperty_FailureTrackerExcludesAtThreshold(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("exclusion fires at the threshold, not before", prop.ForAll(
		func(threshold int) bool {
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			defer upstream.Close()

			eng, reg, ep := newTestEngine(t, upstream, Config{FailureThreshold: threshold, FailureWindow: time.Minute})
			ft := eng.failures

			for i := 0; i < threshold-1; i++ {
				ft.recordFailure(eng, ep.ID, "gpt-x")
				if model, _ := reg.GetModel(ep.ID, "gpt-x"); model.Excluded {
					return false // excluded too early
				}
			}

			ft.recordFailure(eng, ep.ID, "gpt-x")
			model, ok := reg.GetModel(ep.ID, "gpt-x")
			return ok && model.Excluded
		},
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}
