// Package probe defines the uniform contract every sampling engine in the
// toolkit satisfies: sample current state, diff it against a retained
// baseline, and classify the resulting deltas into alerts. Concrete probes
// (pkg/portscan, pkg/procmon, pkg/fsmon) implement this interface; pkg/sampler
// drives it.
package probe

import (
	"context"
	"errors"

	"github.com/hostwatch/hostwatch/pkg/alertbus"
)

// Observation is a probe-specific snapshot of current state. It is a marker
// interface; the sampler tells first-scan from later scans by prev == nil,
// not by any property of the Observation itself.
type Observation interface{}

// Delta is a probe-specific description of what changed between two
// observations. It carries no behavior of its own; Probe.Classify turns a
// Delta into zero or more alerts.
type Delta interface{}

// SampleError wraps a transient failure encountered while sampling. The
// sampler logs it and skips diffing for the current cycle; it never
// terminates the loop.
type SampleError struct {
	Probe string
	Err   error
}

func (e *SampleError) Error() string {
	return "probe sample error (" + e.Probe + "): " + e.Err.Error()
}

func (e *SampleError) Unwrap() error { return e.Err }

// ErrEmptyResult is returned by probes whose configuration parses to an
// empty working set (e.g. an empty port specification).
var ErrEmptyResult = errors.New("probe: empty result set")

// Probe is the polymorphic contract satisfied by every sampling engine.
type Probe interface {
	// Name identifies the probe in logs and alerts.
	Name() string

	// Sample produces a fresh Observation of current state. A returned error
	// is always a *SampleError.
	Sample(ctx context.Context) (Observation, error)

	// Diff computes the deltas between a prior observation (nil on the first
	// cycle) and the current one.
	Diff(prev Observation, curr Observation) []Delta

	// Classify turns one delta into zero or more alerts for publication.
	Classify(d Delta) []alertbus.Alert
}
