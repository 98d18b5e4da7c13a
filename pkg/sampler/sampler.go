// Package sampler drives one probe on a periodic schedule: sample, diff
// against the retained baseline, classify, publish, sleep, repeat. The loop
// shape is grounded on the teacher's ticker+context Start/Stop idiom (see
// pkg/services.HealthChecker in the reference corpus), generalized from one
// HTTP health check to the probe.Probe contract.
package sampler

import (
	"context"
	"log"
	"time"

	"github.com/hostwatch/hostwatch/pkg/alertbus"
	"github.com/hostwatch/hostwatch/pkg/probe"
)

// RunMode selects whether the sampler exits after one cycle or repeats.
type RunMode int

const (
	// OneShot runs exactly one sample/diff/classify cycle then returns.
	OneShot RunMode = iota
	// Continuous repeats the cycle every Interval until the context is
	// cancelled.
	Continuous
)

// Config controls the sampler's schedule.
type Config struct {
	Interval time.Duration
	RunMode  RunMode
	// Logger receives [INFO]/[ADVERTENCIA]/[ERROR]/[ALERTA] lines. A nil
	// Logger falls back to log.Default().
	Logger *log.Logger
}

// Sampler owns exactly one Probe and its cross-cycle baseline. Multiple
// probes run on independent Samplers; a Sampler is not safe for concurrent
// use by more than one goroutine.
type Sampler struct {
	probe    probe.Probe
	bus      *alertbus.Bus
	cfg      Config
	baseline probe.Observation
	logger   *log.Logger
}

// New creates a Sampler for one probe, publishing classified deltas to bus.
func New(p probe.Probe, bus *alertbus.Bus, cfg Config) *Sampler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Sampler{probe: p, bus: bus, cfg: cfg, logger: logger}
}

// Run executes the sampler's schedule. In OneShot mode it runs one cycle and
// returns. In Continuous mode it runs until ctx is cancelled; the
// inter-cycle sleep is polled in 1-second ticks so cancellation latency is
// bounded at one second regardless of Interval.
func (s *Sampler) Run(ctx context.Context) error {
	for {
		s.cycle(ctx)

		if s.cfg.RunMode == OneShot {
			return nil
		}

		if err := s.sleepInterruptible(ctx, s.cfg.Interval); err != nil {
			return nil
		}
	}
}

// cycle performs one sample → diff → classify → publish pass. All publishes
// within a cycle happen-before this method returns, preserving the
// happens-before-sleep ordering guarantee of spec.md §4.3.
//
// The first cycle (baseline == nil) is not special-cased here: Diff and
// Classify run exactly as on any other cycle. What "first scan" means differs
// per probe — a newly-seen open port is still a real finding and must still
// be classified the first time it's seen (port_scanner.c's own
// port_scanner_scan only gates the "[CAMBIO]" new/closed *display* lines on
// scanner->first_scan, never the catalogue classification and alert_manager_
// add_alert call, so a backdoor port open on scan one alerts immediately) —
// while a freshly-seen device or process has nothing to compare against and
// each probe's own Diff/Classify already knows that and reports accordingly
// (fsmon.Probe emits a Low baseline alert instead of file deltas; procmon.
// Probe's hysteresis timers start at zero so nothing can have exceeded a
// threshold yet). Suppressing Classify here for every probe on the first
// cycle would silently drop that portscan finding for a full interval.
func (s *Sampler) cycle(ctx context.Context) {
	curr, err := s.probe.Sample(ctx)
	if err != nil {
		s.logger.Printf("[ERROR] %s: fallo de muestreo: %v", s.probe.Name(), err)
		return
	}

	if s.baseline == nil {
		s.logger.Printf("[INFO] %s: línea base inicial establecida", s.probe.Name())
	}

	deltas := s.probe.Diff(s.baseline, curr)
	for _, d := range deltas {
		for _, a := range s.probe.Classify(d) {
			if err := s.bus.Publish(a); err != nil {
				s.logger.Printf("[ERROR] %s: fallo al publicar alerta: %v", s.probe.Name(), err)
			}
		}
	}

	s.baseline = curr
}

// sleepInterruptible sleeps for d, checking ctx.Done() every second so a
// cancellation is observed within one second. It returns ctx.Err() if
// cancelled before d elapses.
func (s *Sampler) sleepInterruptible(ctx context.Context, d time.Duration) error {
	const tick = time.Second
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	remaining := d
	for remaining > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			remaining -= tick
		}
	}
	return nil
}
