// Package alertbus implements the shared, severity-aware alert sink that
// every probe publishes into. It replaces the source's head-insertion linked
// list with an append-ordered slice plus running per-severity counters, so
// publish stays O(1) and export stays a single grouped pass.
package alertbus

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hostwatch/hostwatch/pkg/severity"
)

// Alert is an immutable record of one classified observation.
type Alert struct {
	Severity  severity.Severity
	Message   string // truncated to 512 bytes
	Port      int    // 0 if not applicable
	Subject   string // service/process/path name, truncated to 64 bytes
	Timestamp time.Time
	seq       uint64 // insertion sequence, used for stable sort across equal timestamps
}

const (
	maxMessageLen = 512
	maxSubjectLen = 64
)

// New builds an Alert, truncating Message and Subject to the limits in
// spec.md §3.
func New(sev severity.Severity, message string, port int, subject string, ts time.Time) Alert {
	if len(message) > maxMessageLen {
		message = message[:maxMessageLen]
	}
	if len(subject) > maxSubjectLen {
		subject = subject[:maxSubjectLen]
	}
	return Alert{
		Severity:  sev,
		Message:   message,
		Port:      port,
		Subject:   subject,
		Timestamp: ts,
	}
}

// Persister is an optional durable backing store for published alerts. A
// failure to persist is logged by the caller and never blocks or fails the
// in-memory publish — the bus itself is the source of truth for a running
// process; the store exists so alert history survives a restart.
type Persister interface {
	Persist(Alert) error
	LoadAll() ([]Alert, error)
}

// Bus aggregates alerts from every probe, tracks counters per severity, and
// preserves insertion order. A single Bus is shared by all samplers in a
// process; callers other than the sampler's serial publish loop should treat
// it as read-only.
type Bus struct {
	mu        sync.RWMutex
	alerts    []Alert
	high      int
	medium    int
	low       int
	nextSeq   uint64
	persister Persister
}

// New creates an empty Bus. An optional Persister may be attached with
// SetPersister before the first Publish.
func New() *Bus {
	return &Bus{}
}

// SetPersister attaches a durable backing store. It is not safe to call
// concurrently with Publish.
func (b *Bus) SetPersister(p Persister) {
	b.persister = p
}

// LoadPersisted replays alerts from the attached persister into the bus,
// used on startup to restore history across process restarts. The loaded
// alerts are not re-persisted.
func (b *Bus) LoadPersisted() error {
	if b.persister == nil {
		return nil
	}
	loaded, err := b.persister.LoadAll()
	if err != nil {
		return fmt.Errorf("alertbus: load persisted alerts: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, a := range loaded {
		b.appendLocked(a)
	}
	return nil
}

// Publish appends an alert, updates the matching severity counter, and
// (if attached) persists it. Publish cannot fail in normal operation; a
// persistence error is returned to the caller to log, but the in-memory
// append has already happened and is never rolled back.
func (b *Bus) Publish(a Alert) error {
	b.mu.Lock()
	b.appendLocked(a)
	b.mu.Unlock()

	if b.persister != nil {
		if err := b.persister.Persist(a); err != nil {
			return fmt.Errorf("alertbus: persist alert: %w", err)
		}
	}
	return nil
}

func (b *Bus) appendLocked(a Alert) {
	a.seq = b.nextSeq
	b.nextSeq++
	b.alerts = append(b.alerts, a)
	switch a.Severity {
	case severity.High:
		b.high++
	case severity.Medium:
		b.medium++
	default:
		b.low++
	}
}

// Summary returns (total, high, medium, low) in O(1).
func (b *Bus) Summary() (total, high, medium, low int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.high + b.medium + b.low, b.high, b.medium, b.low
}

// Snapshot returns a priority-grouped, insertion-order-preserving copy of all
// alerts: all High, then all Medium, then all Low. It does not mutate the
// bus.
func (b *Bus) Snapshot() []Alert {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Alert, 0, len(b.alerts))
	for _, want := range severity.Ordered() {
		for _, a := range b.alerts {
			if a.Severity == want {
				out = append(out, a)
			}
		}
	}
	return out
}

// Clear resets the bus to the empty state atomically.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alerts = nil
	b.high, b.medium, b.low = 0, 0, 0
}

// ExportText writes a plain-text report: a header, summary counters, and one
// section per non-empty severity group, in the grouping order of Snapshot.
func (b *Bus) ExportText(w io.Writer) error {
	bw := bufio.NewWriter(w)

	total, high, medium, low := b.Summary()
	fmt.Fprintf(bw, "Reporte de alertas\n\n")
	fmt.Fprintf(bw, "Total de alertas: %d\n", total)
	fmt.Fprintf(bw, "  - Alertas ALTAS: %d\n", high)
	fmt.Fprintf(bw, "  - Alertas MEDIAS: %d\n", medium)
	fmt.Fprintf(bw, "  - Alertas BAJAS: %d\n", low)

	if total > 0 {
		fmt.Fprintf(bw, "\nDetalle de alertas:\n")
		grouped := b.Snapshot()
		for _, want := range severity.Ordered() {
			var section []Alert
			for _, a := range grouped {
				if a.Severity == want {
					section = append(section, a)
				}
			}
			if len(section) == 0 {
				continue
			}
			fmt.Fprintf(bw, "\n%s:\n", want.String())
			for _, a := range section {
				fmt.Fprintf(bw, "  [%s] %s - Puerto: %d, Servicio: %s - %s\n",
					a.Severity.String(), a.Message, a.Port, a.Subject,
					a.Timestamp.Format("2006-01-02 15:04:05"))
			}
		}
	}

	return bw.Flush()
}
