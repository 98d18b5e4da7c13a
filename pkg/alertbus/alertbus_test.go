package alertbus

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostwatch/hostwatch/pkg/severity"
)

func TestPublishAndSummaryInvariant(t *testing.T) {
	b := New()
	now := time.Now()

	require.NoError(t, b.Publish(New_(severity.High, "a", 1, "svc", now)))
	require.NoError(t, b.Publish(New_(severity.Low, "b", 2, "svc", now)))
	require.NoError(t, b.Publish(New_(severity.Medium, "c", 3, "svc", now)))
	require.NoError(t, b.Publish(New_(severity.High, "d", 4, "svc", now)))

	total, high, medium, low := b.Summary()
	assert.Equal(t, 4, total)
	assert.Equal(t, total, high+medium+low)
	assert.Equal(t, 2, high)
	assert.Equal(t, 1, medium)
	assert.Equal(t, 1, low)
}

func TestSnapshotOrdering(t *testing.T) {
	// End-to-end scenario 6 from spec.md §8: High, Low, Medium, High in order
	// snapshots as [High#1, High#2, Medium, Low].
	b := New()
	now := time.Now()

	h1 := New_(severity.High, "h1", 0, "s", now)
	lo := New_(severity.Low, "lo", 0, "s", now)
	med := New_(severity.Medium, "med", 0, "s", now)
	h2 := New_(severity.High, "h2", 0, "s", now)

	require.NoError(t, b.Publish(h1))
	require.NoError(t, b.Publish(lo))
	require.NoError(t, b.Publish(med))
	require.NoError(t, b.Publish(h2))

	snap := b.Snapshot()
	require.Len(t, snap, 4)
	assert.Equal(t, "h1", snap[0].Message)
	assert.Equal(t, "h2", snap[1].Message)
	assert.Equal(t, "med", snap[2].Message)
	assert.Equal(t, "lo", snap[3].Message)
}

func TestClearResetsAtomically(t *testing.T) {
	b := New()
	require.NoError(t, b.Publish(New_(severity.High, "x", 0, "s", time.Now())))
	b.Clear()

	total, high, medium, low := b.Summary()
	assert.Zero(t, total)
	assert.Zero(t, high)
	assert.Zero(t, medium)
	assert.Zero(t, low)
	assert.Empty(t, b.Snapshot())
}

func TestExportTextEmptyBus(t *testing.T) {
	b := New()
	var buf bytes.Buffer
	require.NoError(t, b.ExportText(&buf))

	out := buf.String()
	assert.Contains(t, out, "Total de alertas: 0")
	assert.NotContains(t, out, "Detalle de alertas")
}

func TestExportTextOmitsEmptySections(t *testing.T) {
	b := New()
	require.NoError(t, b.Publish(New_(severity.Medium, "m", 80, "svc", time.Now())))

	var buf bytes.Buffer
	require.NoError(t, b.ExportText(&buf))
	out := buf.String()

	assert.Contains(t, out, "MEDIA:")
	assert.NotContains(t, out, "ALTA:")
	assert.NotContains(t, out, "BAJA:")
}

func TestPersisterLoadReplaysWithoutRepersisting(t *testing.T) {
	store := &fakePersister{}
	store.saved = append(store.saved, New_(severity.High, "restored", 22, "ssh", time.Now()))

	b := New()
	b.SetPersister(store)
	require.NoError(t, b.LoadPersisted())

	total, high, _, _ := b.Summary()
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, high)
	assert.Len(t, store.saved, 1, "LoadPersisted must not re-persist what it loaded")
}

func TestPublishPersists(t *testing.T) {
	store := &fakePersister{}
	b := New()
	b.SetPersister(store)

	a := New_(severity.High, "persist-me", 443, "https", time.Now())
	require.NoError(t, b.Publish(a))
	require.Len(t, store.saved, 1)
	assert.Equal(t, "persist-me", store.saved[0].Message)
}

func TestMessageAndSubjectTruncation(t *testing.T) {
	longMsg := strings.Repeat("x", 600)
	longSubj := strings.Repeat("y", 100)
	a := New_(severity.Low, longMsg, 0, longSubj, time.Now())

	assert.Len(t, a.Message, 512)
	assert.Len(t, a.Subject, 64)
}

// New_ is a thin helper so tests read naturally; it just forwards to New.
func New_(sev severity.Severity, message string, port int, subject string, ts time.Time) Alert {
	return New(sev, message, port, subject, ts)
}

type fakePersister struct {
	saved []Alert
}

func (f *fakePersister) Persist(a Alert) error {
	f.saved = append(f.saved, a)
	return nil
}

func (f *fakePersister) LoadAll() ([]Alert, error) {
	return f.saved, nil
}
