package fsmon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostwatch/hostwatch/pkg/dispatch"
	"github.com/hostwatch/hostwatch/pkg/severity"
)

func TestIsInScopeHeuristic(t *testing.T) {
	assert.True(t, isInScope(Mount{Source: "/dev/sdb1", MountPoint: "/media/usb0"}))
	assert.True(t, isInScope(Mount{Source: "/dev/mmcblk0p1", MountPoint: "/mnt/sdcard"}))
	assert.False(t, isInScope(Mount{Source: "/dev/sda1", MountPoint: "/"}))
	assert.False(t, isInScope(Mount{Source: "tmpfs", MountPoint: "/media/usb0"}))
}

type fakeMountReader struct{ mounts []Mount }

func (f fakeMountReader) Mounts() ([]Mount, error) { return f.mounts, nil }

type fakeWalker struct {
	snapshots map[string]map[string]FileRecord
	calls     []string
}

func (f *fakeWalker) Walk(root string) (map[string]FileRecord, error) {
	f.calls = append(f.calls, root)
	return f.snapshots[root], nil
}

func newProbeForTest(mounts []Mount, walker *fakeWalker) *Probe {
	return New(Config{
		MountReader: fakeMountReader{mounts: mounts},
		Walker:      walker,
		Dispatcher:  dispatch.New(4, nil),
	})
}

func TestSampleOnlyWalksInScopeDevices(t *testing.T) {
	walker := &fakeWalker{snapshots: map[string]map[string]FileRecord{
		"/media/usb0": {},
	}}
	p := newProbeForTest([]Mount{
		{Source: "/dev/sdb1", MountPoint: "/media/usb0"},
		{Source: "/dev/sda1", MountPoint: "/"},
	}, walker)

	_, err := p.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"/media/usb0"}, walker.calls)
}

func TestBaselineOnFirstAppearance(t *testing.T) {
	walker := &fakeWalker{snapshots: map[string]map[string]FileRecord{
		"/media/usb0": {"/media/usb0/a": {Path: "/media/usb0/a", SHA256: "h1"}},
	}}
	p := newProbeForTest([]Mount{{Source: "/dev/sdb1", MountPoint: "/media/usb0"}}, walker)

	curr, err := p.Sample(context.Background())
	require.NoError(t, err)

	deltas := p.Diff(nil, curr)
	require.Len(t, deltas, 2)
	assert.Equal(t, DeviceAppeared{Device: "/media/usb0"}, deltas[0])

	change := deltas[1].(DeviceChange)
	assert.True(t, change.Baseline)

	alerts := p.Classify(deltas[1])
	require.Len(t, alerts, 1)
	assert.Equal(t, severity.Low, alerts[0].Severity)
}

func TestTriWayDiffScenario(t *testing.T) {
	p := New(Config{Dispatcher: dispatch.New(1, nil)})

	prev := Observation{Devices: map[string]DeviceSnapshot{
		"/media/usb0": {Files: map[string]FileRecord{
			"a": {SHA256: "h1"},
			"b": {SHA256: "h2"},
		}},
	}}
	curr := Observation{Devices: map[string]DeviceSnapshot{
		"/media/usb0": {Files: map[string]FileRecord{
			"a": {SHA256: "h1"},
			"b": {SHA256: "h3"},
			"c": {SHA256: "h4"},
		}},
	}}

	deltas := p.Diff(prev, curr)
	require.Len(t, deltas, 1)
	change := deltas[0].(DeviceChange)

	assert.Equal(t, []string{"b"}, change.Modified)
	assert.Equal(t, []string{"c"}, change.Added)
	assert.Empty(t, change.Deleted)
	assert.Equal(t, 2, change.PriorFileCount)
}

func TestThresholdAlertFiresAtDefaultTenPercent(t *testing.T) {
	p := New(Config{Dispatcher: dispatch.New(1, nil)})

	change := DeviceChange{
		Device:         "/media/usb0",
		Added:          []string{"c"},
		Modified:       []string{"b"},
		PriorFileCount: 2,
	}

	alerts := p.Classify(change)
	var sawHigh bool
	for _, a := range alerts {
		if a.Severity == severity.High {
			sawHigh = true
		}
	}
	assert.True(t, sawHigh, "100%% change over a 2-file prior set must exceed the 10%% default threshold")
}

func TestNoThresholdAlertBelowDefault(t *testing.T) {
	p := New(Config{Dispatcher: dispatch.New(1, nil)})

	change := DeviceChange{
		Device:         "/media/usb0",
		Modified:       []string{"b"},
		PriorFileCount: 100,
	}

	alerts := p.Classify(change)
	for _, a := range alerts {
		assert.NotEqual(t, severity.High, a.Severity)
	}
}

func TestDeviceRemovedEmitsLowAlert(t *testing.T) {
	p := New(Config{Dispatcher: dispatch.New(1, nil)})
	alerts := p.Classify(DeviceRemoved{Device: "/media/usb0"})
	require.Len(t, alerts, 1)
	assert.Equal(t, severity.Low, alerts[0].Severity)
}

func TestDropOnBusyCarriesForwardSnapshot(t *testing.T) {
	d := dispatch.New(4, nil)
	release := make(chan struct{})
	started := make(chan struct{})

	d.Dispatch("/media/usb0", func() {
		close(started)
		<-release
	})
	<-started

	walker := &fakeWalker{snapshots: map[string]map[string]FileRecord{
		"/media/usb0": {"/media/usb0/new": {SHA256: "hnew"}},
	}}
	p := New(Config{
		MountReader: fakeMountReader{mounts: []Mount{{Source: "/dev/sdb1", MountPoint: "/media/usb0"}}},
		Walker:      walker,
		Dispatcher:  d,
	})
	p.lastSnapshots["/media/usb0"] = DeviceSnapshot{Files: map[string]FileRecord{
		"/media/usb0/old": {SHA256: "hold"},
	}}

	obs, err := p.Sample(context.Background())
	require.NoError(t, err)

	snap := obs.(Observation).Devices["/media/usb0"]
	_, hasOld := snap.Files["/media/usb0/old"]
	assert.True(t, hasOld, "busy device must carry forward its last snapshot unchanged")

	close(release)
	time.Sleep(10 * time.Millisecond)
}
