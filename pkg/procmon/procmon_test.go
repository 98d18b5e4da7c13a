package procmon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	pids     []int
	ticks    map[int]uint64
	rss      map[int]uint64
	memTotal uint64
	comm     map[int]string
	fail     map[int]bool
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		ticks:    map[int]uint64{},
		rss:      map[int]uint64{},
		comm:     map[int]string{},
		memTotal: 1_000_000,
		fail:     map[int]bool{},
	}
}

func (f *fakeReader) Pids() ([]int, error) { return f.pids, nil }

func (f *fakeReader) Comm(pid int) (string, error) {
	if f.fail[pid] {
		return "", assertError{"no such process"}
	}
	if n, ok := f.comm[pid]; ok {
		return n, nil
	}
	return "testproc", nil
}

func (f *fakeReader) StatFields(pid int) (utime, stime, cutime, cstime uint64, err error) {
	return f.ticks[pid], 0, 0, 0, nil
}

func (f *fakeReader) VmRSSKB(pid int) (uint64, error) { return f.rss[pid], nil }

func (f *fakeReader) MemTotalKB() (uint64, error) { return f.memTotal, nil }

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }

// clockAt returns a Now func that advances by one second on each call,
// starting at base.
func clockAt(base time.Time) func() time.Time {
	n := 0
	return func() time.Time {
		t := base.Add(time.Duration(n) * time.Second)
		n++
		return t
	}
}

func TestFirstObservationOfPIDHasZeroCPU(t *testing.T) {
	reader := newFakeReader()
	reader.pids = []int{100}
	reader.ticks[100] = 500

	p := New(Config{Reader: reader, Now: clockAt(time.Unix(0, 0))})
	obs, err := p.Sample(context.Background())
	require.NoError(t, err)

	s := obs.(Observation).Processes[100]
	assert.Zero(t, s.CPUPercent)
}

func TestHysteresisScenario(t *testing.T) {
	reader := newFakeReader()
	reader.pids = []int{100}
	base := time.Unix(1000, 0)
	clock := clockAt(base)

	p := New(Config{Reader: reader, CPUThreshold: 70, MinSecondsForAlert: 2, Now: clock})
	ctx := context.Background()

	sampleAt := func(cpu float64) Sample {
		reader.ticks[100] += uint64(cpu) // 1s elapsed per call, so tickDiff == cpu%
		obs, err := p.Sample(ctx)
		require.NoError(t, err)
		return obs.(Observation).Processes[100]
	}

	// t=0: first observation, cpu baseline only.
	sampleAt(0)

	// t=1: cpu=80, first_exceed set at t=1, duration=0 -> no alert.
	s1 := sampleAt(80)
	assert.Zero(t, s1.CPUExceededSeconds)
	assert.Empty(t, p.Classify(s1))

	// t=2: cpu=85, duration=1 -> still no alert.
	s2 := sampleAt(85)
	assert.Equal(t, 1.0, s2.CPUExceededSeconds)
	assert.Empty(t, p.Classify(s2))

	// t=3: cpu=90, duration=2 -> alert fires.
	s3 := sampleAt(90)
	assert.Equal(t, 2.0, s3.CPUExceededSeconds)
	assert.Len(t, p.Classify(s3), 1)

	// t=4: cpu=50 (sub-threshold) -> resets.
	s4 := sampleAt(50)
	assert.Zero(t, s4.CPUExceededSeconds)
	assert.Empty(t, p.Classify(s4))

	// t=5: cpu=80, first_exceed reset at t=5, duration=0 -> no alert.
	s5 := sampleAt(80)
	assert.Zero(t, s5.CPUExceededSeconds)
	assert.Empty(t, p.Classify(s5))

	// t=6: cpu=80, duration=1 -> still no alert.
	s6 := sampleAt(80)
	assert.Equal(t, 1.0, s6.CPUExceededSeconds)
	assert.Empty(t, p.Classify(s6))

	// t=7: cpu=80, sustained since t=5, duration=2 -> alert fires.
	s7 := sampleAt(80)
	assert.Equal(t, 2.0, s7.CPUExceededSeconds)
	assert.Len(t, p.Classify(s7), 1)
}

func TestStalePIDsArePurged(t *testing.T) {
	reader := newFakeReader()
	reader.pids = []int{100, 200}
	reader.ticks[100] = 10
	reader.ticks[200] = 10

	p := New(Config{Reader: reader, Now: clockAt(time.Unix(0, 0))})
	ctx := context.Background()

	_, err := p.Sample(ctx)
	require.NoError(t, err)
	assert.Len(t, p.history, 2)

	reader.pids = []int{100}
	_, err = p.Sample(ctx)
	require.NoError(t, err)
	assert.Len(t, p.history, 1)
	_, stillTracked := p.history[200]
	assert.False(t, stillTracked)
}

func TestSampleSkipsPIDsThatExitMidScan(t *testing.T) {
	reader := newFakeReader()
	reader.pids = []int{100, 200}
	reader.fail[200] = true

	p := New(Config{Reader: reader, Now: clockAt(time.Unix(0, 0))})
	obs, err := p.Sample(context.Background())
	require.NoError(t, err)

	procs := obs.(Observation).Processes
	_, ok := procs[200]
	assert.False(t, ok)
	_, ok = procs[100]
	assert.True(t, ok)
}
