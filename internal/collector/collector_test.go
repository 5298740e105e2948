package collector

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-checker/internal/checking"
	"github.com/agent-checker/internal/parser"
	"github.com/agent-checker/internal/plugins"
	"github.com/agent-checker/internal/submit"
)

type fakeCollector struct {
	name     string
	collects atomic.Int32
	closed   atomic.Bool
	err      error
	inflight *atomic.Int32
	peak     *atomic.Int32
	delay    time.Duration
}

func (f *fakeCollector) Name() string { return f.name }
func (f *fakeCollector) Init() error  { return nil }
func (f *fakeCollector) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeCollector) Collect(ctx context.Context) error {
	f.collects.Add(1)
	if f.inflight != nil {
		n := f.inflight.Add(1)
		for {
			p := f.peak.Load()
			if n <= p || f.peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(f.delay)
		f.inflight.Add(-1)
	}
	return f.err
}

func TestRegisterIgnoresDuplicates(t *testing.T) {
	r := NewRegistry(time.Minute, 2)
	r.Register(&fakeCollector{name: "web01"})
	r.Register(&fakeCollector{name: "web01"})
	r.Register(&fakeCollector{name: "db01"})
	assert.Len(t, r.GetRegisteredCollectors(), 2)

	_, ok := r.Lookup("db01")
	assert.True(t, ok)
	_, ok = r.Lookup("nope")
	assert.False(t, ok)
}

func TestCollectAllBoundedAndCollectsErrors(t *testing.T) {
	var inflight, peak atomic.Int32
	r := NewRegistry(time.Minute, 2)
	all := make([]*fakeCollector, 0, 6)
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		c := &fakeCollector{name: name, inflight: &inflight, peak: &peak, delay: 20 * time.Millisecond}
		if name == "c" {
			c.err = errors.New("boom")
		}
		all = append(all, c)
		r.Register(c)
	}

	err := r.CollectAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "c: boom")
	for _, c := range all {
		assert.EqualValues(t, 1, c.collects.Load(), c.name)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestStartRunsImmediatelyAndShutdownCloses(t *testing.T) {
	r := NewRegistry(time.Hour, 1)
	c := &fakeCollector{name: "web01"}
	r.Register(c)

	r.Start(context.Background())
	assert.Eventually(t, func() bool { return c.collects.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, r.Shutdown(context.Background()))
	assert.True(t, c.closed.Load())
}

func TestTrigger(t *testing.T) {
	r := NewRegistry(time.Hour, 1)
	c := &fakeCollector{name: "web01"}
	r.Register(c)

	assert.False(t, r.Trigger(context.Background(), "unknown"))
	assert.True(t, r.Trigger(context.Background(), "web01"))
	require.NoError(t, r.Shutdown(context.Background()))
	assert.EqualValues(t, 1, c.collects.Load())
}

type fakeChecker struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func (f *fakeChecker) Check(ctx context.Context, host string) (*checking.HostResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.release != nil {
		<-f.release
	}
	return &checking.HostResult{Host: host, State: plugins.OK, Services: []submit.Result{
		{Host: host, Service: "Uptime", State: plugins.OK, Text: "up 2 days",
			CacheInfo: &parser.CacheInfo{CachedAt: 1700000000, Interval: 60}},
		{Host: host, Service: "Memory", State: plugins.Warn, Text: "80% used"},
	}}, nil
}

func TestHostCollectorStoresLastResult(t *testing.T) {
	h := NewHostCollector("web01", &fakeChecker{})
	assert.Nil(t, h.Last())
	require.NoError(t, h.Collect(context.Background()))
	require.NotNil(t, h.Last())
	assert.Equal(t, "web01", h.Last().Host)
}

func TestHostCollectorSkipsOverlappingCycles(t *testing.T) {
	checker := &fakeChecker{release: make(chan struct{})}
	h := NewHostCollector("web01", checker)

	done := make(chan struct{})
	go func() {
		_ = h.Collect(context.Background())
		close(done)
	}()
	assert.Eventually(t, func() bool {
		checker.mu.Lock()
		defer checker.mu.Unlock()
		return checker.calls == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.Collect(context.Background()))
	close(checker.release)
	<-done

	checker.mu.Lock()
	defer checker.mu.Unlock()
	assert.Equal(t, 1, checker.calls)
}

func TestHostCollectorStatus(t *testing.T) {
	h := NewHostCollector("web01", &fakeChecker{})
	_, ok := h.Status()
	assert.False(t, ok)

	require.NoError(t, h.Collect(context.Background()))
	st, ok := h.Status()
	require.True(t, ok)
	assert.Equal(t, "OK", st.State)
	assert.Equal(t, "OK - ", st.Output)
	assert.False(t, st.CheckedAt.IsZero())
	require.Len(t, st.Services, 2)
	assert.Equal(t, ServiceStatus{Service: "Uptime", State: "OK", Output: "up 2 days", CachedAt: 1700000000, CacheInterval: 60}, st.Services[0])
	assert.Equal(t, ServiceStatus{Service: "Memory", State: "WARN", Output: "80% used"}, st.Services[1])
}
