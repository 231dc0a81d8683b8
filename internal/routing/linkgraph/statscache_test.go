package linkgraph

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStatsProvider struct {
	calls   int32
	delay   time.Duration
	err     error
	stats   Stats
	onCall  func()
}

func (f *fakeStatsProvider) Stats(ctx context.Context) (Stats, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.onCall != nil {
		f.onCall()
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Stats{}, ctx.Err()
		}
	}
	if f.err != nil {
		return Stats{}, f.err
	}
	return f.stats, nil
}

func TestStatsCache_Get_ProbeSuccessCachesResult(t *testing.T) {
	backend := &fakeStatsProvider{stats: Stats{TotalNotes: 10}}
	c := NewStatsCache(time.Minute, time.Second, time.Second)

	stats, meta := c.Get(context.Background(), backend, Stats{})
	assert.Equal(t, 10, stats.TotalNotes)
	assert.Equal(t, "probe", meta.Source)
	assert.True(t, meta.Fresh)

	stats, meta = c.Get(context.Background(), backend, Stats{})
	assert.Equal(t, 10, stats.TotalNotes)
	assert.Equal(t, "cache", meta.Source)
	assert.True(t, meta.CacheHit)
	assert.EqualValues(t, 1, atomic.LoadInt32(&backend.calls))
}

func TestStatsCache_Get_CacheExpiresAfterTTL(t *testing.T) {
	backend := &fakeStatsProvider{stats: Stats{TotalNotes: 1}}
	c := NewStatsCache(10*time.Millisecond, time.Second, time.Second)

	_, _ = c.Get(context.Background(), backend, Stats{})
	time.Sleep(25 * time.Millisecond)
	_, meta := c.Get(context.Background(), backend, Stats{})
	assert.Equal(t, "probe", meta.Source)
	assert.EqualValues(t, 2, atomic.LoadInt32(&backend.calls))
}

func TestStatsCache_Get_ProbeTimeoutFallsBackToStaleCache(t *testing.T) {
	backend := &fakeStatsProvider{stats: Stats{TotalNotes: 5}}
	c := NewStatsCache(time.Nanosecond, time.Second, time.Second)

	_, _ = c.Get(context.Background(), backend, Stats{})
	time.Sleep(time.Millisecond)

	backend.delay = 50 * time.Millisecond
	slow := NewStatsCache(time.Nanosecond, 5*time.Millisecond, time.Second)
	slow.store(Stats{TotalNotes: 5}, time.Now().Add(-time.Hour))

	stats, meta := slow.Get(context.Background(), backend, Stats{TotalNotes: -1})
	assert.Equal(t, 5, stats.TotalNotes)
	assert.Equal(t, "cache_stale", meta.Source)
	assert.False(t, meta.Fresh)
	assert.True(t, meta.RefreshScheduled)
}

func TestStatsCache_Get_ProbeFailureNoDataUsesFallback(t *testing.T) {
	backend := &fakeStatsProvider{err: errors.New("boom")}
	c := NewStatsCache(time.Minute, time.Second, time.Second)

	fallback := Stats{TotalNotes: -1}
	stats, meta := c.Get(context.Background(), backend, fallback)
	assert.Equal(t, fallback, stats)
	assert.Equal(t, "fallback", meta.Source)
	assert.True(t, meta.RefreshScheduled)
}

func TestStatsCache_ScheduleRefresh_DedupsConcurrentCallersNonBlocking(t *testing.T) {
	release := make(chan struct{})
	backend := &fakeStatsProvider{stats: Stats{TotalNotes: 3}, onCall: func() {
		<-release
	}}
	c := NewStatsCache(time.Nanosecond, time.Millisecond, time.Minute)
	c.store(Stats{TotalNotes: 3}, time.Now().Add(-time.Hour))

	// First probe attempt will also fail fast (probeTimeout tiny, backend
	// blocks on release), triggering a background refresh. A second
	// concurrent Get should join the same in-flight refresh rather than
	// launching its own, and neither call should block on the refresh.
	start := time.Now()
	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			c.Get(context.Background(), backend, Stats{})
			done <- struct{}{}
		}()
	}
	<-done
	<-done
	elapsed := time.Since(start)
	assert.Less(t, elapsed, 200*time.Millisecond, "Get calls must not block on background refresh")

	close(release)
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&backend.calls) >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestStatsCache_Clear_DropsCachedEntry(t *testing.T) {
	backend := &fakeStatsProvider{stats: Stats{TotalNotes: 7}}
	c := NewStatsCache(time.Minute, time.Second, time.Second)

	_, _ = c.Get(context.Background(), backend, Stats{})
	c.Clear()
	_, meta := c.Get(context.Background(), backend, Stats{})
	assert.Equal(t, "probe", meta.Source)
	assert.EqualValues(t, 2, atomic.LoadInt32(&backend.calls))
}

func TestAgeMS_NeverNegative(t *testing.T) {
	now := time.Now()
	assert.Equal(t, 0, ageMS(now.Add(time.Second), now))
	assert.Greater(t, ageMS(now.Add(-time.Second), now), 0)
}
