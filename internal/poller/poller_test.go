package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/cache"
)

func newStore(t *testing.T, calls *atomic.Int32, fail *atomic.Bool) *cache.Store {
	t.Helper()
	s := cache.New()
	t.Cleanup(s.Close)
	fetch := func(ctx context.Context, key cache.Key) (any, error) {
		calls.Add(1)
		if fail != nil && fail.Load() {
			return nil, errors.New("backend down")
		}
		return key.String(), nil
	}
	s.Register(cache.Clusters, fetch)
	s.Register(cache.Anomalies, fetch)
	return s
}

func TestPollSkipsFreshKeys(t *testing.T) {
	var calls atomic.Int32
	store := newStore(t, &calls, nil)
	p := New(store, time.Hour, cache.ClustersKey(), cache.AnomaliesKey("Open"))

	first := p.Poll(context.Background())
	if first.Refreshed != 2 || first.Skipped != 0 {
		t.Errorf("first pass should refresh both keys, got %+v", first)
	}

	second := p.Poll(context.Background())
	if second.Refreshed != 0 || second.Skipped != 2 {
		t.Errorf("fresh keys should be skipped, got %+v", second)
	}

	store.Invalidate(cache.ClustersKey())
	third := p.Poll(context.Background())
	if third.Refreshed != 1 || third.Skipped != 1 {
		t.Errorf("only the invalidated key should refresh, got %+v", third)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 fetches, got %d", calls.Load())
	}
}

func TestPollCountsFailures(t *testing.T) {
	var calls atomic.Int32
	var fail atomic.Bool
	fail.Store(true)
	store := newStore(t, &calls, &fail)
	p := New(store, time.Hour, cache.ClustersKey())

	if c := p.Poll(context.Background()); c.Failed != 1 {
		t.Errorf("expected 1 failure, got %+v", c)
	}
	fail.Store(false)
	if c := p.Poll(context.Background()); c.Refreshed != 1 {
		t.Errorf("failed key should be retried on the next pass, got %+v", c)
	}
}

func TestRunPollsImmediatelyAndStops(t *testing.T) {
	var calls atomic.Int32
	store := newStore(t, &calls, nil)
	p := New(store, 20*time.Millisecond, cache.ClustersKey())

	var cycles atomic.Int32
	p.OnCycle(func(Cycle) {
		cycles.Add(1)
		store.Invalidate(cache.ClustersKey())
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(110 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop after cancel")
	}
	if cycles.Load() < 2 {
		t.Errorf("expected several cycles, got %d", cycles.Load())
	}
	if calls.Load() < 2 {
		t.Errorf("invalidated key should be refetched each cycle, got %d fetches", calls.Load())
	}
}
