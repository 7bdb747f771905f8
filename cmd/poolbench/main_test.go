package main

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/pocketpool/config"
	"github.com/coachpo/pocketpool/internal/pool"
)

func TestParseFlagsAndOverrides(t *testing.T) {
	flags, err := parseFlags([]string{"-config", "x.yaml", "-duration", "2s", "-workers", "3", "-rate", "50", "-metrics-addr", ":9100"}, io.Discard)
	require.NoError(t, err)
	require.Equal(t, "x.yaml", flags.configPath)

	bench := applyOverrides(config.BenchSettings{Workers: 8, Duration: time.Minute, HoldTime: time.Millisecond}, flags)
	require.Equal(t, 3, bench.Workers)
	require.Equal(t, 2*time.Second, bench.Duration)
	require.Equal(t, 50.0, bench.Rate)
	require.Equal(t, ":9100", bench.MetricsAddr)
	require.Equal(t, time.Millisecond, bench.HoldTime)

	untouched := applyOverrides(config.BenchSettings{Workers: 8}, cliFlags{})
	require.Equal(t, 8, untouched.Workers)

	_, err = parseFlags([]string{"-workers", "many"}, io.Discard)
	require.Error(t, err)
}

func TestResolveConfigPathDefaults(t *testing.T) {
	require.Equal(t, "config/pools.yaml", resolveConfigPath(""))
	require.Equal(t, "custom.yaml", resolveConfigPath("custom.yaml"))
}

func TestBuildPoolManagerHonoursBackend(t *testing.T) {
	manager, pools, err := buildPoolManager([]config.PoolSettings{
		{Name: "queue", Capacity: 4, Backend: config.BackendQueue, ItemSize: 8},
		{Name: "channel", Capacity: 2, Backend: config.BackendChannel, ItemSize: 8},
	})
	require.NoError(t, err)
	require.Len(t, pools, 2)
	t.Cleanup(func() { _ = manager.Shutdown(context.Background()) })

	ch, err := pool.Get[item](manager, "channel")
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		ch.Give(ch.Generate())
	}
	require.Equal(t, 2, ch.Count())

	it := ch.Take()
	require.Equal(t, 8, cap(it.data))
	require.Empty(t, it.data)
}

func TestBuildPoolManagerRejectsDuplicates(t *testing.T) {
	_, _, err := buildPoolManager([]config.PoolSettings{
		{Name: "a", Capacity: 1, Backend: config.BackendQueue},
		{Name: "a", Capacity: 1, Backend: config.BackendQueue},
	})
	require.Error(t, err)
}

func TestChurnReturnsRecycledItem(t *testing.T) {
	p, err := newItemPool(config.PoolSettings{Name: "churn", Capacity: 2, Backend: config.BackendQueue, ItemSize: 4})
	require.NoError(t, err)

	require.NoError(t, churn(context.Background(), p, 0))
	require.Equal(t, 1, p.Count())

	it := p.Take()
	require.Equal(t, 1, it.uses)
	require.Empty(t, it.data)
}

func TestRunLoadChurnsEveryPool(t *testing.T) {
	_, pools, err := buildPoolManager([]config.PoolSettings{
		{Name: "a", Capacity: 4, Backend: config.BackendQueue, ItemSize: 16},
		{Name: "b", Capacity: 4, Backend: config.BackendChannel, ItemSize: 16},
	})
	require.NoError(t, err)

	logger := log.New(io.Discard, "", 0)
	counts, err := runLoad(context.Background(), logger, config.BenchSettings{
		Workers:  4,
		Duration: 50 * time.Millisecond,
		Rate:     2000,
	}, pools)
	require.NoError(t, err)
	require.Positive(t, counts.Completed)
	require.Zero(t, counts.Failed)
	require.Zero(t, counts.Panicked)

	for _, p := range pools {
		s := p.Stats()
		require.Positive(t, s.Hits+s.Misses, s.Name)
		require.LessOrEqual(t, s.Count, s.Capacity)
	}
}

func TestRunLoadStopsOnCancel(t *testing.T) {
	_, pools, err := buildPoolManager([]config.PoolSettings{{Name: "a", Capacity: 2, Backend: config.BackendQueue}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = runLoad(ctx, log.New(io.Discard, "", 0), config.BenchSettings{Workers: 2}, pools)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runLoad did not stop after cancel")
	}
}

func TestRunLoadWithoutPoolsFails(t *testing.T) {
	_, err := runLoad(context.Background(), log.New(io.Discard, "", 0), config.BenchSettings{Workers: 1}, nil)
	require.Error(t, err)
}

func TestMetricsServerExposesPools(t *testing.T) {
	manager, _, err := buildPoolManager([]config.PoolSettings{{Name: "frames", Capacity: 2, Backend: config.BackendQueue}})
	require.NoError(t, err)

	server := buildMetricsServer(":0", manager)
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), `pocketpool_capacity{pool="frames"`)
}

func TestGracefulShutdownDisposesPools(t *testing.T) {
	manager, pools, err := buildPoolManager([]config.PoolSettings{{Name: "a", Capacity: 2, Backend: config.BackendQueue}})
	require.NoError(t, err)
	pools[0].Give(pools[0].Generate())

	var out bytes.Buffer
	logger := log.New(&out, "", 0)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, performGracefulShutdown(context.Background(), logger, gracefulShutdownConfig{
		mainCancel: cancel,
		poolMgr:    manager,
	}))

	require.Error(t, ctx.Err())
	require.True(t, pools[0].Disposed())
	require.Zero(t, pools[0].Count())
	require.Contains(t, out.String(), "shutdown: shutting down pool manager completed")
}

func TestServeMetricsStopsOnCancelWhenBindFails(t *testing.T) {
	manager, _, err := buildPoolManager([]config.PoolSettings{{Name: "a", Capacity: 1, Backend: config.BackendQueue}})
	require.NoError(t, err)

	var out bytes.Buffer
	server := buildMetricsServer("invalid-address", manager)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		serveMetrics(ctx, log.New(&out, "", 0), server)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("serveMetrics did not stop after cancel")
	}
}
