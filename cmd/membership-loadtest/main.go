// Command membership-loadtest drives the session store with concurrent
// readers and exclusive lock handoffs, then checks that no locked write was
// lost.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	goMembership "github.com/MrEthical07/goMembership"
	"github.com/MrEthical07/goMembership/repository/memory"
)

const counterKey = "n"

func main() {
	var (
		sessions    = flag.Int("sessions", 10000, "number of sessions to seed")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase (read + handoff)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "gm-load", "session key prefix")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := goMembership.DefaultConfig()
	cfg.Membership.ApplicationName = "loadtest"
	cfg.SessionState.RedisPrefix = *prefix
	cfg.SessionState.Timeout = time.Hour

	engine, err := goMembership.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserRepository(memory.NewUsers()).
		WithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	ids := make([]string, *sessions)
	fmt.Printf("seeding %d sessions...\n", *sessions)
	startSeed := time.Now()
	for i := range ids {
		ids[i] = fmt.Sprintf("load-%d", i)
		items := map[string]string{counterKey: "0"}
		if err := engine.SetAndReleaseExclusive(ctx, ids[i], items, 0, true); err != nil {
			fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	readStats := runReadPhase(ctx, engine, ids, *ops, *concurrency)
	handoffStats, written := runHandoffPhase(ctx, engine, ids, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("read", readStats)
	printStats("handoff", handoffStats)
	fmt.Printf("handoff: contended=%d\n", handoffStats.contended)

	if err := verifyCounters(ctx, engine, ids, written); err != nil {
		fmt.Fprintf(os.Stderr, "integrity check failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("integrity: ok")
}

func runReadPhase(ctx context.Context, engine *goMembership.Engine, ids []string, ops, concurrency int) phaseStats {
	return runPhase(ops, concurrency, 7919, func(r *rand.Rand, _ int) (bool, error) {
		_, err := engine.Get(ctx, ids[r.Intn(len(ids))], false)
		return false, err
	})
}

// runHandoffPhase takes the exclusive lock on a random session, increments
// its counter and releases it with the write. written counts successful
// writes per session.
func runHandoffPhase(ctx context.Context, engine *goMembership.Engine, ids []string, ops, concurrency int) (phaseStats, []int64) {
	written := make([]int64, len(ids))
	stats := runPhase(ops, concurrency, 6151, func(r *rand.Rand, _ int) (bool, error) {
		idx := r.Intn(len(ids))
		item, err := engine.Get(ctx, ids[idx], true)
		if errors.Is(err, goMembership.ErrLockConflict) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		if item.Locked {
			return true, nil
		}

		n, err := strconv.Atoi(item.Items[counterKey])
		if err != nil {
			return false, err
		}
		item.Items[counterKey] = strconv.Itoa(n + 1)
		if err := engine.SetAndReleaseExclusive(ctx, ids[idx], item.Items, item.LockID, false); err != nil {
			return false, err
		}
		atomic.AddInt64(&written[idx], 1)
		return false, nil
	})
	return stats, written
}

func verifyCounters(ctx context.Context, engine *goMembership.Engine, ids []string, written []int64) error {
	for i, id := range ids {
		item, err := engine.Get(ctx, id, false)
		if err != nil {
			return err
		}
		n, err := strconv.Atoi(item.Items[counterKey])
		if err != nil {
			return err
		}
		if int64(n) != written[i] {
			return fmt.Errorf("session %s: counter %d, expected %d", id, n, written[i])
		}
	}
	return nil
}

type phaseStats struct {
	total     time.Duration
	ops       int
	failures  int64
	contended int64
	p50       time.Duration
	p95       time.Duration
	p99       time.Duration
	opsPerS   float64
}

// runPhase spreads ops calls of op over concurrency workers. op reports
// whether the call hit a held lock.
func runPhase(ops, concurrency int, seed int64, op func(r *rand.Rand, i int) (bool, error)) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		contended int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				busy, err := op(r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				if busy {
					atomic.AddInt64(&contended, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	stats := computeStats(time.Since(start), latencies, failures)
	stats.contended = contended
	return stats
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	slices.Sort(samples)
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
