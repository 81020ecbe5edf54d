package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/mail"
	"github.com/MrEthical07/goIdentity/store/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

type loadtestFlags struct {
	sessions    int
	users       int
	concurrency int
	ops         int
	redisAddr   string
}

func newLoadtestCmd() *cobra.Command {
	f := loadtestFlags{}

	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Measure session validate and logout-everywhere latency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.sessions <= 0 || f.users <= 0 || f.concurrency <= 0 || f.ops <= 0 {
				return errors.New("sessions, users, concurrency and ops must be > 0")
			}
			return runLoadtest(cmd.Context(), cmd.OutOrStdout(), f)
		},
	}
	cmd.Flags().IntVar(&f.sessions, "sessions", 10000, "number of sessions to seed")
	cmd.Flags().IntVar(&f.users, "users", 1000, "users the sessions are spread over")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 64, "number of concurrent workers")
	cmd.Flags().IntVar(&f.ops, "ops", 50000, "validate operations")
	cmd.Flags().StringVar(&f.redisAddr, "redis-addr", "", "redis address; miniredis when empty")
	return cmd
}

type seeded struct {
	sessionID string
	userID    string
}

func runLoadtest(ctx context.Context, out io.Writer, f loadtestFlags) error {
	addr := f.redisAddr
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Fprintf(out, "using miniredis at %s\n", addr)
	} else {
		fmt.Fprintf(out, "using redis at %s\n", addr)
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, PoolSize: f.concurrency})
	defer rdb.Close()

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := goIdentity.DefaultConfig()
	cfg.Session.RedisPrefix = "loadtest"
	engine, err := goIdentity.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(memory.New()).
		WithMailer(mail.NewLogMailer(quiet)).
		WithLogger(quiet).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	fmt.Fprintf(out, "seeding %d sessions over %d users...\n", f.sessions, f.users)
	startSeed := time.Now()
	states := make([]seeded, f.sessions)
	for i := range states {
		userID := fmt.Sprintf("user-%d", i%f.users)
		info, err := engine.CreateSession(ctx, userID, goIdentity.RoleSalesAgent)
		if err != nil {
			return fmt.Errorf("seed session: %w", err)
		}
		states[i] = seeded{sessionID: info.SessionID, userID: userID}
	}
	fmt.Fprintf(out, "seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	validateStats := runValidatePhase(ctx, engine, states, f.ops, f.concurrency)
	destroyStats, stale := runDestroyAllPhase(ctx, engine, states, f.users, f.concurrency)

	fmt.Fprintln(out, "---- results ----")
	printStats(out, "validate", validateStats)
	printStats(out, "destroy-all", destroyStats)
	fmt.Fprintf(out, "sessions still valid after logout-everywhere: %d\n", stale)
	if stale > 0 {
		return fmt.Errorf("%d sessions survived DestroyAllForUser", stale)
	}
	return nil
}

func runValidatePhase(ctx context.Context, engine *goIdentity.Engine, states []seeded, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				idx := r.Intn(len(states))
				t0 := time.Now()
				_, err := engine.ValidateSession(ctx, states[idx].sessionID)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

// runDestroyAllPhase logs every user out everywhere and then checks that
// none of their sessions still validates.
func runDestroyAllPhase(ctx context.Context, engine *goIdentity.Engine, states []seeded, users, concurrency int) (phaseStats, int64) {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, users)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= users {
					return
				}
				t0 := time.Now()
				_, err := engine.DestroyAllForUser(ctx, fmt.Sprintf("user-%d", i))
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	stats := computeStats(time.Since(start), latencies, failures)

	var stale int64
	for _, s := range states {
		if _, err := engine.ValidateSession(ctx, s.sessionID); err == nil {
			stale++
		}
	}
	return stats, stale
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
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
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(out io.Writer, name string, s phaseStats) {
	fmt.Fprintf(out, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
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
