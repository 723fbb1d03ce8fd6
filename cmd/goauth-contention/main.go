package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goAuthSync/broadcast"
	"github.com/MrEthical07/goAuthSync/lock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type options struct {
	participants int
	rounds       int
	hold         time.Duration
	wait         time.Duration
	timeout      time.Duration
	redisAddr    string
	name         string
	verbose      bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:           "goauth-contention",
		Short:         "Hammer one session lock from many participants and check exclusion",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.participants, "participants", 16, "number of competing participants")
	f.IntVar(&opts.rounds, "rounds", 50, "critical sections per participant")
	f.DurationVar(&opts.hold, "hold", 2*time.Millisecond, "time spent inside each critical section")
	f.DurationVar(&opts.wait, "wait", 20*time.Millisecond, "claim window")
	f.DurationVar(&opts.timeout, "timeout", -1, "acquire timeout (<0 waits forever)")
	f.StringVar(&opts.redisAddr, "redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	f.StringVar(&opts.name, "lock", "lock:contention", "lock name")
	f.BoolVar(&opts.verbose, "verbose", false, "log protocol transitions")
	return cmd
}

func run(ctx context.Context, opts options) error {
	if opts.participants <= 0 || opts.rounds <= 0 {
		return fmt.Errorf("participants and rounds must be > 0")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	log := zap.NewNop()
	if opts.verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		log = l
		defer func() { _ = log.Sync() }()
	}

	client, cleanup, err := connect(opts.redisAddr)
	if err != nil {
		return err
	}
	defer cleanup()

	opener := broadcast.NewRedis(client, broadcast.DefaultRedisPrefix, log.Named("broadcast"))
	locker := lock.NewDistributed(opener, lock.Options{
		Wait:   opts.wait,
		Logger: log.Named("lock"),
	})

	var (
		wg        sync.WaitGroup
		inside    atomic.Int32
		overlaps  atomic.Int64
		timeouts  atomic.Int64
		failures  atomic.Int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, opts.participants*opts.rounds)
	)

	start := time.Now()
	for p := 0; p < opts.participants; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < opts.rounds; i++ {
				t0 := time.Now()
				err := locker.Acquire(ctx, opts.name, opts.timeout, func(ctx context.Context) error {
					d := time.Since(t0)
					if inside.Add(1) > 1 {
						overlaps.Add(1)
					}
					time.Sleep(opts.hold)
					inside.Add(-1)

					mu.Lock()
					latencies = append(latencies, d)
					mu.Unlock()
					return nil
				})
				switch {
				case err == nil:
				case lock.IsAcquireTimeout(err):
					timeouts.Add(1)
				default:
					failures.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)

	s := computeStats(total, latencies)
	fmt.Println("---- results ----")
	fmt.Printf("acquired=%d timeouts=%d failures=%d overlaps=%d total=%s acq/sec=%.0f\n",
		s.ops, timeouts.Load(), failures.Load(), overlaps.Load(), s.total.Round(time.Millisecond), s.opsPerS)
	fmt.Printf("wait: p50=%s p95=%s p99=%s max=%s\n",
		s.p50.Round(time.Microsecond), s.p95.Round(time.Microsecond), s.p99.Round(time.Microsecond), s.max.Round(time.Microsecond))

	if n := overlaps.Load(); n > 0 {
		return fmt.Errorf("mutual exclusion violated %d times", n)
	}
	return nil
}

func connect(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

type stats struct {
	total   time.Duration
	ops     int
	p50     time.Duration
	p95     time.Duration
	p99     time.Duration
	max     time.Duration
	opsPerS float64
}

func computeStats(total time.Duration, samples []time.Duration) stats {
	if len(samples) == 0 {
		return stats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return stats{
		total:   total,
		ops:     len(samples),
		p50:     percentile(samples, 50),
		p95:     percentile(samples, 95),
		p99:     percentile(samples, 99),
		max:     samples[len(samples)-1],
		opsPerS: float64(len(samples)) / total.Seconds(),
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
