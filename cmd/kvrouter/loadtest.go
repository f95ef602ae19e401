package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	promadapter "github.com/codewandler/kvrouter/adapters/prometheus"
	"github.com/codewandler/kvrouter/core/cluster"
)

type loadtestOptions struct {
	n           int
	batchSize   int
	concurrency int
	keys        int
	metricsAddr string
}

func newLoadtestCmd(a *app) *cobra.Command {
	var o loadtestOptions
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Write N keys through the router and report throughput",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLoadtest(cmd, a, o)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&o.n, "requests", "n", 50_000, "number of requests")
	f.IntVarP(&o.batchSize, "batch", "b", 1_000, "progress line every b requests")
	f.IntVar(&o.concurrency, "concurrency", 8, "concurrent workers")
	f.IntVar(&o.keys, "keys", 10_000, "size of the key space")
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus /metrics on this address (default from config)")
	return cmd
}

func runLoadtest(cmd *cobra.Command, a *app, o loadtestOptions) error {
	if o.n <= 0 || o.keys <= 0 || o.concurrency <= 0 {
		return fmt.Errorf("requests, keys and concurrency must be positive")
	}
	if o.batchSize <= 0 {
		o.batchSize = o.n
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	reg := prometheus.NewRegistry()
	r, cfg, err := a.connect(ctx, promadapter.NewRouterMetrics(reg))
	if err != nil {
		return err
	}
	sr := cluster.NewSyncRouter(r)
	defer func() { _ = sr.Close() }()

	addr := o.metricsAddr
	if addr == "" {
		addr = cfg.Metrics.Addr
	}
	if addr != "" {
		stop := serveMetrics(addr, reg)
		defer stop()
		fmt.Fprintf(out, "metrics: http://%s/metrics\n", addr)
	}

	fmt.Fprintf(out, "driver: %s, regions: %d, requests: %d, workers: %d\n",
		cfg.Driver, sr.NumRegions(), o.n, o.concurrency)

	var (
		startAt  = time.Now()
		lastTime = startAt
		progress = make(chan bool, o.concurrency)
		failures int
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(o.concurrency + 1)
	eg.Go(func() error {
		for done := 1; done <= o.n; done++ {
			select {
			case <-egCtx.Done():
				return nil
			case ok := <-progress:
				if !ok {
					failures++
				}
			}
			if done%o.batchSize == 0 {
				mu := getMemUsage()
				n := time.Now()
				took := n.Sub(lastTime)
				fmt.Fprintf(out, " | %6d requests | %6d ms | %7d req/s | (%d / %d) MiB mem (sys) |\n",
					o.batchSize, took.Milliseconds(), int(float64(o.batchSize)/took.Seconds()), mu.Alloc/1024/1024, mu.Sys/1024/1024)
				lastTime = n
			}
		}
		return nil
	})

	for i := 0; i < o.n; i++ {
		key := fmt.Sprintf("load:%d", i%o.keys)
		eg.Go(func() error {
			_, err := sr.Request(egCtx, cluster.Command{"set", key, "v"})
			if err != nil && egCtx.Err() != nil {
				return egCtx.Err()
			}
			select {
			case progress <- err == nil:
			case <-egCtx.Done():
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	took := time.Since(startAt)
	runtime.GC()
	fmt.Fprintln(out, "==========================================")
	fmt.Fprintf(out, "total runtime: %.3f seconds\n", took.Seconds())
	fmt.Fprintf(out, "     failures: %d\n", failures)
	fmt.Fprintf(out, "  avg. req/s: %d\n", int(float64(o.n)/took.Seconds()))
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server", slog.Any("error", err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

type MemUsage struct {
	Alloc uint64 // bytes allocated and not yet freed (heap)
	Sys   uint64 // total bytes obtained from OS
}

func getMemUsage() MemUsage {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemUsage{Alloc: m.Alloc, Sys: m.Sys}
}
