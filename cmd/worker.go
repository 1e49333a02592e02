package main

import (
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/prospector/internal/audit"
	"github.com/sells-group/prospector/internal/engine"
	"github.com/sells-group/prospector/internal/fetch"
	"github.com/sells-group/prospector/internal/optout"
	"github.com/sells-group/prospector/internal/queue"
)

var workerPoolSize int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the enrichment worker pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		q, closeQueue, err := initQueue(ctx)
		if err != nil {
			return err
		}
		defer closeQueue()

		// Dedup shares the queue's Redis when available; otherwise both stay
		// in-process.
		var cache = initDedupCache(nil)
		if rq, ok := q.(*queue.RedisQueue); ok {
			client, redisErr := initRedis(ctx)
			if redisErr != nil {
				return redisErr
			}
			defer client.Close() //nolint:errcheck
			cache = initDedupCache(client)

			// Recover candidates stranded by a previous crash.
			moved, requeueErr := rq.Requeue(ctx)
			if requeueErr != nil {
				return eris.Wrap(requeueErr, "requeue stranded candidates")
			}
			if moved > 0 {
				zap.L().Info("requeued stranded candidates", zap.Int("count", moved))
			}
		}

		fetcher := fetch.New(fetch.Options{
			UserAgent:    cfg.Fetch.UserAgent,
			MaxAttempts:  cfg.Fetch.MaxAttempts,
			Deadline:     cfg.Fetch.Deadline(),
			MaxPages:     cfg.Fetch.MaxPages,
			PerHostRate:  rate.Limit(cfg.Fetch.PerHostRate),
			PerHostBurst: cfg.Fetch.PerHostBurst,
		})

		poolSize := workerPoolSize
		if poolSize == 0 {
			poolSize = cfg.Worker.PoolSize
		}

		eng := engine.New(
			engine.Config{
				Workers:      poolSize,
				TaskDeadline: cfg.Worker.TaskDeadline(),
				DedupWindow:  cfg.Dedup.Window(),
			},
			q, cache, optout.NewGate(st), fetcher, st,
			audit.NewEmitter(st), engine.NewMetrics(),
		)

		// Metrics endpoint.
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			zap.L().Info("metrics listening", zap.Int("port", cfg.Server.MetricsPort))
			if srvErr := srv.ListenAndServe(); srvErr != nil && srvErr != http.ErrServerClosed {
				zap.L().Error("metrics server", zap.Error(srvErr))
			}
		}()
		defer srv.Close() //nolint:errcheck

		zap.L().Info("worker starting", zap.Int("pool_size", poolSize))
		return eng.Run(ctx)
	},
}

func init() {
	workerCmd.Flags().IntVar(&workerPoolSize, "pool-size", 0, "worker pool size (overrides config)")
	rootCmd.AddCommand(workerCmd)
}
