package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dhegstad/AdsX-sub003/internal/alert"
	"github.com/dhegstad/AdsX-sub003/internal/cleanup"
	"github.com/dhegstad/AdsX-sub003/internal/consumer"
	"github.com/dhegstad/AdsX-sub003/internal/httpserver"
	"github.com/dhegstad/AdsX-sub003/internal/obs"
	"github.com/dhegstad/AdsX-sub003/internal/queue"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCommand(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, with RUN_WORKERS, the consumer and background workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), *envFile)
		},
	}
}

func serve(ctx context.Context, envFile string) error {
	rt, err := bootstrap(ctx, envFile, false)
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg, log := rt.cfg, rt.log

	stats := obs.New()

	nsqPub, err := queue.NewNSQPublisher(cfg.NSQDAddress, log)
	if err != nil {
		return err
	}
	defer nsqPub.Stop()
	publisher := queue.WithMetrics(nsqPub, stats)

	digests, closeDigests, err := rt.digestStore(ctx)
	if err != nil {
		return err
	}
	defer closeDigests()

	matcher := alert.Matcher{EqualsEpsilon: cfg.BudgetEqualsEpsilon}
	var digestWorker *alert.DigestWorker
	if rt.db != nil {
		digestWorker = alert.NewDigestWorker(rt.db, digests, log, stats)
		digestWorker.Interval = cfg.DigestTick
	}

	srv := httpserver.New(cfg, httpserver.Deps{
		Publisher:    publisher,
		DB:           rt.db,
		Digests:      digests,
		DigestWorker: digestWorker,
		Matcher:      matcher,
		Stats:        stats,
		Logger:       log,
	})

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	var wg sync.WaitGroup
	goRun := func(name string, run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("worker stopped", zap.String("worker", name), zap.Error(err))
			}
		}()
	}

	poller := &obs.DepthPoller{
		Stats:    stats,
		Logger:   log.Named("nsq.depth"),
		Addr:     cfg.NSQDHTTPAddress,
		Topic:    cfg.NSQChangeTopic,
		Interval: 15 * time.Second,
	}
	goRun("nsq-depth", func(ctx context.Context) error { poller.Run(ctx); return nil })

	var changeConsumer *consumer.NSQConsumer
	if cfg.RunWorkers {
		engine := alert.NewEngine(rt.db, digests, log, stats)
		engine.Matcher = matcher

		changeHandler := consumer.NewChangeHandler(cfg, rt.db, engine, log, stats)
		changeConsumer, err = consumer.NewNSQChangeConsumer(ctx, cfg, changeHandler, log)
		if err != nil {
			changeHandler.Close()
			return err
		}

		deliveries := alert.NewWorker(rt.db, cfg, log, stats)
		goRun("delivery", deliveries.Run)
		goRun("digest", digestWorker.Run)

		janitor := cleanup.NewWorker(rt.db, cfg.ChangeRetentionDays, cfg.DeliveryRetentionDays, log, stats)
		janitor.Interval = cfg.CleanupInterval
		goRun("cleanup", func(ctx context.Context) error { janitor.Run(ctx); return nil })

		log.Info("workers enabled",
			zap.String("topic", cfg.NSQChangeTopic),
			zap.String("channel", cfg.NSQChangeChannel))
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("http listening", zap.String("addr", cfg.HTTPAddr))

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	// Stop also flushes the handler's pending batch.
	changeConsumer.Stop()
	cancelWorkers()
	wg.Wait()
	return serveErr
}
