package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	daemon "github.com/sevlyar/go-daemon"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	later "github.com/jdziat/simple-delayed-requests"
	"github.com/jdziat/simple-delayed-requests/pkg/api"
	"github.com/jdziat/simple-delayed-requests/pkg/metrics"
	"github.com/jdziat/simple-delayed-requests/pkg/worker"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	httpAddr   string
	daemonMode bool
	pidFile    string
	logFile    string
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:          "serve",
		Short:        "Deliver due requests and optionally serve the HTTP API",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.daemonMode {
				cntxt := &daemon.Context{
					PidFileName: opts.pidFile,
					PidFilePerm: 0644,
					LogFileName: opts.logFile,
					LogFilePerm: 0640,
					Umask:       027,
				}
				child, err := cntxt.Reborn()
				if err != nil {
					return fmt.Errorf("daemonize: %w", err)
				}
				if child != nil {
					return nil
				}
				defer cntxt.Release()
			}
			return runServe(cmd, root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.httpAddr, "http", "", "serve the JSON API and /metrics on this address")
	cmd.Flags().BoolVar(&opts.daemonMode, "daemon", false, "run in background")
	cmd.Flags().StringVar(&opts.pidFile, "pid-file", "later.pid", "pid file used with --daemon")
	cmd.Flags().StringVar(&opts.logFile, "log-file", "later.log", "log file used with --daemon")
	return cmd
}

func runServe(cmd *cobra.Command, root *rootOptions, opts *serveOptions) error {
	cfg, logger, err := loadConfig(root, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if opts.httpAddr != "" {
		cfg.HTTP.Addr = opts.httpAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := later.OpenStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := metrics.New(reg)
	if err != nil {
		return err
	}

	sched := later.New(store,
		later.WithLogger(logger),
		later.WithDispatchTimeout(cfg.Dispatch.Timeout),
		later.WithMaxAllocationAttempts(cfg.MaxAllocationAttempts),
		later.WithRecordGrace(cfg.RecordGrace),
		later.WithEventHandler(collector.Observe),
	)
	w := sched.NewWorker(
		worker.Concurrency(cfg.Worker.Concurrency),
		worker.PollInterval(cfg.Worker.PollInterval),
		worker.Lease(cfg.Worker.Lease),
		worker.MaxDeliveries(cfg.Worker.MaxDeliveries),
		worker.SweepSchedule(cfg.Worker.SweepSchedule),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := w.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if cfg.HTTP.Addr != "" {
		srv := &http.Server{
			Addr: cfg.HTTP.Addr,
			Handler: api.Handler(sched,
				api.WithLogger(logger),
				api.WithDefaultQueue(cfg.Queue),
				api.WithMetrics(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
			),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("http api listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logger.Info("worker started", "worker_id", w.ID(), "backend", cfg.Backend, "concurrency", cfg.Worker.Concurrency)
	err = g.Wait()
	logger.Info("shut down")
	return err
}
