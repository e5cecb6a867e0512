// Command fluxpointd runs a fluxpoint media-workflow control plane: an event
// hub, a workflow manager over the configured run registry, and one reactor
// per configured reactor declaration, plus the operational HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/fluxpoint-media/fluxpoint/api"
	"github.com/fluxpoint-media/fluxpoint/eventhub"
	"github.com/fluxpoint-media/fluxpoint/logger"
	"github.com/fluxpoint-media/fluxpoint/manager"
	"github.com/fluxpoint-media/fluxpoint/metrics"
	"github.com/fluxpoint-media/fluxpoint/reactor"
	"github.com/fluxpoint-media/fluxpoint/version"
	"github.com/fluxpoint-media/fluxpoint/workflows"
)

func main() {
	configPath := flag.String("config", "fluxpoint.yaml", "path to the configuration file")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetVersionInfo())
		return
	}

	logger.SetVerbose(*verbose)

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fluxpointd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := workflows.LoadConfig(configPath)
	if err != nil {
		return err
	}

	for module, levelStr := range cfg.LogLevels {
		level, err := logger.ParseLevel(levelStr)
		if err != nil {
			return err
		}
		if module == "default" {
			logger.Modules.SetDefaultLevel(level)
		} else {
			logger.Modules.SetModuleLevel(module, level)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()

	store, err := buildStore(cfg)
	if err != nil {
		return err
	}

	hub := eventhub.Start(ctx)
	mgr := manager.Start(ctx, store)

	for _, rc := range cfg.Reactors {
		executor, err := buildExecutor(cfg, rc)
		if err != nil {
			return err
		}
		reactor.Start(rc.Name, executor, hub.SubscribeChan())
		logger.Info("reactor configured", "reactor", rc.Name, "executor", rc.Executor.Kind)
	}

	hub.PublishManagerRegistered(mgr.Handle())

	srv := api.New(reg, store, mgr.Notifications(), hub.SubscribeChan())
	logger.Info("fluxpointd started",
		append(version.GetBuildInfo(), "listen_addr", cfg.ListenAddr)...)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(ctx, cfg.ListenAddr)
	})
	return g.Wait()
}

func buildStore(cfg *workflows.Config) (manager.Store, error) {
	switch cfg.Store.Backend {
	case "", "memory":
		return manager.NewMemoryStore(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Store.RedisAddr})
		opts := []manager.RedisOption{}
		if cfg.Store.KeyPrefix != "" {
			opts = append(opts, manager.WithPrefix(cfg.Store.KeyPrefix))
		}
		if cfg.Store.TTL > 0 {
			opts = append(opts, manager.WithTTL(cfg.Store.TTL.Std()))
		}
		return manager.NewRedisStore(client, opts...), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func buildExecutor(cfg *workflows.Config, rc workflows.ReactorConfig) (reactor.Executor, error) {
	switch rc.Executor.Kind {
	case "static":
		routes := make([]reactor.Route, 0, len(rc.Executor.Routes))
		for _, route := range rc.Executor.Routes {
			def := cfg.WorkflowFor(route.Workflow)
			if def == nil {
				return nil, fmt.Errorf("reactor %q routes to undefined workflow %q",
					rc.Name, route.Workflow)
			}
			routes = append(routes, reactor.Route{
				StreamPrefix: route.StreamPrefix,
				Definition:   def,
			})
		}
		return reactor.NewStaticExecutor(routes), nil

	case "http":
		opts := []reactor.HTTPOption{}
		if rc.Executor.RequestTimeout > 0 {
			opts = append(opts, reactor.WithRequestTimeout(rc.Executor.RequestTimeout.Std()))
		}
		if rc.Executor.MaxAttempts > 0 {
			opts = append(opts, reactor.WithMaxAttempts(rc.Executor.MaxAttempts))
		}
		if rc.Executor.RatePerSecond > 0 {
			opts = append(opts, reactor.WithRateLimit(rc.Executor.RatePerSecond))
		}
		return reactor.NewHTTPExecutor(rc.Executor.URL, opts...), nil

	default:
		return nil, fmt.Errorf("reactor %q has unknown executor kind %q", rc.Name, rc.Executor.Kind)
	}
}
