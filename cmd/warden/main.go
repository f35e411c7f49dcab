// warden is the guardrail enforcement daemon: it runs the async stream
// workers (ingress classification, staff notifications, dead-letter
// re-drives) and serves the staff/admin HTTP API. The pre-write gate is a
// library called in-process by the content services, so it has no surface
// here.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	cli "github.com/urfave/cli/v2"

	"github.com/haven-social/guardrail/admin"
	"github.com/haven-social/guardrail/cachestore"
	"github.com/haven-social/guardrail/cases"
	"github.com/haven-social/guardrail/countstore"
	"github.com/haven-social/guardrail/enforcer"
	"github.com/haven-social/guardrail/eventlog"
	"github.com/haven-social/guardrail/linkage"
	"github.com/haven-social/guardrail/models"
	"github.com/haven-social/guardrail/notifs"
	"github.com/haven-social/guardrail/policy"
	"github.com/haven-social/guardrail/reputation"
	"github.com/haven-social/guardrail/restriction"
	"github.com/haven-social/guardrail/server"
	"github.com/haven-social/guardrail/setstore"
	"github.com/haven-social/guardrail/util/cliutil"
	"github.com/haven-social/guardrail/workers"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "warden",
		Usage:   "trust and safety enforcement daemon",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity (debug, info, warn, error)",
			EnvVars: []string{"GUARDRAIL_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "log format (text or json)",
			EnvVars: []string{"GUARDRAIL_LOG_FMT", "LOG_FORMAT"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
			Value:   40,
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the daemon",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Value:   "sqlite://data/warden/guardrail.sqlite",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection for counters, caches, and streams; empty runs everything in-process",
			EnvVars: []string{"GUARDRAIL_REDIS_URL", "REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for the staff API",
			Value:   ":8700",
			EnvVars: []string{"GUARDRAIL_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":8701",
			EnvVars: []string{"GUARDRAIL_METRICS_LISTEN"},
		},
		&cli.StringSliceFlag{
			Name:    "staff",
			Usage:   "user IDs notified about unassigned cases, escalations, and appeals",
			EnvVars: []string{"GUARDRAIL_STAFF"},
		},
		&cli.StringFlag{
			Name:    "bundle-secret",
			Usage:   "shared HMAC secret for catalog bundle signing; empty disables signatures",
			EnvVars: []string{"GUARDRAIL_BUNDLE_SECRET"},
		},
		&cli.StringFlag{
			Name:    "policy-file",
			Usage:   "YAML policy file; empty uses the built-in default policy",
			EnvVars: []string{"GUARDRAIL_POLICY_FILE"},
		},
		&cli.StringFlag{
			Name:    "sets-file",
			Usage:   "JSON file of named string sets (profanity tokens, link allowlist)",
			EnvVars: []string{"GUARDRAIL_SETS_FILE"},
		},
	},
	Action: func(cctx *cli.Context) error {
		logger, err := cliutil.SetupSlog(cliutil.LogOptions{
			LogLevel:  cctx.String("log-level"),
			LogFormat: cctx.String("log-format"),
		})
		if err != nil {
			return err
		}

		db, err := cliutil.SetupDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"))
		if err != nil {
			return err
		}
		if err := db.AutoMigrate(models.All()...); err != nil {
			return fmt.Errorf("database migration: %w", err)
		}

		redisURL := cctx.String("redis-url")
		var counters countstore.CountStore
		var cache cachestore.CacheStore
		var events eventlog.EventLog
		var cursors eventlog.CursorStore
		if redisURL != "" {
			rcs, err := countstore.NewRedisCountStore(redisURL)
			if err != nil {
				return fmt.Errorf("connecting redis countstore: %w", err)
			}
			counters = rcs
			rcache, err := cachestore.NewRedisCacheStore(redisURL, 5*time.Minute)
			if err != nil {
				return fmt.Errorf("connecting redis cachestore: %w", err)
			}
			cache = rcache
			rlog, err := eventlog.NewRedisLog(redisURL)
			if err != nil {
				return fmt.Errorf("connecting redis eventlog: %w", err)
			}
			events = rlog
			cursors = &eventlog.RedisCursorStore{Client: rlog.Client}
		} else {
			logger.Warn("no redis-url configured, using in-process stores; state will not survive restarts")
			counters = countstore.NewMemCountStore()
			cache = cachestore.NewMemCacheStore(10_000, 5*time.Minute)
			events = eventlog.NewMemLog()
			cursors = eventlog.NewMemCursorStore()
		}

		sets := setstore.NewMemSetStore()
		if path := cctx.String("sets-file"); path != "" {
			if err := sets.LoadFromFileJSON(path); err != nil {
				return fmt.Errorf("loading sets file: %w", err)
			}
		} else {
			// empty but known, so lookups do not error
			sets.Add("profanity-high")
			sets.Add("link-allowlist")
		}

		pol := policy.DefaultPolicy()
		if path := cctx.String("policy-file"); path != "" {
			raw, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading policy file: %w", err)
			}
			pol, err = policy.LoadPolicy(raw)
			if err != nil {
				return fmt.Errorf("parsing policy file: %w", err)
			}
		}

		rep := reputation.NewService(db, logger, reputation.DefaultServiceConfig())
		restrictions := restriction.NewService(db, cache, logger)
		links := linkage.NewService(db, logger)
		notifier := notifs.NewSink(db, logger, notifs.DefaultSinkConfig())

		// content and ownership lookups are integration points; the
		// standalone daemon runs with the in-process implementations, a
		// deployment embeds its own
		content := enforcer.NewMemContentStore()
		resolver := enforcer.NewMemSubjectResolver()
		enf := enforcer.New(db, content, restrictions, resolver, notifier, logger, enforcer.DefaultConfig())

		cs := cases.NewService(db, counters, enf, events, logger, cases.DefaultConfig())

		catalog := admin.NewCatalog(db, logger)
		scheduler := admin.NewScheduler(db, logger)
		executor := admin.NewExecutor(catalog, cs, rep, logger)
		revertors := admin.NewRevertors(cs, logger)

		srv := server.NewServer(db, cs, rep, restrictions, enf, catalog, executor, revertors, scheduler, logger, server.Config{
			Bind:         cctx.String("bind"),
			BundleSecret: cctx.String("bundle-secret"),
		})

		ingress := workers.NewIngress(pol, counters, sets, rep, links, cs, workers.DefaultIngressConfig(), logger)
		notify := workers.NewStaffNotify(cs, notifier, cctx.StringSlice("staff"), logger)
		redrive := workers.NewActions(enf, logger)

		manager := workers.NewManager(logger)
		manager.Add(workers.NewIngressWorker(ingress, events, cursors, logger))
		manager.Add(workers.NewReportsWorker(notify, events, cursors, logger))
		manager.Add(workers.NewEscalationWorker(notify, events, cursors, logger))
		manager.Add(workers.NewAppealsWorker(notify, events, cursors, logger))
		manager.Add(workers.NewActionsWorker(redrive, events, cursors, logger))

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		go func() {
			if err := runMetrics(cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "error", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		apiErr := make(chan error, 1)
		go func() {
			apiErr <- srv.RunAPI(ctx)
		}()

		workersDone := make(chan struct{})
		go func() {
			manager.Run(ctx)
			close(workersDone)
		}()

		select {
		case err := <-apiErr:
			stop()
			<-workersDone
			if err != nil {
				return fmt.Errorf("API server: %w", err)
			}
		case <-ctx.Done():
			logger.Info("shutdown signal received")
			<-workersDone
			if err := <-apiErr; err != nil {
				return fmt.Errorf("API server: %w", err)
			}
		}
		logger.Info("graceful shutdown complete")
		return nil
	},
}

func runMetrics(listen string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, mux)
}
