// slicewarm runs keep-warm refresh cycles for slicecache entries and offers
// a few maintenance commands.
//
//	slicewarm warm  -config slicewarm.yaml     # run the refresh worker
//	slicewarm get   -config ... -keep 60 a b   # cache the echo producer's output for args a b
//	slicewarm clear -config ... -group name    # delete a key-list group
//	slicewarm version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/slicecache"
	"github.com/unkn0wn-root/slicecache/dispatch/redisq"
	promhooks "github.com/unkn0wn-root/slicecache/hooks/prometheus"
	zapadapter "github.com/unkn0wn-root/slicecache/log/zap"
	redisprovider "github.com/unkn0wn-root/slicecache/provider/redis"
)

var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "warm":
		err = runWarm(os.Args[2:])
	case "get":
		err = runGet(os.Args[2:])
	case "clear":
		err = runClear(os.Args[2:])
	case "version":
		fmt.Println("slicewarm", Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "slicewarm:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: slicewarm <command> [flags]

commands:
  warm     run the keep-warm refresh worker
  get      run the echo producer through the cache
  clear    delete every chunk recorded under a key-list group
  version  print the version`)
}

// app is everything a command needs, wired from Config.
type app struct {
	cfg   Config
	log   *zap.Logger
	reg   *prometheus.Registry
	queue *redisq.Queue
	qconn *goredis.Client
	cache *slicecache.Cache
}

func setup(path string) (*app, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := cfg.RedisOptions()
	qopts := *opts[cfg.Queue.Connection]
	qopts.DB = cfg.Queue.DB
	qconn := goredis.NewClient(&qopts)
	queue := redisq.New(qconn, nil, redisq.Options{
		Prefix:   cfg.Queue.Prefix,
		Channels: cfg.Queue.Channels,
		Poll:     cfg.Queue.Poll,
		Batch:    cfg.Queue.Batch,
		OnError: func(ch string, err error) {
			logger.Warn("refresh task failed", zap.String("channel", ch), zap.Error(err))
		},
	})

	registry := slicecache.NewRegistry()
	registerProducers(registry)

	cache, err := slicecache.New(slicecache.Options{
		Namespace:        cfg.Namespace,
		Connect:          redisprovider.Connector(opts),
		Registry:         registry,
		Dispatcher:       queue,
		Logger:           zapadapter.New(logger),
		Hooks:            promhooks.New(reg, "slicewarm"),
		DefaultTTL:       cfg.Cache.DefaultTTL,
		DefaultMaxSlices: cfg.Cache.MaxSlices,
		RefreshAdvance:   cfg.Cache.RefreshAdvance,
		RefreshChannel:   cfg.Cache.RefreshChannel,
	})
	if err != nil {
		_ = qconn.Close()
		return nil, err
	}
	queue.Bind(cache.HandleRefresh)
	return &app{cfg: cfg, log: logger, reg: reg, queue: queue, qconn: qconn, cache: cache}, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.cache.Close(ctx); err != nil {
		a.log.Warn("close cache", zap.Error(err))
	}
	_ = a.qconn.Close()
	_ = a.log.Sync()
}

func newLogger(c LogConfig) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if c.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func runWarm(args []string) error {
	fs := flag.NewFlagSet("warm", flag.ExitOnError)
	path := fs.String("config", os.Getenv("SLICEWARM_CONFIG"), "path to config file")
	_ = fs.Parse(args)

	a, err := setup(*path)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              a.cfg.Metrics.Addr,
			Handler:           promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("metrics server", zap.Error(err))
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	a.log.Info("refresh worker started",
		zap.String("namespace", a.cfg.Namespace),
		zap.Strings("channels", a.cfg.Queue.Channels),
		zap.Duration("poll", a.cfg.Queue.Poll))
	if err := a.queue.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.log.Info("refresh worker stopped")
	return nil
}

func runGet(args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	path := fs.String("config", os.Getenv("SLICEWARM_CONFIG"), "path to config file")
	suffix := fs.String("suffix", "echo", "key suffix")
	keep := fs.Int("keep", 0, "keep warm for this many minutes")
	flush := fs.Bool("flush", false, "skip the read and recompute")
	_ = fs.Parse(args)

	a, err := setup(*path)
	if err != nil {
		return err
	}
	defer a.close()

	echoArgs := make([]any, 0, fs.NArg())
	for _, s := range fs.Args() {
		echoArgs = append(echoArgs, s)
	}
	req := a.cache.Request().
		CallStatic(echoTarget, echoMethod).
		Args(echoArgs...).
		Suffix(*suffix).
		KeepWarm(*keep)
	if *flush {
		req = req.Flush()
	}
	res, err := req.Execute(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("key=%s hit=%v armed=%v records=%d\n", res.Key, res.Hit, res.Armed, len(res.Records))
	for _, r := range res.Records {
		fmt.Println(r)
	}
	return nil
}

func runClear(args []string) error {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	path := fs.String("config", os.Getenv("SLICEWARM_CONFIG"), "path to config file")
	group := fs.String("group", "", "key-list group to clear")
	conn := fs.String("connection", "", "logical connection; empty uses the default")
	db := fs.Int("db", 0, "database index")
	_ = fs.Parse(args)
	if *group == "" {
		return fmt.Errorf("clear: -group is required")
	}

	a, err := setup(*path)
	if err != nil {
		return err
	}
	defer a.close()

	n, err := a.cache.Clear(context.Background(), *conn, *db, *group)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d keys\n", n)
	return nil
}
