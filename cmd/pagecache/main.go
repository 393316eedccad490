package main

import (
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tuannm99/pagecache/internal"
	"github.com/tuannm99/pagecache/internal/bufferpool"
	"github.com/tuannm99/pagecache/internal/shell"
	"github.com/tuannm99/pagecache/internal/storage"
	"github.com/tuannm99/pagecache/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := internal.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if cfg.Storage.Workdir != "" {
		if err := os.MkdirAll(cfg.Storage.Workdir, storage.FileMode0755); err != nil {
			log.Fatal("failed to create data directory", zap.String("dir", cfg.Storage.Workdir), zap.Error(err))
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr, reg, log)
	}

	pool := bufferpool.NewManager(cfg.Pool.Capacity,
		bufferpool.WithPageSize(cfg.Storage.PageSize),
		bufferpool.WithLogger(log),
		bufferpool.WithMetrics(bufferpool.NewMetrics(reg)),
	)
	defer func() {
		if err := pool.Close(); err != nil {
			log.Error("buffer pool close failed", zap.Error(err))
		}
	}()

	log.Info("pagecache started",
		zap.Int("capacity", cfg.Pool.Capacity),
		zap.Int("page_size", cfg.Storage.PageSize),
		zap.String("workdir", cfg.Storage.Workdir),
	)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "pagecache> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		log.Error("readline init failed", zap.Error(err))
		return
	}
	defer func() { _ = rl.Close() }()

	// SIGTERM ends the prompt so the deferred Close writes dirty pages back.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutting down")
		_ = rl.Close()
	}()

	repl(rl, shell.New(pool, cfg.Storage.Workdir, log))
}

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	log.Info("serving metrics", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics server failed", zap.Error(err))
	}
}

func repl(rl *readline.Instance, sh *shell.Shell) {
	fmt.Println("type help for help")
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			// EOF
			return
		}
		if sh.Exec(line, rl.Stdout()) {
			return
		}
	}
}
