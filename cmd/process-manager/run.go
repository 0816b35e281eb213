package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/procmgr/internal/config"
	"github.com/loykin/procmgr/internal/errs"
	"github.com/loykin/procmgr/internal/logger"
	"github.com/loykin/procmgr/internal/manager"
	"github.com/loykin/procmgr/internal/metrics"
	"github.com/loykin/procmgr/internal/process"
	"github.com/loykin/procmgr/internal/registry"
)

func runManager(ctx context.Context, f RunFlags) error {
	log, closeLog, err := newLogger(f)
	if err != nil {
		return err
	}
	if closeLog != nil {
		defer func() { _ = closeLog() }()
	}

	path, err := registryPath(f.WorkDir, f.Store)
	if err != nil {
		return err
	}
	reg, err := registry.Open(path, log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := reg.Close(); cerr != nil {
			log.Warn("closing registry", "error", cerr)
		}
	}()

	var loader manager.ConfigLoader = config.DemoLoader{}
	if f.Modules != "" {
		loader = config.NewFileLoader(f.Modules)
	}

	if f.MetricsListen != "" {
		_, stopMetrics, err := serveMetrics(f.MetricsListen, log)
		if err != nil {
			return err
		}
		defer stopMetrics()

		rc := metrics.NewResourceCollector(f.ResourceInterval, reg.Running, log)
		if err := rc.Register(prometheus.DefaultRegisterer); err != nil {
			return errs.New(errs.KindInit, err)
		}
		rctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go rc.Run(rctx)
	}

	opts := manager.Options{
		Loop:  manager.LoopOptions{PollInterval: f.PollInterval, RestartCap: f.RestartCap},
		Grace: f.Grace,
	}
	sup := manager.NewSupervisor(reg, process.NewSpawner(log), loader, opts, log)
	log.Info("process manager starting", "version", version, "workdir", f.WorkDir, "registry", path)
	return sup.Run(ctx)
}

func newLogger(f RunFlags) (*slog.Logger, func() error, error) {
	level, err := logger.ParseLevel(f.LogLevel)
	if err != nil {
		return nil, nil, errs.New(errs.KindBadParameter, err)
	}
	format, err := logger.ParseFormat(f.LogFormat)
	if err != nil {
		return nil, nil, errs.New(errs.KindBadParameter, err)
	}
	cfg := logger.Config{
		Slog: logger.SlogConfig{Level: level, Format: format, Color: f.LogColor && f.LogFile == "", TimeStamps: true},
		File: logger.FileConfig{Path: f.LogFile},
	}
	log, closer := cfg.New()
	if closer == nil {
		return log, nil, nil
	}
	return log, closer.Close, nil
}

func registryPath(workdir, store string) (string, error) {
	if workdir == "" {
		return "", errs.Newf(errs.KindBadParameter, errors.New("empty working directory"), "workdir")
	}
	switch store {
	case "", "yaml":
		return filepath.Join(workdir, registry.FileName), nil
	case "sqlite":
		return filepath.Join(workdir, registry.SQLiteFileName), nil
	default:
		return "", errs.Newf(errs.KindBadParameter, fmt.Errorf("unknown store %q, want yaml or sqlite", store), "store")
	}
}

// serveMetrics exposes /metrics on addr and returns the bound address and a
// shutdown func.
func serveMetrics(addr string, log *slog.Logger) (string, func(), error) {
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return "", nil, errs.New(errs.KindInit, err)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, errs.Newf(errs.KindInit, err, "metrics listener %s", addr)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", "error", err)
		}
	}()
	bound := ln.Addr().String()
	log.Info("serving metrics", "addr", bound)

	return bound, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
