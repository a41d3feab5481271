package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	persistlog "deathchest.gg/internal/persistence/log"
	"deathchest.gg/internal/sim/engine"
	"deathchest.gg/internal/sim/tuning"
	"deathchest.gg/internal/transport/ws"
)

func main() {
	var (
		addr        = flag.String("addr", ":8080", "http listen address")
		configDir   = flag.String("configs", "./configs", "config directory")
		tuningPath  = flag.String("tuning", "", "path to tuning.yaml or tuning.toml (default: <configs>/tuning.yaml)")
		dataDir     = flag.String("data", "./data", "runtime data directory")
		storeKind   = flag.String("store", "sqlite", "chest store backend: sqlite | snapshot | memory")
		metricsAddr = flag.String("metrics_addr", "", "separate listen address for /metrics (default: served on -addr)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	_ = os.MkdirAll(*dataDir, 0o755)
	store, storeAudit, err := openStore(*storeKind, *dataDir, tune.World.Name)
	if err != nil {
		logger.Fatalf("severe: open chest store: %v", err)
	}

	auditLog := persistlog.NewAuditLogger(*dataDir)
	deathLog := persistlog.NewDeployLogger(*dataDir)
	defer auditLog.Close()
	defer deathLog.Close()
	audit := persistlog.Fanout{auditLog}
	if storeAudit != nil {
		audit = append(audit, storeAudit)
	}

	hub := ws.NewHub(logger)
	eng, err := engine.New(engine.Config{Tuning: tune, ConfigDir: *configDir}, engine.Deps{
		Store:    store,
		Audit:    audit,
		Deaths:   deathLog,
		Notifier: hub,
		Host:     hub,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatalf("engine: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		logger.Fatalf("engine start: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	engDone := make(chan struct{})
	go func() {
		defer close(engDone)
		if err := eng.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("engine stopped: %v", err)
		}
	}()

	wsSrv, err := ws.NewServer(eng, hub, logger)
	if err != nil {
		logger.Fatalf("ws server: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/ws", wsSrv.Handler())

	var metricsSrv *http.Server
	if m := strings.TrimSpace(*metricsAddr); m != "" {
		mm := http.NewServeMux()
		mm.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: m, Handler: mm, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Printf("metrics listening on %s", m)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("warn: metrics server: %v", err)
			}
		}()
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	if envBool("DC_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/state", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
			st, err := eng.Stats(r.Context())
			if err != nil {
				http.Error(rw, err.Error(), http.StatusServiceUnavailable)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(map[string]any{
				"world":     eng.WorldName(),
				"chests":    st.Chests,
				"timers":    st.Pending,
				"providers": st.Providers,
				"sessions":  hub.Sessions(),
			})
		}))
		mux.HandleFunc("/admin/v1/chests", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
			chests, err := eng.Chests(r.Context())
			if err != nil {
				http.Error(rw, err.Error(), http.StatusServiceUnavailable)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(chestViews(chests, time.Now()))
		}))
	} else {
		logger.Printf("admin endpoints disabled (DC_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("DC_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(ctx2)
		}
	}()

	logger.Printf("listening on %s (world=%s store=%s)", *addr, tune.World.Name, *storeKind)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Printf("severe: ListenAndServe: %v", err)
		cancel()
	}

	<-engDone
	ctx3, cancel3 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel3()
	if err := eng.Shutdown(ctx3); err != nil {
		logger.Printf("severe: engine shutdown: %v", err)
	}
	logger.Printf("bye")
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(name string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
