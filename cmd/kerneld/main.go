// Command kerneld is the kernel's process entrypoint: load
// configuration, construct every component in dependency order, serve
// the client-facing socket and the admin API, and shut down cleanly on
// SIGINT/SIGTERM — grounded on the teacher's cmd/server/main.go (same
// construct-then-serve-then-wait-on-signal shape, same godotenv.Load,
// same signal.NotifyContext-driven graceful shutdown).
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashureev/clovekernel/internal/adminapi"
	"github.com/ashureev/clovekernel/internal/audit"
	"github.com/ashureev/clovekernel/internal/config"
	"github.com/ashureev/clovekernel/internal/dispatcher"
	"github.com/ashureev/clovekernel/internal/eventbus"
	"github.com/ashureev/clovekernel/internal/kv"
	"github.com/ashureev/clovekernel/internal/llm"
	"github.com/ashureev/clovekernel/internal/mailbox"
	"github.com/ashureev/clovekernel/internal/metrics"
	"github.com/ashureev/clovekernel/internal/recorder"
	"github.com/ashureev/clovekernel/internal/session"
	"github.com/ashureev/clovekernel/internal/supervisor"
	"github.com/ashureev/clovekernel/internal/world"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("kerneld: .env load failed", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("kerneld: configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if err := logLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := eventbus.NewBus(0)

	auditRing := audit.NewRing()
	filter := auditRing.FilterConfig()
	filter.MaxEntries = cfg.Audit.RingCapacity
	auditRing.SetFilter(filter)

	if cfg.Audit.SQLitePath != "" {
		sink, err := audit.OpenSQLiteSink(cfg.Audit.SQLitePath)
		if err != nil {
			slog.Error("kerneld: open audit sqlite sink", "error", err)
			os.Exit(1)
		}
		auditRing.SetSink(sink)
	}

	var dockerBackend supervisor.Backend
	if docker, err := supervisor.NewDockerBackend(); err != nil {
		slog.Warn("kerneld: docker unavailable, sandboxed spawns will use the bare namespace backend", "error", err)
	} else {
		dockerBackend = docker
	}

	llmSched := llm.New(cfg.LLM.Command, cfg.LLM.Args, []string{"API_KEY=" + cfg.LLM.APIKey}, slog.Default())
	defer llmSched.Close()

	k := dispatcher.New(
		session.NewRegistry(),
		kv.New(),
		mailbox.NewBroker(0),
		bus,
		llmSched,
		supervisor.New(dockerBackend, bus),
		world.NewRegistry(),
		auditRing,
		recorder.New(cfg.Audit.RecorderCapacity),
		recorder.NewReplayer(),
		metrics.New(cfg.ProcRoot),
	)

	ln, err := listen(cfg.Socket)
	if err != nil {
		slog.Error("kerneld: listen", "error", err)
		os.Exit(1)
	}

	errCh := make(chan error, 2)
	go func() {
		slog.Info("kerneld: dispatcher listening", "addr", ln.Addr())
		errCh <- k.Serve(ctx, ln)
	}()

	var adminSrv *http.Server
	if cfg.Admin.Enabled {
		admin := adminapi.New(auditRing, k.Metrics, k.Supervisor, k.LLM, bus)
		adminSrv = &http.Server{Addr: cfg.Admin.Addr, Handler: admin.Router()}
		go func() {
			slog.Info("kerneld: admin API listening", "addr", cfg.Admin.Addr)
			if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		slog.Info("kerneld: shutdown signal received")
	case err := <-errCh:
		if err != nil {
			slog.Error("kerneld: serve error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if adminSrv != nil {
		_ = adminSrv.Shutdown(shutdownCtx)
	}
	_ = ln.Close()
}

// listen builds the client-facing listener: a unix socket when
// cfg.Path is set (production), otherwise a tcp listener on cfg.Addr
// (tests and non-unix platforms).
func listen(cfg config.SocketConfig) (net.Listener, error) {
	if cfg.Path != "" {
		_ = os.Remove(cfg.Path)
		lc := net.ListenConfig{}
		ln, err := lc.Listen(context.Background(), "unix", cfg.Path)
		if err != nil {
			return nil, err
		}
		if err := os.Chmod(cfg.Path, 0o660); err != nil {
			slog.Warn("kerneld: chmod socket", "error", err)
		}
		return ln, nil
	}
	return net.Listen("tcp", cfg.Addr)
}
