package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"
	"github.com/gofrs/flock"

	"github.com/loykin/svcman"
	"github.com/loykin/svcman/internal/config"
	"github.com/loykin/svcman/internal/logger"
	"github.com/loykin/svcman/internal/server"
)

const (
	shutdownTimeout  = 15 * time.Second
	httpDrainTimeout = 3 * time.Second
)

var errAlreadyRunning = errors.New("another svcman manager holds the lock")

// acquireLock takes the single-instance lock without blocking.
func acquireLock(path string) (*flock.Flock, error) {
	if path == "" {
		return nil, nil
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (%s)", errAlreadyRunning, path)
	}
	return fl, nil
}

func runServe(ctx context.Context, flags ServeFlags) error {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if flags.Daemonize {
		logfile := flags.LogFile
		if logfile == "" {
			logfile = cfg.Manager.LogFile
		}
		return daemonize(cfg.Manager.PIDFile, logfile)
	}

	log, closer := logger.Setup(cfg.Logging)
	defer func() { _ = closer.Close() }()

	lock, err := acquireLock(cfg.LockFile)
	if err != nil {
		return err
	}
	if lock != nil {
		defer func() { _ = lock.Unlock() }()
	}
	if cfg.Manager.PIDFile != "" {
		if err := writePidFile(cfg.Manager.PIDFile, os.Getpid()); err != nil {
			log.Warn("pid file not written", "path", cfg.Manager.PIDFile, "error", err)
		} else {
			defer func() { _ = removePidFile(cfg.Manager.PIDFile) }()
		}
	}

	mgr, err := svcman.NewManager(cfg, log)
	if err != nil {
		return err
	}
	addr := net.JoinHostPort(cfg.Manager.Listen, strconv.Itoa(cfg.Manager.Port))
	srv, err := server.NewServer(addr, mgr.Handler(), 0, log)
	if err != nil {
		_ = mgr.Close(context.Background())
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	log.Info("manager listening", "addr", srv.ListenAddr().String(), "base_path", cfg.Manager.BasePath)

	if err := mgr.Autostart(ctx); err != nil {
		log.Warn("autostart incomplete", "error", err)
	}
	return serveUntilSignal(ctx, log, srv, mgr)
}

func runAgent(ctx context.Context, flags AgentFlags) error {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	log, closer := logger.Setup(cfg.Logging)
	defer func() { _ = closer.Close() }()

	agent, err := svcman.NewAgent(cfg, log)
	if err != nil {
		return err
	}
	addr := net.JoinHostPort(cfg.Agent.Listen, strconv.Itoa(cfg.Agent.Port))
	srv, err := server.NewServer(addr, agent.Handler(), 15*time.Second, log)
	if err != nil {
		_ = agent.Close(context.Background())
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	log.Info("agent listening", "addr", srv.ListenAddr().String(), "service", agent.Service())
	return serveUntilSignal(ctx, log, srv, agent)
}

type shutdowner interface {
	Close(ctx context.Context) error
}

// serveUntilSignal reports readiness to systemd, blocks until SIGINT/SIGTERM
// or ctx is done, then stops the HTTP server and every service.
func serveUntilSignal(ctx context.Context, log *slog.Logger, srv *server.Server, svc shutdowner) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if sent, err := sddaemon.SdNotify(false, sddaemon.SdNotifyReady); err != nil {
		log.Warn("sd_notify failed", "error", err)
	} else if sent {
		log.Debug("notified systemd")
	}

	<-ctx.Done()
	log.Info("shutting down")
	_, _ = sddaemon.SdNotify(false, sddaemon.SdNotifyStopping)

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	svcErr := svc.Close(sctx)

	// Event streams never finish on their own.
	hctx, hcancel := context.WithTimeout(sctx, httpDrainTimeout)
	defer hcancel()
	err := srv.Shutdown(hctx)
	if errors.Is(err, context.DeadlineExceeded) {
		err = srv.Close()
	}
	return errors.Join(svcErr, err)
}
