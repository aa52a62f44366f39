// Command chatserver is the process entry point: it loads configuration,
// wires the registry, broker, limiters, acceptor, discovery beacon, and
// admin HTTP surface together, then runs until an interrupt or SIGTERM
// arrives. The signal.NotifyContext-driven shutdown is grounded on an
// example pack's server lifecycle (cmd/server/main.go in the
// container-based pack), adapted from a single http.Server to an
// errgroup coordinating the chat acceptor, the admin server, the monitor
// hub, and the discovery beacon together.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/relaychat/chatserver/internal/adminapi"
	"github.com/relaychat/chatserver/internal/broker"
	"github.com/relaychat/chatserver/internal/config"
	"github.com/relaychat/chatserver/internal/connlimit"
	"github.com/relaychat/chatserver/internal/discovery"
	"github.com/relaychat/chatserver/internal/metrics"
	"github.com/relaychat/chatserver/internal/monitor"
	"github.com/relaychat/chatserver/internal/ratelimit"
	"github.com/relaychat/chatserver/internal/registry"
	"github.com/relaychat/chatserver/internal/server"
)

func main() {
	log := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.WithField("log_level", cfg.LogLevel).Warn("unrecognized log level, defaulting to info")
	}

	startedAt := time.Now()

	cl := connlimit.New(cfg.MaxClients, cfg.MaxConnectionsPerIP, cfg.MaxConnectionsPerMinute, time.Duration(cfg.TemporaryBlockDurationMinutes)*time.Minute)
	cl.OnBlocked = func(ip string) {
		metrics.IPBlocksTotal.Inc()
		log.WithField("ip", ip).Warn("ip temporarily blocked")
	}

	reg := registry.New(cl, cfg.MessageHistorySize)

	rateCapacity := float64(cfg.RateLimitMessagesPerMinute + cfg.BurstAllowance)
	refillRate := float64(cfg.RateLimitMessagesPerMinute) / 60.0
	rl := ratelimit.New(rateCapacity, refillRate, 5*time.Minute)

	brk := broker.New(reg, rl, cfg.MaxMessageLength, broker.Options{
		OnDelivered:         metrics.MessagesDeliveredTotal.Inc,
		OnDroppedRateLimit:  func() { metrics.MessagesDroppedTotal.WithLabelValues("rate_limit").Inc() },
		OnDroppedValidation: func() { metrics.MessagesDroppedTotal.WithLabelValues("validation").Inc() },
	})

	var hub *monitor.Hub
	if cfg.EnableAdminMonitorWS {
		hub = monitor.NewHub(log)
	}

	chatSrv := server.New(cfg, log, reg, brk, cl, hub)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return chatSrv.Run(gctx)
	})

	if hub != nil {
		g.Go(func() error {
			hub.Run(gctx)
			return nil
		})
	}

	var beacon *discovery.Beacon
	if !cfg.DisableDiscoveryBeacon {
		beacon = discovery.New(cfg.DiscoveryPort, cfg.DiscoveryBroadcastInterval, log)
		g.Go(func() error {
			return beacon.Run(gctx)
		})
	}

	adminRouter := adminapi.NewRouter(gctx, &adminapi.RouterDeps{
		Log:         log,
		Stats:       chatSrv,
		StartedAt:   startedAt,
		Hub:         hub,
		CORSOrigins: []string{"*"},
		Version:     config.Version,
		EnableWS:    cfg.EnableAdminMonitorWS,
		Ready:       chatSrv.Ready,
	})

	adminHTTP := &http.Server{
		Addr:         cfg.AdminAddr,
		Handler:      adminRouter,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g.Go(func() error {
		log.WithField("addr", cfg.AdminAddr).Info("admin http surface listening")
		if err := adminHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return adminHTTP.Shutdown(shutdownCtx)
	})

	log.Info("chat server starting")

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("server exited with error")
		os.Exit(1)
	}

	log.Info("chat server stopped")
}
