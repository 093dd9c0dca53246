package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"bus-tracker/internal/auth"
	"bus-tracker/internal/config"
	"bus-tracker/internal/db"
	"bus-tracker/internal/httpapi"
	"bus-tracker/internal/ingest"
	"bus-tracker/internal/metrics"
	"bus-tracker/internal/monitor"
	"bus-tracker/internal/notify"
	"bus-tracker/internal/publisher"
	"bus-tracker/internal/realtime"
	"bus-tracker/internal/routing"
	"bus-tracker/internal/session"
	"bus-tracker/internal/sim"
	"bus-tracker/internal/sos"
	"bus-tracker/internal/weather"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.CreateDatabase {
		created, err := db.EnsureDatabase(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db create error: %v", err)
		}
		if created {
			log.Printf("created database")
		}
	}
	sqlDB, err := db.ConnectWithRetry(ctx, cfg.DatabaseURL, 10, 2*time.Second)
	if err != nil {
		log.Fatalf("db error: %v", err)
	}
	store := db.NewStore(sqlDB)
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("migrate error: %v", err)
	}
	if cfg.SeedFile != "" {
		seed, err := db.ReadSeed(cfg.SeedFile)
		if err != nil {
			log.Fatalf("seed error: %v", err)
		}
		if err := seed.Apply(ctx, store); err != nil {
			log.Fatalf("seed error: %v", err)
		}
		log.Printf("applied seed %s (%d buses, %d profiles)", cfg.SeedFile, len(seed.Buses), len(seed.Profiles))
	}

	mcol := metrics.NewCollector(cfg.SimSpeedMultiplier, cfg.PollInterval, cfg.MonitorRefresh)
	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = mcol.Serve(cfg.MetricsAddr)
	}

	pub, err := publisher.NewNATSPublisher(cfg.NATSURL, "bus-tracker", cfg.LogNATSSubjects, mcol)
	if err != nil {
		log.Fatalf("nats error: %v", err)
	}
	defer pub.Close()

	notifier, closeNotifier := newNotifier(cfg, mcol)
	defer closeNotifier()

	var sessions httpapi.Sessions
	rdb := session.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rdb.Close()
	sessStore := session.NewStore(rdb, 30*24*time.Hour)
	if err := sessStore.Ping(ctx); err != nil {
		log.Printf("redis unavailable, session endpoints disabled: %v", err)
	} else {
		sessions = sessStore
	}

	tokens := auth.NewManager(cfg.JWTSecret, cfg.JWTTTL)
	router := routing.NewOSRMClient(cfg.OSRMURL, cfg.RouteCacheTTL)
	wx := weather.NewSimulator(time.Now().UnixNano())
	in := ingest.NewService(store, pub, mcol, cfg.Location)

	alerts := sos.NewService(store, pub, notifier, mcol)
	countdown := sos.NewCountdown(cfg.SOSCountdown, func(ctx context.Context, req sos.Request) error {
		_, err := alerts.Raise(ctx, req)
		return err
	})
	defer countdown.Stop()

	hub := realtime.NewHub(mcol)
	unfeed, err := hub.Feed(pub)
	if err != nil {
		log.Fatalf("realtime feed error: %v", err)
	}
	defer unfeed()

	mon := monitor.NewManager(monitor.Options{
		Store:           store,
		Subscriber:      pub,
		Publisher:       pub,
		Notifier:        notifier,
		PollInterval:    cfg.PollInterval,
		RefreshInterval: cfg.MonitorRefresh,
		Location:        cfg.Location,
		Metrics:         mcol,
	})
	buses, err := store.ListBuses(ctx)
	if err != nil {
		log.Fatalf("list buses error: %v", err)
	}
	if len(buses) == 0 {
		log.Printf("no buses configured yet")
	}
	mon.Start(ctx, buses)
	mon.StartRefresher(ctx)

	var simulator *sim.Manager
	if cfg.Simulate {
		simulator = sim.NewManager(sim.Options{
			Store:           store,
			Ingest:          in,
			Router:          router,
			PublishInterval: cfg.SimPublishInterval,
			SpeedMultiplier: cfg.SimSpeedMultiplier,
			RefreshInterval: cfg.MonitorRefresh,
			PreloadHorizon:  cfg.SimPreloadHorizon,
			Location:        cfg.Location,
			Metrics:         mcol,
		})
		simulator.StartRefresher(ctx)
	}

	api := httpapi.New(httpapi.Options{
		Store:          store,
		Ingest:         in,
		Alerts:         alerts,
		Countdown:      countdown,
		Sessions:       sessions,
		Router:         router,
		Weather:        wx,
		Tokens:         tokens,
		Realtime:       hub.Handler(tokens),
		Metrics:        mcol,
		Location:       cfg.Location,
		StaleAfter:     cfg.StaleAfter,
		AllowedOrigins: cfg.CORSOrigins,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("api listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("api server error: %v", err)
			cancel()
		}
	}()

	<-ctx.Done()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = srv.Shutdown(shutdownCtx)
	if simulator != nil {
		simulator.Stop()
	}
	mon.Stop()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	log.Println("shutdown complete")
}

// newNotifier publishes to RabbitMQ when AMQP_URL is set and logs
// otherwise; either way repeats inside the cooldown are dropped.
func newNotifier(cfg *config.Config, m *metrics.Collector) (notify.Notifier, func()) {
	var base notify.Notifier = notify.LogNotifier{}
	closeFn := func() {}
	if cfg.AMQPURL != "" {
		n, err := notify.NewAMQPNotifier(cfg.AMQPURL, cfg.NotifyExchange, 5)
		if err != nil {
			log.Printf("rabbitmq unavailable, logging notifications instead: %v", err)
		} else {
			base, closeFn = n, n.Close
		}
	}
	if cfg.NotifyCooldown <= 0 {
		return base, closeFn
	}
	return notify.NewCooldown(base, cfg.NotifyCooldown, m), closeFn
}
