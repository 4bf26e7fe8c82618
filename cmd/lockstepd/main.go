package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"lockstepd/internal/config"
	"lockstepd/internal/events"
	"lockstepd/internal/logging"
	"lockstepd/internal/metrics"
	"lockstepd/internal/room"
	"lockstepd/internal/transport"
)

const version = "1.0.0"

func main() {
	logging.Banner("Lockstep Room Server", version)

	configPath := flag.String("config", "", "path to a TOML config file (optional)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logging.SetLevel(*logLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Fatal("loading config: %v", err)
	}

	logging.Section("Configuration")
	logging.Info("Listen address: %s:%d", cfg.Host, cfg.Port)
	logging.Info("Max players per room: %d", cfg.Room.MaxPlayers)
	logging.Info("Server name: %s", cfg.ServerName)
	logging.Info("Frame interval: %s", cfg.Room.FrameInterval())
	if cfg.MetricsAddr != "" {
		logging.Info("Metrics endpoint: %s", cfg.MetricsAddr)
	}
	logging.Success("Configuration loaded successfully")

	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	if err != nil {
		logging.Fatal("resolving listen address: %v", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		logging.Fatal("binding UDP socket: %v", err)
	}
	logging.Success("Listening on %s", conn.LocalAddr())

	m := metrics.New()
	bus := events.NewBus()
	wireEventLogging(bus)

	endpoint := transport.NewEndpoint(conn, cfg.Transport)
	endpoint.SetMetrics(m)

	registry := room.NewRegistry(cfg.Room)
	_ = room.NewRouter(registry, endpoint, bus)
	scheduler := room.NewScheduler(registry, endpoint, cfg.Room.FrameInterval(), cfg.Room.EmptyRoomGrace(), bus, m)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return endpoint.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	if cfg.MetricsAddr != "" {
		g.Go(func() error { return m.Serve(gctx, cfg.MetricsAddr) })
	}

	<-ctx.Done()
	logging.Warn("shutdown signal received, stopping gracefully...")

	if err := g.Wait(); err != nil {
		logging.Error("server exited with error: %v", err)
		os.Exit(1)
	}
	logging.Success("server stopped")
}

func wireEventLogging(bus *events.Bus) {
	bus.Subscribe(events.RoomCreated, func(e events.Event) {
		logging.WithFields(logging.Fields{"room_id": e.RoomID}).Info("room created")
	})
	bus.Subscribe(events.RoomDestroyed, func(e events.Event) {
		logging.WithFields(logging.Fields{"room_id": e.RoomID}).Info("room destroyed")
	})
	bus.Subscribe(events.PlayerJoined, func(e events.Event) {
		logging.WithFields(logging.Fields{"room_id": e.RoomID, "player_id": e.Data}).Info("player joined")
	})
	bus.Subscribe(events.PlayerLeft, func(e events.Event) {
		logging.WithFields(logging.Fields{"room_id": e.RoomID, "player_id": e.Data}).Info("player left")
	})
	bus.Subscribe(events.GameStarted, func(e events.Event) {
		logging.WithFields(logging.Fields{"room_id": e.RoomID}).Info("game started")
	})
}
