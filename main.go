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

	"sharedkingdom/config"
	"sharedkingdom/server"
)

// Shared Kingdom 入口：加载配置，启动 HTTP + WebSocket 服务，并初始化房间管理器
func main() {
	var cfgPath, addr string
	flag.StringVar(&cfgPath, "config", "", "path to a YAML config file (optional)")
	flag.StringVar(&addr, "addr", "", "listen address override, e.g. :2567")
	flag.Parse()

	if err := run(cfgPath, addr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfgPath, addr string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	logger, err := server.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rooms := server.NewRoomManager(ctx, server.RoomOptions{
		MaxClients: cfg.Room.MaxClients,
		InboxSize:  cfg.Room.InboxSize,
		Logger:     log,
	})
	// 默认房间常驻，其余房间空了即回收
	if _, err := rooms.KeepRoom(cfg.Server.DefaultRoom); err != nil {
		return err
	}

	ws := &server.WSHandler{
		Rooms:       rooms,
		DefaultRoom: cfg.Server.DefaultRoom,
		Transport: server.TransportOptions{
			SendBuffer:   cfg.Transport.SendBuffer,
			ReadLimit:    cfg.Transport.ReadLimit,
			PongWait:     cfg.Transport.PongWait,
			WriteWait:    cfg.Transport.WriteWait,
			InboundRate:  cfg.Transport.InboundRate,
			InboundBurst: cfg.Transport.InboundBurst,
		},
		Log: log,
	}
	router := server.NewRouter(server.RouterConfig{
		Rooms:       rooms,
		WS:          ws,
		StaticDir:   cfg.Server.StaticDir,
		CORSOrigins: cfg.Server.CORSOrigins,
		Log:         log,
	})

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: router}
	errCh := make(chan error, 1)
	go func() {
		log.Infof("Shared Kingdom listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen: %w", err)
		}
		close(errCh)
	}()

	// 优雅退出（Ctrl+C）
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			rooms.Close()
			return err
		}
	}
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	rooms.Close()
	return err
}
