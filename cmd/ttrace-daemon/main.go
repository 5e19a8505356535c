package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"ttrace/internal/config"
	"ttrace/internal/daemon"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON config file")
	force := flag.Bool("force", false, "Stop an existing daemon before starting")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if daemon.IsRunning(cfg.SocketPath) {
		if !*force {
			pid, err := daemon.RunningPID(cfg.PIDPath())
			if err != nil {
				log.Fatalf("daemon appears running but pid check failed: %v", err)
			}
			log.Printf("Daemon is already running (pid %d). Use --force to restart.", pid)
			return
		}
		log.Printf("Stopping existing daemon...")
		if err := daemon.StopRunningDaemon(cfg, true); err != nil {
			log.Fatalf("failed to stop running daemon: %v", err)
		}
	}

	srv, err := daemon.StartDaemon(cfg)
	if err != nil {
		log.Fatalf("failed to start daemon: %v", err)
	}
	log.Printf("Daemon started (pid %d) on %s. Press Ctrl+C to stop.", os.Getpid(), cfg.SocketPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := srv.Serve(ctx); err != nil {
		log.Fatalf("error shutting down daemon: %v", err)
	}
	log.Printf("Daemon stopped.")
}
