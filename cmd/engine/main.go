// Command engine runs the Engine process: it creates both IPC queues,
// opens the configured subscriber directory backend, and drains requests
// until told to stop.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"telecomrouter/internal/config"
	"telecomrouter/internal/engine"
	"telecomrouter/internal/ipcqueue"
	"telecomrouter/internal/subscriber"
	"telecomrouter/internal/subscriber/memory"
	"telecomrouter/internal/subscriber/sqlite"
)

func main() {
	cfgPath := flag.String("config", "trmq.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("engine: load config: %v", err)
	}

	logger := log.New(os.Stderr, "engine: ", log.LstdFlags)

	store, closeStore, err := openStore(cfg.Engine.Store)
	if err != nil {
		log.Fatalf("engine: open subscriber store: %v", err)
	}
	if closeStore != nil {
		defer closeStore()
	}

	reqQueue, err := ipcqueue.Create(cfg.IPC.RequestSocketPath, cfg.IPC.Capacity, cfg.IPC.MaxMessageSize, logger)
	if err != nil {
		log.Fatalf("engine: create request queue: %v", err)
	}
	defer reqQueue.Close()

	respQueue, err := ipcqueue.Create(cfg.IPC.ResponseSocketPath, cfg.IPC.Capacity, cfg.IPC.MaxMessageSize, logger)
	if err != nil {
		log.Fatalf("engine: create response queue: %v", err)
	}
	defer respQueue.Close()

	e := engine.New(reqQueue, respQueue, store, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Printf("ready, backend=%s", cfg.Engine.Store.Backend)
	if err := e.Run(ctx); err != nil && err != context.Canceled {
		logger.Printf("fatal: %v", err)
		os.Exit(1)
	}
}

func openStore(cfg config.StoreConfig) (subscriber.Store, func() error, error) {
	switch cfg.Backend {
	case "sqlite":
		shardCount := cfg.ShardCount
		if shardCount <= 0 {
			shardCount = 8
		}
		st, err := sqlite.Open(cfg.SqliteDir, shardCount)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	default:
		return memory.New(), nil, nil
	}
}
