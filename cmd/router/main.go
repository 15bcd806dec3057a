// Command router runs the Router process: the TCP front end, the worker
// pool and dispatcher that drive the IPC round trip with the Engine, and
// (when enabled) the Kafka and RabbitMQ ingest adapters that feed the
// same fabric.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"telecomrouter/internal/config"
	"telecomrouter/internal/connio"
	"telecomrouter/internal/correlate"
	"telecomrouter/internal/dispatch"
	"telecomrouter/internal/ingest/kafka"
	"telecomrouter/internal/ingest/rabbitmq"
	"telecomrouter/internal/ipcqueue"
)

func main() {
	cfgPath := flag.String("config", "trmq.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("router: load config: %v", err)
	}

	// router [host] [port] overrides whatever the config file set.
	if args := flag.Args(); len(args) >= 1 {
		cfg.Router.Host = args[0]
		if len(args) >= 2 {
			port, err := strconv.Atoi(args[1])
			if err != nil {
				log.Fatalf("router: invalid port %q: %v", args[1], err)
			}
			cfg.Router.Port = port
		}
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("router: invalid config: %v", err)
	}

	logger := log.New(os.Stderr, "router: ", log.LstdFlags)

	reqQueue, err := ipcqueue.Open(cfg.IPC.RequestSocketPath, cfg.IPC.Capacity, cfg.IPC.MaxMessageSize, logger)
	if err != nil {
		log.Fatalf("router: open request queue: %v", err)
	}
	defer reqQueue.Close()

	respQueue, err := ipcqueue.Open(cfg.IPC.ResponseSocketPath, cfg.IPC.Capacity, cfg.IPC.MaxMessageSize, logger)
	if err != nil {
		log.Fatalf("router: open response queue: %v", err)
	}
	defer respQueue.Close()

	table := correlate.New()

	demux := dispatch.NewDemultiplexer(table, respQueue, logger)
	go demux.Run()

	workerCount := cfg.Router.WorkerCount
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	if workerCount < 2 {
		workerCount = 2
	}
	pool := dispatch.NewPool(workerCount, logger)
	defer pool.Stop()

	dispatcher := dispatch.NewDispatcher(table, reqQueue, logger)
	dispatcher.MaxPending = cfg.Router.MaxPending
	dispatcher.SendRetries = cfg.Router.SendRetries
	dispatcher.SendRetryDelay = time.Duration(cfg.Router.SendRetryDelayUs) * time.Microsecond
	dispatcher.WaitDeadline = time.Duration(cfg.Router.WaitDeadlineMs) * time.Millisecond

	server := connio.NewServer(connio.Config{Host: cfg.Router.Host, Port: cfg.Router.Port}, pool, logger)
	server.SetDispatcher(dispatcher.Dispatch)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startIngestAdapters(ctx, cfg, dispatcher, logger)

	logger.Printf("listening on %s:%d", cfg.Router.Host, cfg.Router.Port)
	if err := server.Run(ctx); err != nil {
		logger.Printf("fatal: %v", err)
		os.Exit(1)
	}
}

func startIngestAdapters(ctx context.Context, cfg config.Config, dispatcher *dispatch.Dispatcher, logger *log.Logger) {
	if cfg.Ingest.Kafka.Enabled {
		kcfg := kafka.Config{
			Enabled:     true,
			Brokers:     cfg.Ingest.Kafka.Brokers,
			Topics:      cfg.Ingest.Kafka.Topics,
			GroupID:     cfg.Ingest.Kafka.GroupID,
			ResultTopic: cfg.Ingest.Kafka.ResultTopic,
			WorkerCount: cfg.Ingest.Kafka.WorkerCount,
		}
		adapter, err := kafka.NewAdapter(kcfg, dispatcher)
		if err != nil {
			logger.Printf("kafka adapter disabled, construction failed: %v", err)
		} else {
			go func() {
				if err := adapter.Start(ctx); err != nil && ctx.Err() == nil {
					logger.Printf("kafka adapter exited: %v", err)
				}
			}()
		}
	}

	if cfg.Ingest.RabbitMQ.Enabled {
		rcfg := rabbitmq.Config{
			Enabled:       true,
			URL:           cfg.Ingest.RabbitMQ.URL,
			Exchange:      cfg.Ingest.RabbitMQ.Exchange,
			Queue:         cfg.Ingest.RabbitMQ.Queue,
			PrefetchCount: 10,
			Workers:       maxInt(cfg.Ingest.RabbitMQ.WorkerCount, 1),
			DeliveryQueue: 256,
			ConfirmWait:   2 * time.Second,
		}
		adapter, err := rabbitmq.NewAdapter(rcfg, dispatcher)
		if err != nil {
			logger.Printf("rabbitmq adapter disabled, construction failed: %v", err)
			return
		}
		if err := adapter.Start(ctx); err != nil {
			logger.Printf("rabbitmq adapter start failed: %v", err)
			return
		}
		go func() {
			<-ctx.Done()
			_ = adapter.Close()
		}()
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
