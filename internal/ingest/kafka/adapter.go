// Package kafka is the batch route-reconciliation ingest adapter: it
// reads JSON-encoded {"msisdn":"...","op":"..."} records from a
// reconciliation topic and resolves each on its own worker goroutines
// through the same dispatch.Dispatcher / correlation-table / IPC-queue
// fabric a TCP line would use, publishing
// the JSON response to a result topic instead of writing to a socket.
package kafka

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"telecomrouter/internal/dispatch"
	"telecomrouter/internal/router"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Dispatch submits a route-lookup job and is satisfied by *dispatch.Dispatcher.
type Dispatch interface {
	Dispatch(dispatch.Job)
}

type Config struct {
	Enabled        bool
	Brokers        []string
	Topics         []string
	GroupID        string
	ClientID       string
	ResultTopic    string
	WorkerCount    int
	MaxPollRecords int
	QueueCapacity  int
	Auth           AuthConfig
	Fetch          FetchConfig
}

type AuthConfig struct {
	TLS TLSConfig
}

type TLSConfig struct {
	Enabled            bool
	InsecureSkipVerify bool
}

type FetchConfig struct {
	MinBytes int32
	MaxBytes int32
	MaxWait  time.Duration
}

type recordRequest struct {
	MSISDN string `json:"msisdn"`
	Op     string `json:"op"`
}

type Adapter struct {
	cfg Config

	client     *kgo.Client
	dispatcher Dispatch
	records    chan *kgo.Record
	acks       chan recordAck
	closed     atomic.Bool

	pauseMux sync.Mutex
	paused   bool

	markCommit   func(*kgo.Record)
	commitMarked func(context.Context) error
	pauseFetch   func(...string)
	resumeFetch  func(...string)
	produce      func(context.Context, string, []byte)
}

type recordAck struct {
	record *kgo.Record
	err    error
}

func (c *Config) withDefaults() {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 4
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 1024
	}
	if c.MaxPollRecords <= 0 {
		c.MaxPollRecords = 500
	}
	if c.ResultTopic == "" {
		c.ResultTopic = "route-reconciliation-results"
	}
	if c.Fetch.MaxWait <= 0 {
		c.Fetch.MaxWait = time.Second
	}
	if c.Fetch.MinBytes <= 0 {
		c.Fetch.MinBytes = 1
	}
	if c.Fetch.MaxBytes <= 0 {
		c.Fetch.MaxBytes = 50 << 20
	}
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Brokers) == 0 {
		return errors.New("kafka.brokers is required")
	}
	if len(c.Topics) == 0 {
		return errors.New("kafka.topics is required")
	}
	if c.GroupID == "" {
		return errors.New("kafka.group_id is required")
	}
	return nil
}

func NewAdapter(cfg Config, dispatcher Dispatch, opts ...kgo.Opt) (*Adapter, error) {
	cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kopts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
		kgo.FetchMaxWait(cfg.Fetch.MaxWait),
		kgo.FetchMinBytes(cfg.Fetch.MinBytes),
		kgo.FetchMaxBytes(cfg.Fetch.MaxBytes),
	}
	if cfg.ClientID != "" {
		kopts = append(kopts, kgo.ClientID(cfg.ClientID))
	}
	if cfg.Auth.TLS.Enabled {
		kopts = append(kopts, kgo.DialTLSConfig(&tls.Config{InsecureSkipVerify: cfg.Auth.TLS.InsecureSkipVerify}))
	}
	kopts = append(kopts, opts...)

	cl, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("new kafka client: %w", err)
	}

	a := &Adapter{
		cfg:        cfg,
		client:     cl,
		dispatcher: dispatcher,
		records:    make(chan *kgo.Record, cfg.QueueCapacity),
		acks:       make(chan recordAck, cfg.QueueCapacity),
	}
	a.markCommit = func(r *kgo.Record) { cl.MarkCommitRecords(r) }
	a.commitMarked = func(ctx context.Context) error { return cl.CommitMarkedOffsets(ctx) }
	a.pauseFetch = func(topics ...string) { _ = cl.PauseFetchTopics(topics...) }
	a.resumeFetch = func(topics ...string) { cl.ResumeFetchTopics(topics...) }
	a.produce = func(ctx context.Context, topic string, value []byte) {
		cl.Produce(ctx, &kgo.Record{Topic: topic, Value: value}, nil)
	}
	return a, nil
}

func (a *Adapter) Start(ctx context.Context) error {
	defer a.client.Close()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.handleAcks(ctx)
	}()

	for i := 0; i < a.cfg.WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.runWorker(ctx)
		}()
	}

	for {
		if ctx.Err() != nil || a.closed.Load() {
			close(a.records)
			wg.Wait()
			return ctx.Err()
		}
		fetches := a.client.PollRecords(ctx, a.cfg.MaxPollRecords)
		if errs := fetches.Errors(); len(errs) > 0 {
			return errs[0].Err
		}
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			for _, rec := range p.Records {
				for {
					select {
					case a.records <- rec:
						a.maybeResume()
						goto next
					default:
						a.maybePause()
						time.Sleep(5 * time.Millisecond)
					}
				}
			next:
			}
		})
		a.client.AllowRebalance()
	}
}

func (a *Adapter) runWorker(ctx context.Context) {
	for rec := range a.records {
		resp, err := a.resolve(ctx, rec)
		if err != nil {
			a.acks <- recordAck{record: rec, err: err}
			continue
		}
		a.produce(ctx, a.cfg.ResultTopic, resp.Marshal())
		a.acks <- recordAck{record: rec, err: nil}
	}
}

func (a *Adapter) resolve(ctx context.Context, rec *kgo.Record) (router.Response, error) {
	var req recordRequest
	if err := json.Unmarshal(rec.Value, &req); err != nil {
		return router.Response{}, fmt.Errorf("unmarshal reconciliation record: %w", err)
	}
	if req.MSISDN == "" {
		return router.Response{}, errors.New("msisdn is required")
	}
	if req.Op == "" {
		req.Op = router.DefaultOp
	}
	respCh := make(chan []byte, 1)
	a.dispatcher.Dispatch(dispatch.Job{MSISDN: req.MSISDN, Op: req.Op, Sink: chanSink{ch: respCh}})
	select {
	case payload := <-respCh:
		resp, ok := router.ParseEngineReply(0, payload)
		if !ok {
			return router.Response{}, errors.New("malformed dispatcher response")
		}
		return resp, nil
	case <-ctx.Done():
		return router.Response{}, ctx.Err()
	}
}

type chanSink struct {
	ch chan []byte
}

func (s chanSink) DeliverLine(payload []byte) {
	select {
	case s.ch <- payload:
	default:
	}
}

func (a *Adapter) handleAcks(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ack := <-a.acks:
			if ack.record == nil {
				continue
			}
			if ack.err != nil {
				continue
			}
			a.markCommit(ack.record)
			_ = a.commitMarked(ctx)
		}
	}
}

func (a *Adapter) maybePause() {
	a.pauseMux.Lock()
	defer a.pauseMux.Unlock()
	if a.paused {
		return
	}
	if len(a.records) < cap(a.records) {
		return
	}
	a.pauseFetch(a.cfg.Topics...)
	a.paused = true
}

func (a *Adapter) maybeResume() {
	a.pauseMux.Lock()
	defer a.pauseMux.Unlock()
	if !a.paused {
		return
	}
	if len(a.records) > cap(a.records)/2 {
		return
	}
	a.resumeFetch(a.cfg.Topics...)
	a.paused = false
}
