// Package rabbitmq is the provisioning-notification ingest adapter: it
// feeds subscriber-record-changed notifications, on its own worker
// goroutines, through the same dispatch.Dispatcher / correlation-table /
// IPC-queue fabric a TCP line would use, confirming the new record
// resolves before acking.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"telecomrouter/internal/dispatch"
	"telecomrouter/internal/router"

	"github.com/rabbitmq/amqp091-go"
)

// Config configures the provisioning-notification consumer.
type Config struct {
	Enabled       bool
	URL           string
	Exchange      string
	Queue         string
	RoutingKeys   []string
	ConsumerTag   string
	PrefetchCount int
	Workers       int
	DeliveryQueue int
	ConfirmWait   time.Duration
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("rabbitmq url is required")
	}
	if c.Queue == "" {
		return fmt.Errorf("rabbitmq queue is required")
	}
	if c.Exchange == "" {
		return fmt.Errorf("rabbitmq exchange is required")
	}
	if c.PrefetchCount < 1 {
		return fmt.Errorf("rabbitmq prefetch_count must be >= 1")
	}
	if c.Workers < 1 {
		return fmt.Errorf("rabbitmq workers must be >= 1")
	}
	if c.DeliveryQueue < 1 {
		return fmt.Errorf("rabbitmq delivery_queue must be >= 1")
	}
	return nil
}

// Dispatch submits a route-lookup job and is satisfied by *dispatch.Dispatcher.
type Dispatch interface {
	Dispatch(dispatch.Job)
}

// Adapter consumes provisioning notifications and confirms each changed
// record resolves through the routing fabric before acking.
type Adapter struct {
	cfg        Config
	dispatcher Dispatch

	conn    *amqp091.Connection
	ch      *amqp091.Channel
	deliver <-chan amqp091.Delivery

	ops      chan amqp091.Delivery
	closed   chan struct{}
	closeErr atomic.Value
	wg       sync.WaitGroup
}

type notification struct {
	MSISDN string `json:"msisdn"`
}

// sinkFn adapts a response line into a channel handoff, implementing
// dispatch.Sink without touching connection memory.
type sinkFn struct {
	ch chan []byte
}

func (s sinkFn) DeliverLine(payload []byte) {
	select {
	case s.ch <- payload:
	default:
	}
}

func NewAdapter(cfg Config, dispatcher Dispatch) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if cfg.ConsumerTag == "" {
		cfg.ConsumerTag = "trmq-provisioning"
	}
	if cfg.ConfirmWait <= 0 {
		cfg.ConfirmWait = 2 * time.Second
	}
	return &Adapter{
		cfg:        cfg,
		dispatcher: dispatcher,
		closed:     make(chan struct{}),
		ops:        make(chan amqp091.Delivery, cfg.DeliveryQueue),
	}, nil
}

func (a *Adapter) Start(ctx context.Context) error {
	conn, err := amqp091.Dial(a.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if err := ch.Qos(a.cfg.PrefetchCount, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("set prefetch: %w", err)
	}
	if err := ch.ExchangeDeclare(a.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(a.cfg.Queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare queue: %w", err)
	}
	routingKeys := a.cfg.RoutingKeys
	if len(routingKeys) == 0 {
		routingKeys = []string{"subscriber.record.changed"}
	}
	for _, key := range routingKeys {
		if err := ch.QueueBind(a.cfg.Queue, key, a.cfg.Exchange, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return fmt.Errorf("bind queue key=%s: %w", key, err)
		}
	}
	deliveries, err := ch.Consume(a.cfg.Queue, a.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("consume queue: %w", err)
	}
	a.conn, a.ch, a.deliver = conn, ch, deliveries

	a.wg.Add(1)
	go a.readLoop(ctx)
	for i := 0; i < a.cfg.Workers; i++ {
		a.wg.Add(1)
		go a.workerLoop(ctx)
	}
	return nil
}

func (a *Adapter) Close() error {
	select {
	case <-a.closed:
		if v := a.closeErr.Load(); v != nil {
			return v.(error)
		}
		return nil
	default:
		close(a.closed)
	}
	if a.ch != nil {
		_ = a.ch.Cancel(a.cfg.ConsumerTag, false)
	}
	close(a.ops)
	a.wg.Wait()
	var errs []error
	if a.ch != nil {
		if err := a.ch.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	a.closeErr.Store(err)
	return err
}

func (a *Adapter) readLoop(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.closed:
			return
		case d, ok := <-a.deliver:
			if !ok {
				return
			}
			select {
			case a.ops <- d:
			case <-ctx.Done():
				return
			case <-a.closed:
				return
			}
		}
	}
}

func (a *Adapter) workerLoop(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.closed:
			return
		case d, ok := <-a.ops:
			if !ok {
				return
			}
			a.processDelivery(d)
		}
	}
}

func (a *Adapter) processDelivery(d amqp091.Delivery) {
	var n notification
	if err := json.Unmarshal(d.Body, &n); err != nil || n.MSISDN == "" {
		_ = d.Nack(false, false)
		return
	}

	respCh := make(chan []byte, 1)
	a.dispatcher.Dispatch(dispatch.Job{MSISDN: n.MSISDN, Op: router.DefaultOp, Sink: sinkFn{ch: respCh}})

	select {
	case payload := <-respCh:
		resp, ok := router.ParseEngineReply(0, payload)
		if !ok {
			_ = d.Nack(false, true)
			return
		}
		switch resp.Status {
		case "OK", "NOT_FOUND":
			_ = d.Ack(false)
		default:
			_ = d.Nack(false, isRetryableStatus(resp.Status))
		}
	case <-time.After(a.cfg.ConfirmWait):
		_ = d.Nack(false, true)
	}
}

func isRetryableStatus(status string) bool {
	switch status {
	case "BUSY", "ERROR", "TIMEOUT":
		return true
	default:
		return false
	}
}
