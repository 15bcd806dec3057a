package dispatch

import (
	"encoding/json"
	"log"
	"time"

	"telecomrouter/internal/correlate"
	"telecomrouter/internal/ipcqueue"
	"telecomrouter/internal/router"
	"telecomrouter/internal/wire"
)

const (
	DefaultMaxPending     = 100_000
	DefaultSendRetries    = 1_000
	DefaultSendRetryDelay = 200 * time.Microsecond
	DefaultWaitDeadline   = 500 * time.Millisecond
)

// Sink is the destination a worker delivers a response line to: the
// connection's outbound queue. It is implemented by internal/connio so
// this package never touches connection memory directly.
type Sink interface {
	DeliverLine(payload []byte)
}

// Job is one parsed request line awaiting dispatch to the engine. Fields
// holds the full decoded client request (as returned by router.ParseLine)
// so any fields beyond msisdn/op are forwarded to the Engine verbatim; it
// is nil for jobs that never originated from a raw client line.
type Job struct {
	MSISDN string
	Op     string
	Fields map[string]json.RawMessage
	Sink   Sink
}

// Dispatcher runs the per-job admit/register/send/wait/deliver protocol
// against a correlation table and a request IPC queue.
type Dispatcher struct {
	Table          *correlate.Table
	RequestQueue   *ipcqueue.Queue
	MaxPending     int
	SendRetries    int
	SendRetryDelay time.Duration
	WaitDeadline   time.Duration
	Logger         *log.Logger
}

// NewDispatcher builds a Dispatcher with the default tunables.
func NewDispatcher(table *correlate.Table, reqQueue *ipcqueue.Queue, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		Table:          table,
		RequestQueue:   reqQueue,
		MaxPending:     DefaultMaxPending,
		SendRetries:    DefaultSendRetries,
		SendRetryDelay: DefaultSendRetryDelay,
		WaitDeadline:   DefaultWaitDeadline,
		Logger:         logger,
	}
}

// Dispatch runs the five-step protocol for a single job. It always ends by
// delivering exactly one line to job.Sink.
func (d *Dispatcher) Dispatch(job Job) {
	// Step 1: admission.
	if d.Table.Size() > d.MaxPending {
		d.deliver(job, router.Busy(job.Op, job.MSISDN))
		return
	}

	// Step 2: register.
	rv := correlate.NewRendezvous()
	corrID := d.Table.AllocateAndInsert(rv)

	// Step 3: send with bounded retry.
	env := wire.Pack(wire.TypeRequest, corrID, requestPayloadBytes(job))
	if !d.sendWithRetry(env) {
		// The request never reached the engine, so complete the rendezvous
		// locally and go straight to delivery rather than also waiting on
		// one that can never be satisfied.
		rv.Complete(nil)
		d.Table.Take(corrID)
		d.deliver(job, router.MQFull(corrID, job.Op, job.MSISDN))
		return
	}

	// Step 4: wait.
	select {
	case <-rv.Done():
		// demultiplexer won the race; it already removed the entry.
	case <-time.After(d.WaitDeadline):
		if _, ok := d.Table.Take(corrID); ok {
			rv.Complete(nil)
		} else {
			// The demultiplexer took the entry first and is completing it.
			<-rv.Done()
		}
	}

	// Step 5: deliver.
	payload := rv.Response()
	if payload == nil {
		d.deliver(job, router.Timeout(corrID, job.Op, job.MSISDN))
		return
	}
	resp, ok := router.ParseEngineReply(corrID, payload)
	if !ok {
		d.deliver(job, router.Malformed(corrID, job.Op, job.MSISDN))
		return
	}
	d.deliver(job, resp)
}

func (d *Dispatcher) sendWithRetry(env []byte) bool {
	for attempt := 0; attempt < d.SendRetries; attempt++ {
		err := d.RequestQueue.Send(env)
		if err == nil {
			return true
		}
		if err != ipcqueue.ErrWouldBlock {
			d.Logger.Printf("dispatch: fatal send error: %v", err)
			return false
		}
		time.Sleep(d.SendRetryDelay)
	}
	return false
}

func requestPayloadBytes(job Job) []byte {
	return router.BuildEngineRequest(job.Fields, job.MSISDN, job.Op)
}

func (d *Dispatcher) deliver(job Job, resp router.Response) {
	job.Sink.DeliverLine(resp.Marshal())
}
