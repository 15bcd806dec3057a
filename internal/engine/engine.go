// Package engine implements the Engine peer: it drains the request IPC
// queue, invokes the subscriber-lookup and routing-policy collaborators,
// and emits a correlated response.
package engine

import (
	"context"
	"log"
	"time"

	"telecomrouter/internal/ipcqueue"
	"telecomrouter/internal/policy"
	"telecomrouter/internal/router"
	"telecomrouter/internal/subscriber"
	"telecomrouter/internal/wire"
)

// Engine drains RequestQueue and replies on ResponseQueue.
type Engine struct {
	RequestQueue  *ipcqueue.Queue
	ResponseQueue *ipcqueue.Queue
	Store         subscriber.Store
	Auditor       subscriber.Auditor
	Logger        *log.Logger

	now func() time.Time
}

// New constructs an Engine. store must not be nil. If store also
// implements subscriber.Auditor, every reply is additionally recorded to
// its audit trail.
func New(reqQueue, respQueue *ipcqueue.Queue, store subscriber.Store, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	e := &Engine{RequestQueue: reqQueue, ResponseQueue: respQueue, Store: store, Logger: logger, now: time.Now}
	if auditor, ok := store.(subscriber.Auditor); ok {
		e.Auditor = auditor
	}
	return e
}

// Run blocks, processing one request envelope at a time, until ctx is
// cancelled or the request queue is closed.
func (e *Engine) Run(ctx context.Context) error {
	// Closing the request queue on cancellation wakes a blocked Recv.
	stop := context.AfterFunc(ctx, func() { _ = e.RequestQueue.Close() })
	defer stop()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		envelope, err := e.RequestQueue.Recv(true)
		if err != nil {
			if err == ipcqueue.ErrClosed {
				return nil
			}
			e.Logger.Printf("engine: recv error: %v", err)
			continue
		}
		e.handle(ctx, envelope)
	}
}

func (e *Engine) handle(ctx context.Context, envelope []byte) {
	header, payload, err := wire.Unpack(envelope)
	if err != nil {
		e.Logger.Printf("engine: discarding malformed envelope: %v", err)
		return
	}
	if header.Type != wire.TypeRequest {
		return
	}

	start := e.now()
	msisdn, op, _, ok := router.ParseLine(payload)
	if !ok {
		resp := router.Malformed(header.CorrID, op, msisdn)
		e.recordAudit(ctx, resp, e.now().Sub(start).Milliseconds())
		e.reply(header.CorrID, resp)
		return
	}

	rec, found, err := e.Store.Lookup(ctx, msisdn)
	if err != nil {
		e.Logger.Printf("engine: lookup error for %s: %v", msisdn, err)
		resp := router.Response{CorrID: header.CorrID, Op: op, MSISDN: msisdn, Status: "ERROR", Reason: "lookup_failed"}
		e.recordAudit(ctx, resp, e.now().Sub(start).Milliseconds())
		e.reply(header.CorrID, resp)
		return
	}

	latency := e.now().Sub(start).Milliseconds()
	if !found {
		resp := router.Response{CorrID: header.CorrID, Op: op, MSISDN: msisdn, Status: "NOT_FOUND", Reason: "subscriber_not_in_alr", FlxLatencyMs: latency}
		e.recordAudit(ctx, resp, latency)
		e.reply(header.CorrID, resp)
		return
	}

	resp := router.Response{
		CorrID:       header.CorrID,
		Op:           op,
		MSISDN:       msisdn,
		Status:       "OK",
		IMSI:         rec.IMSI,
		ServingMSC:   rec.ServingSwitch,
		ServingVLR:   rec.ServingRegister,
		RouteGroup:   policy.RouteGroup(rec.RegionTag),
		FlxLatencyMs: latency,
	}
	e.recordAudit(ctx, resp, latency)
	e.reply(header.CorrID, resp)
}

// recordAudit appends resp to the Store's audit trail when it implements
// subscriber.Auditor. A failure here is logged, not propagated: it must
// never block or fail the reply already computed for the client.
func (e *Engine) recordAudit(ctx context.Context, resp router.Response, latencyMs int64) {
	if e.Auditor == nil {
		return
	}
	entry := subscriber.AuditEntry{
		CorrID:     resp.CorrID,
		MSISDN:     resp.MSISDN,
		Op:         resp.Op,
		Status:     resp.Status,
		RouteGroup: resp.RouteGroup,
		LatencyMS:  latencyMs,
	}
	if err := e.Auditor.RecordAudit(ctx, entry); err != nil {
		e.Logger.Printf("engine: record audit for corr_id=%d: %v", resp.CorrID, err)
	}
}

func (e *Engine) reply(corrID uint64, resp router.Response) {
	env := wire.Pack(wire.TypeResponse, corrID, resp.Marshal())
	if err := e.ResponseQueue.Send(env); err != nil {
		e.Logger.Printf("engine: send error for corr_id=%d: %v", corrID, err)
	}
}
