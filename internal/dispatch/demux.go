package dispatch

import (
	"log"

	"telecomrouter/internal/correlate"
	"telecomrouter/internal/ipcqueue"
	"telecomrouter/internal/wire"
)

// Demultiplexer is the single task that drains the response IPC queue and
// completes rendezvous objects by corr_id.
type Demultiplexer struct {
	Table         *correlate.Table
	ResponseQueue *ipcqueue.Queue
	Logger        *log.Logger

	done chan struct{}
}

// NewDemultiplexer constructs a Demultiplexer bound to table and respQueue.
func NewDemultiplexer(table *correlate.Table, respQueue *ipcqueue.Queue, logger *log.Logger) *Demultiplexer {
	if logger == nil {
		logger = log.Default()
	}
	return &Demultiplexer{Table: table, ResponseQueue: respQueue, Logger: logger, done: make(chan struct{})}
}

// Run drains the response queue until it is closed. It blocks on
// ipcqueue.Recv(true) rather than polling on a fixed interval.
func (d *Demultiplexer) Run() {
	defer close(d.done)
	for {
		envelope, err := d.ResponseQueue.Recv(true)
		if err != nil {
			if err == ipcqueue.ErrClosed {
				return
			}
			d.Logger.Printf("demux: fatal recv error: %v", err)
			return
		}
		d.handle(envelope)
	}
}

// Done is closed once Run has returned.
func (d *Demultiplexer) Done() <-chan struct{} {
	return d.done
}

func (d *Demultiplexer) handle(envelope []byte) {
	header, payload, err := wire.Unpack(envelope)
	if err != nil {
		d.Logger.Printf("demux: discarding malformed envelope: %v", err)
		return
	}
	if header.Type != wire.TypeResponse {
		return
	}
	rv, ok := d.Table.Take(header.CorrID)
	if !ok {
		// Worker already timed out and took ownership; discard.
		return
	}
	rv.Complete(payload)
}
