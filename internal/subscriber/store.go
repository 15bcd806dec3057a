// Package subscriber defines the subscriber directory lookup contract:
// lookup(msisdn) -> record | none.
package subscriber

import "context"

// Record is the subscriber record returned by a successful lookup. All
// fields are opaque strings.
type Record struct {
	IMSI            string
	ServingSwitch   string
	ServingRegister string
	RegionTag       string
}

// Store resolves an MSISDN to a subscriber record.
type Store interface {
	// Lookup returns the record for msisdn, or ok=false if the MSISDN is
	// not in the directory. Record-not-found is not an error.
	Lookup(ctx context.Context, msisdn string) (rec Record, ok bool, err error)
}

// AuditEntry is one completed transaction recorded to a durable audit
// trail by an Auditor-capable Store.
type AuditEntry struct {
	CorrID     uint64
	MSISDN     string
	Op         string
	Status     string
	RouteGroup string
	LatencyMS  int64
}

// Auditor is implemented by Store backends that keep a durable,
// append-only record of every completed transaction. The Engine
// type-asserts its Store against this interface and records one entry
// per reply when it is satisfied.
type Auditor interface {
	RecordAudit(ctx context.Context, entry AuditEntry) error
}
