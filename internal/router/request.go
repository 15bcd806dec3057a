// Package router extracts msisdn and op from a request line for the
// Router's own use, while keeping the full decoded line so any other
// client fields are forwarded to the Engine verbatim, unvalidated.
package router

import "encoding/json"

const DefaultOp = "route"

type requestFields struct {
	MSISDN string `json:"msisdn"`
	Op     string `json:"op"`
}

// ParseLine extracts msisdn and op from a request line, along with the
// full decoded object in fields so BuildEngineRequest can forward any
// other client fields verbatim to the Engine. op defaults to "route" when
// absent. ok is false when the line is not a JSON object or msisdn is
// missing/empty.
func ParseLine(line []byte) (msisdn, op string, fields map[string]json.RawMessage, ok bool) {
	var f requestFields
	if err := json.Unmarshal(line, &f); err != nil {
		return "", "", nil, false
	}
	if f.MSISDN == "" {
		return "", "", nil, false
	}
	if err := json.Unmarshal(line, &fields); err != nil {
		return "", "", nil, false
	}
	op = f.Op
	if op == "" {
		op = DefaultOp
	}
	return f.MSISDN, op, fields, true
}

// BuildEngineRequest re-marshals fields, the full decoded client request as
// returned by ParseLine, with msisdn and op set explicitly, forwarding any
// other client fields verbatim to the Engine. fields may be nil, in which
// case a minimal {msisdn, op} object is produced.
func BuildEngineRequest(fields map[string]json.RawMessage, msisdn, op string) []byte {
	out := make(map[string]json.RawMessage, len(fields)+2)
	for k, v := range fields {
		out[k] = v
	}
	out["msisdn"], _ = json.Marshal(msisdn)
	out["op"], _ = json.Marshal(op)
	b, _ := json.Marshal(out)
	return b
}
