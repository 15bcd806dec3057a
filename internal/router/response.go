package router

import "encoding/json"

// Response is the client-visible JSON object written back on the TCP
// connection for every request line.
type Response struct {
	CorrID       uint64 `json:"corr_id,omitempty"`
	Op           string `json:"op"`
	MSISDN       string `json:"msisdn"`
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
	IMSI         string `json:"imsi,omitempty"`
	ServingMSC   string `json:"serving_msc,omitempty"`
	ServingVLR   string `json:"serving_vlr,omitempty"`
	RouteGroup   string `json:"route_group,omitempty"`
	FlxLatencyMs int64  `json:"flx_latency_ms,omitempty"`
}

// Marshal renders r as a single JSON line (without a trailing newline;
// the connection layer appends that when framing the outbound line).
func (r Response) Marshal() []byte {
	b, _ := json.Marshal(r)
	return b
}

// Busy is the router's own synthesized response on correlation-table
// saturation.
func Busy(op, msisdn string) Response {
	return Response{Op: op, MSISDN: msisdn, Status: "BUSY", Reason: "overload"}
}

// MQFull is the router's own synthesized response when the request queue
// stays full past the send-retry budget.
func MQFull(corrID uint64, op, msisdn string) Response {
	return Response{CorrID: corrID, Op: op, MSISDN: msisdn, Status: "ERROR", Reason: "mq_full"}
}

// Timeout is the router's own synthesized response on a rendezvous
// deadline expiring with no engine reply.
func Timeout(corrID uint64, op, msisdn string) Response {
	return Response{CorrID: corrID, Op: op, MSISDN: msisdn, Status: "TIMEOUT", Reason: "flx_no_response"}
}

// Malformed is returned when the Engine's own reply bytes fail to parse as
// a Response; this should not happen against a compliant Engine peer.
func Malformed(corrID uint64, op, msisdn string) Response {
	return Response{CorrID: corrID, Op: op, MSISDN: msisdn, Status: "ERROR", Reason: "malformed_engine_response"}
}

// ParseEngineReply decodes the Engine's raw response payload and stamps
// corrID onto it, overriding whatever the Engine sent (the envelope's
// corr_id is the router's source of truth, not the payload's).
func ParseEngineReply(corrID uint64, payload []byte) (Response, bool) {
	var r Response
	if err := json.Unmarshal(payload, &r); err != nil {
		return Response{}, false
	}
	r.CorrID = corrID
	return r, true
}
