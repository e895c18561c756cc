package domain

import (
	"context"
	"time"
)

// OutcomeKind tags the three outcome variants.
type OutcomeKind string

const (
	KindSuccess  OutcomeKind = "success"
	KindDegraded OutcomeKind = "degraded"
	KindFailure  OutcomeKind = "failure"
)

// Reason classifies why an outcome is not a clean success.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonConnectionFailed  Reason = "connection_failed"
	ReasonPartialResponse   Reason = "partial_response"
	ReasonProtocolMismatch  Reason = "protocol_mismatch"
	ReasonTransientLinkLoss Reason = "transient_link_loss"
	ReasonProtocolError     Reason = "protocol_error"
	ReasonTimeout           Reason = "timeout"
)

// Payload is what a probe learned: a protocol reply code (HTTP status, FTP or
// SMTP reply) and/or raw text (ping output, SMTP banner).
type Payload struct {
	StatusCode int    `json:"status_code,omitempty"`
	Output     string `json:"output,omitempty"`
}

type Outcome struct {
	Kind      OutcomeKind `json:"kind"`
	Reason    Reason      `json:"reason,omitempty"`
	Payload   Payload     `json:"payload"`
	Message   string      `json:"message,omitempty"`
	LatencyMS float64     `json:"latency_ms"`
}

func Success(p Payload) Outcome {
	return Outcome{Kind: KindSuccess, Payload: p}
}

func Degraded(p Payload, reason Reason, msg string) Outcome {
	return Outcome{Kind: KindDegraded, Reason: reason, Payload: p, Message: msg}
}

func Failure(reason Reason, msg string) Outcome {
	return Outcome{Kind: KindFailure, Reason: reason, Message: msg}
}

// WithPayload returns a copy of o carrying p.
func (o Outcome) WithPayload(p Payload) Outcome {
	o.Payload = p
	return o
}

// Status is the coarse service state an outcome implies.
type Status string

const (
	StatusOK    Status = "ok"
	StatusWarn  Status = "warn"
	StatusError Status = "error"
)

func (o Outcome) Status() Status {
	switch o.Kind {
	case KindSuccess:
		return StatusOK
	case KindDegraded:
		return StatusWarn
	default:
		return StatusError
	}
}

// Observation is one reported probe result.
type Observation struct {
	ServiceURI string      `json:"service_uri"`
	Type       ServiceType `json:"type"`
	ObservedAt time.Time   `json:"observed_at"`
	Outcome    Outcome     `json:"outcome"`
}

// ObservationSink receives exactly one Observation per completed or failed
// probe attempt. It owns state transitions and history.
type ObservationSink interface {
	Record(ctx context.Context, obs Observation) error
}
