package security

import (
	"time"

	"github.com/Fenveireth/lightspark/internal/shared/id"
)

// EventKind tags the records on the security decision stream.
type EventKind string

const (
	EventEvaluation       EventKind = "evaluation"
	EventHeaderEvaluation EventKind = "header-evaluation"
	EventPolicyLoad       EventKind = "policy-load"
	EventSandboxChange    EventKind = "sandbox-change"
)

// Event is one record on the security decision stream: an evaluation
// verdict, a policy-load outcome or a sandbox reclassification.
type Event struct {
	ID          id.EventID `json:"id"`
	Time        time.Time  `json:"time"`
	Kind        EventKind  `json:"kind"`
	Origin      string     `json:"origin,omitempty"`
	Target      string     `json:"target,omitempty"`
	Header      string     `json:"header,omitempty"`
	Verdict     Verdict    `json:"verdict,omitempty"`
	PolicyURL   string     `json:"policy_url,omitempty"`
	Outcome     string     `json:"outcome,omitempty"`
	Digest      string     `json:"digest,omitempty"`
	ContentType string     `json:"content_type,omitempty"`
	Sandbox     string     `json:"sandbox,omitempty"`
}

// EventSink receives security events. Publish must not block; a slow
// consumer drops records rather than stalling evaluation.
type EventSink interface {
	Publish(Event)
}
