// Package replication carries authority decisions to every node as an
// ordered stream of commands, and carries replica observations back to the
// authority as proposals.
package replication

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotAuthority is returned when a replica tries to broadcast.
	ErrNotAuthority = errors.New("replication: node is not the authority")
	// ErrClosed is returned after Stop.
	ErrClosed = errors.New("replication: channel closed")
)

// Kind names a replicated command.
type Kind string

// Command is one authoritative decision. Seq is assigned by the authority and
// is strictly increasing within a session.
type Command struct {
	Seq     uint64          `json:"seq"`
	Session string          `json:"session"`
	Origin  string          `json:"origin"`
	At      int64           `json:"at_ms"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the payload into v.
func (c Command) Decode(v any) error {
	if len(c.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(c.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", c.Kind, err)
	}
	return nil
}

// ProposalKind names an observation sent to the authority.
type ProposalKind string

// Proposal is a replica-observed event the authority may act on.
type Proposal struct {
	From    string          `json:"from"`
	Session string          `json:"session"`
	Kind    ProposalKind    `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the payload into v.
func (p Proposal) Decode(v any) error {
	if len(p.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(p.Payload, v); err != nil {
		return fmt.Errorf("decode %s proposal: %w", p.Kind, err)
	}
	return nil
}

func encode(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// CommandTopic is the pub/sub channel carrying commands for a session.
func CommandTopic(session string) string { return "corrosion:" + session + ":cmd" }

// ProposalTopic is the pub/sub channel carrying proposals for a session.
func ProposalTopic(session string) string { return "corrosion:" + session + ":propose" }

// HistoryKey is the list holding the most recent commands for backfill.
func HistoryKey(session string) string { return "corrosion:" + session + ":log" }
