// Package tcc models the trust-chain certificate (TCC) proof DAG submitted
// with an envelope: typed nodes, directed support edges, and the designated
// root and receipt nodes.
package tcc

import (
	"encoding/json"
	"fmt"
	"sort"
)

// NodeKind enumerates the node variants the gates look for.
// Any other kind is a plain intermediate node.
type NodeKind string

const (
	KindIntentAnchor    NodeKind = "IntentAnchor"
	KindTargetRef       NodeKind = "TargetRef"
	KindGateAttestation NodeKind = "GateAttestation"
	// KindGateVector carries several gate outputs in one node.
	KindGateVector NodeKind = "GateVector"
)

// Node is a single certificate or claim in the proof DAG.
type Node struct {
	ID      string          `json:"id"`
	Kind    NodeKind        `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodePayload unmarshals the node payload into v.
func (n Node) DecodePayload(v any) error {
	if len(n.Payload) == 0 {
		return fmt.Errorf("node %q: empty payload", n.ID)
	}
	if err := json.Unmarshal(n.Payload, v); err != nil {
		return fmt.Errorf("node %q: payload: %w", n.ID, err)
	}
	return nil
}

// Edge means From supports/precedes To.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// TCC is the proof structure carried by an envelope.
type TCC struct {
	Nodes     []Node `json:"nodes"`
	Edges     []Edge `json:"edges"`
	RootID    string `json:"root"`
	ReceiptID string `json:"receipt"`

	// Epoch and Nonce are opaque to the gates and echoed into verdicts.
	Epoch json.RawMessage `json:"epoch,omitempty"`
	Nonce json.RawMessage `json:"nonce,omitempty"`
}

// Canonical returns a copy with set-like collections in a total order:
// nodes by id, edges by (from, to) with duplicates collapsed.
func (t TCC) Canonical() TCC {
	out := t
	out.Nodes = append([]Node(nil), t.Nodes...)
	sort.SliceStable(out.Nodes, func(i, j int) bool { return out.Nodes[i].ID < out.Nodes[j].ID })

	edges := append([]Edge(nil), t.Edges...)
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	out.Edges = edges[:0:0]
	for i, e := range edges {
		if i > 0 && e == edges[i-1] {
			continue
		}
		out.Edges = append(out.Edges, e)
	}
	if out.Nodes == nil {
		out.Nodes = []Node{}
	}
	if out.Edges == nil {
		out.Edges = []Edge{}
	}
	return out
}
