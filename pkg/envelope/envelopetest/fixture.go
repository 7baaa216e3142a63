// Package envelopetest provides a known-good envelope and the anchor
// snapshot it verifies against.
package envelopetest

import (
	"encoding/json"

	"github.com/Mindburn-Labs/pcclite/pkg/anchors"
	"github.com/Mindburn-Labs/pcclite/pkg/envelope"
	"github.com/Mindburn-Labs/pcclite/pkg/tcc"
)

const (
	// ProposalDigest is sha256("proposal-001").
	ProposalDigest = "60d38947009b8bfea6210e1e810d83c3caff846f444f60b8dc6cbe8ec6cb38ff"
	// ConstitutionHash is sha256("constitution-v1").
	ConstitutionHash = "749322818ed2d364c0b9b6b0b77794d25550227eb206022293113a667decca98"
	// EnergyPolicyHash is sha256("energy-policy-v1").
	EnergyPolicyHash = "d051c92ab42d659b58cd17fb48184342a680eabfcded4a2a62eccc837ce5417a"

	// Witness is the SHA-256 witness of Valid().
	Witness = "9a1584da347d032fa2555f1cf0440998312cd9447ac5e66bb88338c83ab8a489"
	// WitnessBLAKE2b is the BLAKE2b-256 witness of Valid().
	WitnessBLAKE2b = "38c1d225789c7062736f0c955a1fb1bb8cebbb082315859169cfb6254caf28c2"
)

// RequiredGateIDs are the gate ids attested by the fixture's GateVector.
var RequiredGateIDs = []string{"G_TOPO", "G_TARGETREF", "G_ANCHOR_CONST", "G_ANCHOR_ENERGY", "G_BUDGET"}

// Valid returns a fresh envelope that passes every gate against Anchors().
func Valid() *envelope.Envelope {
	outputs := make([]tcc.GateOutput, 0, len(RequiredGateIDs))
	for _, id := range RequiredGateIDs {
		outputs = append(outputs, tcc.Out(id, 0))
	}
	return &envelope.Envelope{
		ProposalDigest: ProposalDigest,
		ActionClass:    envelope.ClassMid,
		EnergyEstUJ:    1200,
		TCC: tcc.TCC{
			Nodes: []tcc.Node{
				{ID: "root", Kind: "Root"},
				{ID: "anchor", Kind: tcc.KindIntentAnchor, Payload: mustJSON(tcc.IntentAnchorPayload{
					HConstitution: ConstitutionHash,
					HEnergyPolicy: EnergyPolicyHash,
				})},
				{ID: "target", Kind: tcc.KindTargetRef, Payload: mustJSON(tcc.TargetRefPayload{TargetDigest: ProposalDigest})},
				{ID: "gates", Kind: tcc.KindGateVector, Payload: mustJSON(tcc.GateVectorPayload{GateOutputs: outputs})},
				{ID: "receipt", Kind: "Receipt"},
			},
			Edges: []tcc.Edge{
				{From: "root", To: "anchor"},
				{From: "anchor", To: "target"},
				{From: "target", To: "gates"},
				{From: "gates", To: "receipt"},
			},
			RootID:    "root",
			ReceiptID: "receipt",
			Epoch:     json.RawMessage(`7`),
			Nonce:     json.RawMessage(`"n-0001"`),
		},
		WitnessHash: Witness,
	}
}

// Anchors returns the snapshot Valid() is bound to.
func Anchors() *anchors.Snapshot {
	return &anchors.Snapshot{
		ConstitutionHashCurrent: ConstitutionHash,
		EnergyPolicyHashCurrent: EnergyPolicyHash,
		EnergyBudgetUJ: map[string]int64{
			"FAST":     500,
			"MID":      5000,
			"HEAVY":    50000,
			"EXTERNAL": 2000,
		},
	}
}

// JSON encodes e, panicking on failure.
func JSON(e *envelope.Envelope) []byte {
	return mustJSON(e)
}

// SetPayload replaces the payload of node id.
func SetPayload(e *envelope.Envelope, id string, v any) {
	for i := range e.TCC.Nodes {
		if e.TCC.Nodes[i].ID == id {
			e.TCC.Nodes[i].Payload = mustJSON(v)
		}
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
