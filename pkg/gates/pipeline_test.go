package gates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/pcclite/pkg/anchors"
	"github.com/Mindburn-Labs/pcclite/pkg/crypto"
	"github.com/Mindburn-Labs/pcclite/pkg/envelope"
	"github.com/Mindburn-Labs/pcclite/pkg/envelope/envelopetest"
	"github.com/Mindburn-Labs/pcclite/pkg/tcc"
)

func evaluate(t *testing.T, env *envelope.Envelope, snap *anchors.Snapshot) Outcome {
	t.Helper()
	return NewPipeline().Evaluate(NewInput(env, snap, crypto.Default(), tcc.DefaultLimits))
}

func reseal(t *testing.T, env *envelope.Envelope) *envelope.Envelope {
	t.Helper()
	require.NoError(t, envelope.Seal(env, crypto.Default()))
	return env
}

func TestPipeline_Scenarios(t *testing.T) {
	tests := []struct {
		name   string
		env    func(t *testing.T) *envelope.Envelope
		snap   func() *anchors.Snapshot
		gate   GateID
		reason ReasonCode
	}{
		{
			name: "valid envelope",
			env:  func(*testing.T) *envelope.Envelope { return envelopetest.Valid() },
		},
		{
			name: "targetref digest changed by one byte",
			env: func(t *testing.T) *envelope.Envelope {
				env := envelopetest.Valid()
				d := []byte(envelopetest.ProposalDigest)
				d[0] = '7'
				envelopetest.SetPayload(env, "target", tcc.TargetRefPayload{TargetDigest: string(d)})
				return reseal(t, env)
			},
			gate:   GateTargetRef,
			reason: ReasonInvalidTargetRef,
		},
		{
			name: "cycle in proof",
			env: func(t *testing.T) *envelope.Envelope {
				env := envelopetest.Valid()
				env.TCC.Edges = append(env.TCC.Edges, tcc.Edge{From: "receipt", To: "root"})
				return reseal(t, env)
			},
			gate:   GateTopology,
			reason: ReasonInvalidTopology,
		},
		{
			name: "stale constitution anchor",
			env:  func(*testing.T) *envelope.Envelope { return envelopetest.Valid() },
			snap: func() *anchors.Snapshot {
				s := envelopetest.Anchors()
				s.ConstitutionHashCurrent = "0000000000000000000000000000000000000000000000000000000000000000"
				return s
			},
			gate:   GateAnchorConst,
			reason: ReasonConstitutionAnchor,
		},
		{
			name: "budget exceeded",
			env: func(t *testing.T) *envelope.Envelope {
				env := envelopetest.Valid()
				env.EnergyEstUJ = 5001
				return reseal(t, env)
			},
			gate:   GateBudget,
			reason: ReasonBudgetExceeded,
		},
		{
			name: "stale witness",
			env: func(*testing.T) *envelope.Envelope {
				env := envelopetest.Valid()
				env.EnergyEstUJ = 1300
				return env
			},
			gate:   GateWitness,
			reason: ReasonWitnessMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := envelopetest.Anchors()
			if tt.snap != nil {
				snap = tt.snap()
			}
			out := evaluate(t, tt.env(t), snap)

			if tt.reason == "" {
				require.True(t, out.Passed, "unexpected failure at %s: %s", out.FailedGate, out.Detail)
				assert.Equal(t, Order(), out.GatesPassed)
				assert.Len(t, out.GatesPassed, 7)
				return
			}
			require.False(t, out.Passed)
			assert.Equal(t, tt.gate, out.FailedGate)
			assert.Equal(t, tt.reason, out.Reason)
			assert.True(t, out.Reason.Valid())
			assert.NotEmpty(t, out.Detail)
		})
	}
}

func TestPipeline_TopologyCheckedBeforeTargetRef(t *testing.T) {
	env := envelopetest.Valid()
	envelopetest.SetPayload(env, "target", tcc.TargetRefPayload{TargetDigest: "wrong"})
	env.TCC.Edges = append(env.TCC.Edges, tcc.Edge{From: "receipt", To: "root"})

	out := evaluate(t, env, envelopetest.Anchors())
	assert.Equal(t, ReasonInvalidTopology, out.Reason)
	assert.Empty(t, out.GatesPassed)
}

func TestPipeline_Topology(t *testing.T) {
	tests := map[string]func(e *envelope.Envelope){
		"receipt unreachable": func(e *envelope.Envelope) { e.TCC.Edges = e.TCC.Edges[:3] },
		"root undeclared":     func(e *envelope.Envelope) { e.TCC.RootID = "ghost" },
		"receipt undeclared":  func(e *envelope.Envelope) { e.TCC.ReceiptID = "ghost" },
		"self loop":           func(e *envelope.Envelope) { e.TCC.Edges = append(e.TCC.Edges, tcc.Edge{From: "gates", To: "gates"}) },
		"duplicate node id":   func(e *envelope.Envelope) { e.TCC.Nodes = append(e.TCC.Nodes, tcc.Node{ID: "root"}) },
		"dangling edge":       func(e *envelope.Envelope) { e.TCC.Edges = append(e.TCC.Edges, tcc.Edge{From: "root", To: "nowhere"}) },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			env := envelopetest.Valid()
			mutate(env)
			out := evaluate(t, reseal(t, env), envelopetest.Anchors())
			assert.Equal(t, GateTopology, out.FailedGate)
			assert.Equal(t, ReasonInvalidTopology, out.Reason)
		})
	}
}

func TestPipeline_OversizedProofRejectedAsTopology(t *testing.T) {
	env := envelopetest.Valid()
	in := NewInput(env, envelopetest.Anchors(), crypto.Default(), tcc.Limits{MaxNodes: 3, MaxEdges: 100})
	out := NewPipeline().Evaluate(in)
	assert.Equal(t, ReasonInvalidTopology, out.Reason)
	assert.Contains(t, out.Detail, "exceeds limit")
}

func TestPipeline_RootEqualsReceipt(t *testing.T) {
	env := envelopetest.Valid()
	env.TCC.ReceiptID = env.TCC.RootID
	out := evaluate(t, reseal(t, env), envelopetest.Anchors())
	assert.True(t, out.Passed, "a node reaches itself: %s", out.Detail)
}

func TestPipeline_TargetRefAmbiguityAndAbsence(t *testing.T) {
	env := envelopetest.Valid()
	env.TCC.Nodes = append(env.TCC.Nodes, tcc.Node{
		ID: "target2", Kind: tcc.KindTargetRef, Payload: []byte(`{"target_digest":"` + envelopetest.ProposalDigest + `"}`),
	})
	out := evaluate(t, reseal(t, env), envelopetest.Anchors())
	assert.Equal(t, ReasonInvalidTargetRef, out.Reason)
	assert.Equal(t, "TargetRef count=2", out.Detail)

	env = envelopetest.Valid()
	for i := range env.TCC.Nodes {
		if env.TCC.Nodes[i].ID == "target" {
			env.TCC.Nodes[i].Kind = "Note"
		}
	}
	out = evaluate(t, reseal(t, env), envelopetest.Anchors())
	assert.Equal(t, ReasonInvalidTargetRef, out.Reason)
	assert.Equal(t, "TargetRef count=0", out.Detail)
}

func TestPipeline_AnchorGates(t *testing.T) {
	t.Run("ambiguous intent anchor fails constitution gate", func(t *testing.T) {
		env := envelopetest.Valid()
		env.TCC.Nodes = append(env.TCC.Nodes, tcc.Node{ID: "anchor2", Kind: tcc.KindIntentAnchor,
			Payload: []byte(`{"h_constitution":"` + envelopetest.ConstitutionHash + `","h_energy_policy":"` + envelopetest.EnergyPolicyHash + `"}`)})
		out := evaluate(t, reseal(t, env), envelopetest.Anchors())
		assert.Equal(t, GateAnchorConst, out.FailedGate)
		assert.Equal(t, ReasonConstitutionAnchor, out.Reason)
	})

	t.Run("stale energy policy", func(t *testing.T) {
		snap := envelopetest.Anchors()
		snap.EnergyPolicyHashCurrent = "ffff"
		out := evaluate(t, envelopetest.Valid(), snap)
		assert.Equal(t, GateAnchorEnergy, out.FailedGate)
		assert.Equal(t, ReasonEnergyAnchor, out.Reason)
		assert.Len(t, out.GatesPassed, 3)
	})

	t.Run("empty snapshot never matches", func(t *testing.T) {
		env := envelopetest.Valid()
		envelopetest.SetPayload(env, "anchor", tcc.IntentAnchorPayload{})
		out := evaluate(t, reseal(t, env), anchors.Empty())
		assert.Equal(t, ReasonConstitutionAnchor, out.Reason)
	})

	t.Run("nil snapshot", func(t *testing.T) {
		out := evaluate(t, envelopetest.Valid(), nil)
		assert.Equal(t, ReasonConstitutionAnchor, out.Reason)
	})
}

func TestPipeline_Coverage(t *testing.T) {
	t.Run("missing gate in vector", func(t *testing.T) {
		env := envelopetest.Valid()
		envelopetest.SetPayload(env, "gates", tcc.GateVectorPayload{GateOutputs: []tcc.GateOutput{
			tcc.Out("G_TOPO", 0), tcc.Out("G_TARGETREF", 0), tcc.Out("G_ANCHOR_CONST", 0), tcc.Out("G_ANCHOR_ENERGY", 0),
			tcc.Out("G_BUDGET", 1),
		}})
		out := evaluate(t, reseal(t, env), envelopetest.Anchors())
		assert.Equal(t, ReasonMissingCoverage, out.Reason)
		assert.Equal(t, "missing=[G_BUDGET]", out.Detail)
	})

	t.Run("vector entries without output do not count", func(t *testing.T) {
		env := envelopetest.Valid()
		for i := range env.TCC.Nodes {
			if env.TCC.Nodes[i].ID == "gates" {
				env.TCC.Nodes[i].Payload = []byte(`{"gate_outputs":[{"gate_id":"G_TOPO"},{"gate_id":"G_TARGETREF"},` +
					`{"gate_id":"G_ANCHOR_CONST"},{"gate_id":"G_ANCHOR_ENERGY"},{"gate_id":"G_BUDGET"}]}`)
			}
		}
		out := evaluate(t, reseal(t, env), envelopetest.Anchors())
		assert.Equal(t, ReasonMissingCoverage, out.Reason)
		assert.Equal(t, "missing=[G_ANCHOR_CONST G_ANCHOR_ENERGY G_BUDGET G_TARGETREF G_TOPO]", out.Detail)
	})

	t.Run("vector entry with null output does not count", func(t *testing.T) {
		env := envelopetest.Valid()
		envelopetest.SetPayload(env, "gates", tcc.GateVectorPayload{GateOutputs: []tcc.GateOutput{
			tcc.Out("G_TOPO", 0), tcc.Out("G_TARGETREF", 0), tcc.Out("G_ANCHOR_CONST", 0), tcc.Out("G_ANCHOR_ENERGY", 0),
			{GateID: "G_BUDGET"},
		}})
		out := evaluate(t, reseal(t, env), envelopetest.Anchors())
		assert.Equal(t, ReasonMissingCoverage, out.Reason)
		assert.Equal(t, "missing=[G_BUDGET]", out.Detail)
	})

	t.Run("attestation nodes count", func(t *testing.T) {
		env := envelopetest.Valid()
		envelopetest.SetPayload(env, "gates", tcc.GateVectorPayload{})
		prev := "gates"
		for _, id := range envelopetest.RequiredGateIDs {
			nid := "att-" + id
			env.TCC.Nodes = append(env.TCC.Nodes, tcc.Node{ID: nid, Kind: tcc.KindGateAttestation,
				Payload: []byte(`{"gate_id":"` + id + `","output":0}`)})
			env.TCC.Edges = append(env.TCC.Edges, tcc.Edge{From: prev, To: nid})
			prev = nid
		}
		out := evaluate(t, reseal(t, env), envelopetest.Anchors())
		assert.True(t, out.Passed, out.Detail)
	})

	t.Run("unreachable attestations do not count", func(t *testing.T) {
		env := envelopetest.Valid()
		var kept []tcc.Edge
		for _, e := range env.TCC.Edges {
			if e.To != "gates" && e.From != "gates" {
				kept = append(kept, e)
			}
		}
		env.TCC.Edges = append(kept, tcc.Edge{From: "target", To: "receipt"})
		out := evaluate(t, reseal(t, env), envelopetest.Anchors())
		assert.Equal(t, ReasonMissingCoverage, out.Reason)
	})

	t.Run("failed attestation output", func(t *testing.T) {
		env := envelopetest.Valid()
		envelopetest.SetPayload(env, "gates", tcc.GateVectorPayload{})
		env.TCC.Nodes = append(env.TCC.Nodes, tcc.Node{ID: "att", Kind: tcc.KindGateAttestation,
			Payload: []byte(`{"gate_id":"G_TOPO","output":2}`)})
		env.TCC.Edges = append(env.TCC.Edges, tcc.Edge{From: "root", To: "att"})
		out := evaluate(t, reseal(t, env), envelopetest.Anchors())
		assert.Equal(t, ReasonMissingCoverage, out.Reason)
		assert.Contains(t, out.Detail, "G_TOPO")
	})
}

func TestPipeline_Budget(t *testing.T) {
	t.Run("exactly at budget passes", func(t *testing.T) {
		env := envelopetest.Valid()
		env.EnergyEstUJ = 5000
		assert.True(t, evaluate(t, reseal(t, env), envelopetest.Anchors()).Passed)
	})

	t.Run("unknown class", func(t *testing.T) {
		env := envelopetest.Valid()
		env.ActionClass = "ORBITAL"
		snap := envelopetest.Anchors()
		snap.EnergyBudgetUJ["ORBITAL"] = 1 << 40
		out := evaluate(t, reseal(t, env), snap)
		assert.Equal(t, ReasonBudgetExceeded, out.Reason)
	})

	t.Run("class without table entry", func(t *testing.T) {
		snap := envelopetest.Anchors()
		delete(snap.EnergyBudgetUJ, "MID")
		out := evaluate(t, envelopetest.Valid(), snap)
		assert.Equal(t, ReasonBudgetExceeded, out.Reason)
		assert.Equal(t, "missing budget for MID", out.Detail)
	})
}

func TestPipeline_WitnessUsesConfiguredHasher(t *testing.T) {
	env := envelopetest.Valid()
	in := NewInput(env, envelopetest.Anchors(), crypto.BLAKE2b256{}, tcc.DefaultLimits)
	out := NewPipeline().Evaluate(in)
	assert.Equal(t, ReasonWitnessMismatch, out.Reason)

	env.WitnessHash = envelopetest.WitnessBLAKE2b
	assert.True(t, NewPipeline().Evaluate(in).Passed)
}

func TestPipeline_Deterministic(t *testing.T) {
	env := envelopetest.Valid()
	env.EnergyEstUJ = 9999
	first := evaluate(t, env, envelopetest.Anchors())
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, evaluate(t, env, envelopetest.Anchors()))
	}
}

func TestPipeline_NilInputFailsClosed(t *testing.T) {
	p := NewPipeline()
	for _, in := range []*Input{nil, {}, NewInput(nil, envelopetest.Anchors(), nil, tcc.DefaultLimits)} {
		out := p.Evaluate(in)
		assert.False(t, out.Passed)
		assert.Equal(t, ReasonMalformedEnvelope, out.Reason)
	}
}

type panicGate struct{}

func (panicGate) ID() GateID { return GateCoverage }
func (panicGate) Name() string { return "panics" }
func (panicGate) Check(*Input) Result { panic("boom") }

func TestPipeline_PanickingGateFails(t *testing.T) {
	p := &Pipeline{gates: []Gate{topologyGate{}, panicGate{}}}
	out := p.Evaluate(NewInput(envelopetest.Valid(), envelopetest.Anchors(), nil, tcc.DefaultLimits))
	assert.False(t, out.Passed)
	assert.Equal(t, ReasonMissingCoverage, out.Reason)
	assert.Contains(t, out.Detail, "boom")
	assert.Equal(t, []GateID{GateTopology}, out.GatesPassed)
}
