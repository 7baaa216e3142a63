// Package gates implements the seven-stage verification pipeline. Each gate
// is a pure predicate over one envelope, its indexed proof, and an anchor
// snapshot; the pipeline runs them in a frozen order and stops at the first
// failure.
package gates

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Mindburn-Labs/pcclite/pkg/anchors"
	"github.com/Mindburn-Labs/pcclite/pkg/crypto"
	"github.com/Mindburn-Labs/pcclite/pkg/envelope"
	"github.com/Mindburn-Labs/pcclite/pkg/tcc"
)

// Input is everything a gate may read. Gates never modify it.
type Input struct {
	Envelope *envelope.Envelope
	Index    *tcc.Index
	Anchors  *anchors.Snapshot
	Hasher   crypto.Hasher
}

// NewInput indexes the envelope's proof under lim.
func NewInput(env *envelope.Envelope, snap *anchors.Snapshot, h crypto.Hasher, lim tcc.Limits) *Input {
	in := &Input{Envelope: env, Anchors: snap, Hasher: h}
	if env != nil {
		in.Index = tcc.NewIndex(env.TCC, lim)
	}
	return in
}

// Result is the outcome of a single gate.
type Result struct {
	Pass   bool
	Detail string
}

func pass() Result { return Result{Pass: true} }

func fail(format string, args ...any) Result {
	return Result{Detail: fmt.Sprintf(format, args...)}
}

// Gate is one verification stage.
type Gate interface {
	ID() GateID
	Name() string
	// Check must not panic; the pipeline treats a panic as a failure of
	// this gate.
	Check(in *Input) Result
}

type topologyGate struct{}

func (topologyGate) ID() GateID { return GateTopology }
func (topologyGate) Name() string { return "Topology" }

func (topologyGate) Check(in *Input) Result {
	idx := in.Index
	if err := idx.Violation(); err != nil {
		return fail("%v", err)
	}
	t := idx.TCC()
	if !idx.Has(t.RootID) {
		return fail("root %q is not a declared node", t.RootID)
	}
	if !idx.Has(t.ReceiptID) {
		return fail("receipt %q is not a declared node", t.ReceiptID)
	}
	if !idx.IsDAG() {
		return fail("not a DAG")
	}
	if !idx.Reachable(t.RootID, t.ReceiptID) {
		return fail("receipt not reachable from root")
	}
	return pass()
}

type targetRefGate struct{}

func (targetRefGate) ID() GateID { return GateTargetRef }
func (targetRefGate) Name() string { return "TargetRef" }

func (targetRefGate) Check(in *Input) Result {
	n, err := in.Index.Authoritative(tcc.KindTargetRef)
	if err != nil {
		return fail("TargetRef count=%d", len(in.Index.FindNodes(tcc.KindTargetRef)))
	}
	var p tcc.TargetRefPayload
	if err := n.DecodePayload(&p); err != nil {
		return fail("%v", err)
	}
	if p.TargetDigest != in.Envelope.ProposalDigest {
		return fail("target_digest != proposal_digest")
	}
	return pass()
}

// intentAnchor resolves the single authoritative IntentAnchor payload.
// Absence and ambiguity are both failures.
func intentAnchor(in *Input) (tcc.IntentAnchorPayload, error) {
	var p tcc.IntentAnchorPayload
	n, err := in.Index.Authoritative(tcc.KindIntentAnchor)
	if err != nil {
		return p, err
	}
	if err := n.DecodePayload(&p); err != nil {
		return p, err
	}
	return p, nil
}

type constitutionAnchorGate struct{}

func (constitutionAnchorGate) ID() GateID { return GateAnchorConst }
func (constitutionAnchorGate) Name() string { return "Constitution Anchor" }

func (constitutionAnchorGate) Check(in *Input) Result {
	p, err := intentAnchor(in)
	if err != nil {
		return anchorFailure(err)
	}
	if in.Anchors == nil || in.Anchors.ConstitutionHashCurrent == "" {
		return fail("no current constitution anchor")
	}
	if p.HConstitution != in.Anchors.ConstitutionHashCurrent {
		return fail("h_constitution mismatch")
	}
	return pass()
}

type energyAnchorGate struct{}

func (energyAnchorGate) ID() GateID { return GateAnchorEnergy }
func (energyAnchorGate) Name() string { return "Energy Anchor" }

func (energyAnchorGate) Check(in *Input) Result {
	p, err := intentAnchor(in)
	if err != nil {
		return anchorFailure(err)
	}
	if in.Anchors == nil || in.Anchors.EnergyPolicyHashCurrent == "" {
		return fail("no current energy policy anchor")
	}
	if p.HEnergyPolicy != in.Anchors.EnergyPolicyHashCurrent {
		return fail("h_energy_policy mismatch")
	}
	return pass()
}

func anchorFailure(err error) Result {
	switch {
	case errors.Is(err, tcc.ErrAbsent):
		return fail("IntentAnchor missing")
	case errors.Is(err, tcc.ErrAmbiguous):
		return fail("IntentAnchor ambiguous")
	default:
		return fail("%v", err)
	}
}

type coverageGate struct{}

func (coverageGate) ID() GateID { return GateCoverage }
func (coverageGate) Name() string { return "Minimal Coverage" }

// Check collects passing attestations from GateAttestation nodes and
// GateVector entries reachable from root. Unreachable attestations do not
// count; undecodable payloads are ignored.
func (coverageGate) Check(in *Input) Result {
	reach := in.Index.ReachableFrom(in.Index.TCC().RootID)
	attested := map[string]bool{}

	for _, n := range in.Index.FindNodes(tcc.KindGateAttestation) {
		if !reach[n.ID] {
			continue
		}
		var p tcc.GateAttestationPayload
		if n.DecodePayload(&p) == nil && p.Passed() {
			attested[p.GateID] = true
		}
	}
	for _, n := range in.Index.FindNodes(tcc.KindGateVector) {
		if !reach[n.ID] {
			continue
		}
		var p tcc.GateVectorPayload
		if n.DecodePayload(&p) != nil {
			continue
		}
		for _, o := range p.GateOutputs {
			if o.Passed() {
				attested[o.GateID] = true
			}
		}
	}

	var missing []string
	for _, g := range required {
		if !attested[string(g)] {
			missing = append(missing, string(g))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fail("missing=[%s]", strings.Join(missing, " "))
	}
	return pass()
}

type budgetGate struct{}

func (budgetGate) ID() GateID { return GateBudget }
func (budgetGate) Name() string { return "Budget" }

func (budgetGate) Check(in *Input) Result {
	class := in.Envelope.ActionClass
	if !class.Known() {
		return fail("unknown action_class %q", class)
	}
	budget, ok := in.Anchors.Budget(string(class))
	if !ok {
		return fail("missing budget for %s", class)
	}
	if in.Envelope.EnergyEstUJ > budget {
		return fail("est=%d > budget=%d", in.Envelope.EnergyEstUJ, budget)
	}
	return pass()
}

type witnessGate struct{}

func (witnessGate) ID() GateID { return GateWitness }
func (witnessGate) Name() string { return "Witness" }

func (witnessGate) Check(in *Input) Result {
	h := in.Hasher
	if h == nil {
		h = crypto.Default()
	}
	want, err := envelope.ComputeWitness(in.Envelope, h)
	if err != nil {
		return fail("%v", err)
	}
	if subtle.ConstantTimeCompare([]byte(want), []byte(in.Envelope.WitnessHash)) != 1 {
		return fail("witness_hash mismatch")
	}
	return pass()
}
