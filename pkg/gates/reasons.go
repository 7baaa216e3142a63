package gates

// GateID is the stable identifier of one verification stage.
type GateID string

// Gate identifiers. The order of the seven gates below is a compatibility
// contract; see Order.
const (
	GateTopology     GateID = "G_TOPO"
	GateTargetRef    GateID = "G_TARGETREF"
	GateAnchorConst  GateID = "G_ANCHOR_CONST"
	GateAnchorEnergy GateID = "G_ANCHOR_ENERGY"
	GateCoverage     GateID = "G_COVERAGE"
	GateBudget       GateID = "G_BUDGET"
	GateWitness      GateID = "G_WITNESS"

	// StageAdmission is not a gate. It names the decoding step that rejects
	// malformed envelopes before the pipeline runs, and never appears in
	// gates_passed.
	StageAdmission GateID = "G_ADMISSION"
)

// ReasonCode is a stable machine-readable tombstone reason.
// These MUST NOT change between releases.
type ReasonCode string

const (
	ReasonInvalidTopology    ReasonCode = "invalid_tcc_topology"
	ReasonInvalidTargetRef   ReasonCode = "missing_or_invalid_targetref"
	ReasonConstitutionAnchor ReasonCode = "outdated_or_missing_constitution_anchor"
	ReasonEnergyAnchor       ReasonCode = "outdated_or_missing_energy_anchor"
	ReasonMissingCoverage    ReasonCode = "missing_gatevector_coverage"
	ReasonBudgetExceeded     ReasonCode = "egl_budget_exceeded"
	ReasonWitnessMismatch    ReasonCode = "witness_mismatch"
	ReasonMalformedEnvelope  ReasonCode = "malformed_envelope"
)

var order = [...]GateID{
	GateTopology,
	GateTargetRef,
	GateAnchorConst,
	GateAnchorEnergy,
	GateCoverage,
	GateBudget,
	GateWitness,
}

var reasons = map[GateID]ReasonCode{
	GateTopology:     ReasonInvalidTopology,
	GateTargetRef:    ReasonInvalidTargetRef,
	GateAnchorConst:  ReasonConstitutionAnchor,
	GateAnchorEnergy: ReasonEnergyAnchor,
	GateCoverage:     ReasonMissingCoverage,
	GateBudget:       ReasonBudgetExceeded,
	GateWitness:      ReasonWitnessMismatch,
	StageAdmission:   ReasonMalformedEnvelope,
}

// required is the set of gate ids a proof must attest to.
var required = [...]GateID{
	GateTopology,
	GateTargetRef,
	GateAnchorConst,
	GateAnchorEnergy,
	GateBudget,
}

// Order returns the gate ids in evaluation order.
func Order() []GateID {
	out := make([]GateID, len(order))
	copy(out, order[:])
	return out
}

// RequiredGates returns the gate ids a proof must attest to for coverage.
func RequiredGates() []GateID {
	out := make([]GateID, len(required))
	copy(out, required[:])
	return out
}

// ReasonFor maps a gate (or the admission stage) to its reason code.
func ReasonFor(id GateID) (ReasonCode, bool) {
	r, ok := reasons[id]
	return r, ok
}

// ReasonCodes lists every reason code.
func ReasonCodes() []ReasonCode {
	out := make([]ReasonCode, 0, len(reasons))
	for _, id := range order {
		out = append(out, reasons[id])
	}
	return append(out, ReasonMalformedEnvelope)
}

// Valid reports whether r is one of the declared reason codes.
func (r ReasonCode) Valid() bool {
	for _, id := range order {
		if reasons[id] == r {
			return true
		}
	}
	return r == ReasonMalformedEnvelope
}

// Known reports whether id is one of the seven gates.
func (id GateID) Known() bool {
	for _, g := range order {
		if g == id {
			return true
		}
	}
	return false
}
