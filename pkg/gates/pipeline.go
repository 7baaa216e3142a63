package gates

import "fmt"

// Outcome is the single result of one evaluation.
type Outcome struct {
	Passed      bool       `json:"passed"`
	FailedGate  GateID     `json:"failed_gate_id,omitempty"`
	Reason      ReasonCode `json:"reason_code,omitempty"`
	Detail      string     `json:"detail,omitempty"`
	GatesPassed []GateID   `json:"gates_passed"`
}

// Rejected builds a failed outcome for gate id outside the pipeline, e.g.
// at admission.
func Rejected(id GateID, detail string) Outcome {
	r, ok := ReasonFor(id)
	if !ok {
		r = ReasonMalformedEnvelope
	}
	return Outcome{FailedGate: id, Reason: r, Detail: detail, GatesPassed: []GateID{}}
}

// Pipeline runs the gates in their frozen order.
type Pipeline struct {
	gates []Gate
}

// NewPipeline returns the seven-gate pipeline. The order is fixed.
func NewPipeline() *Pipeline {
	return &Pipeline{gates: []Gate{
		topologyGate{},
		targetRefGate{},
		constitutionAnchorGate{},
		energyAnchorGate{},
		coverageGate{},
		budgetGate{},
		witnessGate{},
	}}
}

// Gates returns the pipeline's gates in evaluation order.
func (p *Pipeline) Gates() []Gate {
	out := make([]Gate, len(p.gates))
	copy(out, p.gates)
	return out
}

// Evaluate runs every gate until the first failure. It is total: any input,
// including a nil envelope, yields exactly one Outcome and never a pass by
// default.
func (p *Pipeline) Evaluate(in *Input) Outcome {
	if in == nil || in.Envelope == nil || in.Index == nil {
		return Rejected(StageAdmission, "no envelope")
	}
	passed := make([]GateID, 0, len(p.gates))
	for _, g := range p.gates {
		res := runGate(g, in)
		if !res.Pass {
			out := Rejected(g.ID(), res.Detail)
			out.GatesPassed = passed
			return out
		}
		passed = append(passed, g.ID())
	}
	return Outcome{Passed: true, GatesPassed: passed}
}

func runGate(g Gate, in *Input) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Detail: fmt.Sprintf("gate %s panicked: %v", g.ID(), r)}
		}
	}()
	return g.Check(in)
}
