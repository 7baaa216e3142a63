package envelope

import (
	"github.com/Mindburn-Labs/pcclite/pkg/crypto"
	"github.com/Mindburn-Labs/pcclite/pkg/tcc"
)

// AutoWitness is the placeholder vector files use to ask the runner to
// fill in the computed witness before verification.
const AutoWitness = "AUTO"

// WitnessView is the commitment input: every envelope field except
// witness_hash, with the proof in canonical set order.
type WitnessView struct {
	ProposalDigest string      `json:"proposal_digest"`
	ActionClass    ActionClass `json:"action_class"`
	EnergyEstUJ    int64       `json:"energy_est_uj"`
	TCC            tcc.TCC     `json:"tcc"`
}

// WitnessView returns the witness input for e.
func (e *Envelope) WitnessView() WitnessView {
	return WitnessView{
		ProposalDigest: e.ProposalDigest,
		ActionClass:    e.ActionClass,
		EnergyEstUJ:    e.EnergyEstUJ,
		TCC:            e.TCC.Canonical(),
	}
}

// ComputeWitness returns h(JCS(WitnessView)) as lowercase hex.
func ComputeWitness(e *Envelope, h crypto.Hasher) (string, error) {
	if err := Validate(e); err != nil {
		return "", err
	}
	sum, err := crypto.HashCanonical(h, e.WitnessView())
	if err != nil {
		return "", &ContractError{Field: "tcc", Code: CodeEncoding, Message: err.Error()}
	}
	return sum, nil
}

// Seal sets e.WitnessHash to the computed witness.
func Seal(e *Envelope, h crypto.Hasher) error {
	sum, err := ComputeWitness(e, h)
	if err != nil {
		return err
	}
	e.WitnessHash = sum
	return nil
}
