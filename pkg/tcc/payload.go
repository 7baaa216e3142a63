package tcc

// IntentAnchorPayload binds the proof to policy snapshots.
type IntentAnchorPayload struct {
	HConstitution string `json:"h_constitution"`
	HEnergyPolicy string `json:"h_energy_policy"`
}

// TargetRefPayload binds the proof to the proposed action content.
type TargetRefPayload struct {
	TargetDigest string `json:"target_digest"`
}

// GateAttestationPayload attests that one gate was evaluated.
// A present Output must be 0 for the attestation to count.
type GateAttestationPayload struct {
	GateID string `json:"gate_id"`
	Output *int   `json:"output,omitempty"`
}

// Passed reports whether the attestation records a passing gate.
func (p GateAttestationPayload) Passed() bool {
	return p.GateID != "" && (p.Output == nil || *p.Output == 0)
}

// GateOutput is one entry of a GateVector. Unlike a GateAttestation, an
// entry counts only when output is present and 0.
type GateOutput struct {
	GateID string `json:"gate_id"`
	Output *int   `json:"output"`
}

// Passed reports whether the entry records a passing gate.
func (o GateOutput) Passed() bool {
	return o.GateID != "" && o.Output != nil && *o.Output == 0
}

// Out returns a GateOutput with an explicit output value.
func Out(gateID string, output int) GateOutput {
	return GateOutput{GateID: gateID, Output: &output}
}

// GateVectorPayload is the batched form of gate attestations.
type GateVectorPayload struct {
	GateOutputs []GateOutput `json:"gate_outputs"`
}
