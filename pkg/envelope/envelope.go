// Package envelope defines the action envelope submitted for verification,
// its admission contract, and the witness commitment over it.
package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/Mindburn-Labs/pcclite/pkg/canonicalize"
	"github.com/Mindburn-Labs/pcclite/pkg/tcc"
)

// ActionClass is the closed set of action categories an envelope may claim.
type ActionClass string

const (
	ClassFast     ActionClass = "FAST"
	ClassMid      ActionClass = "MID"
	ClassHeavy    ActionClass = "HEAVY"
	ClassExternal ActionClass = "EXTERNAL"
)

// ActionClasses returns every known class in declaration order.
func ActionClasses() []ActionClass {
	return []ActionClass{ClassFast, ClassMid, ClassHeavy, ClassExternal}
}

// Known reports whether c is one of the declared classes.
func (c ActionClass) Known() bool {
	switch c {
	case ClassFast, ClassMid, ClassHeavy, ClassExternal:
		return true
	}
	return false
}

// Envelope describes one proposed action together with its proof.
type Envelope struct {
	ProposalDigest string      `json:"proposal_digest"`
	ActionClass    ActionClass `json:"action_class"`
	EnergyEstUJ    int64       `json:"energy_est_uj"`
	TCC            tcc.TCC     `json:"tcc"`
	WitnessHash    string      `json:"witness_hash"`
}

// Subject is the part of an envelope echoed into every verdict.
type Subject struct {
	ProposalDigest string          `json:"proposal_digest"`
	ActionClass    ActionClass     `json:"action_class"`
	EnergyEstUJ    int64           `json:"energy_est_uj"`
	Epoch          json.RawMessage `json:"epoch,omitempty"`
	Nonce          json.RawMessage `json:"nonce,omitempty"`
}

// Subject returns the verdict-facing fields of e.
func (e *Envelope) Subject() Subject {
	return Subject{
		ProposalDigest: e.ProposalDigest,
		ActionClass:    e.ActionClass,
		EnergyEstUJ:    e.EnergyEstUJ,
		Epoch:          e.TCC.Epoch,
		Nonce:          e.TCC.Nonce,
	}
}

// Contract error codes.
const (
	CodeMalformedJSON = "MALFORMED_JSON"
	CodeSchema        = "SCHEMA_VIOLATION"
	CodeRequired      = "REQUIRED"
	CodeOutOfRange    = "OUT_OF_RANGE"
	CodeEncoding      = "ENCODING_FAILED"
)

// ContractError reports input that violates the envelope contract. It is
// distinct from a gate failure: the input could not be evaluated at all.
type ContractError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ContractError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("envelope: %s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("envelope: %s: %s (%s)", e.Field, e.Message, e.Code)
}

// InTCC reports whether the violation lies inside the proof structure.
func (e *ContractError) InTCC() bool {
	return e.Field == "tcc" || len(e.Field) > 4 && e.Field[:4] == "tcc."
}

// Validate checks the typed invariants that survive decoding. Envelopes
// built in code go through the same checks as decoded ones.
func Validate(e *Envelope) error {
	if e == nil {
		return &ContractError{Code: CodeRequired, Message: "envelope is nil"}
	}
	if e.ProposalDigest == "" {
		return &ContractError{Field: "proposal_digest", Code: CodeRequired, Message: "must not be empty"}
	}
	if e.ActionClass == "" {
		return &ContractError{Field: "action_class", Code: CodeRequired, Message: "must not be empty"}
	}
	if e.EnergyEstUJ < 0 || e.EnergyEstUJ > canonicalize.MaxSafeInteger {
		return &ContractError{
			Field:   "energy_est_uj",
			Code:    CodeOutOfRange,
			Message: fmt.Sprintf("%d outside [0, %d]", e.EnergyEstUJ, int64(canonicalize.MaxSafeInteger)),
		}
	}
	if e.TCC.RootID == "" {
		return &ContractError{Field: "tcc.root", Code: CodeRequired, Message: "must not be empty"}
	}
	if e.TCC.ReceiptID == "" {
		return &ContractError{Field: "tcc.receipt", Code: CodeRequired, Message: "must not be empty"}
	}
	return checkTCCNumbers(e)
}

// Admit is Validate plus a check that the witness input encodes, so that an
// encoder failure surfaces as a contract violation rather than a witness
// mismatch.
func Admit(e *Envelope) error {
	if err := Validate(e); err != nil {
		return err
	}
	return checkEncodable(e)
}
