package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/pcclite/pkg/canonicalize"
)

const (
	envelopeSchemaURL = "https://pcclite.schemas.local/envelope.schema.json"
	tccSchemaURL      = "https://pcclite.schemas.local/tcc.schema.json"
)

// The envelope schema treats tcc as an opaque object so that a malformed
// proof is reported separately from a malformed envelope.
const envelopeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["proposal_digest", "action_class", "energy_est_uj", "tcc", "witness_hash"],
  "additionalProperties": false,
  "properties": {
    "proposal_digest": {"type": "string", "minLength": 1, "maxLength": 512},
    "action_class": {"type": "string", "minLength": 1, "maxLength": 64},
    "energy_est_uj": {"type": "integer", "minimum": 0, "maximum": 9007199254740991},
    "tcc": {"type": "object"},
    "witness_hash": {"type": "string"}
  }
}`

const tccSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["nodes", "edges", "root", "receipt"],
  "additionalProperties": false,
  "properties": {
    "nodes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type"],
        "additionalProperties": false,
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "type": {"type": "string", "minLength": 1},
          "payload": {"type": "object"}
        }
      }
    },
    "edges": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["from", "to"],
        "additionalProperties": false,
        "properties": {
          "from": {"type": "string", "minLength": 1},
          "to": {"type": "string", "minLength": 1}
        }
      }
    },
    "root": {"type": "string", "minLength": 1},
    "receipt": {"type": "string", "minLength": 1},
    "epoch": {},
    "nonce": {}
  }
}`

var (
	compiledEnvelope = mustCompile(envelopeSchemaURL, envelopeSchema)
	compiledTCC      = mustCompile(tccSchemaURL, tccSchema)
)

func mustCompile(url, schema string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("envelope schema load failed: %v", err))
	}
	return c.MustCompile(url)
}

// Decode admits raw JSON as an Envelope. Every rejection is a
// *ContractError; a nil error means the envelope is well-formed, not that
// it verifies.
func Decode(raw []byte) (*Envelope, error) {
	var doc any
	d := json.NewDecoder(bytes.NewReader(raw))
	d.UseNumber()
	if err := d.Decode(&doc); err != nil {
		return nil, &ContractError{Code: CodeMalformedJSON, Message: err.Error()}
	}
	if _, err := d.Token(); err != io.EOF {
		return nil, &ContractError{Code: CodeMalformedJSON, Message: "trailing data after envelope"}
	}
	if err := compiledEnvelope.Validate(doc); err != nil {
		return nil, schemaError("", err)
	}
	// The envelope schema guarantees doc is an object with a tcc object.
	if err := compiledTCC.Validate(doc.(map[string]any)["tcc"]); err != nil {
		return nil, schemaError("tcc", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return nil, &ContractError{Code: CodeSchema, Message: err.Error()}
	}
	if err := Admit(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

// schemaError maps the most specific schema cause to a ContractError whose
// Field is a dotted path under prefix.
func schemaError(prefix string, err error) error {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &ContractError{Field: prefix, Code: CodeSchema, Message: err.Error()}
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	return &ContractError{
		Field:   fieldPath(prefix, leaf.InstanceLocation),
		Code:    CodeSchema,
		Message: leaf.Message,
	}
}

func fieldPath(prefix, pointer string) string {
	parts := []string{}
	if prefix != "" {
		parts = append(parts, prefix)
	}
	for _, p := range strings.Split(strings.TrimPrefix(pointer, "/"), "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ".")
}

// Peek extracts whatever subject fields it can from input that failed
// admission, so the resulting tombstone still names the proposal.
func Peek(raw []byte) Subject {
	var probe struct {
		ProposalDigest any             `json:"proposal_digest"`
		ActionClass    any             `json:"action_class"`
		EnergyEstUJ    any             `json:"energy_est_uj"`
		TCC            json.RawMessage `json:"tcc"`
	}
	var s Subject
	if err := json.Unmarshal(raw, &probe); err != nil {
		return s
	}
	if v, ok := probe.ProposalDigest.(string); ok {
		s.ProposalDigest = v
	}
	if v, ok := probe.ActionClass.(string); ok {
		s.ActionClass = ActionClass(v)
	}
	if f, ok := probe.EnergyEstUJ.(float64); ok && f >= 0 && f <= canonicalize.MaxSafeInteger && f == float64(int64(f)) {
		s.EnergyEstUJ = int64(f)
	}
	var t struct {
		Epoch json.RawMessage `json:"epoch"`
		Nonce json.RawMessage `json:"nonce"`
	}
	if json.Unmarshal(probe.TCC, &t) == nil {
		s.Epoch, s.Nonce = t.Epoch, t.Nonce
	}
	return s
}
