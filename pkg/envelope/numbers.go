package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/Mindburn-Labs/pcclite/pkg/canonicalize"
)

// The canonical encoder carries numbers through float64, so only integers
// in the I-JSON safe range hash exactly. Anything else inside the proof
// could be altered without moving the witness.

// checkTCCNumbers rejects unsafe numbers in the opaque parts of the proof:
// epoch, nonce and node payloads.
func checkTCCNumbers(e *Envelope) error {
	if err := checkRawNumbers("tcc.epoch", e.TCC.Epoch); err != nil {
		return err
	}
	if err := checkRawNumbers("tcc.nonce", e.TCC.Nonce); err != nil {
		return err
	}
	for i, n := range e.TCC.Nodes {
		if err := checkRawNumbers(fmt.Sprintf("tcc.nodes.%d.payload", i), n.Payload); err != nil {
			return err
		}
	}
	return nil
}

func checkRawNumbers(field string, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return &ContractError{Field: field, Code: CodeEncoding, Message: err.Error()}
	}
	if _, err := dec.Token(); err != io.EOF {
		return &ContractError{Field: field, Code: CodeEncoding, Message: "trailing data"}
	}
	return checkNumbers(field, v)
}

// checkNumbers walks a UseNumber-decoded value.
func checkNumbers(field string, v any) error {
	switch x := v.(type) {
	case json.Number:
		n, err := strconv.ParseInt(x.String(), 10, 64)
		if err != nil || n > canonicalize.MaxSafeInteger || n < -canonicalize.MaxSafeInteger {
			return &ContractError{
				Field:   field,
				Code:    CodeOutOfRange,
				Message: fmt.Sprintf("number %s is not an integer within ±%d", x, int64(canonicalize.MaxSafeInteger)),
			}
		}
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := checkNumbers(field+"."+k, x[k]); err != nil {
				return err
			}
		}
	case []any:
		for i, item := range x {
			if err := checkNumbers(fmt.Sprintf("%s.%d", field, i), item); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkEncodable confirms the witness input has a canonical form.
func checkEncodable(e *Envelope) error {
	if _, err := canonicalize.JCS(e.WitnessView()); err != nil {
		return &ContractError{Field: "tcc", Code: CodeEncoding, Message: err.Error()}
	}
	return nil
}
