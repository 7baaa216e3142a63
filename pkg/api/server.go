// Package api exposes the verifier over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Mindburn-Labs/pcclite/pkg/envelope"
	"github.com/Mindburn-Labs/pcclite/pkg/ledger"
	"github.com/Mindburn-Labs/pcclite/pkg/observability"
	"github.com/Mindburn-Labs/pcclite/pkg/verdict"
	"github.com/Mindburn-Labs/pcclite/pkg/verifier"
)

// MaxBodyBytes bounds an envelope request body.
const MaxBodyBytes = 4 << 20

const requestIDHeader = "X-Request-ID"

// VerifyResponse is the body of a successful POST /v1/verify. A tombstone
// is still a 200: the verification itself succeeded.
type VerifyResponse struct {
	Allowed bool             `json:"allowed"`
	Verdict *verdict.Verdict `json:"verdict"`
	Seal    ledger.Entry     `json:"seal"`
}

// WitnessResponse is the body of POST /v1/witness.
type WitnessResponse struct {
	Algorithm   string `json:"algorithm"`
	WitnessHash string `json:"witness_hash"`
}

type server struct {
	v *verifier.Verifier
}

// NewRouter wires the verifier endpoints. metrics may be nil, in which
// case /metrics is not served.
func NewRouter(v *verifier.Verifier, metrics *observability.Metrics) http.Handler {
	s := &server{v: v}
	r := chi.NewRouter()
	r.Use(requestID, recoverer)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusNotFound, "Not Found", "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusMethodNotAllowed, "Method Not Allowed",
			"The HTTP method is not supported for this endpoint")
	})

	r.Get("/healthz", s.healthz)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}
	r.Route("/v1", func(api chi.Router) {
		api.Post("/verify", s.verify)
		api.Post("/witness", s.witness)
	})
	return r
}

func (s *server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) verify(w http.ResponseWriter, r *http.Request) {
	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	vd, err := s.v.VerifyJSON(r.Context(), raw)
	if err != nil {
		writeUnavailable(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, VerifyResponse{Allowed: vd.Allowed(), Verdict: vd, Seal: vd.Seal})
}

func (s *server) witness(w http.ResponseWriter, r *http.Request) {
	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	env, err := envelope.Decode(raw)
	if err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	h := s.v.Hasher()
	sum, err := envelope.ComputeWitness(env, h)
	if err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, WitnessResponse{Algorithm: h.Algorithm(), WitnessHash: sum})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeTooLarge(w, r, tooLarge.Limit)
			return nil, false
		}
		writeBadRequest(w, r, "unreadable request body")
		return nil, false
	}
	return raw, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestID reuses a client X-Request-ID or assigns one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				writeInternal(w, r, fmt.Errorf("panic: %v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
